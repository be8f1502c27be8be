package retino

import (
	"bytes"
	"compress/gzip"
	"encoding/gob"
	"fmt"
	"io"
	"time"

	"github.com/meridian-data/retinotopy.report/internal/monitoring"
)

// SerializeField gob-encodes a field inside gzip for blob storage.
func SerializeField(f *Field) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := gob.NewEncoder(gz)
	if err := enc.Encode(f); err != nil {
		gz.Close()
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DeserializeField reverses SerializeField.
func DeserializeField(blob []byte) (*Field, error) {
	gz, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("open field blob: %w", err)
	}
	defer gz.Close()

	var f Field
	if err := gob.NewDecoder(gz).Decode(&f); err != nil {
		return nil, fmt.Errorf("decode field blob: %w", err)
	}
	if len(f.Values) != f.Shape.Count() {
		return nil, fmt.Errorf("field blob corrupt: %d values for shape %s", len(f.Values), f.Shape)
	}
	return &f, nil
}

// WriteScan gob-encodes one raw scan onto w behind gzip. Scan files carry
// volumes between the generator, the importer, and compute-map without a
// database in the middle.
func WriteScan(w io.Writer, scan *RawScan) error {
	if scan == nil || scan.Phase == nil || scan.Coherence == nil {
		return fmt.Errorf("scan is missing phase or coherence volume")
	}
	gz := gzip.NewWriter(w)
	if err := gob.NewEncoder(gz).Encode(scan); err != nil {
		gz.Close()
		return fmt.Errorf("encode scan: %w", err)
	}
	return gz.Close()
}

// ReadScan reverses WriteScan, validating the decoded volumes before
// returning them.
func ReadScan(r io.Reader) (*RawScan, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("open scan file: %w", err)
	}
	defer gz.Close()

	var scan RawScan
	if err := gob.NewDecoder(gz).Decode(&scan); err != nil {
		return nil, fmt.Errorf("decode scan file: %w", err)
	}
	if scan.Phase == nil || scan.Coherence == nil {
		return nil, fmt.Errorf("scan file is missing phase or coherence volume")
	}
	if len(scan.Phase.Values) != scan.Phase.Shape.Count() {
		return nil, fmt.Errorf("scan file corrupt: %d phase values for shape %s",
			len(scan.Phase.Values), scan.Phase.Shape)
	}
	if scan.Coherence.Shape != scan.Phase.Shape {
		return nil, fmt.Errorf("scan file corrupt: coherence shape %s does not match phase shape %s",
			scan.Coherence.Shape, scan.Phase.Shape)
	}
	if len(scan.Coherence.Values) != scan.Coherence.Shape.Count() {
		return nil, fmt.Errorf("scan file corrupt: %d coherence values for shape %s",
			len(scan.Coherence.Values), scan.Coherence.Shape)
	}
	return &scan, nil
}

// WriteResult gob-encodes an aggregation result onto w behind gzip, for
// builds that bypass the database (compute-map -out).
func WriteResult(w io.Writer, res *AggregateResult) error {
	if res == nil || res.Map == nil || res.Coherence == nil {
		return fmt.Errorf("result is missing map or coherence volume")
	}
	gz := gzip.NewWriter(w)
	if err := gob.NewEncoder(gz).Encode(res); err != nil {
		gz.Close()
		return fmt.Errorf("encode result: %w", err)
	}
	return gz.Close()
}

// ReadResult reverses WriteResult with the same validation as ReadScan.
func ReadResult(r io.Reader) (*AggregateResult, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("open result file: %w", err)
	}
	defer gz.Close()

	var res AggregateResult
	if err := gob.NewDecoder(gz).Decode(&res); err != nil {
		return nil, fmt.Errorf("decode result file: %w", err)
	}
	if res.Map == nil || res.Coherence == nil {
		return nil, fmt.Errorf("result file is missing map or coherence volume")
	}
	if res.Coherence.Shape != res.Map.Shape {
		return nil, fmt.Errorf("result file corrupt: coherence shape %s does not match map shape %s",
			res.Coherence.Shape, res.Map.Shape)
	}
	if len(res.Map.Values) != res.Map.Shape.Count() || len(res.Coherence.Values) != res.Coherence.Shape.Count() {
		return nil, fmt.Errorf("result file corrupt: value count does not match shape %s", res.Map.Shape)
	}
	return &res, nil
}

// AngleMapSnapshot is one persisted consensus map with its winning-coherence
// field and display metadata.
type AngleMapSnapshot struct {
	ID             int64
	RunID          string
	Dataset        string
	Name           string
	Shape          Shape
	ScanCount      int
	MapBlob        []byte
	CoherenceBlob  []byte
	ColorMap       string
	TakenUnixNanos int64
}

// MapStore is an interface required to persist AngleMapSnapshot records. Implemented by retinodb.DB.
type MapStore interface {
	InsertAngleMap(s *AngleMapSnapshot) (int64, error)
}

// MapMeta carries the caller-supplied labelling for a persisted map: the
// human-readable name and the display color-map preference copied from the
// requesting session.
type MapMeta struct {
	RunID     string
	Dataset   string
	Name      string
	ScanCount int
	ColorMap  string
}

// PersistResult serializes an aggregation result and inserts it through the
// store. The result is never mutated; both blobs are built from it before
// the insert so a failed insert leaves no state behind.
func PersistResult(store MapStore, res *AggregateResult, meta MapMeta) (int64, error) {
	if store == nil {
		return 0, fmt.Errorf("nil map store")
	}
	mapBlob, err := SerializeField(res.Map)
	if err != nil {
		return 0, fmt.Errorf("serialize map field: %w", err)
	}
	cohBlob, err := SerializeField(res.Coherence)
	if err != nil {
		return 0, fmt.Errorf("serialize coherence field: %w", err)
	}

	snap := &AngleMapSnapshot{
		RunID:          meta.RunID,
		Dataset:        meta.Dataset,
		Name:           meta.Name,
		Shape:          res.Map.Shape,
		ScanCount:      meta.ScanCount,
		MapBlob:        mapBlob,
		CoherenceBlob:  cohBlob,
		ColorMap:       meta.ColorMap,
		TakenUnixNanos: time.Now().UnixNano(),
	}

	id, err := store.InsertAngleMap(snap)
	if err != nil {
		return 0, err
	}
	monitoring.Logf("[MapStore] persisted angle map: dataset=%s name=%s shape=%s scans=%d map_blob=%d bytes coherence_blob=%d bytes",
		meta.Dataset, meta.Name, res.Map.Shape, meta.ScanCount, len(mapBlob), len(cohBlob))
	return id, nil
}
