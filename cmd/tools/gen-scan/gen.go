package main

import (
	"fmt"
	"math"
	"math/rand"
	"path/filepath"
	"strings"

	"github.com/meridian-data/retinotopy.report/internal/fsutil"
	"github.com/meridian-data/retinotopy.report/internal/retino"
)

// ScanGenerator produces synthetic harmonic-fit volumes. Phase encodes each
// voxel's angular position around the volume centre, so a map built from the
// output reads as a clean polar-angle wheel; coherence falls off with
// distance from the centre and tapers toward the first and last slices.
// Successive scan indexes advance the phase by PhaseStep, imitating sessions
// recorded with rotated stimulus onsets.
type ScanGenerator struct {
	Shape      retino.Shape
	NoiseLevel float64 // radians of uniform phase jitter per voxel
	PhaseStep  float64 // radians of phase advance per scan index

	rng *rand.Rand
}

// NewScanGenerator seeds a generator. The same seed reproduces the same
// sequence of scans.
func NewScanGenerator(shape retino.Shape, seed int64) *ScanGenerator {
	return &ScanGenerator{
		Shape:      shape,
		NoiseLevel: 0.1,
		PhaseStep:  math.Pi / 6,
		rng:        rand.New(rand.NewSource(seed)),
	}
}

// Scan generates the phase and coherence volumes for one scan.
func (g *ScanGenerator) Scan(ref retino.ScanRef) (*retino.RawScan, error) {
	phase, err := retino.NewField(g.Shape)
	if err != nil {
		return nil, err
	}
	coherence, err := retino.NewField(g.Shape)
	if err != nil {
		return nil, err
	}

	cx := float64(g.Shape.X-1) / 2
	cy := float64(g.Shape.Y-1) / 2
	sigma := math.Max(float64(g.Shape.X), float64(g.Shape.Y)) / 3
	shift := g.PhaseStep * float64(ref.ScanIndex)

	for z := 0; z < g.Shape.Z; z++ {
		depth := 1.0
		if g.Shape.Z > 1 {
			mid := float64(g.Shape.Z-1) / 2
			depth = 1 - 0.5*math.Abs(float64(z)-mid)/mid
		}
		for y := 0; y < g.Shape.Y; y++ {
			for x := 0; x < g.Shape.X; x++ {
				idx := phase.Idx(x, y, z)

				theta := math.Atan2(float64(y)-cy, float64(x)-cx)
				jitter := (g.rng.Float64() - 0.5) * g.NoiseLevel
				p := math.Mod(theta+shift+jitter, 2*math.Pi)
				if p < 0 {
					p += 2 * math.Pi
				}
				phase.Values[idx] = p

				r := math.Hypot(float64(x)-cx, float64(y)-cy)
				coherence.Values[idx] = math.Exp(-(r*r)/(2*sigma*sigma)) * depth *
					(0.85 + 0.15*g.rng.Float64())
			}
		}
	}

	return &retino.RawScan{Ref: ref, Phase: phase, Coherence: coherence}, nil
}

// outputPath derives the per-scan output name. Single-scan runs use the base
// path as given; multi-scan runs insert the scan index before the extension
// so one invocation lays out a whole session.
func outputPath(base string, count, scanIndex int) string {
	if count == 1 {
		return base
	}
	ext := filepath.Ext(base)
	return fmt.Sprintf("%s-%d%s", strings.TrimSuffix(base, ext), scanIndex, ext)
}

// writeScanFile streams one scan through the gob codec onto fsys.
func writeScanFile(fsys fsutil.FileSystem, path string, scan *retino.RawScan) error {
	w, err := fsys.Create(path)
	if err != nil {
		return err
	}
	if err := retino.WriteScan(w, scan); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}
