package retino

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ErrRangeCancelled reports that the operator abandoned interactive range
// entry. It is a clean abort, not a failure: callers stop the whole build
// with nothing persisted and nothing logged as an error.
var ErrRangeCancelled = errors.New("range entry cancelled")

// ScanRef identifies one scan to a RangeResolver: which data type it belongs
// to, its position in the scan list, and a free-form annotation shown to
// interactive operators.
type ScanRef struct {
	DataType   string `json:"data_type"`
	ScanIndex  int    `json:"scan_index"`
	Annotation string `json:"annotation,omitempty"`
}

// RangeResolver produces the target angle range for one scan. Implementations
// may consult fixed configuration, stimulus parameters, or an operator;
// cancellation surfaces as ErrRangeCancelled.
type RangeResolver interface {
	Resolve(ref ScanRef) (AngleRange, error)
}

// StaticResolver serves pre-specified ranges by scan index. It covers both
// the explicit-list input mode and, with a single element, the shared-range
// single-scan mode.
type StaticResolver struct {
	Ranges []AngleRange
}

// Resolve returns the range for ref.ScanIndex.
func (r *StaticResolver) Resolve(ref ScanRef) (AngleRange, error) {
	if ref.ScanIndex < 0 || ref.ScanIndex >= len(r.Ranges) {
		return AngleRange{}, fmt.Errorf("no range configured for scan index %d (%d ranges)",
			ref.ScanIndex, len(r.Ranges))
	}
	return r.Ranges[ref.ScanIndex], nil
}

// SweepDirection is the rotation sense of a wedge stimulus.
type SweepDirection string

const (
	Clockwise        SweepDirection = "cw"
	CounterClockwise SweepDirection = "ccw"
)

// StimulusParams describe a rotating-wedge presentation: where the wedge
// started, how wide it was, which way it rotated, and how many degrees of
// visual field one full phase cycle swept.
type StimulusParams struct {
	StartAngle  float64        `json:"start_angle"`
	Width       float64        `json:"width"`
	Direction   SweepDirection `json:"direction"`
	VisualField float64        `json:"visual_field"`
}

// Range derives the angle range the phase cycle maps onto. A clockwise sweep
// covers [StartAngle, StartAngle+VisualField]; counterclockwise runs the
// interval backwards, so End < Start encodes the reversal. Width is wedge
// geometry, not part of the mapping.
func (p StimulusParams) Range() AngleRange {
	if p.Direction == CounterClockwise {
		return AngleRange{Start: p.StartAngle, End: p.StartAngle - p.VisualField}
	}
	return AngleRange{Start: p.StartAngle, End: p.StartAngle + p.VisualField}
}

// StimulusResolver derives every scan's range from per-scan stimulus
// parameters, indexed like StaticResolver.
type StimulusResolver struct {
	Params []StimulusParams
}

// Resolve derives the range for ref.ScanIndex from its stimulus parameters.
func (r *StimulusResolver) Resolve(ref ScanRef) (AngleRange, error) {
	if ref.ScanIndex < 0 || ref.ScanIndex >= len(r.Params) {
		return AngleRange{}, fmt.Errorf("no stimulus parameters for scan index %d (%d entries)",
			ref.ScanIndex, len(r.Params))
	}
	return r.Params[ref.ScanIndex].Range(), nil
}

// InteractiveResolver prompts an operator for each scan's range on an
// io.Reader/io.Writer pair (stdin/stdout in the compute-map tool). Entering
// "q" or closing the input stream cancels the whole build.
type InteractiveResolver struct {
	In  io.Reader
	Out io.Writer

	reader *bufio.Reader
}

// NewInteractiveResolver wraps the given streams.
func NewInteractiveResolver(in io.Reader, out io.Writer) *InteractiveResolver {
	return &InteractiveResolver{In: in, Out: out, reader: bufio.NewReader(in)}
}

// Resolve prompts for "start:end" and parses the reply. Empty replies
// re-prompt; "q" and EOF return ErrRangeCancelled.
func (r *InteractiveResolver) Resolve(ref ScanRef) (AngleRange, error) {
	if r.reader == nil {
		r.reader = bufio.NewReader(r.In)
	}
	for {
		label := ref.Annotation
		if label == "" {
			label = ref.DataType
		}
		fmt.Fprintf(r.Out, "Angle range for scan %d (%s), start:end in degrees, q to cancel: ",
			ref.ScanIndex, label)

		line, err := r.reader.ReadString('\n')
		if err != nil && line == "" {
			// EOF with nothing typed is an operator walk-away
			fmt.Fprintln(r.Out)
			return AngleRange{}, ErrRangeCancelled
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.EqualFold(line, "q") {
			return AngleRange{}, ErrRangeCancelled
		}

		ar, parseErr := ParseAngleRange(line)
		if parseErr != nil {
			fmt.Fprintf(r.Out, "  %v\n", parseErr)
			if err != nil {
				// stream ended on a malformed final line
				return AngleRange{}, ErrRangeCancelled
			}
			continue
		}
		return ar, nil
	}
}

// ParseAngleRange parses a "start:end" string into an AngleRange.
// Returns an error if the format is invalid or values cannot be parsed.
func ParseAngleRange(s string) (AngleRange, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return AngleRange{}, fmt.Errorf("invalid range format %q: expected start:end", s)
	}

	start, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return AngleRange{}, fmt.Errorf("invalid start value %q: %w", parts[0], err)
	}

	end, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return AngleRange{}, fmt.Errorf("invalid end value %q: %w", parts[1], err)
	}

	return AngleRange{Start: start, End: end}, nil
}

// ParseAngleRangeList parses a comma-separated list of "start:end" specs,
// one per scan in scan order.
func ParseAngleRangeList(s string) ([]AngleRange, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	ranges := make([]AngleRange, 0, len(parts))
	for i, part := range parts {
		ar, err := ParseAngleRange(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("parsing range %d: %w", i, err)
		}
		ranges = append(ranges, ar)
	}
	return ranges, nil
}
