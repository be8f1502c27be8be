package monitor

import (
	"fmt"
	"io"
	"math"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/meridian-data/retinotopy.report/internal/retino"
)

const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// hueWheelColors is a cyclic palette for polar angle, wrapping back to red
// so 0° and 360° read as the same meridian.
var hueWheelColors = []string{
	"#ff0000", "#ff8000", "#ffff00", "#80ff00", "#00ff00", "#00ff80",
	"#00ffff", "#0080ff", "#0000ff", "#8000ff", "#ff00ff", "#ff0080", "#ff0000",
}

// viridisColors matches the coherence display palette used across the
// debug charts.
var viridisColors = []string{
	"#440154", "#482777", "#3e4989", "#31688e", "#26828e",
	"#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725",
}

// ChartOptions control slice selection and payload size for the HTML charts.
type ChartOptions struct {
	Z            int     // axial slice to render
	MinCoherence float64 // hide voxels whose winning coherence is below this
	MaxPoints    int     // downsample stride target; <=0 means default 8000
}

// RenderAngleChart writes an HTML scatter of one slice's polar angles,
// colored on a cyclic hue wheel.
func RenderAngleChart(w io.Writer, res *retino.AggregateResult, title string, o ChartOptions) error {
	return renderSliceChart(w, res, title, o, true)
}

// RenderCoherenceChart writes an HTML scatter of one slice's winning
// coherence on the viridis ramp.
func RenderCoherenceChart(w io.Writer, res *retino.AggregateResult, title string, o ChartOptions) error {
	return renderSliceChart(w, res, title, o, false)
}

func renderSliceChart(w io.Writer, res *retino.AggregateResult, title string, o ChartOptions, angleChart bool) error {
	shape := res.Map.Shape
	if o.Z < 0 || o.Z >= shape.Z {
		return fmt.Errorf("slice %d out of range for shape %s", o.Z, shape)
	}
	maxPoints := o.MaxPoints
	if maxPoints <= 0 {
		maxPoints = 8000
	}

	sliceSize := shape.X * shape.Y
	stride := 1
	if sliceSize > maxPoints {
		stride = int(math.Ceil(float64(sliceSize) / float64(maxPoints)))
	}

	data := make([]opts.ScatterData, 0, sliceSize/stride+1)
	minVal := math.Inf(1)
	maxVal := math.Inf(-1)
	base := o.Z * sliceSize
	for i := 0; i < sliceSize; i += stride {
		idx := base + i
		if res.Coherence.Values[idx] < o.MinCoherence {
			continue
		}
		val := res.Map.Values[idx]
		if !angleChart {
			val = res.Coherence.Values[idx]
		}
		if val < minVal {
			minVal = val
		}
		if val > maxVal {
			maxVal = val
		}
		x := i % shape.X
		y := i / shape.X
		data = append(data, opts.ScatterData{Value: []interface{}{x, y, val}})
	}
	if len(data) == 0 {
		return fmt.Errorf("slice %d has no voxels above coherence %.2f", o.Z, o.MinCoherence)
	}

	palette := viridisColors
	seriesName := "coherence"
	if angleChart {
		palette = hueWheelColors
		seriesName = "polar angle"
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Theme: "dark", Width: "900px", Height: "900px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("slice z=%d points=%d stride=%d", o.Z, len(data), stride)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: 0, Max: shape.X, Name: "Voxel X", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: shape.Y, Name: "Voxel Y", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        float32(minVal),
			Max:        float32(maxVal),
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: palette},
		}),
	)

	scatter.AddSeries(seriesName, data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 3}))

	if err := scatter.Render(w); err != nil {
		return fmt.Errorf("failed to render chart: %w", err)
	}
	return nil
}
