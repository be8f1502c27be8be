// Package monitor renders angle maps for human inspection: PNG slice plots
// via gonum/plot and interactive scatter charts via go-echarts. The API
// server and the render-map tool both drive it; nothing here mutates maps.
package monitor

import (
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/meridian-data/retinotopy.report/internal/retino"
)

// angleSectors is the number of hue sectors an angle slice plot groups
// voxels into. 12 gives 30° sectors, enough to read map structure.
const angleSectors = 12

// PlotAngleSlice renders one axial slice of an angle map as a PNG scatter.
// Voxels are grouped into angle sectors, each drawn in its hue-wheel color,
// mirroring how polar-angle maps are conventionally displayed. Voxels whose
// winning coherence falls below minCoherence are left out.
func PlotAngleSlice(res *retino.AggregateResult, z int, minCoherence float64, outPath string) error {
	shape := res.Map.Shape
	if z < 0 || z >= shape.Z {
		return fmt.Errorf("slice %d out of range for shape %s", z, shape)
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Polar Angle - Slice z=%d", z)
	p.X.Label.Text = "Voxel X"
	p.Y.Label.Text = "Voxel Y"

	sectors := make([]plotter.XYs, angleSectors)
	for y := 0; y < shape.Y; y++ {
		for x := 0; x < shape.X; x++ {
			idx := res.Map.Idx(x, y, z)
			if res.Coherence.Values[idx] < minCoherence {
				continue
			}
			sector := angleSector(res.Map.Values[idx])
			sectors[sector] = append(sectors[sector], plotter.XY{X: float64(x), Y: float64(y)})
		}
	}

	colors := generateColors(angleSectors)
	sectorWidth := 360.0 / angleSectors
	for i, pts := range sectors {
		if len(pts) == 0 {
			continue
		}
		sc, err := plotter.NewScatter(pts)
		if err != nil {
			return fmt.Errorf("sector %d scatter: %w", i, err)
		}
		sc.GlyphStyle.Color = colors[i]
		sc.GlyphStyle.Radius = vg.Points(1.5)
		p.Add(sc)
		p.Legend.Add(fmt.Sprintf("%.0f°-%.0f°", float64(i)*sectorWidth, float64(i+1)*sectorWidth), sc)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	if err := p.Save(9*vg.Inch, 9*vg.Inch, outPath); err != nil {
		return fmt.Errorf("save angle slice plot: %w", err)
	}
	return nil
}

// angleSector maps an angle in degrees to its hue sector, wrapping any
// out-of-[0,360) values onto the circle for display purposes only.
func angleSector(angle float64) int {
	wrapped := math.Mod(angle, 360)
	if wrapped < 0 {
		wrapped += 360
	}
	sector := int(wrapped / (360.0 / angleSectors))
	if sector >= angleSectors {
		sector = angleSectors - 1
	}
	return sector
}

// PlotCoherenceProfile renders the mean winning coherence per axial slice as
// a line, a quick read on which slices carry signal.
func PlotCoherenceProfile(res *retino.AggregateResult, outPath string) error {
	shape := res.Coherence.Shape

	p := plot.New()
	p.Title.Text = "Winning Coherence by Slice"
	p.X.Label.Text = "Slice (z)"
	p.Y.Label.Text = "Mean coherence"

	pts := make(plotter.XYs, 0, shape.Z)
	sliceSize := shape.X * shape.Y
	for z := 0; z < shape.Z; z++ {
		sum := 0.0
		base := z * sliceSize
		for i := 0; i < sliceSize; i++ {
			sum += res.Coherence.Values[base+i]
		}
		pts = append(pts, plotter.XY{X: float64(z), Y: sum / float64(sliceSize)})
	}

	line, err := plotter.NewLine(pts)
	if err != nil {
		return fmt.Errorf("coherence profile line: %w", err)
	}
	line.Width = vg.Points(1)
	line.Color = color.RGBA{R: 0x26, G: 0x82, B: 0x8e, A: 255}
	p.Add(line)
	p.Legend.Add("mean coherence", line)
	p.Legend.Top = true

	if err := p.Save(14*vg.Inch, 6*vg.Inch, outPath); err != nil {
		return fmt.Errorf("save coherence profile plot: %w", err)
	}
	return nil
}

// FormatTimestamp generates a timestamp string for directory naming.
func FormatTimestamp(t time.Time) string {
	return t.Format("20060102_150405")
}

// MakePlotOutputDir creates a timestamped output directory for plots:
// <baseDir>/<sanitized map name>/<timestamp>.
func MakePlotOutputDir(baseDir, mapName string) (string, error) {
	ts := FormatTimestamp(time.Now())
	dir := filepath.Join(baseDir, mapName, ts)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output dir: %w", err)
	}
	return dir, nil
}

// generateColors creates a hue-wheel palette of n distinct colors.
func generateColors(n int) []color.Color {
	if n <= 0 {
		return nil
	}
	colors := make([]color.Color, n)
	for i := 0; i < n; i++ {
		hue := float64(i) / float64(n)
		r, g, b := hslToRGB(hue, 0.7, 0.5)
		colors[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return colors
}

// hslToRGB converts HSL to RGB (0-255 range)
func hslToRGB(h, s, l float64) (r, g, b uint8) {
	var rf, gf, bf float64

	if s == 0 {
		rf, gf, bf = l, l, l
	} else {
		var q float64
		if l < 0.5 {
			q = l * (1 + s)
		} else {
			q = l + s - l*s
		}
		p := 2*l - q
		rf = hueToRGB(p, q, h+1.0/3.0)
		gf = hueToRGB(p, q, h)
		bf = hueToRGB(p, q, h-1.0/3.0)
	}

	return uint8(rf * 255), uint8(gf * 255), uint8(bf * 255)
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t += 1
	}
	if t > 1 {
		t -= 1
	}
	if t < 1.0/6.0 {
		return p + (q-p)*6*t
	}
	if t < 1.0/2.0 {
		return q
	}
	if t < 2.0/3.0 {
		return p + (q-p)*(2.0/3.0-t)*6
	}
	return p
}
