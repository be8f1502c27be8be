package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/meridian-data/retinotopy.report/internal/units"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for analysis and display
// tuning. The schema matches the /api/config endpoint so the same JSON can
// be used for both startup configuration and inspection at runtime.
//
// MinCoherence is a display-only mask applied when rendering charts and
// plots; the map aggregation itself never thresholds coherence.
type TuningConfig struct {
	// Display params
	ColorMap       *string  `json:"color_map,omitempty"`        // "hsv" or "viridis"
	MinCoherence   *float64 `json:"min_coherence,omitempty"`    // display mask, 0..1
	ChartMaxPoints *int     `json:"chart_max_points,omitempty"` // scatter downsample cap
	PlotSizeInches *float64 `json:"plot_size_inches,omitempty"` // PNG plot edge length
	AngleUnits     *string  `json:"angle_units,omitempty"`      // "deg", "rad", or "turn"

	// Aggregation params
	ParallelVoxels *int `json:"parallel_voxels,omitempty"` // voxel count where the merge goes parallel
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a TuningConfig with every field populated with
// its built-in default. The getters fall back to the same values, so this is
// only needed when a fully materialized config must be serialized.
func DefaultTuningConfig() *TuningConfig {
	return &TuningConfig{
		ColorMap:       ptrString("hsv"),
		MinCoherence:   ptrFloat64(0),
		ChartMaxPoints: ptrInt(8000),
		PlotSizeInches: ptrFloat64(9),
		AngleUnits:     ptrString(units.Degrees),
		ParallelVoxels: ptrInt(1 << 16),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	// Validate the config file path.
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse JSON into empty config. The Get* methods provide fallback
	// defaults for any fields not specified in the JSON.
	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	// Try paths from current dir up to repo root
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/retino/monitor/
		"../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.ColorMap != nil {
		switch *c.ColorMap {
		case "hsv", "viridis":
		default:
			return fmt.Errorf("color_map must be \"hsv\" or \"viridis\", got %q", *c.ColorMap)
		}
	}

	if c.MinCoherence != nil {
		if *c.MinCoherence < 0 || *c.MinCoherence > 1 {
			return fmt.Errorf("min_coherence must be between 0 and 1, got %f", *c.MinCoherence)
		}
	}

	if c.ChartMaxPoints != nil {
		if *c.ChartMaxPoints < 1 {
			return fmt.Errorf("chart_max_points must be positive, got %d", *c.ChartMaxPoints)
		}
	}

	if c.PlotSizeInches != nil {
		if *c.PlotSizeInches <= 0 {
			return fmt.Errorf("plot_size_inches must be positive, got %f", *c.PlotSizeInches)
		}
	}

	if c.AngleUnits != nil {
		if !units.IsValid(*c.AngleUnits) {
			return fmt.Errorf("angle_units must be one of %s, got %q", units.GetValidUnitsString(), *c.AngleUnits)
		}
	}

	if c.ParallelVoxels != nil {
		if *c.ParallelVoxels < 1 {
			return fmt.Errorf("parallel_voxels must be positive, got %d", *c.ParallelVoxels)
		}
	}

	return nil
}

// GetColorMap returns the color_map value or the default.
func (c *TuningConfig) GetColorMap() string {
	if c.ColorMap == nil {
		return "hsv"
	}
	return *c.ColorMap
}

// GetMinCoherence returns the min_coherence value or the default.
func (c *TuningConfig) GetMinCoherence() float64 {
	if c.MinCoherence == nil {
		return 0 // default: no display mask
	}
	return *c.MinCoherence
}

// GetChartMaxPoints returns the chart_max_points value or the default.
func (c *TuningConfig) GetChartMaxPoints() int {
	if c.ChartMaxPoints == nil {
		return 8000
	}
	return *c.ChartMaxPoints
}

// GetPlotSizeInches returns the plot_size_inches value or the default.
func (c *TuningConfig) GetPlotSizeInches() float64 {
	if c.PlotSizeInches == nil {
		return 9.0
	}
	return *c.PlotSizeInches
}

// GetAngleUnits returns the angle_units value or the default.
func (c *TuningConfig) GetAngleUnits() string {
	if c.AngleUnits == nil {
		return units.Degrees
	}
	return *c.AngleUnits
}

// GetParallelVoxels returns the parallel_voxels value or the default.
func (c *TuningConfig) GetParallelVoxels() int {
	if c.ParallelVoxels == nil {
		return 1 << 16
	}
	return *c.ParallelVoxels
}
