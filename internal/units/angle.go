// Package units provides shared constants and validation for angle units
package units

import "math"

// Unit constants
const (
	Degrees = "deg"
	Radians = "rad"
	Turns   = "turn"
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{Degrees, Radians, Turns}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return "deg, rad, turn"
}

// ConvertAngle converts an angle from degrees to the target units.
// Maps and presets store angles in degrees.
func ConvertAngle(angleDeg float64, targetUnits string) float64 {
	switch targetUnits {
	case Radians:
		return angleDeg * math.Pi / 180
	case Turns:
		return angleDeg / 360
	case Degrees:
		return angleDeg // no conversion needed
	default:
		return angleDeg // default to degrees if unknown unit
	}
}
