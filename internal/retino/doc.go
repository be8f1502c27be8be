// Package retino owns the polar-angle mapping core.
//
// Responsibilities: phase-to-angle conversion, per-scan range resolution,
// multi-scan winner-take-all aggregation, field statistics, and angle-map
// snapshot persistence.
// Key types: Field, AngleRange, RangeResolver, ScanObservation,
// AggregateResult, RunManager.
//
// Dependency rule: this package never touches SQL directly; persistence goes
// through the MapStore seam implemented by retinodb.
package retino
