// Package drift compares a recorded baseline with the live state of a target,
// keeps a per-target history of detections and derives a trend from it.
//
// Comparison is keyed by parameter name. Baseline keys missing from the live
// state drift with a nil actual value, and live keys absent from the baseline
// are reported as unauthorized changes. Values are compared as JSON documents
// so numerically equal YAML and JSON values do not drift.
package drift
