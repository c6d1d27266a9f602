// Package recommend turns violation and drift sets into ranked,
// human-readable guidance. All phrasing derives from a single severity
// tier table so compliance, drift and prioritized actions stay consistent.
package recommend
