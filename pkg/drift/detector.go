package drift

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/openfroyo/policyforge/pkg/engine"
	"github.com/openfroyo/policyforge/pkg/lock"
	"github.com/openfroyo/policyforge/pkg/recommend"
	"github.com/openfroyo/policyforge/pkg/telemetry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultRetention is how long history entries are kept.
const DefaultRetention = 90 * 24 * time.Hour

// UnauthorizedNote is attached to live parameters missing from the baseline.
const UnauthorizedNote = "Parameter not in baseline - potential unauthorized change"

// TrendLabel describes the direction of drift over time.
type TrendLabel string

const (
	TrendIncreasing TrendLabel = "increasing"
	TrendDecreasing TrendLabel = "decreasing"
	TrendStable     TrendLabel = "stable"
	TrendUnknown    TrendLabel = "unknown"
)

// Trend compares the current drift percentage with the previous detection.
type Trend struct {
	Current        float64    `json:"current"`
	Previous       *float64   `json:"previous"`
	Trend          TrendLabel `json:"trend"`
	RateOfChange   float64    `json:"rate_of_change"`
	HistoryEntries int        `json:"history_entries,omitempty"`
}

// Options controls a detection run.
type Options struct {
	// Threshold is the drift percentage that must be exceeded to report drift.
	Threshold float64

	// AlertOnDrift logs a drift alert event when drift is detected.
	AlertOnDrift bool

	// Retention is the history window. Zero means DefaultRetention.
	Retention time.Duration
}

// Result is the outcome of a detection run.
type Result struct {
	Target            string               `json:"target"`
	DriftDetected     bool                 `json:"drift_detected"`
	DriftPercentage   float64              `json:"drift_percentage"`
	TotalParameters   int                  `json:"total_parameters"`
	DriftedParameters int                  `json:"drifted_parameters"`
	DriftDetails      []engine.DriftRecord `json:"drift_details"`
	CriticalDrift     []engine.DriftRecord `json:"critical_drift"`
	Trend             Trend                `json:"drift_trend"`
	Recommendations   []string             `json:"recommendations"`
	HistoryRecorded   bool                 `json:"history_recorded"`
	DetectedAt        time.Time            `json:"detected_at"`
}

// Detector detects drift and maintains history.
type Detector struct {
	history engine.HistoryStore
	locker  engine.TargetLocker
	metrics *telemetry.Metrics
	logger  zerolog.Logger
	now     func() time.Time
}

// NewDetector creates a detector. A nil locker uses an in-process lock and
// metrics may be nil.
func NewDetector(history engine.HistoryStore, locker engine.TargetLocker, logger zerolog.Logger, metrics *telemetry.Metrics) *Detector {
	if locker == nil {
		locker = lock.NewLocal()
	}
	return &Detector{
		history: history,
		locker:  locker,
		metrics: metrics,
		logger:  logger.With().Str("component", "drift-detector").Logger(),
		now:     time.Now,
	}
}

// DetectDrift compares live state with the baseline, computes the trend and,
// when drift is detected, appends to the target's history and prunes it.
func (d *Detector) DetectDrift(ctx context.Context, target engine.Target, baseline *Baseline, live map[string]any, opts Options) (*Result, error) {
	if baseline == nil {
		return nil, engine.NewStructuralError("baseline is required", nil).WithTarget(target.Host)
	}

	ctx, span := otel.Tracer("policyforge/drift").Start(ctx, "drift.Detect")
	defer span.End()
	span.SetAttributes(attribute.String("target", target.Host))

	now := d.now().UTC()
	details := Compare(baseline, live, now)

	result := &Result{
		Target:            target.Host,
		TotalParameters:   len(baseline.Parameters),
		DriftedParameters: len(details),
		DriftDetails:      details,
		CriticalDrift:     []engine.DriftRecord{},
		DetectedAt:        now,
	}
	for _, rec := range details {
		if rec.Severity == engine.SeverityCritical {
			result.CriticalDrift = append(result.CriticalDrift, rec)
		}
	}

	var percentage float64
	if result.TotalParameters > 0 {
		percentage = float64(result.DriftedParameters) / float64(result.TotalParameters) * 100
	}
	result.DriftPercentage = round2(percentage)
	result.DriftDetected = percentage > opts.Threshold

	unlock, err := d.locker.Lock(ctx, "drift:"+target.Host)
	if err != nil {
		return nil, fmt.Errorf("failed to lock target %s: %w", target.Host, err)
	}
	result.Trend = d.trend(ctx, target.Host, percentage)
	if result.DriftDetected {
		result.HistoryRecorded = d.record(ctx, target.Host, result, percentage, opts.Retention)
	}
	unlock()

	result.Recommendations = recommend.Drift(result.DriftDetected, result.DriftPercentage, details)

	d.metrics.RecordDriftDetection(target.Host, result.DriftDetected, result.DriftPercentage)
	if result.DriftDetected && opts.AlertOnDrift {
		d.alert(target.Host, result)
	}

	d.logger.Info().
		Str("target", target.Host).
		Bool("drift_detected", result.DriftDetected).
		Float64("drift_percentage", result.DriftPercentage).
		Int("drifted", result.DriftedParameters).
		Str("trend", string(result.Trend.Trend)).
		Msg("Drift detection completed")

	return result, nil
}

// Compare returns the drift records for live state against the baseline:
// baseline keys in lexical order, then unauthorized keys in lexical order.
func Compare(baseline *Baseline, live map[string]any, now time.Time) []engine.DriftRecord {
	details := []engine.DriftRecord{}

	for _, param := range sortedKeys(baseline.Parameters) {
		expected := baseline.Parameters[param]
		actual := live[param]

		changes, err := engine.Diff(expected, actual)
		if err != nil {
			if engine.ValuesEqual(expected, actual) {
				continue
			}
			changes = []string{"/"}
		}
		if len(changes) == 0 {
			continue
		}

		meta := baseline.Meta(param)
		details = append(details, engine.DriftRecord{
			Parameter:  param,
			Expected:   expected,
			Actual:     actual,
			Severity:   meta.Severity,
			Category:   meta.Category,
			DetectedAt: now,
			Changes:    changes,
		})
	}

	for _, param := range sortedKeys(live) {
		if _, ok := baseline.Parameters[param]; ok {
			continue
		}
		details = append(details, engine.DriftRecord{
			Parameter:  param,
			Expected:   nil,
			Actual:     live[param],
			Severity:   engine.SeverityMedium,
			Category:   engine.CategoryUnauthorizedChange,
			DetectedAt: now,
			Note:       UnauthorizedNote,
			Changes:    []string{"/"},
		})
	}

	return details
}

// trend derives the trend from the latest history entry. The rate is
// classified unrounded; reported values are rounded. Unreadable history
// counts as no history.
func (d *Detector) trend(ctx context.Context, target string, current float64) Trend {
	t := Trend{Current: round2(current), Trend: TrendUnknown}
	if d.history == nil {
		return t
	}

	entries, err := d.history.List(ctx, target)
	if err != nil {
		d.logger.Warn().Err(err).Str("target", target).Msg("Failed to read drift history")
		return t
	}
	if len(entries) == 0 {
		return t
	}

	previous := entries[len(entries)-1].DriftPercentage
	rate := current - previous

	shown := round2(previous)
	t.Previous = &shown
	t.RateOfChange = round2(rate)
	t.HistoryEntries = len(entries)
	switch {
	case rate > 1.0:
		t.Trend = TrendIncreasing
	case rate < -1.0:
		t.Trend = TrendDecreasing
	default:
		t.Trend = TrendStable
	}
	return t
}

// record appends the detection to history with its unrounded percentage and
// prunes old entries. Failures are logged and reported as not recorded.
func (d *Detector) record(ctx context.Context, target string, result *Result, percentage float64, retention time.Duration) bool {
	if d.history == nil {
		return false
	}
	if retention <= 0 {
		retention = DefaultRetention
	}

	entry := engine.HistoryEntry{
		Timestamp:          result.DetectedAt,
		DriftPercentage:    percentage,
		DriftedParameters:  result.DriftedParameters,
		CriticalDriftCount: len(result.CriticalDrift),
		Summary:            make([]engine.ParameterSeverity, 0, len(result.DriftDetails)),
	}
	for _, rec := range result.DriftDetails {
		entry.Summary = append(entry.Summary, engine.ParameterSeverity{Parameter: rec.Parameter, Severity: rec.Severity})
	}

	if err := d.history.Append(ctx, target, entry); err != nil {
		d.logger.Warn().Err(err).Str("target", target).Msg("Failed to save drift history")
		return false
	}

	removed, err := d.history.Prune(ctx, target, result.DetectedAt.Add(-retention))
	if err != nil {
		d.logger.Warn().Err(err).Str("target", target).Msg("Failed to prune drift history")
	} else if removed > 0 {
		d.logger.Debug().Str("target", target).Int("removed", removed).Msg("Pruned drift history")
	}
	return true
}

func (d *Detector) alert(target string, result *Result) {
	d.metrics.RecordDriftAlert(target)
	d.logger.Warn().
		Str("event", "drift alert").
		Str("host", target).
		Float64("drift_percentage", result.DriftPercentage).
		Int("critical_drift_count", len(result.CriticalDrift)).
		Time("timestamp", result.DetectedAt).
		Msg("drift alert")
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
