package compliance

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/openfroyo/policyforge/pkg/engine"
	"github.com/openfroyo/policyforge/pkg/policy"
	"github.com/openfroyo/policyforge/pkg/recommend"
	"github.com/openfroyo/policyforge/pkg/telemetry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// Evaluator runs requirement and framework checks for a target.
type Evaluator struct {
	executor engine.CheckExecutor
	metrics  *telemetry.Metrics
	logger   zerolog.Logger
}

// NewEvaluator creates an evaluator. metrics may be nil.
func NewEvaluator(executor engine.CheckExecutor, logger zerolog.Logger, metrics *telemetry.Metrics) *Evaluator {
	return &Evaluator{
		executor: executor,
		metrics:  metrics,
		logger:   logger.With().Str("component", "compliance-evaluator").Logger(),
	}
}

// Evaluate checks every admitted policy against the target. Check failures
// and executor errors are recorded in the result and never abort the run.
// If ctx is cancelled between checks, the partial result is returned with
// the context error.
func (e *Evaluator) Evaluate(ctx context.Context, target engine.Target, policies []*policy.Document, opts Options) (*Result, error) {
	ctx, span := otel.Tracer("policyforge/compliance").Start(ctx, "compliance.Evaluate")
	defer span.End()
	span.SetAttributes(attribute.String("target", target.Host), attribute.Int("policies", len(policies)))

	threshold := opts.SeverityThreshold
	if threshold == "" {
		threshold = engine.SeverityLow
	}
	frameworks := opts.Frameworks
	if len(frameworks) == 0 {
		frameworks = policy.DefaultFrameworks
	}

	result := &Result{
		Target:          target.Host,
		Violations:      []engine.Violation{},
		FrameworkStatus: make(map[string]*FrameworkResult),
		EvaluatedAt:     time.Now().UTC(),
	}

	var runErr error
	for _, doc := range policies {
		if doc == nil {
			continue
		}
		if !doc.Severity().AtLeast(threshold) {
			result.PoliciesSkipped++
			e.logger.Debug().
				Str("policy", doc.Name()).
				Str("severity", string(doc.Severity())).
				Str("threshold", string(threshold)).
				Msg("Policy below severity threshold")
			continue
		}

		if err := e.evaluatePolicy(ctx, target, doc, frameworks, result); err != nil {
			runErr = err
			break
		}
		result.PoliciesEvaluated++
	}

	e.finalize(result)

	e.metrics.RecordEvaluation(target.Host, result.Compliant, result.ComplianceScore, result.PassedChecks, result.FailedChecks)
	e.logger.Info().
		Str("target", target.Host).
		Bool("compliant", result.Compliant).
		Float64("score", result.ComplianceScore).
		Int("violations", len(result.Violations)).
		Msg("Compliance evaluation completed")

	if runErr != nil {
		span.RecordError(runErr)
	}
	return result, runErr
}

func (e *Evaluator) evaluatePolicy(ctx context.Context, target engine.Target, doc *policy.Document, frameworks []policy.Framework, result *Result) error {
	for _, req := range doc.Requirements {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.checkRequirement(ctx, target, doc, req, result)
	}

	for _, f := range frameworks {
		if !doc.MapsFramework(f) {
			continue
		}
		for _, item := range doc.Items(f) {
			if err := ctx.Err(); err != nil {
				return err
			}
			e.checkControl(ctx, target, doc, f, item, result)
		}
	}
	return nil
}

func (e *Evaluator) checkRequirement(ctx context.Context, target engine.Target, doc *policy.Document, req policy.Requirement, result *Result) {
	spec := requirementSpec(doc, req)
	passed, err := e.executor.Check(ctx, target, spec)

	bucket := result.bucket(PolicyBucket)
	bucket.ControlsChecked++
	result.TotalChecks++

	if err == nil && passed {
		result.PassedChecks++
		bucket.ControlsPassed++
		return
	}

	result.FailedChecks++

	finding := orDefault(req.FailureMessage, DefaultFinding)
	if err != nil {
		checkErr := engine.NewCheckExecutionError("check failed", err).
			WithTarget(target.Host).
			WithOperation(spec.RequirementID)
		finding = fmt.Sprintf("%s (%v)", finding, checkErr)
		e.metrics.RecordError(string(checkErr.Kind), checkErr.Code)
		e.logger.Warn().
			Err(err).
			Str("target", target.Host).
			Str("policy", doc.Name()).
			Str("requirement", spec.RequirementID).
			Msg("Requirement check failed to execute")
	}

	remediation := DefaultRemediation
	if doc.Enforcement != nil && doc.Enforcement.RemediationSteps != "" {
		remediation = doc.Enforcement.RemediationSteps
	}

	violation := engine.Violation{
		ViolationID:         uuid.NewString(),
		PolicyName:          doc.Name(),
		RequirementID:       spec.RequirementID,
		Parameter:           req.Parameter,
		Description:         orDefault(req.Description, DefaultDescription),
		Severity:            doc.Severity(),
		Category:            engine.CategoryGeneral,
		Finding:             finding,
		Remediation:         remediation,
		Impact:              orDefault(doc.Metadata.Impact, DefaultImpact),
		Expected:            req.ExpectedValue,
		RemediationStrategy: req.RemediationStrategy,
		RemediationScript:   req.RemediationScript,
		RemediationPlaybook: req.RemediationPlaybook,
		Source:              engine.SourceEvaluation,
	}
	result.Violations = append(result.Violations, violation)
	bucket.Findings = append(bucket.Findings, spec.RequirementID)
}

func (e *Evaluator) checkControl(ctx context.Context, target engine.Target, doc *policy.Document, f policy.Framework, item string, result *Result) {
	spec := engine.CheckSpec{
		PolicyName: doc.Name(),
		Framework:  string(f),
		Control:    item,
	}

	bucket := result.bucket(string(f))
	bucket.ControlsChecked++

	passed, err := e.executor.Check(ctx, target, spec)
	if err != nil {
		e.logger.Warn().
			Err(err).
			Str("target", target.Host).
			Str("framework", string(f)).
			Str("control", item).
			Msg("Framework control check failed to execute")
	}
	if err == nil && passed {
		bucket.ControlsPassed++
		return
	}
	bucket.Findings = append(bucket.Findings, item)
}

// finalize computes scores, compliance and recommendations.
func (e *Evaluator) finalize(result *Result) {
	if result.TotalChecks > 0 {
		result.ComplianceScore = round2(float64(result.PassedChecks) / float64(result.TotalChecks) * 100)
	}
	result.Compliant = len(result.Violations) == 0

	scores := make([]recommend.FrameworkScore, 0, len(result.FrameworkOrder))
	for _, name := range result.FrameworkOrder {
		fr := result.FrameworkStatus[name]
		if fr.ControlsChecked > 0 {
			fr.Score = round2(float64(fr.ControlsPassed) / float64(fr.ControlsChecked) * 100)
		}
		fr.Compliant = fr.Score == 100.0
		scores = append(scores, recommend.FrameworkScore{
			Name:    name,
			Checked: fr.ControlsChecked,
			Passed:  fr.ControlsPassed,
		})
	}

	result.Recommendations = recommend.Compliance(result.Violations, scores)
}

// requirementSpec builds the executor check for a requirement.
func requirementSpec(doc *policy.Document, req policy.Requirement) engine.CheckSpec {
	spec := engine.CheckSpec{
		PolicyName:    doc.Name(),
		RequirementID: orDefault(req.ID, "unknown"),
		Parameter:     req.Parameter,
		Expected:      req.ExpectedValue,
		Params:        req.CheckSpec,
	}
	if cmd, ok := req.CheckSpec["command"].(string); ok {
		spec.Command = cmd
	}
	if expr, ok := req.CheckSpec["expression"].(string); ok {
		spec.Expression = expr
	}
	return spec
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
