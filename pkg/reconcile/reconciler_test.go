package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/openfroyo/policyforge/pkg/compliance"
	"github.com/openfroyo/policyforge/pkg/drift"
	"github.com/openfroyo/policyforge/pkg/engine"
	"github.com/openfroyo/policyforge/pkg/policy"
	"github.com/openfroyo/policyforge/pkg/remediation"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fleet is an in-memory set of hosts whose state changes when configured.
type fleet struct {
	mu      sync.Mutex
	state   map[string]map[string]any
	broken  map[string]bool
	applied map[string]int
}

func newFleet() *fleet {
	return &fleet{state: map[string]map[string]any{}, broken: map[string]bool{}, applied: map[string]int{}}
}

func (f *fleet) Check(_ context.Context, target engine.Target, spec engine.CheckSpec) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.broken[target.Host] {
		return false, errors.New("connection refused")
	}
	return engine.ValuesEqual(spec.Expected, f.state[target.Host][spec.Parameter]), nil
}

func (f *fleet) Apply(_ context.Context, target engine.Target, action engine.Action) (engine.ApplyResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if action.Kind == engine.ActionConfigure {
		f.state[target.Host][action.Parameter] = action.Value
	}
	f.applied[target.Host]++
	return engine.ApplyResult{Applied: true}, nil
}

func (f *fleet) CurrentValue(_ context.Context, target engine.Target, parameter string) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.state[target.Host][parameter]
	if !ok {
		return nil, engine.NewNotFoundError(target.Host, parameter)
	}
	return v, nil
}

func (f *fleet) Snapshot(_ context.Context, target engine.Target) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.broken[target.Host] {
		return nil, errors.New("connection refused")
	}
	out := make(map[string]any, len(f.state[target.Host]))
	for k, v := range f.state[target.Host] {
		out[k] = v
	}
	return out, nil
}

func newReconciler(exec *fleet) *Reconciler {
	logger := zerolog.Nop()
	return New(exec,
		compliance.NewEvaluator(exec, logger, nil),
		drift.NewDetector(drift.NewFileHistoryStore("", logger), nil, logger, nil),
		remediation.NewOrchestrator(exec, nil, nil, logger),
		logger, nil)
}

func ntpPolicy(t *testing.T) *policy.Document {
	t.Helper()
	doc, err := policy.FromMap(map[string]any{
		"metadata": map[string]any{"name": "NTP", "severity": "medium"},
		"policy": map[string]any{
			"requirements": []any{
				map[string]any{"id": "ntp-1", "parameter": "ntp_server", "expected_value": "10.0.0.1"},
			},
		},
	})
	require.NoError(t, err)
	return doc
}

func TestRun_EvaluateDetectRemediate(t *testing.T) {
	exec := newFleet()
	exec.state["web-01"] = map[string]any{"ntp_server": "1.2.3.4", "ssh_port": 2222, "telnet": "on"}
	exec.state["web-02"] = map[string]any{"ntp_server": "10.0.0.1", "ssh_port": 22}

	baseline := &drift.Baseline{
		Parameters: map[string]any{"ntp_server": "10.0.0.1", "ssh_port": 22},
	}
	r := newReconciler(exec)
	r.detector = drift.NewDetector(drift.NewFileHistoryStore(t.TempDir(), zerolog.Nop()), nil, zerolog.Nop(), nil)

	reports, err := r.Run(context.Background(), []engine.Target{{Host: "web-01"}, {Host: "web-02"}},
		[]*policy.Document{ntpPolicy(t)}, baseline, Options{Remediation: remediation.Options{Mode: remediation.ModeSemiAuto}})
	require.NoError(t, err)
	require.Len(t, reports, 2)

	dirty := reports["web-01"]
	assert.Empty(t, dirty.Error)
	assert.False(t, dirty.Compliance.Compliant)
	require.NotNil(t, dirty.Drift)
	assert.True(t, dirty.Drift.DriftDetected)

	// ntp_server comes from the policy, ssh_port and telnet from drift.
	require.NotNil(t, dirty.Remediation)
	assert.Equal(t, 3, dirty.Remediation.Attempted)
	assert.Equal(t, 2, dirty.Remediation.Successful)
	assert.Equal(t, "10.0.0.1", exec.state["web-01"]["ntp_server"])
	assert.Equal(t, 22, exec.state["web-01"]["ssh_port"])

	var manual int
	for _, item := range dirty.Remediation.Results {
		if item.Status == remediation.StatusManualRequired {
			manual++
			assert.Equal(t, "telnet", item.Parameter)
		}
	}
	assert.Equal(t, 1, manual)

	clean := reports["web-02"]
	assert.True(t, clean.Compliance.Compliant)
	assert.False(t, clean.Drift.DriftDetected)
	assert.Equal(t, remediation.MsgNoViolations, clean.Remediation.Message)
	assert.Zero(t, exec.applied["web-02"])
}

func TestRun_HostErrorsStayLocal(t *testing.T) {
	exec := newFleet()
	exec.state["ok"] = map[string]any{"ntp_server": "10.0.0.1"}
	exec.state["down"] = map[string]any{}
	exec.broken["down"] = true

	r := newReconciler(exec)
	r.detector = drift.NewDetector(drift.NewFileHistoryStore(t.TempDir(), zerolog.Nop()), nil, zerolog.Nop(), nil)

	reports, err := r.Run(context.Background(), []engine.Target{{Host: "ok"}, {Host: "down"}},
		[]*policy.Document{ntpPolicy(t)}, &drift.Baseline{Parameters: map[string]any{"ntp_server": "10.0.0.1"}}, Options{})
	require.NoError(t, err)

	assert.Empty(t, reports["ok"].Error)
	assert.NotNil(t, reports["ok"].Remediation)

	down := reports["down"]
	assert.Contains(t, down.Error, "connection refused")
	assert.NotNil(t, down.Compliance)
	assert.Nil(t, down.Remediation)
}

func TestRun_WithoutBaseline(t *testing.T) {
	exec := newFleet()
	exec.state["web-01"] = map[string]any{"ntp_server": "1.2.3.4"}

	reports, err := newReconciler(exec).Run(context.Background(), []engine.Target{{Host: "web-01"}},
		[]*policy.Document{ntpPolicy(t)}, nil, Options{Remediation: remediation.Options{CheckMode: true}})
	require.NoError(t, err)

	report := reports["web-01"]
	assert.Nil(t, report.Drift)
	assert.Equal(t, remediation.MsgCheckMode, report.Remediation.Message)
	assert.Equal(t, "1.2.3.4", exec.state["web-01"]["ntp_server"])
}

func TestRun_ManyHosts(t *testing.T) {
	exec := newFleet()
	targets := make([]engine.Target, 12)
	for i := range targets {
		name := fmt.Sprintf("node-%02d", i)
		exec.state[name] = map[string]any{"ntp_server": "10.0.0.1"}
		targets[i] = engine.Target{Host: name}
	}

	reports, err := newReconciler(exec).Run(context.Background(), targets, []*policy.Document{ntpPolicy(t)}, nil, Options{MaxConcurrent: 2})
	require.NoError(t, err)
	assert.Len(t, reports, 12)
	for _, report := range reports {
		assert.Empty(t, report.Error)
		assert.True(t, report.Compliance.Compliant)
	}
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reports, err := newReconciler(newFleet()).Run(ctx, []engine.Target{{Host: "a"}}, nil, nil, Options{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotEmpty(t, reports["a"].Error)
}

func TestDriftViolations_SkipsCoveredParameters(t *testing.T) {
	existing := []engine.Violation{{Parameter: "ntp_server"}}
	records := []engine.DriftRecord{
		{Parameter: "ntp_server", Expected: "a", Actual: "b"},
		{Parameter: "ssh_port", Expected: 22, Actual: 2222},
	}
	out := driftViolations(existing, records)
	require.Len(t, out, 1)
	assert.Equal(t, "ssh_port", out[0].Parameter)
	assert.Equal(t, engine.SourceDrift, out[0].Source)
}

func criticalPolicy(t *testing.T, name string, approval map[string]any) *policy.Document {
	t.Helper()
	raw := map[string]any{
		"metadata": map[string]any{"name": name, "severity": "critical"},
		"policy": map[string]any{
			"requirements": []any{
				map[string]any{"id": name + "-1", "parameter": "aaa_config", "expected_value": "tacacs"},
			},
		},
	}
	if approval != nil {
		raw["approval"] = approval
	}
	doc, err := policy.FromMap(raw)
	require.NoError(t, err)
	return doc
}

func TestRun_PolicyApprovalReachesRemediation(t *testing.T) {
	gated := remediation.Options{Mode: remediation.ModeSemiAuto, RequireApproval: true}

	t.Run("policy approvers satisfy the gate", func(t *testing.T) {
		exec := newFleet()
		exec.state["core-01"] = map[string]any{"aaa_config": "none"}
		doc := criticalPolicy(t, "AAA", map[string]any{"required_approvers": 2, "approvers": []any{"alice", "bob"}})

		reports, err := newReconciler(exec).Run(context.Background(), []engine.Target{{Host: "core-01"}},
			[]*policy.Document{doc}, nil, Options{Remediation: gated})
		require.NoError(t, err)

		report := reports["core-01"]
		assert.Empty(t, report.Error)
		require.NotNil(t, report.Remediation)
		require.NotNil(t, report.Remediation.Approval)
		assert.True(t, report.Remediation.Approval.Approved)
		assert.Equal(t, 1, report.Remediation.Successful)
		assert.Equal(t, "tacacs", exec.state["core-01"]["aaa_config"])
	})

	t.Run("missing approvers deny the batch", func(t *testing.T) {
		exec := newFleet()
		exec.state["core-01"] = map[string]any{"aaa_config": "none"}
		doc := criticalPolicy(t, "AAA", nil)

		reports, err := newReconciler(exec).Run(context.Background(), []engine.Target{{Host: "core-01"}},
			[]*policy.Document{doc}, nil, Options{Remediation: gated})
		require.NoError(t, err)

		assert.Contains(t, reports["core-01"].Error, "approval_denied")
		assert.Zero(t, exec.applied["core-01"])
	})

	t.Run("operator approvers join the policy's", func(t *testing.T) {
		exec := newFleet()
		exec.state["core-01"] = map[string]any{"aaa_config": "none"}
		doc := criticalPolicy(t, "AAA", map[string]any{"approvers": []any{"alice"}})
		opts := gated
		opts.Approval = engine.ApprovalRecord{Approvers: []string{"carol"}}

		reports, err := newReconciler(exec).Run(context.Background(), []engine.Target{{Host: "core-01"}},
			[]*policy.Document{doc}, nil, Options{Remediation: opts})
		require.NoError(t, err)
		assert.Empty(t, reports["core-01"].Error)
		assert.Equal(t, "tacacs", exec.state["core-01"]["aaa_config"])
	})
}

func TestBatchApproval(t *testing.T) {
	approved := criticalPolicy(t, "AAA", map[string]any{"approvers": []any{"alice", "bob"}})
	lone := criticalPolicy(t, "SNMP", map[string]any{"approvers": []any{"carol"}})
	docs := []*policy.Document{approved, lone}

	t.Run("each policy is judged on its own approvers", func(t *testing.T) {
		record := batchApproval(engine.ApprovalRecord{}, docs, []engine.Violation{
			{PolicyName: "AAA", Severity: engine.SeverityCritical},
			{PolicyName: "SNMP", Severity: engine.SeverityCritical},
		})
		assert.False(t, record.Approved(true))
		assert.Equal(t, []string{"carol"}, record.Approvers)
	})

	t.Run("approved groups merge", func(t *testing.T) {
		record := batchApproval(engine.ApprovalRecord{Approvers: []string{"dave"}}, docs, []engine.Violation{
			{PolicyName: "AAA", Severity: engine.SeverityCritical},
			{PolicyName: "SNMP", Severity: engine.SeverityCritical},
			{PolicyName: "AAA", Severity: engine.SeverityCritical},
		})
		assert.True(t, record.Approved(true))
		assert.Equal(t, []string{"dave", "alice", "bob", "carol"}, record.Approvers)
	})

	t.Run("drift items rely on operator approvers", func(t *testing.T) {
		record := batchApproval(engine.ApprovalRecord{Approvers: []string{"alice"}}, docs, []engine.Violation{
			{Parameter: "ssh_port", Severity: engine.SeverityCritical},
		})
		assert.False(t, record.Approved(true))
	})

	t.Run("no critical violations keep base", func(t *testing.T) {
		base := engine.ApprovalRecord{Approvers: []string{"alice"}}
		record := batchApproval(base, docs, []engine.Violation{{PolicyName: "AAA", Severity: engine.SeverityHigh}})
		assert.Equal(t, base, record)
	})
}
