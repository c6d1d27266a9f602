package remediation

import (
	"fmt"

	"github.com/openfroyo/policyforge/pkg/engine"
)

// ApprovalStatus describes an approval decision.
type ApprovalStatus struct {
	Approved          bool     `json:"approved"`
	RequiredApprovers int      `json:"required_approvers"`
	Approvers         []string `json:"approvers"`
	Reason            string   `json:"reason,omitempty"`
}

// CheckApproval decides whether a batch containing critical changes may run.
// Auto mode never approves critical changes. Other modes need at least
// max(required_approvers, 2) distinct approvers.
func CheckApproval(mode Mode, record engine.ApprovalRecord, criticalCount int) ApprovalStatus {
	status := ApprovalStatus{
		RequiredApprovers: record.Required(true),
		Approvers:         record.Distinct(),
	}

	switch {
	case mode == ModeAuto:
		status.Reason = fmt.Sprintf("%d critical violations require human approval; auto mode cannot approve them", criticalCount)
	case !record.Approved(true):
		status.Reason = fmt.Sprintf("%d critical violations require %d approvers, got %d",
			criticalCount, status.RequiredApprovers, len(status.Approvers))
	default:
		status.Approved = true
	}
	return status
}

func approvalError(target string, status ApprovalStatus) error {
	return engine.NewApprovalDeniedError("Critical violations require approval before remediation").
		WithTarget(target).
		WithOperation("remediate").
		WithDetail("required_approvers", status.RequiredApprovers).
		WithDetail("approvers", status.Approvers).
		WithDetail("reason", status.Reason)
}
