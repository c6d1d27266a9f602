package reconcile

import (
	"github.com/openfroyo/policyforge/pkg/engine"
	"github.com/openfroyo/policyforge/pkg/policy"
)

// batchApproval builds the approval record for one host's remediation batch.
//
// Every policy owning a critical violation is judged on its own approval
// section joined with the operator-supplied approvers in base. Critical
// violations without a policy, such as drift items, are judged on base
// alone. The first group that falls short is returned unchanged so the gate
// reports it; otherwise the groups are merged.
func batchApproval(base engine.ApprovalRecord, policies []*policy.Document, violations []engine.Violation) engine.ApprovalRecord {
	byName := make(map[string]*policy.Document, len(policies))
	for _, doc := range policies {
		byName[doc.Name()] = doc
	}

	var (
		groups []engine.ApprovalRecord
		seen   = map[string]bool{}
	)
	for _, v := range violations {
		if v.Severity != engine.SeverityCritical || seen[v.PolicyName] {
			continue
		}
		seen[v.PolicyName] = true

		group := engine.ApprovalRecord{
			RequiredApprovers: base.RequiredApprovers,
			Approvers:         append([]string{}, base.Approvers...),
		}
		if doc := byName[v.PolicyName]; doc != nil && doc.Approval != nil {
			group.RequiredApprovers = max(group.RequiredApprovers, doc.Approval.RequiredApprovers)
			group.Approvers = append(group.Approvers, doc.Approval.Approvers...)
		}
		groups = append(groups, group)
	}
	if len(groups) == 0 {
		return base
	}

	merged := engine.ApprovalRecord{}
	for _, group := range groups {
		if !group.Approved(true) {
			return group
		}
		merged.RequiredApprovers = max(merged.RequiredApprovers, group.RequiredApprovers)
		merged.Approvers = append(merged.Approvers, group.Approvers...)
	}
	merged.Approvers = merged.Distinct()
	return merged
}
