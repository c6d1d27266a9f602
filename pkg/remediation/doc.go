// Package remediation fixes violations on a single target.
//
// An Orchestrator takes a batch of violations for one host, backs the host up,
// gates critical changes on approval and then works through the batch in
// severity order. Each violation is handled by one strategy: configure,
// script, playbook or manual. A failed fix is rolled back from the backup when
// one exists, and the batch continues with the next violation.
//
// Basic usage:
//
//	orch := remediation.NewOrchestrator(exec, backups, nil, logger)
//	result, err := orch.Remediate(ctx, target, violations, remediation.Options{
//		Mode:                     remediation.ModeSemiAuto,
//		BackupBeforeRemediation:  true,
//		ValidateAfterRemediation: true,
//		RequireApproval:          true,
//		Approval:                 engine.ApprovalRecord{Approvers: []string{"alice", "bob"}},
//	})
package remediation
