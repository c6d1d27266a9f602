package commands

import (
	"context"
	"io"

	"github.com/openfroyo/policyforge/pkg/engine"
	"github.com/openfroyo/policyforge/pkg/remediation"
	"github.com/spf13/cobra"
)

func newRemediateCommand() *cobra.Command {
	var (
		targets           targetFlags
		violationsPath    string
		mode              string
		approvers         []string
		requiredApprovers int
		checkMode         bool
	)

	cmd := &cobra.Command{
		Use:   "remediate",
		Short: "Remediate violations on a host",
		Long: `Remediate violations on one host, most severe first.

This command:
  - Backs up the host configuration before any change
  - Enforces the approval gate for critical violations
  - Chooses a strategy per violation (configure, script, playbook, manual)
  - Verifies each change and rolls back failures from the backup`,
		Example: `  # Preview what would be remediated
  policyforge remediate --target web-01 --violations violations.yaml --check

  # Remediate critical findings with two approvers
  policyforge remediate -t web-01 --violations violations.json --approver alice --approver bob`,
		RunE: func(cmd *cobra.Command, args []string) error {
			violations, err := loadViolations(violationsPath)
			if err != nil {
				return err
			}

			return run(cmd.Context(), true, func(ctx context.Context, a *app) error {
				target, err := targets.single(a)
				if err != nil {
					return err
				}

				opts, err := a.cfg.RemediationOptions()
				if err != nil {
					return err
				}
				if mode != "" {
					if opts.Mode, err = remediation.ParseMode(mode); err != nil {
						return err
					}
				}
				opts.CheckMode = checkMode
				opts.Approval = engine.ApprovalRecord{
					RequiredApprovers: requiredApprovers,
					Approvers:         approvers,
				}

				orchestrator := newOrchestrator(a)
				result, err := orchestrator.Remediate(ctx, target, violations, opts)
				if result != nil {
					if werr := emit(cmd.OutOrStdout(), result, func(w io.Writer) { printRemediation(w, result) }); werr != nil {
						return werr
					}
				}
				return err
			})
		},
	}

	targets.register(cmd)
	cmd.Flags().StringVar(&violationsPath, "violations", "", "violations file (YAML or JSON)")
	cmd.Flags().StringVar(&mode, "mode", "", "remediation mode: auto, semi_auto or manual (overrides config)")
	cmd.Flags().StringSliceVar(&approvers, "approver", nil, "approver of critical changes")
	cmd.Flags().IntVar(&requiredApprovers, "required-approvers", 0, "approvers the change policy demands")
	cmd.Flags().BoolVar(&checkMode, "check", false, "report what would run without changing anything")
	_ = cmd.MarkFlagRequired("violations")

	return cmd
}

func newOrchestrator(a *app) *remediation.Orchestrator {
	opts := []remediation.OrchestratorOption{remediation.WithMetrics(a.tel.Metrics)}
	if a.audit != nil {
		opts = append(opts, remediation.WithAuditSink(a.audit))
	}
	if runner := a.scriptRunner(); runner != nil {
		opts = append(opts, remediation.WithScriptRunner(runner))
	}
	return remediation.NewOrchestrator(a.exec, a.backups, a.locker, a.logger, opts...)
}
