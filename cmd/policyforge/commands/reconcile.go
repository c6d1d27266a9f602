package commands

import (
	"context"
	"io"

	"github.com/openfroyo/policyforge/pkg/compliance"
	"github.com/openfroyo/policyforge/pkg/drift"
	"github.com/openfroyo/policyforge/pkg/engine"
	"github.com/openfroyo/policyforge/pkg/policy"
	"github.com/openfroyo/policyforge/pkg/reconcile"
	"github.com/spf13/cobra"
)

func newReconcileCommand() *cobra.Command {
	var (
		targets      targetFlags
		policies     []string
		baselinePath string
		checkMode    bool
		approvers    []string
		required     int
	)

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Evaluate, detect drift and remediate across hosts",
		Long: `Run the full loop on every host: evaluate compliance, detect drift from
the baseline when one is given, and remediate the resulting violations.

Hosts run in parallel up to the configured concurrency. A failure on one
host is reported in its entry and does not stop the others.

Critical violations are approved by the approvers listed in their policy's
approval section together with any --approver given here.`,
		Example: `  # Reconcile an inventory against policies and a baseline
  policyforge reconcile --hosts inventory.yaml --policies ./policies --baseline baseline.yaml

  # Preview remediation only
  policyforge reconcile --hosts inventory.yaml --policies ./policies --check`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), true, func(ctx context.Context, a *app) error {
				hosts, err := targets.resolve(a)
				if err != nil {
					return err
				}
				docs, err := policy.NewLoader(a.logger).LoadFromPaths(ctx, policies)
				if err != nil {
					return err
				}
				var baseline *drift.Baseline
				if baselinePath != "" {
					if baseline, err = drift.LoadBaseline(baselinePath); err != nil {
						return err
					}
				}

				opts, err := a.cfg.ReconcileOptions()
				if err != nil {
					return err
				}
				opts.Remediation.CheckMode = checkMode
				opts.Remediation.Approval = engine.ApprovalRecord{
					RequiredApprovers: required,
					Approvers:         approvers,
				}

				reconciler := reconcile.New(
					a.exec,
					compliance.NewEvaluator(a.exec, a.logger, a.tel.Metrics),
					drift.NewDetector(a.history, a.locker, a.logger, a.tel.Metrics),
					newOrchestrator(a),
					a.logger,
					a.tel.Metrics,
				)

				reports, err := reconciler.Run(ctx, hosts, docs, baseline, opts)
				if werr := emit(cmd.OutOrStdout(), reports, func(w io.Writer) { printReconcile(w, reports) }); werr != nil {
					return werr
				}
				return err
			})
		},
	}

	targets.register(cmd)
	cmd.Flags().StringSliceVarP(&policies, "policies", "p", nil, "policy files or directories")
	cmd.Flags().StringVarP(&baselinePath, "baseline", "b", "", "baseline file for drift detection")
	cmd.Flags().BoolVar(&checkMode, "check", false, "report remediation without changing anything")
	cmd.Flags().StringSliceVar(&approvers, "approver", nil, "approver of critical changes, added to the policy's approvers")
	cmd.Flags().IntVar(&required, "required-approvers", 0, "minimum approvers for critical changes")
	_ = cmd.MarkFlagRequired("policies")

	return cmd
}
