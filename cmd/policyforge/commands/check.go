package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/openfroyo/policyforge/pkg/compliance"
	"github.com/openfroyo/policyforge/pkg/engine"
	"github.com/openfroyo/policyforge/pkg/policy"
	"github.com/spf13/cobra"
)

func newCheckCommand() *cobra.Command {
	var (
		targets    targetFlags
		policies   []string
		frameworks []string
		minimum    string
	)

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Evaluate compliance of hosts against policies",
		Long: `Evaluate every requirement and framework control of the given policies
against each target host and report the compliance score, violations,
per-framework status and recommendations.

A host with violations is reported, not treated as a command failure.`,
		Example: `  # Check one host against a policy directory
  policyforge check --target web-01 --platform linux --policies ./policies

  # Check every host of an inventory, only high and critical policies
  policyforge check --hosts inventory.yaml --policies ./policies --severity-threshold high

  # Check against NERC CIP only and print JSON
  policyforge check -t plc-01 --policies ot.yaml --framework nerc_cip -o json`,
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

				opts, err := a.cfg.ComplianceOptions()
				if err != nil {
					return err
				}
				if len(frameworks) > 0 {
					if opts.Frameworks, err = policy.ParseFrameworks(frameworks); err != nil {
						return err
					}
				}
				if minimum != "" {
					severity, ok := engine.ParseSeverity(minimum)
					if !ok {
						return engine.NewValidationError("unknown severity threshold "+minimum, nil)
					}
					opts.SeverityThreshold = severity
				}

				evaluator := compliance.NewEvaluator(a.exec, a.logger, a.tel.Metrics)
				results := make([]*compliance.Result, 0, len(hosts))
				for _, host := range hosts {
					result, err := evaluator.Evaluate(ctx, host, docs, opts)
					if err != nil {
						return err
					}
					results = append(results, result)
				}

				return emit(cmd.OutOrStdout(), results, func(w io.Writer) {
					for i, result := range results {
						if i > 0 {
							fmt.Fprintln(w)
						}
						printCompliance(w, result)
					}
				})
			})
		},
	}

	targets.register(cmd)
	cmd.Flags().StringSliceVarP(&policies, "policies", "p", nil, "policy files or directories")
	cmd.Flags().StringSliceVar(&frameworks, "framework", nil, "compliance frameworks to check (overrides config)")
	cmd.Flags().StringVar(&minimum, "severity-threshold", "", "skip policies below this severity")
	_ = cmd.MarkFlagRequired("policies")

	return cmd
}
