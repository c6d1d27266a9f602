package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/openfroyo/policyforge/pkg/drift"
	"github.com/spf13/cobra"
)

func newDriftCommand() *cobra.Command {
	var (
		targets      targetFlags
		baselinePath string
		livePath     string
		threshold    float64
	)

	cmd := &cobra.Command{
		Use:   "drift",
		Short: "Detect configuration drift from a baseline",
		Long: `Detect configuration drift by comparing the live state of each host with
a baseline.

This command:
  - Collects live state from the executor, or reads it from --live
  - Classifies every changed, missing and unauthorized parameter
  - Computes the drift percentage and its trend against history
  - Records the run in drift history and prunes old entries`,
		Example: `  # Detect drift on one host through the configured executor
  policyforge drift --target web-01 --baseline baseline.yaml

  # Compare an exported live state file
  policyforge drift --target web-01 --baseline baseline.yaml --live live.json

  # Report any drift at all
  policyforge drift --hosts inventory.yaml --baseline baseline.yaml --threshold 0`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), true, func(ctx context.Context, a *app) error {
				baseline, err := drift.LoadBaseline(baselinePath)
				if err != nil {
					return err
				}

				var live map[string]any
				if livePath != "" {
					if live, err = drift.LoadState(livePath); err != nil {
						return err
					}
				}

				hosts, err := targets.resolve(a)
				if err != nil {
					return err
				}
				if live != nil && len(hosts) != 1 {
					return fmt.Errorf("--live needs exactly one target host, got %d", len(hosts))
				}

				opts := a.cfg.DriftOptions()
				if cmd.Flags().Changed("threshold") {
					opts.Threshold = threshold
				}

				detector := drift.NewDetector(a.history, a.locker, a.logger, a.tel.Metrics)
				results := make([]*drift.Result, 0, len(hosts))
				for _, host := range hosts {
					state := live
					if state == nil {
						if state, err = drift.Collect(ctx, a.exec, host, baseline); err != nil {
							return err
						}
					}
					result, err := detector.DetectDrift(ctx, host, baseline, state, opts)
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
						printDrift(w, result)
					}
				})
			})
		},
	}

	targets.register(cmd)
	cmd.Flags().StringVarP(&baselinePath, "baseline", "b", "", "baseline file (YAML or JSON)")
	cmd.Flags().StringVar(&livePath, "live", "", "live state file instead of collecting from the executor")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "drift percentage that must be exceeded (overrides config)")
	_ = cmd.MarkFlagRequired("baseline")

	return cmd
}
