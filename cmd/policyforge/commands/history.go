package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/openfroyo/policyforge/pkg/engine"
	"github.com/spf13/cobra"
)

func newHistoryCommand() *cobra.Command {
	var hosts []string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show drift history",
		Long: `Show the recorded drift history of hosts, oldest first.

Entries older than the configured retention are pruned by each drift run.`,
		Example: `  # Show the drift history of one host
  policyforge history --target web-01

  # Show history as JSON
  policyforge history -t web-01 -t web-02 -o json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(hosts) == 0 {
				return fmt.Errorf("no target hosts: use --target")
			}
			return run(cmd.Context(), false, func(ctx context.Context, a *app) error {
				history := make(map[string][]engine.HistoryEntry, len(hosts))
				for _, host := range hosts {
					entries, err := a.history.List(ctx, host)
					if err != nil {
						return err
					}
					history[host] = entries
				}

				return emit(cmd.OutOrStdout(), history, func(w io.Writer) {
					for _, host := range hosts {
						printHistory(w, host, history[host])
					}
				})
			})
		},
	}

	cmd.Flags().StringSliceVarP(&hosts, "target", "t", nil, "target hosts")

	return cmd
}
