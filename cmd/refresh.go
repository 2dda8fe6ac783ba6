package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/atmo/atmo/internal/cluster"
	"github.com/atmo/atmo/internal/tui"
)

var refreshAll bool

var refreshCmd = &cobra.Command{
	Use:   "refresh [cluster-id...]",
	Short: "Fetch the current EMR state of clusters",
	Long: `Refresh mirrors the state EMR reports onto the stored cluster. A cluster
that was saved but never launched is launched first.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 && !refreshAll {
			return fmt.Errorf("pass cluster IDs or --all")
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
		defer cancel()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close(context.Background())

		var targets []*cluster.Cluster
		if refreshAll {
			targets, err = a.lifecycle.Active(ctx)
			if err != nil {
				return err
			}
		}
		for _, id := range args {
			c, err := a.lifecycle.Get(ctx, id)
			if err != nil {
				return err
			}
			targets = append(targets, c)
		}

		var errs []error
		for _, c := range targets {
			if err := refreshOne(ctx, a, c); err != nil {
				a.logger.Error("refreshing cluster", "id", c.ID, "error", err)
				errs = append(errs, fmt.Errorf("%s: %w", c.ID, err))
				continue
			}
			fmt.Printf("%-36s  %-24s  %s\n", c.ID, c.Identifier, tui.RenderStatus(c.Status))
		}
		return errors.Join(errs...)
	},
}

func refreshOne(ctx context.Context, a *app, c *cluster.Cluster) error {
	if c.JobFlowID == "" {
		_, err := a.lifecycle.Launch(ctx, c)
		return err
	}
	return a.lifecycle.Refresh(ctx, c)
}

func init() {
	refreshCmd.Flags().BoolVar(&refreshAll, "all", false, "refresh every active cluster")
	rootCmd.AddCommand(refreshCmd)
}
