package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/atmo/atmo/internal/sweep"
)

var sweepWatch bool

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Sync cluster state from EMR, terminate expired clusters and run due Spark jobs",
	Long: `Run one maintenance pass over the active clusters and scheduled Spark jobs,
or keep running with --watch at the configured sweep interval. Only one
sweeper may run at a time.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close(context.Background())

		s := sweep.New(a.lifecycle, a.provisioner, a.logger,
			sweep.WithExpiringWindow(a.cfg.Clusters.ExpiringWindow),
			sweep.WithJobs(a.scheduler))

		if !sweepWatch {
			return s.OnceLocked(ctx, a.cfg.Clusters.LockFile)
		}
		err = s.Run(ctx, a.cfg.Clusters.SweepInterval, a.cfg.Clusters.LockFile)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func init() {
	sweepCmd.Flags().BoolVar(&sweepWatch, "watch", false, "keep sweeping until interrupted")
	rootCmd.AddCommand(sweepCmd)
}
