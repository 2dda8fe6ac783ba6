package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/atmo/atmo/internal/tui"
)

var releasesCmd = &cobra.Command{
	Use:   "releases",
	Short: "List the EMR releases clusters can be launched with",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close(context.Background())

		stable, err := a.catalog.Stable(ctx)
		if err != nil {
			return err
		}
		experimental, err := a.catalog.Experimental(ctx)
		if err != nil {
			return err
		}
		deprecated, err := a.catalog.Deprecated(ctx)
		if err != nil {
			return err
		}
		tui.RenderReleases(os.Stdout, stable, experimental, deprecated)
		return nil
	},
}

var releasesSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Write the releases from the config file to the store",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close(context.Background())

		if len(a.cfg.Releases) == 0 {
			return fmt.Errorf("no releases configured")
		}
		if err := a.catalog.Sync(ctx, a.cfg.Releases); err != nil {
			return err
		}
		a.logger.Info("release catalog synced", "count", len(a.cfg.Releases))
		fmt.Printf("Synced %d release(s).\n", len(a.cfg.Releases))
		return nil
	},
}

func init() {
	releasesCmd.AddCommand(releasesSyncCmd)
	rootCmd.AddCommand(releasesCmd)
}
