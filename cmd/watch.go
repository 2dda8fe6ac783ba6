package cmd

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/atmo/atmo/internal/cluster"
	"github.com/atmo/atmo/internal/tui"
)

var watchInterval time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch <cluster-id>",
	Short: "Poll a cluster until it is ready or terminated",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close(context.Background())
		return runWatch(a, args[0], watchInterval)
	},
}

func runWatch(a *app, id string, interval time.Duration) error {
	refresh := func(ctx context.Context) (*cluster.Cluster, error) {
		ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		c, err := a.lifecycle.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := a.lifecycle.Refresh(ctx, c); err != nil {
			return c, err
		}
		return c, nil
	}

	final, err := tea.NewProgram(tui.NewWatchModel(refresh, interval)).Run()
	if err != nil {
		return fmt.Errorf("running watch: %w", err)
	}
	m := final.(tui.WatchModel)
	if c := m.Cluster(); c != nil && c.IsFailed() {
		return fmt.Errorf("cluster %s failed: %s %s", c.ID, c.StateChangeReason, c.StateChangeMessage)
	}
	return nil
}

func init() {
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 15*time.Second, "poll interval")
	rootCmd.AddCommand(watchCmd)
}
