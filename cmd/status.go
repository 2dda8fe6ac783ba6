package cmd

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/atmo/atmo/internal/cluster"
	"github.com/atmo/atmo/internal/tui"
)

var statusCmd = &cobra.Command{
	Use:   "status <cluster-id>",
	Short: "Show a stored cluster",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close(context.Background())

		c, err := a.lifecycle.Get(ctx, args[0])
		if err != nil {
			return err
		}
		tui.RenderCluster(os.Stdout, c, a.lifecycle.Now())
		return nil
	},
}

var listAll bool

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List clusters",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close(context.Background())

		var statuses []cluster.Status
		if !listAll {
			statuses = cluster.ActiveStatuses
		}
		cs, err := a.store.ListClusters(ctx, statuses...)
		if err != nil {
			return err
		}
		tui.RenderClusters(os.Stdout, cs, a.lifecycle.Now())
		return nil
	},
}

func init() {
	listCmd.Flags().BoolVar(&listAll, "all", false, "include terminated and failed clusters")
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(listCmd)
}
