package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/atmo/atmo/internal/tui"
)

var terminateCmd = &cobra.Command{
	Use:   "terminate <cluster-id>",
	Short: "Terminate an active cluster",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
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
		if !c.IsActive() {
			fmt.Printf("%s is not active (%s), nothing to do.\n", c, tui.RenderStatus(c.Status))
			return nil
		}
		if err := a.lifecycle.Terminate(ctx, c); err != nil {
			return fmt.Errorf("terminating %s: %w", c.ID, err)
		}
		a.logger.Info("cluster terminated", "id", c.ID, "identifier", c.Identifier, "status", c.Status)
		fmt.Printf("%s is now %s\n", c, tui.RenderStatus(c.Status))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(terminateCmd)
}
