package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	awspkg "github.com/atmo/atmo/internal/aws"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify AWS credentials, EMR permissions and the log bucket",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
		defer cancel()

		client, err := awspkg.NewRealClient(ctx, cfg.AWS.Profile, cfg.AWS.Region)
		if err != nil {
			return fmt.Errorf("creating AWS client: %w", err)
		}

		fmt.Println("Checking AWS credentials and permissions...")
		pf, err := awspkg.RunPreflight(ctx, client, cfg.AWS.LogBucket)
		if err != nil {
			return err
		}

		if pf.Identity != nil {
			fmt.Printf("  Account: %s\n  ARN:     %s\n", pf.Identity.Account, pf.Identity.ARN)
		}
		fmt.Printf("  EMR:        %s\n", okOrMissing(pf.EMRAvailable))
		fmt.Printf("  Log bucket: %s\n", okOrMissing(pf.LogBucketExists))
		for _, p := range pf.Problems {
			fmt.Printf("  - %s\n", p)
		}
		if !pf.Ready() {
			return fmt.Errorf("%d preflight problem(s)", len(pf.Problems))
		}
		fmt.Println("Ready to launch clusters.")
		return nil
	},
}

func okOrMissing(ok bool) string {
	if ok {
		return "OK"
	}
	return "MISSING"
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
