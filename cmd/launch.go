package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/atmo/atmo/internal/cluster"
	"github.com/atmo/atmo/internal/config"
	"github.com/atmo/atmo/internal/release"
	"github.com/atmo/atmo/internal/tui"
)

var (
	launchIdentifier      string
	launchSize            int
	launchRelease         string
	launchOwner           string
	launchPublicKeyFile   string
	launchAllowDeprecated bool
	launchWait            bool
)

var launchCmd = &cobra.Command{
	Use:   "launch",
	Short: "Create and launch a new cluster",
	Long: `Create a cluster record and start it on EMR. The newest stable EMR
release is used unless --release is given. Deprecated releases are rejected
unless --allow-deprecated is set.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
		defer cancel()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close(context.Background())

		rel, err := pickRelease(ctx, a.catalog, launchRelease, launchAllowDeprecated)
		if err != nil {
			return err
		}
		fmt.Printf("Launching %s on EMR %s.\n", launchIdentifier, rel.Label())

		key, err := os.ReadFile(config.ExpandHome(launchPublicKeyFile))
		if err != nil {
			return fmt.Errorf("reading public key: %w", err)
		}

		c, err := a.lifecycle.Create(ctx, cluster.NewCluster{
			Identifier: launchIdentifier,
			Size:       launchSize,
			Release:    rel.Version,
			OwnerEmail: launchOwner,
			PublicKey:  strings.TrimSpace(string(key)),
		})
		if err != nil {
			if c != nil {
				a.logger.Error("cluster launch failed", "id", c.ID, "identifier", c.Identifier, "error", err)
				fmt.Printf("Cluster %s was saved but did not launch cleanly. Retry with `atmo refresh %s`.\n", c.ID, c.ID)
			}
			return err
		}
		a.logger.Info("cluster launched", "id", c.ID, "identifier", c.Identifier, "jobflow_id", c.JobFlowID, "release", c.Release)

		tui.RenderCluster(os.Stdout, c, a.lifecycle.Now())
		if launchWait {
			return runWatch(a, c.ID, watchInterval)
		}
		return nil
	},
}

// pickRelease resolves the requested release, or the newest stable one.
func pickRelease(ctx context.Context, catalog *release.Catalog, version string, allowDeprecated bool) (*release.Release, error) {
	if version == "" {
		return catalog.Latest(ctx)
	}
	r, err := catalog.Resolve(ctx, version)
	if err != nil {
		return nil, err
	}
	if r.Deprecated && !allowDeprecated {
		return nil, fmt.Errorf("%w: %s is deprecated (use --allow-deprecated to launch it anyway)", release.ErrInvalidRelease, r.Version)
	}
	return r, nil
}

func init() {
	launchCmd.Flags().StringVar(&launchIdentifier, "identifier", "", "cluster name (lowercase letters, digits and dashes)")
	launchCmd.Flags().IntVar(&launchSize, "size", 1, "number of worker nodes")
	launchCmd.Flags().StringVar(&launchRelease, "release", "", "EMR release version (default: newest stable)")
	launchCmd.Flags().StringVar(&launchOwner, "owner", "", "owner email address")
	launchCmd.Flags().StringVar(&launchPublicKeyFile, "public-key-file", "~/.ssh/id_rsa.pub", "SSH public key installed on the cluster")
	launchCmd.Flags().BoolVar(&launchAllowDeprecated, "allow-deprecated", false, "allow a deprecated EMR release")
	launchCmd.Flags().BoolVar(&launchWait, "wait", false, "watch the cluster until it is ready")
	_ = launchCmd.MarkFlagRequired("identifier")
	_ = launchCmd.MarkFlagRequired("owner")
	rootCmd.AddCommand(launchCmd)
}
