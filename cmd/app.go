package cmd

import (
	"context"
	"fmt"
	"log/slog"

	awspkg "github.com/atmo/atmo/internal/aws"
	"github.com/atmo/atmo/internal/cluster"
	"github.com/atmo/atmo/internal/config"
	"github.com/atmo/atmo/internal/job"
	"github.com/atmo/atmo/internal/logging"
	"github.com/atmo/atmo/internal/release"
	"github.com/atmo/atmo/internal/store"
)

// app holds the wired dependencies shared by the cluster and job commands.
type app struct {
	cfg         *config.Config
	logger      *slog.Logger
	store       store.Store
	provisioner awspkg.Provisioner
	catalog     *release.Catalog
	lifecycle   *cluster.Lifecycle
	scheduler   *job.Scheduler
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logger, err := logging.Setup(cfg.Logging.Level, cfg.Logging.Directory)
	if err != nil {
		return nil, fmt.Errorf("setting up logging: %w", err)
	}

	st, err := store.Open(ctx, cfg.Store.Type, cfg.Store.DSN, cfg.Store.Database)
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", cfg.Store.Type, err)
	}

	settings := emrSettings(cfg)
	prov, err := awspkg.NewEMRProvisioner(ctx, cfg.AWS.Profile, settings)
	if err != nil {
		_ = st.Close(ctx)
		return nil, fmt.Errorf("creating EMR provisioner: %w", err)
	}
	notebooks, err := awspkg.NewS3Notebooks(ctx, cfg.AWS.Profile, settings)
	if err != nil {
		_ = st.Close(ctx)
		return nil, fmt.Errorf("creating notebook store: %w", err)
	}

	// A memory store starts empty on every run, so it always gets the
	// configured catalog. Persistent stores are seeded by `atmo releases sync`.
	catalog := release.NewCatalog(st)
	if cfg.Store.Type == "memory" && len(cfg.Releases) > 0 {
		if err := catalog.Sync(ctx, cfg.Releases); err != nil {
			_ = st.Close(ctx)
			return nil, fmt.Errorf("seeding release catalog: %w", err)
		}
	}

	lc := cluster.NewLifecycle(st, prov, catalog,
		cluster.WithLifetime(cfg.Clusters.Lifetime),
		cluster.WithMaxSize(cfg.AWS.MaxClusterSize),
	)
	sched := job.NewScheduler(st, prov, prov, notebooks, catalog,
		job.WithMaxSize(cfg.AWS.MaxClusterSize),
		job.WithLogger(logger),
	)

	logger.Debug("atmo initialized", "store", cfg.Store.Type, "region", cfg.AWS.Region)
	return &app{
		cfg:         cfg,
		logger:      logger,
		store:       st,
		provisioner: prov,
		catalog:     catalog,
		lifecycle:   lc,
		scheduler:   sched,
	}, nil
}

func (a *app) close(ctx context.Context) {
	if err := a.store.Close(ctx); err != nil {
		a.logger.Warn("closing store", "error", err)
	}
}

func emrSettings(cfg *config.Config) awspkg.EMRSettings {
	return awspkg.EMRSettings{
		Region:             cfg.AWS.Region,
		EC2KeyName:         cfg.AWS.EC2KeyName,
		MasterInstanceType: cfg.AWS.MasterInstanceType,
		WorkerInstanceType: cfg.AWS.WorkerInstanceType,
		InstanceProfile:    cfg.AWS.InstanceProfile,
		ServiceRole:        cfg.AWS.ServiceRole,
		LogBucket:          cfg.AWS.LogBucket,
		SparkEMRBucket:     cfg.AWS.SparkEMRBucket,
		InstanceAppTag:     cfg.AWS.InstanceAppTag,
		AccountingAppTag:   cfg.AWS.AccountingAppTag,
		AccountingTypeTag:  cfg.AWS.AccountingTypeTag,
		UseSpotInstances:   cfg.AWS.UseSpotInstances,
		SpotBidCore:        cfg.AWS.SpotBidCore,
		EFSDNS:             cfg.AWS.EFSDNS,
		CodeBucket:         cfg.AWS.CodeBucket,
		PublicDataBucket:   cfg.AWS.PublicDataBucket,
		PrivateDataBucket:  cfg.AWS.PrivateDataBucket,
		Configurations:     cfg.AWS.EMRConfigurations,
		ConfigurationsKey:  cfg.AWS.EMRConfigurationsKey,
	}
}
