package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/atmo/atmo/internal/aws"
	"github.com/atmo/atmo/internal/release"
)

const (
	CurrentVersion = 1
	DefaultPath    = "~/.atmo/atmo.yaml"
)

// Config is the top-level configuration.
type Config struct {
	Version  int               `yaml:"version"`
	Store    StoreConfig       `yaml:"store"`
	AWS      AWSConfig         `yaml:"aws"`
	Clusters ClusterConfig     `yaml:"clusters,omitempty"`
	Releases []release.Release `yaml:"releases,omitempty"`
	Logging  LogConfig         `yaml:"logging,omitempty"`
}

// StoreConfig selects where clusters and releases are persisted.
type StoreConfig struct {
	Type     string `yaml:"type"` // postgres, mongodb or memory
	DSN      string `yaml:"dsn,omitempty"`
	Database string `yaml:"database,omitempty"` // mongodb only
}

// AWSConfig holds the EMR provisioning settings.
type AWSConfig struct {
	Region             string  `yaml:"region,omitempty"`
	Profile            string  `yaml:"profile,omitempty"`
	EC2KeyName         string  `yaml:"ec2_key_name,omitempty"`
	MasterInstanceType string  `yaml:"master_instance_type,omitempty"`
	WorkerInstanceType string  `yaml:"worker_instance_type,omitempty"`
	InstanceProfile    string  `yaml:"instance_profile,omitempty"`
	ServiceRole        string  `yaml:"service_role,omitempty"`
	LogBucket          string  `yaml:"log_bucket,omitempty"`
	SparkEMRBucket     string  `yaml:"spark_emr_bucket,omitempty"`
	InstanceAppTag     string  `yaml:"instance_app_tag,omitempty"`
	AccountingAppTag   string  `yaml:"accounting_app_tag,omitempty"`
	AccountingTypeTag  string  `yaml:"accounting_type_tag,omitempty"`
	UseSpotInstances   bool    `yaml:"use_spot_instances,omitempty"`
	SpotBidCore        float64 `yaml:"spot_bid_core,omitempty"`
	EFSDNS             string  `yaml:"efs_dns,omitempty"`
	MaxClusterSize     int     `yaml:"max_cluster_size,omitempty"`

	// Spark jobs
	CodeBucket        string `yaml:"code_bucket,omitempty"`
	PublicDataBucket  string `yaml:"public_data_bucket,omitempty"`
	PrivateDataBucket string `yaml:"private_data_bucket,omitempty"`

	// EMRConfigurations is sent with every job flow. When empty, the list is
	// read from EMRConfigurationsKey in the Spark EMR bucket, if set.
	EMRConfigurations    []aws.Configuration `yaml:"emr_configurations,omitempty"`
	EMRConfigurationsKey string              `yaml:"emr_configurations_key,omitempty"`
}

// ClusterConfig holds lifecycle timings.
type ClusterConfig struct {
	Lifetime       time.Duration `yaml:"lifetime,omitempty"`
	ExpiringWindow time.Duration `yaml:"expiring_window,omitempty"`
	SweepInterval  time.Duration `yaml:"sweep_interval,omitempty"`
	LockFile       string        `yaml:"lock_file,omitempty"`
}

// LogConfig defines logging settings.
type LogConfig struct {
	Level     string `yaml:"level,omitempty"`     // debug, info, warn, error
	Directory string `yaml:"directory,omitempty"` // default ~/.atmo/logs/
}

// Load reads and parses the config file from the given path.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ExpandHome(DefaultPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.Version != CurrentVersion {
		return nil, fmt.Errorf("unsupported config version %d (expected %d)", cfg.Version, CurrentVersion)
	}

	if err := cfg.resolveSecrets(); err != nil {
		return nil, fmt.Errorf("resolving secrets: %w", err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

// Default returns a config with every default applied, as written by
// `atmo config init`.
func Default() *Config {
	c := &Config{Version: CurrentVersion}
	c.applyDefaults()
	return c
}

// Save writes the config to the given path.
func (c *Config) Save(path string) error {
	if path == "" {
		path = ExpandHome(DefaultPath)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

func (c *Config) applyDefaults() {
	if c.Store.Type == "" {
		c.Store.Type = "memory"
	}
	if c.Store.Type == "mongodb" && c.Store.Database == "" {
		c.Store.Database = "atmo"
	}
	if c.AWS.Region == "" {
		c.AWS.Region = "us-west-2"
	}
	if c.AWS.MasterInstanceType == "" {
		c.AWS.MasterInstanceType = "c3.4xlarge"
	}
	if c.AWS.WorkerInstanceType == "" {
		c.AWS.WorkerInstanceType = c.AWS.MasterInstanceType
	}
	if c.AWS.InstanceProfile == "" {
		c.AWS.InstanceProfile = "telemetry-spark-cloudformation-TelemetrySparkInstanceProfile-1SATUBVEXG7E3"
	}
	if c.AWS.ServiceRole == "" {
		c.AWS.ServiceRole = "EMR_DefaultRole"
	}
	if c.AWS.InstanceAppTag == "" {
		c.AWS.InstanceAppTag = "telemetry-analysis-worker-instance"
	}
	if c.AWS.AccountingAppTag == "" {
		c.AWS.AccountingAppTag = "telemetry-analysis"
	}
	if c.AWS.AccountingTypeTag == "" {
		c.AWS.AccountingTypeTag = "worker"
	}
	if c.AWS.SpotBidCore == 0 {
		c.AWS.SpotBidCore = 0.84
	}
	if c.AWS.MaxClusterSize == 0 {
		c.AWS.MaxClusterSize = 30
	}
	if c.AWS.CodeBucket == "" {
		c.AWS.CodeBucket = "telemetry-analysis-code-2"
	}
	if c.AWS.PublicDataBucket == "" {
		c.AWS.PublicDataBucket = "telemetry-public-analysis-2"
	}
	if c.AWS.PrivateDataBucket == "" {
		c.AWS.PrivateDataBucket = "telemetry-private-analysis-2"
	}
	if c.Clusters.Lifetime == 0 {
		c.Clusters.Lifetime = 24 * time.Hour
	}
	if c.Clusters.ExpiringWindow == 0 {
		c.Clusters.ExpiringWindow = time.Hour
	}
	if c.Clusters.SweepInterval == 0 {
		c.Clusters.SweepInterval = 10 * time.Minute
	}
	if c.Clusters.LockFile == "" {
		c.Clusters.LockFile = ExpandHome("~/.atmo/sweep.lock")
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Directory == "" {
		c.Logging.Directory = ExpandHome("~/.atmo/logs/")
	}
}

// Validate reports every problem with a loaded config. An empty result
// means the config is usable.
func (c *Config) Validate() []string {
	var problems []string

	switch c.Store.Type {
	case "memory":
	case "postgres", "postgresql", "mongodb", "mongo":
		if c.Store.DSN == "" {
			problems = append(problems, fmt.Sprintf("store.dsn is required for store type %s", c.Store.Type))
		}
	default:
		problems = append(problems, fmt.Sprintf("store.type %q is not one of postgres, mongodb, memory", c.Store.Type))
	}

	if c.AWS.EC2KeyName == "" {
		problems = append(problems, "aws.ec2_key_name is required")
	}
	if c.AWS.LogBucket == "" {
		problems = append(problems, "aws.log_bucket is required")
	}
	if c.AWS.SparkEMRBucket == "" {
		problems = append(problems, "aws.spark_emr_bucket is required")
	}
	if c.AWS.MaxClusterSize < 1 {
		problems = append(problems, "aws.max_cluster_size must be at least 1")
	}
	if c.AWS.UseSpotInstances && c.AWS.SpotBidCore <= 0 {
		problems = append(problems, "aws.spot_bid_core must be positive when spot instances are enabled")
	}
	for i, conf := range c.AWS.EMRConfigurations {
		if conf.Classification == "" {
			problems = append(problems, fmt.Sprintf("aws.emr_configurations[%d] has no classification", i))
		}
	}

	if c.Clusters.Lifetime < 0 || c.Clusters.ExpiringWindow < 0 || c.Clusters.SweepInterval < 0 {
		problems = append(problems, "cluster durations must not be negative")
	}

	seen := make(map[string]bool, len(c.Releases))
	for i, r := range c.Releases {
		if r.Version == "" {
			problems = append(problems, fmt.Sprintf("releases[%d] has no version", i))
			continue
		}
		if seen[r.Version] {
			problems = append(problems, fmt.Sprintf("release %s is listed twice", r.Version))
		}
		seen[r.Version] = true
	}
	return problems
}

// Redacted returns a copy safe to print, with credentials in the store DSN
// masked.
func (c *Config) Redacted() *Config {
	cp := *c
	cp.Releases = append([]release.Release(nil), c.Releases...)
	cp.Store.DSN = maskDSN(c.Store.DSN)
	return &cp
}

var userinfoPattern = regexp.MustCompile(`://([^:/@]+):([^@]+)@`)

func maskDSN(dsn string) string {
	return userinfoPattern.ReplaceAllString(dsn, "://$1:****@")
}

var secretPattern = regexp.MustCompile(`\$\{(ENV|VAULT|AWS_SM):([^}]+)\}`)

func (c *Config) resolveSecrets() error {
	var err error
	c.Store.DSN, err = ResolveValue(c.Store.DSN)
	if err != nil {
		return fmt.Errorf("store dsn: %w", err)
	}
	return nil
}

// ResolveValue resolves secret references in a string value.
func ResolveValue(val string) (string, error) {
	matches := secretPattern.FindStringSubmatch(val)
	if matches == nil {
		return val, nil
	}

	provider := matches[1]
	ref := matches[2]

	var resolved string
	var err error
	switch provider {
	case "ENV":
		resolved = os.Getenv(ref)
		if resolved == "" {
			return "", fmt.Errorf("environment variable %s not set", ref)
		}
	case "VAULT":
		resolved, err = resolveVault(ref)
	case "AWS_SM":
		resolved, err = resolveAWSSecretsManager(context.Background(), ref)
	default:
		return "", fmt.Errorf("unknown secrets provider: %s", provider)
	}
	if err != nil {
		return "", err
	}
	// The reference may be embedded, e.g. postgres://atmo:${ENV:PW}@db/atmo.
	return strings.Replace(val, matches[0], resolved, 1), nil
}

// ExpandHome expands ~ to the user's home directory.
func ExpandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
