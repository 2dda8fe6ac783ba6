package aws

import (
	"context"
	"time"
)

// Provisioner manages the EMR cluster lifecycle on the cloud side.
type Provisioner interface {
	Start(ctx context.Context, req StartRequest) (string, error)
	Stop(ctx context.Context, jobFlowID string) error
	Info(ctx context.Context, jobFlowID string) (*ClusterInfo, error)
	List(ctx context.Context, createdAfter time.Time) ([]ClusterSummary, error)
}

// StartRequest describes the cluster to create.
type StartRequest struct {
	OwnerEmail string `yaml:"owner_email"`
	Identifier string `yaml:"identifier"`
	Release    string `yaml:"release"` // e.g. "5.3.0", without the "emr-" prefix
	Size       int    `yaml:"size"`
	PublicKey  string `yaml:"public_key"`
}

// ClusterInfo is a snapshot of a single cluster as reported by EMR.
type ClusterInfo struct {
	State                    string    `yaml:"state"`
	PublicDNS                *string   `yaml:"public_dns,omitempty"` // nil until the master is up
	StartTime                time.Time `yaml:"start_time"`
	StateChangeReasonCode    string    `yaml:"state_change_reason_code,omitempty"`
	StateChangeReasonMessage string    `yaml:"state_change_reason_message,omitempty"`
}

// ClusterSummary is one entry of a cluster listing.
type ClusterSummary struct {
	JobFlowID                string    `yaml:"jobflow_id"`
	State                    string    `yaml:"state"`
	StartTime                time.Time `yaml:"start_time"`
	StateChangeReasonCode    string    `yaml:"state_change_reason_code,omitempty"`
	StateChangeReasonMessage string    `yaml:"state_change_reason_message,omitempty"`
}

// JobRunner starts job flows that run a single notebook and shut down once
// the notebook step finishes.
type JobRunner interface {
	Run(ctx context.Context, req RunRequest) (string, error)
}

// RunRequest describes one scheduled run of a Spark job.
type RunRequest struct {
	OwnerEmail  string        `yaml:"owner_email"`
	Identifier  string        `yaml:"identifier"`
	Release     string        `yaml:"release"`
	Size        int           `yaml:"size"`
	NotebookKey string        `yaml:"notebook_key"`
	Public      bool          `yaml:"public"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Notebooks stores Spark job notebooks and lists what their runs produced.
type Notebooks interface {
	Add(ctx context.Context, identifier, filename string, body []byte) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Remove(ctx context.Context, key string) error
	Results(ctx context.Context, identifier string, public bool) (*JobResults, error)
}

// JobResults groups the objects a job wrote, by kind.
type JobResults struct {
	Data []string `yaml:"data" json:"data"`
	Logs []string `yaml:"logs" json:"logs"`
}

var (
	_ Provisioner = (*EMRProvisioner)(nil)
	_ JobRunner   = (*EMRProvisioner)(nil)
	_ Provisioner = (*MockProvisioner)(nil)
	_ JobRunner   = (*MockProvisioner)(nil)
	_ Notebooks   = (*S3Notebooks)(nil)
	_ Notebooks   = (*MockNotebooks)(nil)
)
