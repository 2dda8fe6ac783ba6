package cluster

import (
	"fmt"
	"regexp"
	"time"

	"github.com/atmo/atmo/internal/aws"
)

const (
	// DefaultLifetime is how long a cluster lives before it expires.
	DefaultLifetime = 24 * time.Hour
	// ExpiringWindow is how close to its end date a cluster counts as expiring soon.
	ExpiringWindow = time.Hour
)

var identifierPattern = regexp.MustCompile(`^[a-z0-9-]{1,100}$`)

// Cluster is an EMR cluster tracked by atmo.
type Cluster struct {
	ID         string `json:"id" bson:"_id"`
	Identifier string `json:"identifier" bson:"identifier"` // not unique
	Size       int    `json:"size" bson:"size"`
	Release    string `json:"emr_release" bson:"emr_release"`
	OwnerEmail string `json:"owner_email" bson:"owner_email"`
	PublicKey  string `json:"-" bson:"public_key"`

	Status             Status            `json:"most_recent_status" bson:"most_recent_status"`
	StateChangeReason  StateChangeReason `json:"state_change_reason,omitempty" bson:"state_change_reason"`
	StateChangeMessage string            `json:"state_change_message,omitempty" bson:"state_change_message"`
	MasterAddress      string            `json:"master_address" bson:"master_address"`
	JobFlowID          string            `json:"jobflow_id,omitempty" bson:"jobflow_id"`
	Launching          bool              `json:"-" bson:"launching"`
	StartDate          time.Time         `json:"start_date" bson:"start_date"`
	EndDate            time.Time         `json:"end_date" bson:"end_date"`
	CreatedAt          time.Time         `json:"created_at" bson:"created_at"`
	ModifiedAt         time.Time         `json:"modified_at" bson:"modified_at"`
}

func (c *Cluster) String() string {
	return fmt.Sprintf("<Cluster %s of size %d>", c.Identifier, c.Size)
}

func (c *Cluster) IsActive() bool      { return c.Status.IsActive() }
func (c *Cluster) IsTerminated() bool  { return c.Status.IsTerminated() }
func (c *Cluster) IsFailed() bool      { return c.Status.IsFailed() }
func (c *Cluster) IsTerminating() bool { return c.Status.IsTerminating() }
func (c *Cluster) IsReady() bool       { return c.Status.IsReady() }

// IsExpiringSoon reports whether the cluster ends within the next hour.
func (c *Cluster) IsExpiringSoon(now time.Time) bool {
	return IsExpiringSoon(c.EndDate, now)
}

// IsExpiringSoon reports whether end falls no later than one hour after now.
func IsExpiringSoon(end, now time.Time) bool {
	return !end.After(now.Add(ExpiringWindow))
}

// ApplyDefaults fills the start and end dates on first persistence. Dates
// already set are never overwritten.
func (c *Cluster) ApplyDefaults(now time.Time, lifetime time.Duration) {
	if lifetime <= 0 {
		lifetime = DefaultLifetime
	}
	if c.StartDate.IsZero() {
		c.StartDate = now
	}
	if c.EndDate.IsZero() {
		c.EndDate = c.StartDate.Add(lifetime)
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
}

// ApplyInfo mirrors a provisioner snapshot onto the cluster. A missing master
// address becomes the empty string. Unknown states leave the cluster untouched.
func (c *Cluster) ApplyInfo(info *aws.ClusterInfo) error {
	if info == nil {
		return fmt.Errorf("applying cluster info: %w: empty snapshot", ErrUnknownStatus)
	}
	status, err := ParseStatus(info.State)
	if err != nil {
		return err
	}
	c.Status = status
	c.MasterAddress = ""
	if info.PublicDNS != nil {
		c.MasterAddress = *info.PublicDNS
	}
	c.StateChangeReason = StateChangeReason(info.StateChangeReasonCode)
	c.StateChangeMessage = info.StateChangeReasonMessage
	return nil
}

// Validate checks the user-supplied fields of a cluster about to be created.
func (c *Cluster) Validate(maxSize int) error {
	if !identifierPattern.MatchString(c.Identifier) {
		return fmt.Errorf("%w: identifier %q must match %s", ErrInvalidCluster, c.Identifier, identifierPattern)
	}
	if c.Size < 1 {
		return fmt.Errorf("%w: size must be at least 1", ErrInvalidCluster)
	}
	if maxSize > 0 && c.Size > maxSize {
		return fmt.Errorf("%w: size %d exceeds the maximum of %d", ErrInvalidCluster, c.Size, maxSize)
	}
	if c.OwnerEmail == "" {
		return fmt.Errorf("%w: owner email is required", ErrInvalidCluster)
	}
	if c.PublicKey == "" {
		return fmt.Errorf("%w: public key is required", ErrInvalidCluster)
	}
	return nil
}
