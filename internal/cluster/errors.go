package cluster

import (
	"errors"
	"fmt"
)

var (
	// ErrProvisionerUnavailable marks any failed call to the provisioner.
	ErrProvisionerUnavailable = errors.New("provisioner unavailable")
	ErrNotFound               = errors.New("cluster not found")
	ErrNotLaunched            = errors.New("cluster has no job flow")
	ErrLaunchInProgress       = errors.New("cluster launch already in progress")
	ErrUnknownStatus          = errors.New("unknown cluster status")
	ErrInvalidCluster         = errors.New("invalid cluster")
)

// ProvisionerError wraps a provisioner failure. It matches
// ErrProvisionerUnavailable and unwraps to the underlying error.
type ProvisionerError struct {
	Op  string
	Err error
}

func (e *ProvisionerError) Error() string {
	return fmt.Sprintf("provisioner %s: %v", e.Op, e.Err)
}

func (e *ProvisionerError) Unwrap() error { return e.Err }

func (e *ProvisionerError) Is(target error) bool {
	return target == ErrProvisionerUnavailable
}
