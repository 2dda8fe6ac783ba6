package cluster

import "fmt"

// Status is the most recently observed EMR state of a cluster. The zero
// value means the cluster has not been launched yet.
type Status string

const (
	StatusUnset                Status = ""
	StatusStarting             Status = "STARTING"
	StatusBootstrapping        Status = "BOOTSTRAPPING"
	StatusRunning              Status = "RUNNING"
	StatusWaiting              Status = "WAITING"
	StatusTerminating          Status = "TERMINATING"
	StatusTerminated           Status = "TERMINATED"
	StatusTerminatedWithErrors Status = "TERMINATED_WITH_ERRORS"
)

// Status partitions. Active, terminated and failed are pairwise disjoint and
// together cover every known status.
var (
	ActiveStatuses = []Status{
		StatusStarting,
		StatusBootstrapping,
		StatusRunning,
		StatusWaiting,
		StatusTerminating,
	}
	ReadyStatuses      = []Status{StatusRunning, StatusWaiting}
	TerminatedStatuses = []Status{StatusTerminated}
	FailedStatuses     = []Status{StatusTerminatedWithErrors}
	FinalStatuses      = []Status{StatusTerminated, StatusTerminatedWithErrors}
)

// AllStatuses lists every known status in lifecycle order.
var AllStatuses = []Status{
	StatusStarting,
	StatusBootstrapping,
	StatusRunning,
	StatusWaiting,
	StatusTerminating,
	StatusTerminated,
	StatusTerminatedWithErrors,
}

func contains(list []Status, s Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (s Status) IsActive() bool      { return contains(ActiveStatuses, s) }
func (s Status) IsTerminated() bool  { return contains(TerminatedStatuses, s) }
func (s Status) IsFailed() bool      { return contains(FailedStatuses, s) }
func (s Status) IsFinal() bool       { return contains(FinalStatuses, s) }
func (s Status) IsReady() bool       { return contains(ReadyStatuses, s) }
func (s Status) IsTerminating() bool { return s == StatusTerminating }

// ParseStatus normalizes a raw provisioner state into a Status.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !contains(AllStatuses, s) {
		return StatusUnset, fmt.Errorf("%w: %q", ErrUnknownStatus, raw)
	}
	return s, nil
}

// StateChangeReason explains why EMR moved a cluster into its current state.
type StateChangeReason string

const (
	ReasonInternalError     StateChangeReason = "INTERNAL_ERROR"
	ReasonValidationError   StateChangeReason = "VALIDATION_ERROR"
	ReasonInstanceFailure   StateChangeReason = "INSTANCE_FAILURE"
	ReasonBootstrapFailure  StateChangeReason = "BOOTSTRAP_FAILURE"
	ReasonUserRequest       StateChangeReason = "USER_REQUEST"
	ReasonStepFailure       StateChangeReason = "STEP_FAILURE"
	ReasonAllStepsCompleted StateChangeReason = "ALL_STEPS_COMPLETED"
)

var (
	FailedReasons = []StateChangeReason{
		ReasonInternalError,
		ReasonValidationError,
		ReasonInstanceFailure,
		ReasonBootstrapFailure,
		ReasonStepFailure,
	}
	RequestedReasons = []StateChangeReason{ReasonUserRequest}
	CompletedReasons = []StateChangeReason{ReasonAllStepsCompleted}
)

func containsReason(list []StateChangeReason, r StateChangeReason) bool {
	for _, v := range list {
		if v == r {
			return true
		}
	}
	return false
}

func (r StateChangeReason) IsFailure() bool   { return containsReason(FailedReasons, r) }
func (r StateChangeReason) IsRequested() bool { return containsReason(RequestedReasons, r) }
func (r StateChangeReason) IsCompleted() bool { return containsReason(CompletedReasons, r) }
