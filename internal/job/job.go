// Package job schedules Spark notebooks to run periodically on their own
// short-lived EMR job flows.
package job

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/atmo/atmo/internal/aws"
	"github.com/atmo/atmo/internal/cluster"
)

// Run intervals, in hours.
const (
	IntervalDaily   = 24
	IntervalWeekly  = IntervalDaily * 7
	IntervalMonthly = IntervalDaily * 30
)

// MaxTimeoutHours is the longest a single run may take.
const MaxTimeoutHours = 24

// Visibility decides which data bucket receives a job's results.
type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityPublic  Visibility = "public"
)

var identifierPattern = regexp.MustCompile(`^[a-z0-9-]{1,100}$`)

// Job is a notebook scheduled to run every IntervalHours between StartDate
// and EndDate.
type Job struct {
	ID            string     `json:"id" bson:"_id"`
	Identifier    string     `json:"identifier" bson:"identifier"` // unique
	Description   string     `json:"description" bson:"description"`
	NotebookKey   string     `json:"notebook_s3_key" bson:"notebook_s3_key"`
	Visibility    Visibility `json:"result_visibility" bson:"result_visibility"`
	Size          int        `json:"size" bson:"size"`
	IntervalHours int        `json:"interval_in_hours" bson:"interval_in_hours"`
	TimeoutHours  int        `json:"job_timeout" bson:"job_timeout"`
	StartDate     time.Time  `json:"start_date" bson:"start_date"`
	EndDate       *time.Time `json:"end_date,omitempty" bson:"end_date"`
	Enabled       bool       `json:"is_enabled" bson:"is_enabled"`
	Release       string     `json:"emr_release" bson:"emr_release"`
	CreatedBy     string     `json:"created_by" bson:"created_by"`
	CreatedAt     time.Time  `json:"created_at" bson:"created_at"`
	ModifiedAt    time.Time  `json:"modified_at" bson:"modified_at"`
}

func (j *Job) String() string {
	return fmt.Sprintf("<SparkJob %s with %d nodes>", j.Identifier, j.Size)
}

// IsPublic reports whether results go to the public data bucket.
func (j *Job) IsPublic() bool { return j.Visibility == VisibilityPublic }

// NotebookName is the file name part of the notebook key.
func (j *Job) NotebookName() string {
	return j.NotebookKey[strings.LastIndex(j.NotebookKey, "/")+1:]
}

// Timeout is the longest a run may take before it counts as expired.
func (j *Job) Timeout() time.Duration {
	return time.Duration(j.TimeoutHours) * time.Hour
}

// HasNeverRun reports whether the job was never scheduled, or its latest run
// never got a status.
func (j *Job) HasNeverRun(latest *Run) bool {
	return latest == nil || latest.Status == cluster.StatusUnset || latest.ScheduledDate == nil
}

// HasFinished reports whether the latest run's job flow is terminated or failed.
func (j *Job) HasFinished(latest *Run) bool {
	return latest != nil && latest.Status.IsFinal()
}

// IsRunnable reports whether no run is in flight.
func (j *Job) IsRunnable(latest *Run) bool {
	return j.HasNeverRun(latest) || j.HasFinished(latest)
}

// IsExpired reports whether the latest run is still going past its timeout.
func (j *Job) IsExpired(latest *Run, now time.Time) bool {
	if j.HasNeverRun(latest) {
		return false
	}
	deadline := latest.ScheduledDate.Add(j.Timeout())
	return !j.IsRunnable(latest) && !now.Before(deadline)
}

// IsDue reports whether at least IntervalHours full hours passed since the
// latest run was scheduled. A job that was never scheduled is always due.
func (j *Job) IsDue(latest *Run, now time.Time) bool {
	if latest == nil || latest.ScheduledDate == nil {
		return true
	}
	hours := int(now.Sub(*latest.ScheduledDate) / time.Hour)
	return hours >= j.IntervalHours
}

// ShouldRun reports whether the scheduler should start a new run now.
func (j *Job) ShouldRun(latest *Run, now time.Time) bool {
	if !j.IsRunnable(latest) {
		return false
	}
	active := !j.StartDate.After(now)
	if j.EndDate != nil {
		active = active && !j.EndDate.Before(now)
	}
	return j.Enabled && active && j.IsDue(latest, now)
}

// Validate checks the user-supplied fields of a job about to be saved.
func (j *Job) Validate(maxSize int) error {
	if !identifierPattern.MatchString(j.Identifier) {
		return fmt.Errorf("%w: identifier %q must match %s", ErrInvalidJob, j.Identifier, identifierPattern)
	}
	if j.Size < 1 {
		return fmt.Errorf("%w: size must be at least 1", ErrInvalidJob)
	}
	if maxSize > 0 && j.Size > maxSize {
		return fmt.Errorf("%w: size %d exceeds the maximum of %d", ErrInvalidJob, j.Size, maxSize)
	}
	switch j.IntervalHours {
	case IntervalDaily, IntervalWeekly, IntervalMonthly:
	default:
		return fmt.Errorf("%w: interval must be %d, %d or %d hours", ErrInvalidJob, IntervalDaily, IntervalWeekly, IntervalMonthly)
	}
	if j.TimeoutHours < 1 || j.TimeoutHours > MaxTimeoutHours {
		return fmt.Errorf("%w: timeout must be between 1 and %d hours", ErrInvalidJob, MaxTimeoutHours)
	}
	if j.Visibility != VisibilityPrivate && j.Visibility != VisibilityPublic {
		return fmt.Errorf("%w: result visibility must be %q or %q", ErrInvalidJob, VisibilityPrivate, VisibilityPublic)
	}
	if j.EndDate != nil && j.EndDate.Before(j.StartDate) {
		return fmt.Errorf("%w: end date is before the start date", ErrInvalidJob)
	}
	if j.CreatedBy == "" {
		return fmt.Errorf("%w: owner email is required", ErrInvalidJob)
	}
	return nil
}

// Run is one execution of a job on its own job flow.
type Run struct {
	ID             string         `json:"id" bson:"_id"`
	JobID          string         `json:"job_id" bson:"job_id"`
	JobFlowID      string         `json:"jobflow_id" bson:"jobflow_id"`
	Release        string         `json:"emr_release_version" bson:"emr_release_version"`
	Status         cluster.Status `json:"status" bson:"status"`
	ScheduledDate  *time.Time     `json:"scheduled_date,omitempty" bson:"scheduled_date"`
	RunDate        *time.Time     `json:"run_date,omitempty" bson:"run_date"`
	TerminatedDate *time.Time     `json:"terminated_date,omitempty" bson:"terminated_date"`
	CreatedAt      time.Time      `json:"created_at" bson:"created_at"`
	ModifiedAt     time.Time      `json:"modified_at" bson:"modified_at"`
}

// ApplyState records a newly observed job flow state and reports whether it
// changed. The run date is set on RUNNING and the terminated date on a final
// state. A run that terminated with errors yields an alert.
func (r *Run) ApplyState(state, reasonCode, reasonMessage string, now time.Time) (changed bool, alert *Alert, err error) {
	status, err := cluster.ParseStatus(state)
	if err != nil {
		return false, nil, err
	}
	if status == r.Status {
		return false, nil, nil
	}
	r.Status = status
	switch {
	case status == cluster.StatusRunning:
		r.RunDate = &now
	case status.IsFinal():
		r.TerminatedDate = &now
		if status == cluster.StatusTerminatedWithErrors {
			alert = &Alert{
				RunID:         r.ID,
				ReasonCode:    cluster.StateChangeReason(reasonCode),
				ReasonMessage: reasonMessage,
				CreatedAt:     now,
			}
		}
	}
	return true, alert, nil
}

// ApplyInfo is ApplyState for a single job flow snapshot.
func (r *Run) ApplyInfo(info *aws.ClusterInfo, now time.Time) (bool, *Alert, error) {
	if info == nil {
		return false, nil, fmt.Errorf("applying run info: %w: empty snapshot", cluster.ErrUnknownStatus)
	}
	return r.ApplyState(info.State, info.StateChangeReasonCode, info.StateChangeReasonMessage, now)
}

// Alert records a failed run for later notification of the job owner.
type Alert struct {
	RunID         string                    `json:"run_id" bson:"_id"`
	ReasonCode    cluster.StateChangeReason `json:"reason_code" bson:"reason_code"`
	ReasonMessage string                    `json:"reason_message" bson:"reason_message"`
	MailSentDate  *time.Time                `json:"mail_sent_date,omitempty" bson:"mail_sent_date"`
	CreatedAt     time.Time                 `json:"created_at" bson:"created_at"`
}
