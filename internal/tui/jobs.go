package tui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/atmo/atmo/internal/aws"
	"github.com/atmo/atmo/internal/cluster"
	"github.com/atmo/atmo/internal/job"
)

// JobRow is a job with its latest run, if any.
type JobRow struct {
	Job    *job.Job
	Latest *job.Run
}

// RenderJobs writes one line per Spark job.
func RenderJobs(w io.Writer, rows []JobRow, now time.Time) {
	if len(rows) == 0 {
		fmt.Fprintln(w, dimStyle.Render("No Spark jobs."))
		return
	}
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("%-24s  %4s  %-8s  %-8s  %-22s  %s",
		"IDENTIFIER", "SIZE", "RELEASE", "EVERY", "LAST RUN", "NEXT")))
	for _, r := range rows {
		var status cluster.Status
		if r.Latest != nil {
			status = r.Latest.Status
		}
		pad := strings.Repeat(" ", max(0, 22-len(orDash(string(status)))))
		fmt.Fprintf(w, "%-24s  %4d  %-8s  %-8s  %s%s  %s\n",
			r.Job.Identifier, r.Job.Size, r.Job.Release, intervalName(r.Job.IntervalHours),
			RenderStatus(status), pad, nextRun(r.Job, r.Latest, now))
	}
}

// RenderJob writes the details of a single job and its recent runs.
func RenderJob(w io.Writer, j *job.Job, runs []*job.Run, now time.Time) {
	fmt.Fprintln(w, titleStyle.Render(j.String()))
	fmt.Fprintln(w)
	row := func(label, value string) {
		fmt.Fprintf(w, "  %-16s %s\n", label+":", value)
	}
	row("ID", j.ID)
	row("Owner", j.CreatedBy)
	if j.Description != "" {
		row("Description", j.Description)
	}
	row("Notebook", j.NotebookName())
	row("Results", string(j.Visibility))
	row("EMR release", j.Release)
	row("Runs every", intervalName(j.IntervalHours))
	row("Timeout", fmt.Sprintf("%dh", j.TimeoutHours))
	row("Starts", j.StartDate.Format(timeLayout))
	if j.EndDate != nil {
		row("Ends", j.EndDate.Format(timeLayout))
	}
	var latest *job.Run
	if len(runs) > 0 {
		latest = runs[0]
	}
	row("Next run", nextRun(j, latest, now))

	fmt.Fprintln(w)
	fmt.Fprintln(w, headerStyle.Render("Runs"))
	if len(runs) == 0 {
		fmt.Fprintln(w, dimStyle.Render("  none"))
		return
	}
	for _, r := range runs {
		fmt.Fprintf(w, "  %-16s  %-16s  %s\n",
			formatOptional(r.ScheduledDate), orDash(r.JobFlowID), RenderStatus(r.Status))
	}
}

// RenderResults writes the data and log files of a job.
func RenderResults(w io.Writer, res *aws.JobResults) {
	section := func(title string, keys []string) {
		fmt.Fprintln(w, headerStyle.Render(title))
		if len(keys) == 0 {
			fmt.Fprintln(w, dimStyle.Render("  none"))
		}
		for _, k := range keys {
			fmt.Fprintln(w, "  "+k)
		}
	}
	section("Data", res.Data)
	section("Logs", res.Logs)
}

// RenderAlerts writes one line per failed run.
func RenderAlerts(w io.Writer, alerts []*job.Alert) {
	if len(alerts) == 0 {
		fmt.Fprintln(w, dimStyle.Render("No run alerts."))
		return
	}
	for _, a := range alerts {
		fmt.Fprintf(w, "%s  %-36s  %s  %s\n",
			a.CreatedAt.Format(timeLayout), a.RunID, errStyle.Render(string(a.ReasonCode)), a.ReasonMessage)
	}
}

func nextRun(j *job.Job, latest *job.Run, now time.Time) string {
	switch {
	case !j.Enabled:
		return dimStyle.Render("disabled")
	case j.EndDate != nil && j.EndDate.Before(now):
		return dimStyle.Render("ended")
	case !j.IsRunnable(latest):
		if j.IsExpired(latest, now) {
			return warnStyle.Render("running (timed out)")
		}
		return "running"
	case j.ShouldRun(latest, now):
		return "due"
	case j.StartDate.After(now):
		return j.StartDate.Format(timeLayout)
	case latest != nil && latest.ScheduledDate != nil:
		return latest.ScheduledDate.Add(time.Duration(j.IntervalHours) * time.Hour).Format(timeLayout)
	}
	return "-"
}

func intervalName(hours int) string {
	switch hours {
	case job.IntervalDaily:
		return "day"
	case job.IntervalWeekly:
		return "week"
	case job.IntervalMonthly:
		return "month"
	}
	return fmt.Sprintf("%dh", hours)
}

func formatOptional(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format("2006-01-02 15:04")
}
