package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/atmo/atmo/internal/config"
	"github.com/atmo/atmo/internal/job"
	"github.com/atmo/atmo/internal/tui"
)

var (
	jobNotebook        string
	jobDescription     string
	jobSize            int
	jobInterval        string
	jobTimeout         int
	jobStart           string
	jobEnd             string
	jobRelease         string
	jobOwner           string
	jobPublic          bool
	jobAllowDeprecated bool
	jobOutput          string
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Schedule Spark notebooks to run periodically",
	Long: `Scheduled Spark jobs run a notebook on a dedicated EMR job flow every day,
week or month. Due jobs are started by ` + "`atmo sweep`" + `.`,
}

var jobsCreateCmd = &cobra.Command{
	Use:   "create <identifier>",
	Short: "Upload a notebook and schedule it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
		defer cancel()

		interval, err := parseInterval(jobInterval)
		if err != nil {
			return err
		}
		start, err := parseDate(jobStart)
		if err != nil {
			return fmt.Errorf("--start: %w", err)
		}
		var end *time.Time
		if jobEnd != "" {
			t, err := parseDate(jobEnd)
			if err != nil {
				return fmt.Errorf("--end: %w", err)
			}
			end = &t
		}
		path := config.ExpandHome(jobNotebook)
		notebook, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading notebook: %w", err)
		}

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close(context.Background())

		rel, err := pickRelease(ctx, a.catalog, jobRelease, jobAllowDeprecated)
		if err != nil {
			return err
		}
		visibility := job.VisibilityPrivate
		if jobPublic {
			visibility = job.VisibilityPublic
		}

		j, err := a.scheduler.Create(ctx, job.NewJob{
			Identifier:    args[0],
			Description:   jobDescription,
			NotebookName:  filepath.Base(path),
			Notebook:      notebook,
			Visibility:    visibility,
			Size:          jobSize,
			IntervalHours: interval,
			TimeoutHours:  jobTimeout,
			StartDate:     start,
			EndDate:       end,
			Release:       rel.Version,
			CreatedBy:     jobOwner,
		})
		if err != nil {
			return err
		}
		tui.RenderJob(os.Stdout, j, nil, time.Now())
		return nil
	},
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scheduled Spark jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close(context.Background())

		js, err := a.scheduler.List(ctx)
		if err != nil {
			return err
		}
		rows := make([]tui.JobRow, 0, len(js))
		for _, j := range js {
			latest, err := a.scheduler.LatestRun(ctx, j)
			if err != nil {
				return err
			}
			rows = append(rows, tui.JobRow{Job: j, Latest: latest})
		}
		tui.RenderJobs(os.Stdout, rows, time.Now())
		return nil
	},
}

// withJob runs fn against the job named by the first argument.
func withJob(timeout time.Duration, fn func(ctx context.Context, a *app, j *job.Job) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close(context.Background())

		j, err := a.scheduler.Get(ctx, args[0])
		if err != nil {
			return err
		}
		return fn(ctx, a, j)
	}
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <identifier>",
	Short: "Show a Spark job and its runs",
	Args:  cobra.ExactArgs(1),
	RunE: withJob(30*time.Second, func(ctx context.Context, a *app, j *job.Job) error {
		runs, err := a.scheduler.Runs(ctx, j)
		if err != nil {
			return err
		}
		tui.RenderJob(os.Stdout, j, runs, time.Now())
		return nil
	}),
}

var jobsRunCmd = &cobra.Command{
	Use:   "run <identifier>",
	Short: "Run a Spark job now, outside its schedule",
	Args:  cobra.ExactArgs(1),
	RunE: withJob(2*time.Minute, func(ctx context.Context, a *app, j *job.Job) error {
		r, err := a.scheduler.Run(ctx, j)
		if r == nil {
			return err
		}
		fmt.Printf("%s started on job flow %s (%s)\n", j.Identifier, r.JobFlowID, tui.RenderStatus(r.Status))
		return err
	}),
}

var jobsEnableCmd = &cobra.Command{
	Use:   "enable <identifier>",
	Short: "Resume scheduling a Spark job",
	Args:  cobra.ExactArgs(1),
	RunE: withJob(30*time.Second, func(ctx context.Context, a *app, j *job.Job) error {
		return a.scheduler.SetEnabled(ctx, j, true)
	}),
}

var jobsDisableCmd = &cobra.Command{
	Use:   "disable <identifier>",
	Short: "Stop scheduling a Spark job without deleting it",
	Args:  cobra.ExactArgs(1),
	RunE: withJob(30*time.Second, func(ctx context.Context, a *app, j *job.Job) error {
		return a.scheduler.SetEnabled(ctx, j, false)
	}),
}

var jobsDeleteCmd = &cobra.Command{
	Use:   "delete <identifier>",
	Short: "Stop a Spark job's current run and delete it with its notebook",
	Args:  cobra.ExactArgs(1),
	RunE: withJob(time.Minute, func(ctx context.Context, a *app, j *job.Job) error {
		if err := a.scheduler.Delete(ctx, j); err != nil {
			return err
		}
		fmt.Printf("Deleted %s.\n", j.Identifier)
		return nil
	}),
}

var jobsResultsCmd = &cobra.Command{
	Use:   "results <identifier>",
	Short: "List the data and log files a Spark job produced",
	Args:  cobra.ExactArgs(1),
	RunE: withJob(time.Minute, func(ctx context.Context, a *app, j *job.Job) error {
		res, err := a.scheduler.Results(ctx, j)
		if err != nil {
			return err
		}
		tui.RenderResults(os.Stdout, res)
		return nil
	}),
}

var jobsDownloadCmd = &cobra.Command{
	Use:   "download <identifier>",
	Short: "Download a Spark job's notebook",
	Args:  cobra.ExactArgs(1),
	RunE: withJob(time.Minute, func(ctx context.Context, a *app, j *job.Job) error {
		body, err := a.scheduler.Notebook(ctx, j)
		if err != nil {
			return err
		}
		out := jobOutput
		if out == "" {
			out = j.NotebookName()
		}
		if err := os.WriteFile(out, body, 0o644); err != nil {
			return fmt.Errorf("writing notebook: %w", err)
		}
		fmt.Printf("Saved %s (%d bytes).\n", out, len(body))
		return nil
	}),
}

var jobsAlertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "List failed Spark job runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close(context.Background())

		alerts, err := a.scheduler.Alerts(ctx)
		if err != nil {
			return err
		}
		tui.RenderAlerts(os.Stdout, alerts)
		return nil
	},
}

// parseInterval maps daily, weekly and monthly to hours.
func parseInterval(s string) (int, error) {
	switch strings.ToLower(s) {
	case "daily", "day":
		return job.IntervalDaily, nil
	case "weekly", "week":
		return job.IntervalWeekly, nil
	case "monthly", "month":
		return job.IntervalMonthly, nil
	}
	return 0, fmt.Errorf("%w: interval %q is not daily, weekly or monthly", job.ErrInvalidJob, s)
}

// parseDate accepts RFC 3339 timestamps and plain dates in UTC. An empty
// string is the zero time.
func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is neither a date (2006-01-02) nor an RFC 3339 time", s)
	}
	return t, nil
}

func init() {
	f := jobsCreateCmd.Flags()
	f.StringVar(&jobNotebook, "notebook", "", "path to the Jupyter notebook (.ipynb)")
	f.StringVar(&jobDescription, "description", "", "what the job does")
	f.IntVar(&jobSize, "size", 1, "number of worker nodes")
	f.StringVar(&jobInterval, "interval", "daily", "daily, weekly or monthly")
	f.IntVar(&jobTimeout, "timeout", 12, "hours before a run is stopped")
	f.StringVar(&jobStart, "start", "", "first scheduling date (default: now)")
	f.StringVar(&jobEnd, "end", "", "last scheduling date (default: none)")
	f.StringVar(&jobRelease, "release", "", "EMR release version (default: newest stable)")
	f.StringVar(&jobOwner, "owner", "", "owner email address")
	f.BoolVar(&jobPublic, "public", false, "write results to the public data bucket")
	f.BoolVar(&jobAllowDeprecated, "allow-deprecated", false, "allow a deprecated EMR release")
	_ = jobsCreateCmd.MarkFlagRequired("notebook")
	_ = jobsCreateCmd.MarkFlagRequired("owner")

	jobsDownloadCmd.Flags().StringVarP(&jobOutput, "output", "o", "", "file to write (default: the notebook's name)")

	jobsCmd.AddCommand(jobsCreateCmd, jobsListCmd, jobsShowCmd, jobsRunCmd, jobsEnableCmd,
		jobsDisableCmd, jobsDeleteCmd, jobsResultsCmd, jobsDownloadCmd, jobsAlertsCmd)
	rootCmd.AddCommand(jobsCmd)
}
