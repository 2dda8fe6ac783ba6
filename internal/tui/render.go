package tui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/atmo/atmo/internal/cluster"
	"github.com/atmo/atmo/internal/release"
)

const timeLayout = "2006-01-02 15:04 MST"

// RenderClusters writes one line per cluster.
func RenderClusters(w io.Writer, cs []*cluster.Cluster, now time.Time) {
	if len(cs) == 0 {
		fmt.Fprintln(w, dimStyle.Render("No clusters."))
		return
	}
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("%-36s  %-24s  %4s  %-8s  %-22s  %s",
		"ID", "IDENTIFIER", "SIZE", "RELEASE", "STATUS", "ENDS")))
	for _, c := range cs {
		// Pad before styling so escape codes don't break alignment.
		status := string(c.Status)
		if status == "" {
			status = "-"
		}
		pad := strings.Repeat(" ", max(0, 22-len(status)))
		ends := c.EndDate.Format(timeLayout)
		if c.IsActive() && c.IsExpiringSoon(now) {
			ends = warnStyle.Render(ends + " (expiring)")
		}
		fmt.Fprintf(w, "%-36s  %-24s  %4d  %-8s  %s%s  %s\n",
			c.ID, c.Identifier, c.Size, c.Release, RenderStatus(c.Status), pad, ends)
	}
}

// RenderCluster writes the details of a single cluster.
func RenderCluster(w io.Writer, c *cluster.Cluster, now time.Time) {
	fmt.Fprintln(w, titleStyle.Render(c.String()))
	fmt.Fprintln(w)
	row := func(label, value string) {
		fmt.Fprintf(w, "  %-16s %s\n", label+":", value)
	}
	row("ID", c.ID)
	row("Owner", c.OwnerEmail)
	row("EMR release", c.Release)
	row("Job flow", orDash(c.JobFlowID))
	row("Status", RenderStatus(c.Status))
	if c.StateChangeReason != "" {
		reason := string(c.StateChangeReason)
		if c.StateChangeMessage != "" {
			reason += ": " + c.StateChangeMessage
		}
		if c.StateChangeReason.IsFailure() {
			reason = errStyle.Render(reason)
		}
		row("Reason", reason)
	}
	row("Master address", orDash(c.MasterAddress))
	row("Started", c.StartDate.Format(timeLayout))

	ends := c.EndDate.Format(timeLayout)
	if c.IsActive() && c.IsExpiringSoon(now) {
		ends = warnStyle.Render(ends + " (expiring soon)")
	}
	row("Ends", ends)
}

// RenderReleases writes the catalog grouped by channel.
func RenderReleases(w io.Writer, stable, experimental, deprecated []release.Release) {
	section := func(title string, rs []release.Release) {
		fmt.Fprintln(w, headerStyle.Render(title))
		if len(rs) == 0 {
			fmt.Fprintln(w, dimStyle.Render("  none"))
		}
		for _, r := range rs {
			line := "  " + r.Version
			if r.HelpText != "" {
				line += "  " + dimStyle.Render(r.HelpText)
			}
			fmt.Fprintln(w, line)
		}
		fmt.Fprintln(w)
	}
	section("Stable", stable)
	section("Experimental", experimental)
	section("Deprecated", deprecated)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
