package cmd

import (
	"errors"
	"testing"
	"time"

	"github.com/atmo/atmo/internal/job"
)

func TestParseInterval(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"daily", job.IntervalDaily},
		{"Day", job.IntervalDaily},
		{"weekly", job.IntervalWeekly},
		{"month", job.IntervalMonthly},
	}
	for _, tt := range tests {
		got, err := parseInterval(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("parseInterval(%q) = %d, %v, want %d", tt.in, got, err, tt.want)
		}
	}
	if _, err := parseInterval("hourly"); !errors.Is(err, job.ErrInvalidJob) {
		t.Errorf("err = %v, want ErrInvalidJob", err)
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{"", time.Time{}, false},
		{"2017-02-03", time.Date(2017, 2, 3, 0, 0, 0, 0, time.UTC), false},
		{"2017-02-03T13:48:09Z", time.Date(2017, 2, 3, 13, 48, 9, 0, time.UTC), false},
		{"03/02/2017", time.Time{}, true},
	}
	for _, tt := range tests {
		got, err := parseDate(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseDate(%q) err = %v", tt.in, err)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("parseDate(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
