package tasks

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Weekdays lists the accepted weekday names, indexed by time.Weekday.
var Weekdays = []string{"sunday", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday"}

// WeekdayName returns the task-list name for d.
func WeekdayName(d time.Weekday) string {
	return Weekdays[d]
}

func isWeekday(s string) bool {
	for _, w := range Weekdays {
		if w == s {
			return true
		}
	}
	return false
}

// Start is when a target begins on its weekday.
type Start struct {
	Weekday string `json:"weekday" yaml:"weekday"`
	Time    string `json:"time" yaml:"time"`
}

// Target is one recurring recording.
type Target struct {
	Name     string `json:"name" yaml:"name"`
	Source   string `json:"source" yaml:"source"`
	Start    Start  `json:"start" yaml:"start"`
	Duration string `json:"duration" yaml:"duration"`
}

// StartSecond is the start time as seconds after midnight.
func (t Target) StartSecond() (int, error) {
	return ParseClock(t.Start.Time)
}

// DurationSeconds is the configured recording length in seconds.
func (t Target) DurationSeconds() (int, error) {
	return ParseClock(t.Duration)
}

// OutputPath builds outDir/<name>/<YYYY-MM-DD>_<HH-MM>.mp4 for a recording
// started on the date of at.
func (t Target) OutputPath(outDir string, at time.Time) string {
	stamp := fmt.Sprintf("%s_%s.mp4", at.Format("2006-01-02"), strings.ReplaceAll(t.Start.Time, ":", "-"))
	return filepath.Join(outDir, t.Name, stamp)
}

// TaskSpec is the fully processed task list. It is read-only after Load.
type TaskSpec struct {
	Sources      map[string]string `json:"sources" yaml:"sources"`
	Targets      []Target          `json:"targets" yaml:"targets"`
	OutDirectory string            `json:"outDirectory" yaml:"outDirectory"`
}

// SourceURL returns the manifest URL a target records from.
func (s *TaskSpec) SourceURL(t Target) (string, bool) {
	u, ok := s.Sources[t.Source]
	return u, ok
}

// TargetsOn returns the targets scheduled for weekday d, in list order.
func (s *TaskSpec) TargetsOn(d time.Weekday) []Target {
	day := WeekdayName(d)
	var out []Target
	for _, t := range s.Targets {
		if t.Start.Weekday == day {
			out = append(out, t)
		}
	}
	return out
}
