package scheduler

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// SummaryFileName is the per-run report written into the subject directory.
const SummaryFileName = "summary.yaml"

// StageReport is one stage's terminal record in the run summary.
type StageReport struct {
	Name     string        `yaml:"name"`
	State    StageState    `yaml:"state"`
	Attempts int           `yaml:"attempts,omitempty"`
	Duration time.Duration `yaml:"duration,omitempty"`
	Log      string        `yaml:"log,omitempty"`
	Error    string        `yaml:"error,omitempty"`
	// Cascaded is true when the stage failed without executing because an
	// upstream dependency failed.
	Cascaded bool `yaml:"cascaded,omitempty"`
}

// Summary enumerates per-stage terminal status for a whole run.
type Summary struct {
	RunID    string        `yaml:"run_id"`
	Subject  string        `yaml:"subject"`
	Started  time.Time     `yaml:"started"`
	Finished time.Time     `yaml:"finished"`
	Success  bool          `yaml:"success"`
	Stages   []StageReport `yaml:"stages"`
}

// Failed returns the names of stages whose own execution failed, excluding
// the ones that merely inherited an upstream failure. Sorted for stable
// error messages.
func (s *Summary) Failed() []string {
	var out []string
	for _, r := range s.Stages {
		if r.State == StateFailed && !r.Cascaded {
			out = append(out, r.Name)
		}
	}
	sort.Strings(out)
	return out
}

// Render formats the summary as an aligned text table for stdout.
func (s *Summary) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s  subject=%s  success=%t\n", s.RunID, s.Subject, s.Success)

	width := len("STAGE")
	for _, r := range s.Stages {
		if len(r.Name) > width {
			width = len(r.Name)
		}
	}

	fmt.Fprintf(&b, "%-*s  %-15s  %-8s  %s\n", width, "STAGE", "STATE", "TIME", "DETAIL")
	for _, r := range s.Stages {
		detail := ""
		switch {
		case r.State == StateFailed && r.Log != "":
			detail = "log: " + r.Log
		case r.State == StateFailed:
			detail = r.Error
		}
		elapsed := ""
		if r.Duration > 0 {
			elapsed = r.Duration.Round(time.Millisecond).String()
		}
		fmt.Fprintf(&b, "%-*s  %-15s  %-8s  %s\n", width, r.Name, r.State, elapsed, detail)
	}
	return b.String()
}

// WriteFile persists the summary as YAML.
func (s *Summary) WriteFile(path string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}
