package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2"
)

// ResourceClass tags a stage with the execution slot pool it must acquire
// before running. Class budgets are enforced independently of the global
// worker budget.
type ResourceClass string

const (
	ClassCPU        ResourceClass = "cpu"
	ClassGPU        ResourceClass = "gpu"
	ClassSequential ResourceClass = "sequential-only"
)

// Hemisphere tags a stage as belonging to one of the two symmetric
// processing branches, or to neither.
type Hemisphere string

const (
	HemiNone  Hemisphere = "none"
	HemiLeft  Hemisphere = "left"
	HemiRight Hemisphere = "right"
)

// Stage is the format-agnostic representation of a `stage` block: one unit
// of pipeline work with declared inputs, outputs and an executable unit.
//
// Exactly one of Run or Uses is set. Run is kept as an unevaluated HCL
// expression so the executor can interpolate `in`, `out` and `subject`
// values at dispatch time.
type Stage struct {
	Name    string
	Run     hcl.Expression
	Uses    string
	Inputs  []string
	Outputs map[string]string
	Class   ResourceClass
	Hemi    Hemisphere
	Retries int
	Timeout time.Duration
	Env     map[string]string
}

// Pipeline is the unified representation of the whole pipeline definition,
// merged from all loaded definition files.
type Pipeline struct {
	Stages []*Stage
}

// Stage returns the stage with the given name, or nil.
func (p *Pipeline) Stage(name string) *Stage {
	for _, s := range p.Stages {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// Validate checks the invariants a single stage must satisfy before it can
// participate in a graph. Cross-stage invariants (unique outputs, producer
// matching, acyclicity) belong to the dag package.
func (s *Stage) Validate() error {
	var errs []error
	if strings.TrimSpace(s.Name) == "" {
		errs = append(errs, errors.New("stage name is required"))
	}
	if s.Run == nil && s.Uses == "" {
		errs = append(errs, fmt.Errorf("stage %q: one of 'run' or 'uses' is required", s.Name))
	}
	if s.Run != nil && s.Uses != "" {
		errs = append(errs, fmt.Errorf("stage %q: 'run' and 'uses' are mutually exclusive", s.Name))
	}
	if len(s.Outputs) == 0 {
		errs = append(errs, fmt.Errorf("stage %q: at least one output is required", s.Name))
	}
	for key, path := range s.Outputs {
		if strings.TrimSpace(key) == "" {
			errs = append(errs, fmt.Errorf("stage %q: output key must not be empty", s.Name))
		}
		if strings.TrimSpace(path) == "" {
			errs = append(errs, fmt.Errorf("stage %q: output %q has an empty path", s.Name, key))
		}
	}
	switch s.Class {
	case ClassCPU, ClassGPU, ClassSequential:
	default:
		errs = append(errs, fmt.Errorf("stage %q: invalid class %q", s.Name, s.Class))
	}
	switch s.Hemi {
	case HemiNone, HemiLeft, HemiRight:
	default:
		errs = append(errs, fmt.Errorf("stage %q: invalid hemi %q", s.Name, s.Hemi))
	}
	if s.Retries < 0 {
		errs = append(errs, fmt.Errorf("stage %q: retries must be >= 0", s.Name))
	}
	if s.Timeout < 0 {
		errs = append(errs, fmt.Errorf("stage %q: timeout must be >= 0", s.Name))
	}
	return errors.Join(errs...)
}
