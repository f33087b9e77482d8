package hcl

import (
	"fmt"
	"time"

	"github.com/vk/reconpipe/internal/config"
)

// translateStage converts the HCL-specific stage schema into the agnostic
// model, applying defaults and validating the result.
func translateStage(s *Stage) (*config.Stage, error) {
	out := &config.Stage{
		Name:    s.Name,
		Uses:    s.Uses,
		Inputs:  s.Inputs,
		Outputs: s.Outputs,
		Class:   config.ResourceClass(s.Class),
		Hemi:    config.Hemisphere(s.Hemi),
		Retries: s.Retries,
		Env:     s.Env,
	}

	// gohcl hands back a non-nil expression even for an absent optional
	// attribute; only carry it when the attribute was actually written.
	if s.Run != nil {
		if rng := s.Run.Range(); rng.Start != rng.End {
			out.Run = s.Run
		}
	}

	if out.Class == "" {
		out.Class = config.ClassCPU
	}
	if out.Hemi == "" {
		out.Hemi = config.HemiNone
	}

	if s.Timeout != "" {
		d, err := time.ParseDuration(s.Timeout)
		if err != nil {
			return nil, fmt.Errorf("stage %q: invalid timeout %q: %w", s.Name, s.Timeout, err)
		}
		out.Timeout = d
	}

	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}
