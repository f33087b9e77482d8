package hcl

import (
	"github.com/hashicorp/hcl/v2"
)

// Stage represents a `stage` block from a pipeline definition file.
//
// The `run` attribute is captured as an unevaluated expression: interpolations
// like ${in.conformed} and ${out.segmentation} only become resolvable once the
// scheduler binds concrete artifact paths at dispatch time.
type Stage struct {
	Name    string            `hcl:"name,label"`
	Run     hcl.Expression    `hcl:"run,optional"`
	Uses    string            `hcl:"uses,optional"`
	Inputs  []string          `hcl:"inputs,optional"`
	Outputs map[string]string `hcl:"outputs"`
	Class   string            `hcl:"class,optional"`
	Hemi    string            `hcl:"hemi,optional"`
	Retries int               `hcl:"retries,optional"`
	Timeout string            `hcl:"timeout,optional"`
	Env     map[string]string `hcl:"env,optional"`
}

// fileRoot is the top-level structure of a pipeline definition file.
type fileRoot struct {
	Stages []*Stage `hcl:"stage,block"`
	Remain hcl.Body `hcl:",remain"`
}
