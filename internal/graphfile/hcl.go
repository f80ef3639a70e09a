package graphfile

import (
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"

	"github.com/vk/cmdgrid/internal/command"
)

// fileRoot is the top level of an HCL graph file.
type fileRoot struct {
	Commands []*commandBlock `hcl:"command,block"`
}

type commandBlock struct {
	Name           string        `hcl:"name,label"`
	TargetType     string        `hcl:"target_type"`
	Script         []string      `hcl:"script,optional"`
	DependentFiles []string      `hcl:"dependent_files,optional"`
	Dependencies   []string      `hcl:"dependencies,optional"`
	Outputs        []string      `hcl:"outputs,optional"`
	Runtime        *runtimeBlock `hcl:"runtime,block"`
}

type runtimeBlock struct {
	NumCPUs       *int           `hcl:"num_cpus,optional"`
	MaxMemoryMB   *int           `hcl:"max_memory_mb,optional"`
	Timeout       *int           `hcl:"timeout,optional"`
	Env           hcl.Expression `hcl:"env,optional"`
	CommandRunDir *string        `hcl:"command_run_dir,optional"`
}

// evalContext exposes a few string functions and the host environment as
// env.NAME to expressions in graph files.
func evalContext() *hcl.EvalContext {
	vars := make(map[string]cty.Value)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok && hclsyntax.ValidIdentifier(k) {
			vars[k] = cty.StringVal(v)
		}
	}
	env := cty.EmptyObjectVal
	if len(vars) > 0 {
		env = cty.ObjectVal(vars)
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{"env": env},
		Functions: map[string]function.Function{
			"upper":  stdlib.UpperFunc,
			"lower":  stdlib.LowerFunc,
			"join":   stdlib.JoinFunc,
			"format": stdlib.FormatFunc,
			"trim":   stdlib.TrimSpaceFunc,
		},
	}
}

func parseHCL(text []byte, filename string) ([]*command.Command, error) {
	if filename == "" {
		filename = "graph.hcl"
	}
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(text, filename)
	if diags.HasErrors() {
		return nil, diags
	}

	ctx := evalContext()
	var root fileRoot
	if diags := gohcl.DecodeBody(file.Body, ctx, &root); diags.HasErrors() {
		return nil, diags
	}

	cmds := make([]*command.Command, 0, len(root.Commands))
	for _, block := range root.Commands {
		c, err := block.toCommand(ctx)
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, c)
	}
	return cmds, nil
}

func (b *commandBlock) toCommand(ctx *hcl.EvalContext) (*command.Command, error) {
	tt, err := command.ParseTargetType(b.TargetType)
	if err != nil {
		return nil, fmt.Errorf("command %q: %w", b.Name, err)
	}
	c := &command.Command{
		Name:           b.Name,
		TargetType:     tt,
		Script:         b.Script,
		DependentFiles: b.DependentFiles,
		Dependencies:   b.Dependencies,
		Outputs:        b.Outputs,
	}
	if b.Runtime == nil {
		return c, nil
	}

	rt := b.Runtime
	if rt.NumCPUs != nil {
		c.Runtime.NumCPUs = *rt.NumCPUs
	}
	if rt.MaxMemoryMB != nil {
		c.Runtime.MaxMemoryMB = *rt.MaxMemoryMB
	}
	if rt.Timeout != nil {
		c.Runtime.Timeout = *rt.Timeout
	}
	if rt.CommandRunDir != nil {
		c.Runtime.CommandRunDir = *rt.CommandRunDir
	}
	if rt.Env != nil {
		env, err := decodeEnv(rt.Env, ctx)
		if err != nil {
			return nil, fmt.Errorf("command %q: runtime.env: %w", b.Name, err)
		}
		c.Runtime.Env = env
	}
	return c, nil
}

// decodeEnv evaluates an env expression into a string map. Numbers and
// bools are converted to their string form.
func decodeEnv(expr hcl.Expression, ctx *hcl.EvalContext) (map[string]string, error) {
	val, diags := expr.Value(ctx)
	if diags.HasErrors() {
		return nil, diags
	}
	if val.IsNull() {
		return nil, nil
	}
	converted, err := convert.Convert(val, cty.Map(cty.String))
	if err != nil {
		return nil, err
	}
	if !converted.IsWhollyKnown() {
		return nil, fmt.Errorf("env values must be known")
	}
	out := make(map[string]string, converted.LengthInt())
	for k, v := range converted.AsValueMap() {
		if v.IsNull() {
			return nil, fmt.Errorf("env %s is null", k)
		}
		out[k] = v.AsString()
	}
	return out, nil
}
