// Package passes implements the indirect branch and indirect call hint
// instrumentation passes over LLVM IR modules.
package passes

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/llir/llvm/ir"

	"github.com/715d/cfvhints/internal/registry"
)

// ErrMissingTarget is returned when a qualifying site carries no target
// expression. The pass cannot continue and the run must stop.
var ErrMissingTarget = errors.New("indirect site has no target expression")

// Pass names as they appear on the command line and in manifests.
const (
	IBranchPassName = "collect-ibranch-hints-pass"
	ICallPassName   = "collect-icall-hints-pass"
)

// Diagnostic is a recoverable problem found while instrumenting a function.
type Diagnostic struct {
	Pass    string `json:"pass"`
	Func    string `json:"func"`
	Message string `json:"message"`
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s: @%s: %s", d.Pass, d.Func, d.Message)
}

// Record describes one instrumented site.
type Record struct {
	Pass  string   `json:"pass"`
	Func  string   `json:"func"`
	FID   int64    `json:"fid"`
	Site  int64    `json:"site"`
	Kind  SiteKind `json:"kind"`
	Block string   `json:"block"`
}

// Options configures a pass instance.
type Options struct {
	// Registry hands out function ids. A private assign-once registry is
	// used when nil.
	Registry *registry.Registry

	// Hook overrides the default hook function name.
	Hook string

	// Exclude reports functions that must be left untouched. Excluded
	// functions consume no id.
	Exclude func(funcName string) bool

	// OnSite is called for every instrumented site.
	OnSite func(Record)

	// OnDiagnostic is called for every recoverable problem.
	OnDiagnostic func(Diagnostic)
}

func (o Options) withDefaults(hook string) Options {
	if o.Registry == nil {
		o.Registry = registry.New(registry.AssignOnce)
	}
	if o.Hook == "" {
		o.Hook = hook
	}
	return o
}

func (o Options) excluded(name string) bool {
	return o.Exclude != nil && o.Exclude(name)
}

// Pass is the common surface of every instrumentation pass.
type Pass interface {
	Name() string
	Description() string
}

// FunctionPass transforms one function at a time.
type FunctionPass interface {
	Pass
	RunOnFunction(ctx context.Context, m *ir.Module, f *ir.Func) (bool, error)
}

// ModulePass transforms a whole module at once.
type ModulePass interface {
	Pass
	RunOnModule(ctx context.Context, m *ir.Module) (bool, error)
}

// Granularity tells how a pass is driven.
type Granularity int

const (
	FunctionGranularity Granularity = iota
	ModuleGranularity
)

// Info describes a registered pass.
type Info struct {
	Name        string
	Description string
	Granularity Granularity
	New         func(Options) Pass
}

var catalog = []Info{
	{
		Name:        IBranchPassName,
		Description: "Collect Indirect Branch Hints Info",
		Granularity: FunctionGranularity,
		New:         func(o Options) Pass { return NewIBranchPass(o) },
	},
	{
		Name:        ICallPassName,
		Description: "Collect Indirect Call Hints Info",
		Granularity: ModuleGranularity,
		New:         func(o Options) Pass { return NewICallPass(o) },
	},
}

// Lookup finds a registered pass by name.
func Lookup(name string) (Info, bool) {
	i := slices.IndexFunc(catalog, func(info Info) bool { return info.Name == name })
	if i < 0 {
		return Info{}, false
	}
	return catalog[i], true
}

// Names lists the registered passes in their default run order.
func Names() []string {
	names := make([]string, len(catalog))
	for i, info := range catalog {
		names[i] = info.Name
	}
	return names
}

// Run drives p over m. Function passes visit every defined function in
// module order; the result is true if any invocation modified the IR.
func Run(ctx context.Context, p Pass, m *ir.Module) (bool, error) {
	switch p := p.(type) {
	case ModulePass:
		return p.RunOnModule(ctx, m)
	case FunctionPass:
		modified := false
		for _, f := range m.Funcs {
			if err := ctx.Err(); err != nil {
				return modified, err
			}
			if IsDeclaration(f) {
				continue
			}
			changed, err := p.RunOnFunction(ctx, m, f)
			if err != nil {
				return modified, err
			}
			modified = modified || changed
		}
		return modified, nil
	}
	return false, fmt.Errorf("pass %s has no run method", p.Name())
}
