package cfvhints

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/715d/cfvhints/internal/config"
	"github.com/715d/cfvhints/internal/passes"
	"github.com/715d/cfvhints/internal/registry"
	"github.com/715d/cfvhints/pkg/suppress"
)

// Options configures an Instrumenter.
type Options struct {
	// Passes selects and orders the passes. Defaults to every pass.
	Passes []string

	// CompatIDs reproduces the historical id numbering: each pass owns a
	// registry, the branch pass re-numbers revisited functions and the call
	// pass gives every first visit id 0.
	CompatIDs bool

	// IDScope is config.ScopeProgram (default) or config.ScopeModule.
	IDScope string

	// Hooks overrides the hook function names.
	Hooks config.Hooks

	// Suppressions holds name rules applied to every unit. Ignore
	// directives are read from each unit's source in addition.
	Suppressions *suppress.Checker

	// Registry is the shared registry, typically restored from a snapshot.
	// A new one is created when nil. Not allowed with CompatIDs.
	Registry *registry.Registry
}

// Instrumenter runs the selected passes over units, one unit at a time.
type Instrumenter struct {
	opts  Options
	infos []passes.Info

	// registries maps pass name to the registry it draws ids from.
	registries map[string]*registry.Registry
	shared     *registry.Registry
}

// NewInstrumenter validates opts and prepares the id registries.
func NewInstrumenter(opts Options) (*Instrumenter, error) {
	if len(opts.Passes) == 0 {
		opts.Passes = passes.Names()
	}
	if opts.IDScope == "" {
		opts.IDScope = config.ScopeProgram
	}
	if opts.Hooks.IBranch == "" {
		opts.Hooks.IBranch = passes.IBranchHook
	}
	if opts.Hooks.ICall == "" {
		opts.Hooks.ICall = passes.ICallHook
	}
	if opts.Suppressions == nil {
		opts.Suppressions = suppress.NewChecker()
	}
	if opts.CompatIDs && opts.Registry != nil {
		return nil, fmt.Errorf("compat ids cannot share a registry")
	}
	if opts.IDScope != config.ScopeProgram && opts.IDScope != config.ScopeModule {
		return nil, fmt.Errorf("invalid id scope %q", opts.IDScope)
	}

	in := &Instrumenter{
		opts:       opts,
		registries: make(map[string]*registry.Registry),
	}
	for _, name := range opts.Passes {
		info, ok := passes.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("unknown pass %q", name)
		}
		in.infos = append(in.infos, info)
	}

	if opts.CompatIDs {
		in.registries[passes.IBranchPassName] = registry.New(registry.ReassignOnRevisit)
		in.registries[passes.ICallPassName] = registry.New(registry.ZeroOnFirstVisit)
		return in, nil
	}
	in.shared = opts.Registry
	if in.shared == nil {
		in.shared = registry.New(registry.AssignOnce)
	}
	for _, info := range in.infos {
		in.registries[info.Name] = in.shared
	}
	return in, nil
}

// Registry returns the registry shared by all passes, or nil in compat mode.
func (in *Instrumenter) Registry() *registry.Registry {
	return in.shared
}

// PassRegistry returns the registry the named pass draws ids from.
func (in *Instrumenter) PassRegistry(name string) *registry.Registry {
	return in.registries[name]
}

func (in *Instrumenter) hook(pass string) string {
	if pass == passes.IBranchPassName {
		return in.opts.Hooks.IBranch
	}
	return in.opts.Hooks.ICall
}

// Apply runs every selected pass over u in order. An error means the unit
// must not be emitted.
func (in *Instrumenter) Apply(ctx context.Context, u *Unit) (*Result, error) {
	if in.opts.IDScope == config.ScopeModule {
		for _, r := range in.registries {
			r.Reset()
		}
	}

	checker := in.opts.Suppressions.Clone()
	if n := checker.LoadSource(u.Source); n > 0 {
		slog.Debug("loaded ignore directives", "module", u.Path, "count", n)
	}

	result := &Result{Path: u.Path, Sites: []Site{}}
	for _, info := range in.infos {
		p := info.New(passes.Options{
			Registry: in.registries[info.Name],
			Hook:     in.hook(info.Name),
			Exclude: func(name string) bool {
				ok, reason := checker.IsSuppressed(name)
				if ok {
					result.Suppressed = append(result.Suppressed, Suppressed{Pass: info.Name, Func: name, Reason: reason})
				}
				return ok
			},
			OnSite: func(r passes.Record) {
				result.Sites = append(result.Sites, Site{Module: u.Path, Record: r})
			},
			OnDiagnostic: func(d passes.Diagnostic) {
				result.Diagnostics = append(result.Diagnostics, d)
			},
		})

		modified, err := passes.Run(ctx, p, u.Module)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", u.Path, err)
		}
		slog.Debug("pass finished", "module", u.Path, "pass", info.Name, "modified", modified)
		result.Modified = result.Modified || modified
	}

	slog.Info("instrumented module",
		"module", u.Path,
		"modified", result.Modified,
		"sites", len(result.Sites),
		"diagnostics", len(result.Diagnostics),
	)
	return result, nil
}

// Run applies the passes to every unit in order and stops at the first
// error.
func (in *Instrumenter) Run(ctx context.Context, units []*Unit) ([]*Result, error) {
	results := make([]*Result, 0, len(units))
	for _, u := range units {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		r, err := in.Apply(ctx, u)
		if err != nil {
			return results, err
		}
		results = append(results, r)
	}
	return results, nil
}
