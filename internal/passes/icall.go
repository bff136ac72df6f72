package passes

import (
	"context"
	"log/slog"

	"github.com/llir/llvm/ir"
)

// ICallPass reports the callee of every call and invoke through a runtime
// value.
type ICallPass struct {
	w siteWriter
}

// NewICallPass creates the indirect call pass.
func NewICallPass(opts Options) *ICallPass {
	return &ICallPass{w: siteWriter{
		pass: ICallPassName,
		opts: opts.withDefaults(ICallHook),
	}}
}

func (p *ICallPass) Name() string { return ICallPassName }

func (p *ICallPass) Description() string { return "Collect Indirect Call Hints Info" }

// RunOnModule instruments every defined function of m that is neither
// optnone nor excluded. Skipped functions consume no id.
func (p *ICallPass) RunOnModule(ctx context.Context, m *ir.Module) (bool, error) {
	modified := false
	// The hook declaration is appended to m.Funcs while iterating; it has no
	// body and would be skipped anyway.
	for _, f := range m.Funcs {
		if err := ctx.Err(); err != nil {
			return modified, err
		}
		changed, err := p.runOnFunction(m, f)
		if err != nil {
			return modified, err
		}
		modified = modified || changed
	}
	return modified, nil
}

func (p *ICallPass) runOnFunction(m *ir.Module, f *ir.Func) (bool, error) {
	name := f.Name()
	switch {
	case IsDeclaration(f):
		return false, nil
	case name == p.w.opts.Hook:
		return false, nil
	case IsOptNone(f):
		slog.Debug("skipping optnone function", "pass", ICallPassName, "func", name)
		return false, nil
	case p.w.opts.excluded(name):
		slog.Debug("function excluded", "pass", ICallPassName, "func", name)
		return false, nil
	}

	fid := p.w.opts.Registry.AssignOrGet(name)
	sites := ScanIndirectCalls(f)
	slog.Debug("scanned function", "pass", ICallPassName, "func", name, "fid", fid, "sites", len(sites))

	names := collectLocalNames(f)
	modified := false
	for _, site := range sites {
		changed, err := p.w.instrument(m, site, fid, names)
		if err != nil {
			return modified, err
		}
		modified = modified || changed
	}
	return modified, nil
}
