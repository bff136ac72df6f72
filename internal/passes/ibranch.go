package passes

import (
	"context"
	"log/slog"

	"github.com/llir/llvm/ir"
)

// IBranchPass reports the target of every indirectbr before control leaves
// the block.
type IBranchPass struct {
	w siteWriter
}

// NewIBranchPass creates the indirect branch pass.
func NewIBranchPass(opts Options) *IBranchPass {
	return &IBranchPass{w: siteWriter{
		pass: IBranchPassName,
		opts: opts.withDefaults(IBranchHook),
	}}
}

func (p *IBranchPass) Name() string { return IBranchPassName }

func (p *IBranchPass) Description() string { return "Collect Indirect Branch Hints Info" }

// RunOnFunction instruments the indirect branches of f, a function defined
// in m. The function is registered even when it has no indirect branches.
func (p *IBranchPass) RunOnFunction(ctx context.Context, m *ir.Module, f *ir.Func) (bool, error) {
	name := f.Name()
	if name == p.w.opts.Hook {
		return false, nil
	}
	if p.w.opts.excluded(name) {
		slog.Debug("function excluded", "pass", IBranchPassName, "func", name)
		return false, nil
	}

	fid := p.w.opts.Registry.AssignOrGet(name)
	sites := ScanIndirectBranches(f)
	slog.Debug("scanned function", "pass", IBranchPassName, "func", name, "fid", fid, "sites", len(sites))
	if len(sites) == 0 {
		return false, nil
	}

	names := collectLocalNames(f)
	modified := false
	for _, site := range sites {
		if err := ctx.Err(); err != nil {
			return modified, err
		}
		changed, err := p.w.instrument(m, site, fid, names)
		if err != nil {
			return modified, err
		}
		modified = modified || changed
	}
	return modified, nil
}
