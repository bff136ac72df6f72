package passes

import (
	"fmt"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/types"
)

const (
	// IBranchHook receives (function id, site index, target) before every
	// indirect branch.
	IBranchHook = "__collect_ibranch_hints"
	// ICallHook receives (function id, site index, target) before every
	// indirect call or invoke.
	ICallHook = "__collect_icall_hints"
)

// DeclareHook returns the module's declaration of the hook function name,
// creating `declare void @name(i64, i64, i64)` if it is absent. Calling it
// repeatedly never adds a second declaration.
func DeclareHook(m *ir.Module, name string) (*ir.Func, error) {
	for _, f := range m.Funcs {
		if f.Name() != name {
			continue
		}
		if !isHookSignature(f.Sig) {
			return nil, fmt.Errorf("hook @%s already declared with signature %s", name, f.Sig)
		}
		return f, nil
	}
	for _, g := range m.Globals {
		if g.Name() == name {
			return nil, fmt.Errorf("hook @%s clashes with a global variable", name)
		}
	}
	for _, a := range m.Aliases {
		if a.Name() == name {
			return nil, fmt.Errorf("hook @%s clashes with an alias", name)
		}
	}

	return m.NewFunc(name, types.Void,
		ir.NewParam("fid", types.I64),
		ir.NewParam("site", types.I64),
		ir.NewParam("target", types.I64),
	), nil
}

func isHookSignature(sig *types.FuncType) bool {
	if sig.Variadic || !sig.RetType.Equal(types.Void) || len(sig.Params) != 3 {
		return false
	}
	for _, p := range sig.Params {
		if !p.Equal(types.I64) {
			return false
		}
	}
	return true
}
