package passes

import (
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/enum"
)

// HasFuncAttr reports whether f carries attr, either directly or through one
// of its attribute groups.
func HasFuncAttr(f *ir.Func, attr enum.FuncAttr) bool {
	return containsAttr(f.FuncAttrs, attr.String())
}

func containsAttr(attrs []ir.FuncAttribute, want string) bool {
	for _, a := range attrs {
		if group, ok := a.(*ir.AttrGroupDef); ok {
			if containsAttr(group.FuncAttrs, want) {
				return true
			}
			continue
		}
		if a.String() == want {
			return true
		}
	}
	return false
}

// IsOptNone reports whether optimization passes must leave f alone.
func IsOptNone(f *ir.Func) bool {
	return HasFuncAttr(f, enum.FuncAttrOptNone)
}

// IsDeclaration reports whether f has no body in this module.
func IsDeclaration(f *ir.Func) bool {
	return len(f.Blocks) == 0
}
