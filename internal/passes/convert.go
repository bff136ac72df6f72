package passes

import (
	"math/big"
	"strconv"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
)

// ptrToIntName is the base name of inserted target conversions.
const ptrToIntName = "ptrtoint"

var mask64 = new(big.Int).SetUint64(^uint64(0))

// ConvertTarget turns a target-address expression into the i64 hook
// argument. Constants fold to an integer or a constant ptrtoint expression
// and need no instruction; runtime values return the ptrtoint instruction
// that must be inserted ahead of the hook call.
//
// Pointers are assumed to be 64 bits wide.
func ConvertTarget(v value.Value) (value.Value, *ir.InstPtrToInt) {
	if isI64(v.Type()) {
		return v, nil
	}
	switch c := v.(type) {
	case *constant.Null:
		return constant.NewInt(types.I64, 0), nil
	case *constant.ExprIntToPtr:
		if x, ok := c.From.(*constant.Int); ok {
			return constant.NewInt(types.I64, foldInt(x)), nil
		}
		return constant.NewPtrToInt(c, types.I64), nil
	case constant.Constant:
		return constant.NewPtrToInt(c, types.I64), nil
	}
	return nil, ir.NewPtrToInt(v, types.I64)
}

// foldInt zero-extends or truncates an integer constant of any width to 64
// bits, the way inttoptr followed by ptrtoint would.
func foldInt(x *constant.Int) int64 {
	v := new(big.Int).Set(x.X)
	if bits := x.Typ.BitSize; bits < 64 {
		m := new(big.Int).Lsh(big.NewInt(1), uint(bits))
		v.And(v, m.Sub(m, big.NewInt(1)))
	}
	v.And(v, mask64)
	return int64(v.Uint64())
}

func isI64(t types.Type) bool {
	it, ok := t.(*types.IntType)
	return ok && it.BitSize == 64
}

func isPointer(t types.Type) bool {
	_, ok := t.(*types.PointerType)
	return ok
}

// localNames tracks the local identifiers of one function so inserted
// values get fresh names.
type localNames map[string]bool

func collectLocalNames(f *ir.Func) localNames {
	names := make(localNames)
	for _, p := range f.Params {
		if !p.IsUnnamed() {
			names[p.Name()] = true
		}
	}
	for _, block := range f.Blocks {
		if !block.IsUnnamed() {
			names[block.Name()] = true
		}
		for _, inst := range block.Insts {
			if named, ok := inst.(value.Named); ok && !isUnnamedLocal(named) {
				names[named.Name()] = true
			}
		}
		if named, ok := block.Term.(value.Named); ok && !isUnnamedLocal(named) {
			names[named.Name()] = true
		}
	}
	return names
}

type unnamer interface {
	IsUnnamed() bool
}

func isUnnamedLocal(v value.Named) bool {
	if u, ok := v.(unnamer); ok {
		return u.IsUnnamed()
	}
	return v.Name() == ""
}

// fresh returns base, or base followed by the smallest positive counter not
// yet taken, and records the result.
func (n localNames) fresh(base string) string {
	name := base
	for i := 1; n[name]; i++ {
		name = base + strconv.Itoa(i)
	}
	n[name] = true
	return name
}
