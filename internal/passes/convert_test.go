package passes

import (
	"math/big"
	"testing"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
	"github.com/stretchr/testify/require"
)

func TestConvertTarget_Constants(t *testing.T) {
	i8ptr := types.NewPointer(types.I8)
	wide := new(big.Int).Lsh(big.NewInt(1), 64)
	wide.Add(wide, big.NewInt(5))

	tests := []struct {
		name   string
		target constant.Constant
		want   int64
	}{
		{
			name:   "null",
			target: constant.NewNull(i8ptr),
			want:   0,
		},
		{
			name:   "inttoptr i64",
			target: constant.NewIntToPtr(constant.NewInt(types.I64, 4096), i8ptr),
			want:   4096,
		},
		{
			name:   "narrow value is zero extended",
			target: constant.NewIntToPtr(constant.NewInt(types.I32, -1), i8ptr),
			want:   0xffffffff,
		},
		{
			name:   "wide value is truncated",
			target: constant.NewIntToPtr(&constant.Int{Typ: types.NewInt(128), X: wide}, i8ptr),
			want:   5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, conv := ConvertTarget(tt.target)
			require.Nil(t, conv)
			c, ok := got.(*constant.Int)
			require.True(t, ok, "got %T", got)
			require.Equal(t, tt.want, c.X.Int64())
			require.True(t, c.Typ.Equal(types.I64))
		})
	}
}

func TestConvertTarget_SymbolicConstant(t *testing.T) {
	m := ir.NewModule()
	g := m.NewGlobalDef("table", constant.NewInt(types.I32, 0))

	got, conv := ConvertTarget(g)
	require.Nil(t, conv)
	expr, ok := got.(*constant.ExprPtrToInt)
	require.True(t, ok, "got %T", got)
	require.Equal(t, value.Value(g), value.Value(expr.From))
	require.True(t, expr.To.Equal(types.I64))
}

func TestConvertTarget_RuntimeValue(t *testing.T) {
	p := ir.NewParam("fp", types.NewPointer(types.NewFunc(types.Void)))

	got, conv := ConvertTarget(p)
	require.Nil(t, got)
	require.NotNil(t, conv)
	require.Same(t, p, conv.From)
	require.True(t, conv.Type().Equal(types.I64))
}

func TestConvertTarget_IntegerPassesThrough(t *testing.T) {
	p := ir.NewParam("raw", types.I64)
	got, conv := ConvertTarget(p)
	require.Nil(t, conv)
	require.Same(t, p, got)
}

func TestLocalNames_Fresh(t *testing.T) {
	m := parseModule(t, `
define void @f(i8* %ptrtoint, i8* %ptrtoint2) {
ptrtoint1:
  ret void
}
`)
	names := collectLocalNames(findFunc(t, m, "f"))
	require.Equal(t, "ptrtoint3", names.fresh("ptrtoint"))
	require.Equal(t, "ptrtoint4", names.fresh("ptrtoint"))
	require.Equal(t, "target", names.fresh("target"))
}
