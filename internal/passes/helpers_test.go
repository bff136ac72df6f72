package passes

import (
	"testing"

	"github.com/llir/llvm/asm"
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/value"
	"github.com/stretchr/testify/require"
)

func parseModule(t *testing.T, src string) *ir.Module {
	t.Helper()
	m, err := asm.ParseString("test.ll", src)
	require.NoError(t, err)
	return m
}

func findFunc(t *testing.T, m *ir.Module, name string) *ir.Func {
	t.Helper()
	for _, f := range m.Funcs {
		if f.Name() == name {
			return f
		}
	}
	t.Fatalf("function @%s not found", name)
	return nil
}

// hookCall is a decoded call to a hint hook.
type hookCall struct {
	Block  string
	FID    int64
	Site   int64
	Target value.Value
}

func hookCalls(t *testing.T, f *ir.Func, hook string) []hookCall {
	t.Helper()
	var calls []hookCall
	for _, block := range f.Blocks {
		for _, inst := range block.Insts {
			call, ok := inst.(*ir.InstCall)
			if !ok {
				continue
			}
			callee, ok := call.Callee.(*ir.Func)
			if !ok || callee.Name() != hook {
				continue
			}
			require.Len(t, call.Args, 3)
			calls = append(calls, hookCall{
				Block:  block.Name(),
				FID:    intArg(t, call.Args[0]),
				Site:   intArg(t, call.Args[1]),
				Target: call.Args[2],
			})
		}
	}
	return calls
}

func intArg(t *testing.T, v value.Value) int64 {
	t.Helper()
	c, ok := v.(*constant.Int)
	require.True(t, ok, "argument %s is not an integer constant", v.Ident())
	return c.X.Int64()
}

func countFuncs(m *ir.Module, name string) int {
	n := 0
	for _, f := range m.Funcs {
		if f.Name() == name {
			n++
		}
	}
	return n
}
