package passes

import (
	"testing"

	"github.com/llir/llvm/ir/types"
	"github.com/stretchr/testify/require"
)

func TestDeclareHook(t *testing.T) {
	tests := []struct {
		name          string
		src           string
		errorContains string
		wantFuncs     int
	}{
		{
			name:      "absent hook is declared",
			src:       "define void @main() {\nentry:\n  ret void\n}\n",
			wantFuncs: 2,
		},
		{
			name:      "existing declaration is reused",
			src:       "declare void @__collect_icall_hints(i64, i64, i64)\n",
			wantFuncs: 1,
		},
		{
			name:          "mismatched signature",
			src:           "declare void @__collect_icall_hints(i32)\n",
			errorContains: "already declared",
		},
		{
			name:          "global with the same name",
			src:           "@__collect_icall_hints = global i32 0\n",
			errorContains: "global variable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := parseModule(t, tt.src)
			hook, err := DeclareHook(m, ICallHook)
			if tt.errorContains != "" {
				require.ErrorContains(t, err, tt.errorContains)
				return
			}
			require.NoError(t, err)
			require.Equal(t, ICallHook, hook.Name())
			require.True(t, hook.Sig.RetType.Equal(types.Void))
			require.Len(t, hook.Sig.Params, 3)
			require.Len(t, m.Funcs, tt.wantFuncs)

			again, err := DeclareHook(m, ICallHook)
			require.NoError(t, err)
			require.Same(t, hook, again)
			require.Len(t, m.Funcs, tt.wantFuncs)
		})
	}
}

func TestDeclareHook_ParamNames(t *testing.T) {
	m := parseModule(t, "")
	hook, err := DeclareHook(m, IBranchHook)
	require.NoError(t, err)

	var names []string
	for _, p := range hook.Params {
		names = append(names, p.Name())
	}
	require.Equal(t, []string{"fid", "site", "target"}, names)
	require.Empty(t, hook.Blocks)
}
