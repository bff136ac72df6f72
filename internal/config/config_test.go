package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/715d/cfvhints/internal/passes"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.Equal(t, []string{passes.IBranchPassName, passes.ICallPassName}, cfg.Passes)
	require.Equal(t, ScopeProgram, cfg.IDScope)
	require.Equal(t, passes.IBranchHook, cfg.Hooks.IBranch)
	require.Equal(t, passes.ICallHook, cfg.Hooks.ICall)
	require.NoError(t, cfg.Validate())
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(`
passes: [collect-icall-hints-pass]
id_scope: module
exclude:
  - "__cxa_.*"
hooks:
  icall: my_icall_hook
`))
	require.NoError(t, err)
	require.Equal(t, []string{passes.ICallPassName}, cfg.Passes)
	require.Equal(t, ScopeModule, cfg.IDScope)
	require.Equal(t, []string{"__cxa_.*"}, cfg.Exclude)
	require.Equal(t, "my_icall_hook", cfg.Hooks.ICall)
	require.Equal(t, passes.IBranchHook, cfg.Hooks.IBranch, "unset keys keep their defaults")
	require.NoError(t, cfg.Validate())
}

func TestParse_EmptyAndUnknown(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)

	_, err = Parse([]byte("pases: []\n"))
	require.Error(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfvhints.yaml")
	require.NoError(t, os.WriteFile(path, []byte("compat_ids: true\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.True(t, cfg.CompatIDs)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "read config")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name          string
		modify        func(*Config)
		errorContains string
	}{
		{
			name:   "defaults",
			modify: func(*Config) {},
		},
		{
			name:          "no passes",
			modify:        func(c *Config) { c.Passes = nil },
			errorContains: "no passes",
		},
		{
			name:          "unknown pass",
			modify:        func(c *Config) { c.Passes = []string{"collect-everything"} },
			errorContains: "unknown pass",
		},
		{
			name:          "duplicate pass",
			modify:        func(c *Config) { c.Passes = []string{passes.ICallPassName, passes.ICallPassName} },
			errorContains: "twice",
		},
		{
			name:          "bad scope",
			modify:        func(c *Config) { c.IDScope = "global" },
			errorContains: "invalid id scope",
		},
		{
			name: "compat with registry",
			modify: func(c *Config) {
				c.CompatIDs = true
				c.Registry = "ids.yaml"
			},
			errorContains: "cannot be combined",
		},
		{
			name: "registry with module scope",
			modify: func(c *Config) {
				c.Registry = "ids.yaml"
				c.IDScope = ScopeModule
			},
			errorContains: "program id scope",
		},
		{
			name: "in place with output dir",
			modify: func(c *Config) {
				c.InPlace = true
				c.OutputDir = "out"
			},
			errorContains: "mutually exclusive",
		},
		{
			name:          "bad hook name",
			modify:        func(c *Config) { c.Hooks.ICall = "has space" },
			errorContains: "invalid hook name",
		},
		{
			name:          "bad exclusion",
			modify:        func(c *Config) { c.Exclude = []string{"("} },
			errorContains: "invalid exclusion pattern",
		},
		{
			name:   "compat alone",
			modify: func(c *Config) { c.CompatIDs = true },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.errorContains != "" {
				require.ErrorContains(t, err, tt.errorContains)
				return
			}
			require.NoError(t, err)
		})
	}
}
