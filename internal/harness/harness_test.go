package harness

import (
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestAll runs all integration tests.
func TestAll(t *testing.T) {
	_, filename, _, ok := runtime.Caller(0)
	require.True(t, ok, "get current file path")

	harnessDir := filepath.Dir(filename)
	testdataDir := filepath.Join(harnessDir, "..", "..", "testdata")

	testCases := discoverTestCases(t, testdataDir)
	require.NotEmpty(t, testCases, "no test cases found")

	if testing.Verbose() {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
	}

	for _, tc := range testCases {
		t.Run(tc.Dir, func(t *testing.T) {
			t.Parallel()

			for _, cfg := range tc.Configurations {
				if cfg.Options.CompatIDs {
					t.Logf("[%s] compat ids", cfg.Name)
				}
				if len(cfg.Options.Exclude) > 0 {
					t.Logf("[%s] Exclude: %v", cfg.Name, cfg.Options.Exclude)
				}
			}

			result := NewHarness(testdataDir).Run(t, tc)
			if result.Skipped {
				t.Skipf("Test skipped: %s", result.Message)
				return
			}

			if !result.Success {
				t.Errorf("Test failed: %s", result.Message)
			}
		})
	}
}

func TestValidateResults(t *testing.T) {
	cfgResult := &ConfigurationResult{}
	validateResults(cfgResult, []ExpectedSite{
		{Pass: "collect-icall-hints-pass", Func: "a", FID: 0, Site: 0},
		{Pass: "collect-icall-hints-pass", Func: "a", FID: 0, Site: 1},
	}, "m.ll", nil)

	require.False(t, cfgResult.Success)
	require.Equal(t, "Test failed: 2 missing, 0 unexpected", cfgResult.Message)
	require.Equal(t, []string{
		"Should have been instrumented: m.ll collect-icall-hints-pass @a fid=0 site=0",
		"Should have been instrumented: m.ll collect-icall-hints-pass @a fid=0 site=1",
	}, cfgResult.Details)
}

func TestValidateExpectedSites(t *testing.T) {
	tests := []struct {
		name          string
		sites         []ExpectedSite
		module        string
		errorContains string
	}{
		{"valid", []ExpectedSite{{Pass: "collect-ibranch-hints-pass", Func: "f"}}, "m.ll", ""},
		{"missing func", []ExpectedSite{{Pass: "collect-ibranch-hints-pass"}}, "m.ll", "missing 'func'"},
		{"unknown pass", []ExpectedSite{{Pass: "nope", Func: "f"}}, "m.ll", "unknown pass"},
		{"needs module", []ExpectedSite{{Pass: "collect-ibranch-hints-pass", Func: "f"}}, "", "needs 'module'"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateExpectedSites(tt.sites, tt.module)
			if tt.errorContains == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.errorContains)
		})
	}
}

func discoverTestCases(t *testing.T, root string) []*TestCase {
	t.Helper()

	// Read all directories in testdata.
	entries, err := os.ReadDir(root)
	require.NoError(t, err)

	var testCases []*TestCase
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		dir := filepath.Join(root, entry.Name())

		// Check if this directory has an expected.yaml.
		if _, err := os.Stat(filepath.Join(dir, "expected.yaml")); err == nil {
			testCases = append(testCases, LoadTestCase(t, dir, root))
		}
	}

	return testCases
}
