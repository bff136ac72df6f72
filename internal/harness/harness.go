package harness

import (
	"fmt"
	"path/filepath"
	"regexp"
	"slices"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/715d/cfvhints/internal/config"
	"github.com/715d/cfvhints/internal/passes"
	"github.com/715d/cfvhints/pkg/cfvhints"
	"github.com/715d/cfvhints/pkg/suppress"
)

// TestHarness manages test execution.
type TestHarness struct {
	// root is the root directory for test data
	root string
}

// NewHarness creates a new test harness.
func NewHarness(root string) *TestHarness {
	return &TestHarness{root: root}
}

// Run executes a test case with all its configurations.
func (h *TestHarness) Run(t *testing.T, tc *TestCase) *TestResult {
	t.Helper()
	require.NotEmpty(t, tc.Configurations, "test case has no configurations")

	var results []ConfigurationResult
	var allSuccess = true

	for _, cfg := range tc.Configurations {
		cfgResult := h.runConfiguration(t, tc, cfg)
		results = append(results, *cfgResult)
		if !cfgResult.Success {
			allSuccess = false
		}
	}

	var resultMsg string
	if allSuccess {
		resultMsg = fmt.Sprintf("All %d configurations passed", len(tc.Configurations))
	} else {
		failedCount := 0
		var msgs []string
		for _, cr := range results {
			if !cr.Success {
				failedCount++
				msgs = append(msgs, fmt.Sprintf("[%s] %s:\n  %s",
					cr.Configuration.Name, cr.Message, strings.Join(cr.Details, "\n  ")))
			}
		}
		resultMsg = fmt.Sprintf("%d/%d configurations failed:\n%s",
			failedCount, len(tc.Configurations), strings.Join(msgs, "\n"))
	}

	return &TestResult{
		TestCase:             tc,
		ConfigurationResults: results,
		Success:              allSuccess,
		Message:              resultMsg,
	}
}

// runConfiguration instruments a fresh copy of the case's modules.
func (h *TestHarness) runConfiguration(t *testing.T, tc *TestCase, cfg Configuration) *ConfigurationResult {
	t.Helper()
	units := LoadUnits(t, filepath.Join(h.root, tc.Dir))

	in, err := newInstrumenter(cfg.Options, nil)
	require.NoError(t, err, "[%s] invalid options", cfg.Name)

	results, err := in.Run(t.Context(), units)
	if err != nil {
		for _, expectedErr := range cfg.ExpectedErrors {
			if strings.Contains(err.Error(), expectedErr) {
				return &ConfigurationResult{
					Configuration: cfg,
					Success:       true,
					Message:       fmt.Sprintf("Got expected error: %v", err),
				}
			}
		}
		require.NoError(t, err, "[%s] unexpected error", cfg.Name)
	}
	if len(cfg.ExpectedErrors) > 0 {
		return &ConfigurationResult{
			Configuration: cfg,
			Results:       results,
			Message:       "Expected an error, run succeeded",
			Details:       cfg.ExpectedErrors,
		}
	}

	cfgResult := h.validateConfigurationResults(cfg, units, results)
	if cfgResult.Success && !cfg.SkipRerun {
		h.checkRerun(t, cfg, units, results, cfgResult)
	}
	return cfgResult
}

// checkRerun instruments the printed output again and expects no change.
// Ignore directives do not survive printing, so functions they suppressed
// become exact-name rules.
func (h *TestHarness) checkRerun(t *testing.T, cfg Configuration, units []*cfvhints.Unit, first []*cfvhints.Result, cfgResult *ConfigurationResult) {
	t.Helper()
	var names []string
	for _, r := range first {
		for _, s := range r.Suppressed {
			names = append(names, s.Func)
		}
	}
	in, err := newInstrumenter(cfg.Options, names)
	require.NoError(t, err)

	results, err := in.Run(t.Context(), Reparse(t, units))
	require.NoError(t, err, "[%s] rerun failed", cfg.Name)
	for _, r := range results {
		if r.Modified || len(r.Sites) > 0 {
			cfgResult.Success = false
			cfgResult.Message = "Instrumenting the output again changed it"
			for _, s := range r.Sites {
				cfgResult.Details = append(cfgResult.Details, "Instrumented twice: "+siteKey(s))
			}
		}
	}
}

func newInstrumenter(opts Options, exactNames []string) (*cfvhints.Instrumenter, error) {
	checker := suppress.NewChecker()
	for _, p := range opts.Exclude {
		if err := checker.AddPattern(p, "expected.yaml"); err != nil {
			return nil, err
		}
	}
	for _, name := range exactNames {
		if err := checker.AddPattern(regexp.QuoteMeta(name), "directive"); err != nil {
			return nil, err
		}
	}
	return cfvhints.NewInstrumenter(cfvhints.Options{
		Passes:       opts.Passes,
		CompatIDs:    opts.CompatIDs,
		IDScope:      opts.IDScope,
		Hooks:        config.Hooks{IBranch: opts.IBranchHook, ICall: opts.ICallHook},
		Suppressions: checker,
	})
}

// validateConfigurationResults compares actual results with expected for a
// specific configuration.
func (h *TestHarness) validateConfigurationResults(cfg Configuration, units []*cfvhints.Unit, results []*cfvhints.Result) *ConfigurationResult {
	cfgResult := ConfigurationResult{
		Configuration: cfg,
		Results:       results,
	}

	defaultModule := ""
	if len(units) == 1 {
		defaultModule = units[0].Path
	}
	if err := validateExpectedSites(cfg.ExpectedSites, defaultModule); err != nil {
		cfgResult.Success = false
		cfgResult.Message = fmt.Sprintf("Invalid expected.yaml: %v", err)
		cfgResult.Details = []string{err.Error()}
		return &cfgResult
	}

	var actual []cfvhints.Site
	var suppressed []string
	diagnostics := 0
	for _, r := range results {
		actual = append(actual, r.Sites...)
		for _, s := range r.Suppressed {
			suppressed = append(suppressed, s.Func)
		}
		diagnostics += len(r.Diagnostics)
	}

	validateResults(&cfgResult, cfg.ExpectedSites, defaultModule, actual)

	suppressed = slices.Compact(slices.Sorted(slices.Values(suppressed)))
	expectedSuppressed := slices.Sorted(slices.Values(cfg.ExpectedSuppressed))
	if !slices.Equal(expectedSuppressed, suppressed) {
		cfgResult.Success = false
		cfgResult.Details = append(cfgResult.Details, fmt.Sprintf(
			"Suppressed functions: expected %v, got %v", expectedSuppressed, suppressed))
	}
	if diagnostics != cfg.ExpectedDiagnostics {
		cfgResult.Success = false
		cfgResult.Details = append(cfgResult.Details, fmt.Sprintf(
			"Diagnostics: expected %d, got %d", cfg.ExpectedDiagnostics, diagnostics))
	}
	if !cfgResult.Success && strings.HasPrefix(cfgResult.Message, "All ") {
		cfgResult.Message = "Test failed: suppression or diagnostics mismatch"
	}
	return &cfgResult
}

// ConfigurationResult represents the result of running a single configuration.
type ConfigurationResult struct {
	// Configuration is the configuration that was run.
	Configuration Configuration

	// Results is the raw result from the instrumenter, one per module.
	Results []*cfvhints.Result

	// Success indicates if this configuration passed.
	Success bool

	// Message provides a summary of the result for this configuration.
	Message string

	// Details provides detailed information about failures for this configuration.
	Details []string
}

// TestResult represents the result of running a test case.
type TestResult struct {
	// TestCase is the test case that was run.
	TestCase *TestCase

	// ConfigurationResults contains results for each configuration.
	ConfigurationResults []ConfigurationResult

	// Success indicates if the test passed (all configurations passed)
	Success bool

	// Skipped indicates if the test was skipped.
	Skipped bool

	// Message provides a summary of the result.
	Message string
}

// validateExpectedSites checks required fields.
func validateExpectedSites(expected []ExpectedSite, defaultModule string) error {
	for i, exp := range expected {
		if strings.TrimSpace(exp.Func) == "" {
			return fmt.Errorf("expected site at index %d has empty or missing 'func' field", i)
		}
		if _, ok := passes.Lookup(exp.Pass); !ok {
			return fmt.Errorf("expected site at index %d has unknown pass %q", i, exp.Pass)
		}
		if exp.Module == "" && defaultModule == "" {
			return fmt.Errorf("expected site at index %d needs 'module' when the case has several files", i)
		}
	}
	return nil
}

func siteKey(s cfvhints.Site) string {
	return fmt.Sprintf("%s %s @%s fid=%d site=%d", s.Module, s.Pass, s.Func, s.FID, s.Site)
}

func expectedKey(e ExpectedSite, defaultModule string) string {
	module := e.Module
	if module == "" {
		module = defaultModule
	}
	return fmt.Sprintf("%s %s @%s fid=%d site=%d", module, e.Pass, e.Func, e.FID, e.Site)
}

func validateResults(cfgResult *ConfigurationResult, expected []ExpectedSite, defaultModule string, actual []cfvhints.Site) {
	expectedMap := make(map[string]ExpectedSite)
	for _, e := range expected {
		expectedMap[expectedKey(e, defaultModule)] = e
	}

	actualMap := make(map[string]cfvhints.Site)
	for _, a := range actual {
		actualMap[siteKey(a)] = a
	}

	var details []string
	success := true

	// Check for missing expected sites.
	var missing []string
	for key := range expectedMap {
		if _, found := actualMap[key]; !found {
			missing = append(missing, key)
			success = false
		}
	}

	// Check for unexpected sites.
	var unexpected []string
	for key := range actualMap {
		if _, found := expectedMap[key]; !found {
			unexpected = append(unexpected, key)
			success = false
		}
	}

	// Sort for consistent output.
	sort.Strings(missing)
	sort.Strings(unexpected)

	for _, m := range missing {
		details = append(details, "Should have been instrumented: "+m)
	}
	for _, u := range unexpected {
		details = append(details, "Should not have been instrumented: "+u)
	}

	for key, exp := range expectedMap {
		if act, found := actualMap[key]; found {
			if exp.Kind != "" && exp.Kind != act.Kind.String() {
				details = append(details, fmt.Sprintf(
					"Kind mismatch for %s: expected %q, got %q", key, exp.Kind, act.Kind))
				success = false
			}
		}
	}

	var message string
	if success {
		message = fmt.Sprintf("All %d expected sites found", len(expected))
	} else {
		message = fmt.Sprintf("Test failed: %d missing, %d unexpected", len(missing), len(unexpected))
	}

	cfgResult.Success = success
	cfgResult.Message = message
	cfgResult.Details = details
}
