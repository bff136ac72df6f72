// Package harness runs the instrumenter over testdata modules and checks the
// sites it reports against expected.yaml.
package harness

// TestCase is one testdata directory: every .ll file in it forms the input
// program, in file name order.
type TestCase struct {
	// Dir is the directory relative to the testdata root.
	Dir string `yaml:"-"`

	// Description says what the case covers.
	Description string `yaml:"description,omitempty"`

	// Configurations run independently over fresh copies of the input.
	Configurations []Configuration `yaml:"configurations"`
}

// Configuration is one set of options and its expected outcome.
type Configuration struct {
	// Name is a descriptive name for this configuration.
	Name string `yaml:"name"`

	Options Options `yaml:"options"`

	// ExpectedSites lists every site the run must report, in order.
	ExpectedSites []ExpectedSite `yaml:"expected_sites"`

	// ExpectedSuppressed lists the functions skipped by exclusions.
	ExpectedSuppressed []string `yaml:"expected_suppressed,omitempty"`

	// ExpectedDiagnostics is the number of recoverable problems reported.
	ExpectedDiagnostics int `yaml:"expected_diagnostics,omitempty"`

	// ExpectedErrors holds substrings; the run must fail with one of them.
	ExpectedErrors []string `yaml:"expected_errors,omitempty"`

	// SkipRerun disables the check that instrumenting the output again
	// changes nothing.
	SkipRerun bool `yaml:"skip_rerun,omitempty"`
}

// Options mirrors the instrumenter options that testdata can set.
type Options struct {
	Passes      []string `yaml:"passes,omitempty"`
	CompatIDs   bool     `yaml:"compat_ids,omitempty"`
	IDScope     string   `yaml:"id_scope,omitempty"`
	Exclude     []string `yaml:"exclude,omitempty"`
	IBranchHook string   `yaml:"ibranch_hook,omitempty"`
	ICallHook   string   `yaml:"icall_hook,omitempty"`
}

// ExpectedSite is one reported site.
type ExpectedSite struct {
	Module string `yaml:"module,omitempty"`
	Pass   string `yaml:"pass"`
	Func   string `yaml:"func"`
	FID    int64  `yaml:"fid"`
	Site   int64  `yaml:"site"`
	Kind   string `yaml:"kind,omitempty"`
}
