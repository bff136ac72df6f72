package cfvhints

import "github.com/715d/cfvhints/internal/passes"

// Site is one instrumented site of a unit.
type Site struct {
	Module string `json:"module"`
	passes.Record
}

// Suppressed is a function skipped because of an exclusion rule or an
// ignore directive.
type Suppressed struct {
	Pass   string `json:"pass"`
	Func   string `json:"func"`
	Reason string `json:"reason"`
}

// Result is the outcome of instrumenting one unit.
type Result struct {
	Path        string              `json:"path"`
	Modified    bool                `json:"modified"`
	Sites       []Site              `json:"sites"`
	Suppressed  []Suppressed        `json:"suppressed,omitempty"`
	Diagnostics []passes.Diagnostic `json:"diagnostics,omitempty"`
}
