// Package suppress decides which functions are left uninstrumented.
//
// Functions can be suppressed by name pattern (from flags, the config file or
// an exclusions file) or by a directive comment placed in the IR source on
// the line before the function definition:
//
//	; cfvhints:ignore hand-written dispatcher
//	define void @dispatch(i8* %addr) {
package suppress

import (
	"bufio"
	"bytes"
	"fmt"
	"maps"
	"os"
	"regexp"
	"slices"
	"strings"

	"github.com/llir/llvm/ir/enc"
)

// Checker holds name patterns and per-function directives.
type Checker struct {
	rules []Rule

	// directives maps function name to suppression reason
	directives map[string]string
}

// Rule suppresses every function whose name matches Pattern.
type Rule struct {
	Pattern *regexp.Regexp
	Reason  string
}

var (
	// ignorePattern matches `; cfvhints:ignore [reason]` comments
	ignorePattern = regexp.MustCompile(`^\s*;\s*cfvhints:ignore(?:\s+(.+?))?\s*$`)

	// definePattern captures the function name of a `define` line
	definePattern = regexp.MustCompile(`^\s*define\b[^@]*@("(?:[^"\\]|\\.)*"|[-a-zA-Z$._0-9]+)\s*\(`)
)

// NewChecker creates an empty checker.
func NewChecker() *Checker {
	return &Checker{
		directives: make(map[string]string),
	}
}

// AddPattern adds a name rule. The pattern is anchored, so "foo" matches
// only @foo while "foo.*" matches every name starting with foo.
func (c *Checker) AddPattern(expr, reason string) error {
	re, err := regexp.Compile("^(?:" + expr + ")$")
	if err != nil {
		return fmt.Errorf("invalid exclusion pattern %q: %w", expr, err)
	}
	c.rules = append(c.rules, Rule{Pattern: re, Reason: reason})
	return nil
}

// LoadFile reads an exclusions file: one pattern per line, blank lines and
// lines beginning with # are ignored.
func (c *Checker) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open exclusions: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		entry := strings.TrimSpace(scanner.Text())
		if entry == "" || strings.HasPrefix(entry, "#") {
			continue
		}
		if err := c.AddPattern(entry, fmt.Sprintf("%s:%d", path, line)); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read exclusions %s: %w", path, err)
	}
	return nil
}

// LoadSource records ignore directives found in IR source text and returns
// how many functions they suppress. A directive applies to a definition on
// the next non-blank line only.
func (c *Checker) LoadSource(src []byte) int {
	count := 0
	pending := false
	reason := ""

	scanner := bufio.NewScanner(bytes.NewReader(src))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		text := scanner.Text()
		if strings.TrimSpace(text) == "" {
			continue
		}
		if m := ignorePattern.FindStringSubmatch(text); m != nil {
			pending, reason = true, m[1]
			continue
		}
		if pending {
			if m := definePattern.FindStringSubmatch(text); m != nil {
				if reason == "" {
					reason = "suppressed"
				}
				c.directives[unquoteName(m[1])] = reason
				count++
			}
		}
		pending, reason = false, ""
	}
	return count
}

// unquoteName turns a quoted LLVM name, with its \XX escapes, into the name
// the parser reports.
func unquoteName(name string) string {
	if len(name) >= 2 && name[0] == '"' && name[len(name)-1] == '"' {
		return string(enc.Unquote(name))
	}
	return name
}

// IsSuppressed reports whether the function should be skipped and why.
// Directives take precedence over name rules.
func (c *Checker) IsSuppressed(name string) (bool, string) {
	if reason, ok := c.directives[name]; ok {
		return true, reason
	}
	for _, r := range c.rules {
		if r.Pattern.MatchString(name) {
			return true, r.Reason
		}
	}
	return false, ""
}

// Clone returns an independent copy of the checker. Per-module directives
// are loaded into clones so they do not leak between modules.
func (c *Checker) Clone() *Checker {
	return &Checker{
		rules:      slices.Clone(c.rules),
		directives: maps.Clone(c.directives),
	}
}

// Len returns the number of rules and directives.
func (c *Checker) Len() int {
	return len(c.rules) + len(c.directives)
}
