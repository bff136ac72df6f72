// Package config holds the instrumentation settings shared by the command
// line and the optional YAML configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"slices"

	yaml "gopkg.in/yaml.v3"

	"github.com/715d/cfvhints/internal/passes"
)

// ID scopes.
const (
	// ScopeProgram keeps one registry for the whole run.
	ScopeProgram = "program"
	// ScopeModule starts every input module with an empty registry.
	ScopeModule = "module"
)

// Config is the full set of instrumentation settings.
type Config struct {
	Passes      []string `yaml:"passes"`
	CompatIDs   bool     `yaml:"compat_ids"`
	IDScope     string   `yaml:"id_scope"`
	Registry    string   `yaml:"registry,omitempty"`
	Manifest    string   `yaml:"manifest,omitempty"`
	Exclude     []string `yaml:"exclude,omitempty"`
	ExcludeFile string   `yaml:"exclude_file,omitempty"`
	Hooks       Hooks    `yaml:"hooks"`
	OutputDir   string   `yaml:"output_dir,omitempty"`
	InPlace     bool     `yaml:"in_place,omitempty"`
}

// Hooks names the runtime functions the passes call.
type Hooks struct {
	IBranch string `yaml:"ibranch"`
	ICall   string `yaml:"icall"`
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		Passes:  passes.Names(),
		IDScope: ScopeProgram,
		Hooks: Hooks{
			IBranch: passes.IBranchHook,
			ICall:   passes.ICallHook,
		},
	}
}

// Load reads a YAML file on top of the defaults. Unknown keys are rejected.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML settings on top of the defaults.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, err
	}
	return cfg, nil
}

// llvmName matches identifiers that need no quoting in LLVM assembly.
var llvmName = regexp.MustCompile(`^[-a-zA-Z$._][-a-zA-Z$._0-9]*$`)

// Validate reports the first inconsistent setting.
func (c Config) Validate() error {
	if len(c.Passes) == 0 {
		return errors.New("no passes selected")
	}
	for i, name := range c.Passes {
		if _, ok := passes.Lookup(name); !ok {
			return fmt.Errorf("unknown pass %q (available: %v)", name, passes.Names())
		}
		if slices.Contains(c.Passes[:i], name) {
			return fmt.Errorf("pass %q selected twice", name)
		}
	}

	switch c.IDScope {
	case ScopeProgram, ScopeModule:
	default:
		return fmt.Errorf("invalid id scope %q (want %q or %q)", c.IDScope, ScopeProgram, ScopeModule)
	}
	if c.CompatIDs && c.Registry != "" {
		return errors.New("compat ids use per-pass registries and cannot be combined with a registry snapshot")
	}
	if c.Registry != "" && c.IDScope == ScopeModule {
		return errors.New("a registry snapshot requires program id scope")
	}
	if c.InPlace && c.OutputDir != "" {
		return errors.New("in-place and output-dir are mutually exclusive")
	}

	for _, hook := range []string{c.Hooks.IBranch, c.Hooks.ICall} {
		if !llvmName.MatchString(hook) {
			return fmt.Errorf("invalid hook name %q", hook)
		}
	}
	for _, expr := range c.Exclude {
		if _, err := regexp.Compile(expr); err != nil {
			return fmt.Errorf("invalid exclusion pattern %q: %w", expr, err)
		}
	}
	return nil
}
