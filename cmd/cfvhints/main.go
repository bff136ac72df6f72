// Package main implements the cfvhints command line driver.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"time"

	"github.com/spf13/cobra"

	"github.com/715d/cfvhints/internal/config"
	"github.com/715d/cfvhints/internal/manifest"
	"github.com/715d/cfvhints/internal/passes"
	"github.com/715d/cfvhints/internal/registry"
	"github.com/715d/cfvhints/pkg/cfvhints"
	"github.com/715d/cfvhints/pkg/suppress"
)

// Flags holds the command-line options that are not part of config.Config.
type Flags struct {
	ConfigFile string // YAML settings file
	Verbose    bool   // enables debug logging on stderr
	JSON       bool   // JSON summary and JSON logs
	Profile    bool   // enables CPU and memory profiling
}

const (
	exitError     = 2
	exitInvariant = 3
)

var (
	// Set via ldflags during build.
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

var (
	flags    Flags
	settings = config.Default()
)

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		_ = teardown(nil, nil)
		if err.Error() != "" {
			fmt.Fprintln(os.Stderr, err.Error())
		}
		var cErr codedError
		if errors.As(err, &cErr) {
			os.Exit(cErr.code)
		}
		os.Exit(exitError)
	}
}

func newRootCommand() *cobra.Command {
	flags = Flags{}
	settings = config.Default()

	rootCmd := &cobra.Command{
		Use:   "cfvhints [flags] file.ll...",
		Short: "Instrument indirect branches and calls in LLVM IR",
		Long: `cfvhints rewrites LLVM IR modules so that every indirect branch and every
indirect call or invoke first reports (function id, site index, target) to a
runtime hook:

  declare void @__collect_ibranch_hints(i64, i64, i64)
  declare void @__collect_icall_hints(i64, i64, i64)

Inputs must be textual IR with typed pointers (i8*, void ()*). Opaque ptr
IR, as emitted by recent clang, does not parse.

Function ids come from a registry shared by both passes; use --registry to
keep them stable across builds.`,
		Example: `  cfvhints prog.ll > prog.hints.ll             # Single module to stdout
  cfvhints -o out/ a.ll b.ll                   # Several modules, same id space
  cfvhints --in-place --manifest sites.tsv *.ll
  cfvhints --passes collect-icall-hints-pass prog.ll
  cfvhints --registry ids.yaml -o out/ *.ll    # Stable ids across builds`,
		Args:               cobra.MinimumNArgs(1),
		RunE:               runCommand,
		PersistentPreRunE:  setup,
		PersistentPostRunE: teardown,
		SilenceUsage:       true,
		SilenceErrors:      true,
		Version:            version,
	}

	rootCmd.SetVersionTemplate(fmt.Sprintf("cfvhints version %s\n  commit: %s\n  built:  %s\n", version, gitCommit, buildTime))

	pf := rootCmd.PersistentFlags()
	pf.BoolVarP(&flags.Verbose, "verbose", "v", false, "Enable verbose output")
	pf.BoolVar(&flags.JSON, "json", false, "Print a JSON summary (and log in JSON)")
	pf.BoolVar(&flags.Profile, "profile", false, "Enable CPU and memory profiling (writes cpu.prof and mem.prof to current directory)")
	pf.StringVar(&flags.ConfigFile, "config", "", "YAML configuration file; flags override its values")

	f := rootCmd.Flags()
	f.StringSliceVar(&settings.Passes, "passes", settings.Passes, "Passes to run, in order")
	f.StringVarP(&settings.OutputDir, "output-dir", "o", "", "Write instrumented modules into this directory")
	f.BoolVar(&settings.InPlace, "in-place", false, "Overwrite the input files")
	f.BoolVar(&settings.CompatIDs, "compat-ids", false, "Use the historical per-pass id numbering")
	f.StringVar(&settings.IDScope, "id-scope", settings.IDScope, "Id scope: program or module")
	f.StringVar(&settings.Registry, "registry", "", "Load and save function ids from this YAML snapshot")
	f.StringVar(&settings.Manifest, "manifest", "", "Write a TSV table of instrumented sites")
	f.StringSliceVar(&settings.Exclude, "exclude", nil, "Regular expressions of function names to leave alone")
	f.StringVar(&settings.ExcludeFile, "exclude-file", "", "File with one function name pattern per line")
	f.StringVar(&settings.Hooks.IBranch, "ibranch-hook", settings.Hooks.IBranch, "Hook called before indirect branches")
	f.StringVar(&settings.Hooks.ICall, "icall-hook", settings.Hooks.ICall, "Hook called before indirect calls")

	return rootCmd
}

func runCommand(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return errWithCode(err, exitError)
	}
	if len(args) > 1 && !cfg.InPlace && cfg.OutputDir == "" {
		return errWithCode(errors.New("several inputs need --output-dir or --in-place"), exitError)
	}

	slog.Info("starting instrumentation", "inputs", args, "passes", cfg.Passes)

	summary, err := run(cmd.Context(), cfg, args, cmd.OutOrStdout())
	if err != nil {
		if errors.Is(err, passes.ErrMissingTarget) {
			return errWithCode(fmt.Errorf("instrument: %w", err), exitInvariant)
		}
		return errWithCode(fmt.Errorf("instrument: %w", err), exitError)
	}

	for _, r := range summary.Results {
		for _, d := range r.Diagnostics {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s: %s\n", r.Path, d)
		}
	}

	if flags.JSON {
		// Keep stdout clean when it carries the module.
		w := cmd.OutOrStdout()
		if writesToStdout(cfg) {
			w = cmd.ErrOrStderr()
		}
		if err := writeJSONSummary(w, summary); err != nil {
			return errWithCode(fmt.Errorf("format summary: %w", err), exitError)
		}
	}
	return nil
}

// resolveConfig layers the config file under the flags the user set.
func resolveConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := settings
	if flags.ConfigFile != "" {
		fileCfg, err := config.Load(flags.ConfigFile)
		if err != nil {
			return config.Config{}, err
		}
		cfg = overlayFlags(cmd, fileCfg, settings)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// overlayFlags copies explicitly set flags from fromFlags onto base.
func overlayFlags(cmd *cobra.Command, base, fromFlags config.Config) config.Config {
	changed := cmd.Flags().Changed
	if changed("passes") {
		base.Passes = fromFlags.Passes
	}
	if changed("output-dir") {
		base.OutputDir = fromFlags.OutputDir
	}
	if changed("in-place") {
		base.InPlace = fromFlags.InPlace
	}
	if changed("compat-ids") {
		base.CompatIDs = fromFlags.CompatIDs
	}
	if changed("id-scope") {
		base.IDScope = fromFlags.IDScope
	}
	if changed("registry") {
		base.Registry = fromFlags.Registry
	}
	if changed("manifest") {
		base.Manifest = fromFlags.Manifest
	}
	if changed("exclude") {
		base.Exclude = append(base.Exclude, fromFlags.Exclude...)
	}
	if changed("exclude-file") {
		base.ExcludeFile = fromFlags.ExcludeFile
	}
	if changed("ibranch-hook") {
		base.Hooks.IBranch = fromFlags.Hooks.IBranch
	}
	if changed("icall-hook") {
		base.Hooks.ICall = fromFlags.Hooks.ICall
	}
	return base
}

// Summary is the outcome of one invocation.
type Summary struct {
	Results []*cfvhints.Result
	Stats   struct {
		Modules     int           `json:"modules"`
		Modified    int           `json:"modified"`
		Sites       int           `json:"sites"`
		Functions   int           `json:"functions"`
		Suppressed  int           `json:"suppressed"`
		Diagnostics int           `json:"diagnostics"`
		Duration    time.Duration `json:"duration"`
	}
}

// run instruments every input. Nothing is written unless every module was
// instrumented successfully.
func run(ctx context.Context, cfg config.Config, paths []string, stdout io.Writer) (*Summary, error) {
	start := time.Now()

	checker := suppress.NewChecker()
	for _, expr := range cfg.Exclude {
		if err := checker.AddPattern(expr, "--exclude "+expr); err != nil {
			return nil, err
		}
	}
	if cfg.ExcludeFile != "" {
		if err := checker.LoadFile(cfg.ExcludeFile); err != nil {
			return nil, err
		}
	}

	var reg *registry.Registry
	if cfg.Registry != "" {
		reg = registry.New(registry.AssignOnce)
		loaded, err := registry.LoadSnapshot(reg, cfg.Registry)
		if err != nil {
			return nil, err
		}
		slog.Info("registry snapshot", "path", cfg.Registry, "loaded", loaded, "functions", reg.Len())
	}

	loader := cfvhints.NewLoader()
	units, err := loader.Load(ctx, cfvhints.LoaderOptions{Paths: paths})
	if err != nil {
		return nil, fmt.Errorf("load modules: %w", err)
	}
	slog.Info("loaded modules", "num", len(units), "parsed", loader.Cached())

	dsts, err := outputPaths(cfg, units)
	if err != nil {
		return nil, err
	}

	in, err := cfvhints.NewInstrumenter(cfvhints.Options{
		Passes:       cfg.Passes,
		CompatIDs:    cfg.CompatIDs,
		IDScope:      cfg.IDScope,
		Hooks:        cfg.Hooks,
		Suppressions: checker,
		Registry:     reg,
	})
	if err != nil {
		return nil, err
	}
	results, err := in.Run(ctx, units)
	if err != nil {
		return nil, err
	}

	for i, u := range units {
		if err := writeUnit(u, dsts[i], stdout); err != nil {
			return nil, err
		}
	}
	if cfg.Manifest != "" {
		if err := writeManifest(cfg.Manifest, results); err != nil {
			return nil, err
		}
	}
	if reg != nil {
		if err := registry.SaveSnapshot(reg, cfg.Registry); err != nil {
			return nil, err
		}
	}

	s := &Summary{Results: results}
	s.Stats.Modules = len(results)
	for _, r := range results {
		if r.Modified {
			s.Stats.Modified++
		}
		s.Stats.Sites += len(r.Sites)
		s.Stats.Suppressed += len(r.Suppressed)
		s.Stats.Diagnostics += len(r.Diagnostics)
	}
	if shared := in.Registry(); shared != nil {
		s.Stats.Functions = shared.Len()
	}
	s.Stats.Duration = time.Since(start)
	slog.Info("instrumentation completed",
		"modules", s.Stats.Modules,
		"sites", s.Stats.Sites,
		"dur", s.Stats.Duration)
	return s, nil
}

func writesToStdout(cfg config.Config) bool {
	return !cfg.InPlace && cfg.OutputDir == ""
}

// outputPaths picks the file each unit is written to; an empty path means
// stdout. Two inputs may not share a destination.
func outputPaths(cfg config.Config, units []*cfvhints.Unit) ([]string, error) {
	dsts := make([]string, len(units))
	if writesToStdout(cfg) {
		return dsts, nil
	}
	seen := make(map[string]string, len(units))
	for i, u := range units {
		dst := u.Path
		if cfg.OutputDir != "" {
			dst = filepath.Join(cfg.OutputDir, filepath.Base(u.Path))
		}
		key, err := filepath.Abs(dst)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", dst, err)
		}
		if prev, ok := seen[key]; ok {
			return nil, fmt.Errorf("%s and %s would both be written to %s", prev, u.Path, dst)
		}
		seen[key] = u.Path
		dsts[i] = dst
	}
	return dsts, nil
}

func writeUnit(u *cfvhints.Unit, dst string, stdout io.Writer) error {
	if dst == "" {
		_, err := io.WriteString(stdout, u.String())
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	// Write next to the destination and rename, so a failed write never
	// leaves a truncated module behind.
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".cfvhints-*.ll")
	if err != nil {
		return fmt.Errorf("write %s: %w", dst, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := io.WriteString(tmp, u.String()); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", dst, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write %s: %w", dst, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("write %s: %w", dst, err)
	}
	slog.Debug("wrote module", "path", dst)
	return nil
}

func writeManifest(path string, results []*cfvhints.Result) (err error) {
	m, err := manifest.Create(path, "cfvhints "+version)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := m.Close(); err == nil {
			err = cerr
		}
	}()
	for _, r := range results {
		for _, s := range r.Sites {
			if err := m.Write(manifest.Row{Module: s.Module, Record: s.Record}); err != nil {
				return err
			}
		}
	}
	slog.Info("wrote manifest", "path", path, "rows", m.Rows())
	return nil
}

func writeJSONSummary(w io.Writer, s *Summary) error {
	data, err := json.MarshalIndent(jOutput{
		Modules:   s.Results,
		Stats:     s.Stats,
		Version:   version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling json output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

type jOutput struct {
	Modules   []*cfvhints.Result `json:"modules"`
	Stats     any                `json:"stats"`
	Version   string             `json:"version"`
	Timestamp string             `json:"timestamp"`
}

var cpuProfile *os.File

func setup(_ *cobra.Command, _ []string) error {
	// Disable logger unless verbose flag is set.
	slog.SetDefault(slog.New(slog.DiscardHandler))
	if flags.Verbose {
		opts := &slog.HandlerOptions{Level: slog.LevelDebug}
		var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
		if flags.JSON {
			handler = slog.NewJSONHandler(os.Stderr, opts)
		}
		slog.SetDefault(slog.New(handler))
	}

	if !flags.Profile {
		return nil
	}

	var err error
	cpuProfile, err = os.Create("cpu.prof")
	if err != nil {
		return fmt.Errorf("creating cpu.prof: %w", err)
	}
	if err := pprof.StartCPUProfile(cpuProfile); err != nil {
		_ = cpuProfile.Close()
		cpuProfile = nil
		return fmt.Errorf("starting CPU profile: %w", err)
	}
	slog.Info("cpu profiling started", "file", "cpu.prof")
	return nil
}

func teardown(_ *cobra.Command, _ []string) error {
	if !flags.Profile || cpuProfile == nil {
		return nil
	}

	pprof.StopCPUProfile()
	defer cpuProfile.Close()
	cpuProfile = nil
	slog.Info("cpu profiling stopped", "file", "cpu.prof")

	memFile, err := os.Create("mem.prof")
	if err != nil {
		return fmt.Errorf("creating mem.prof: %w", err)
	}
	defer memFile.Close()
	runtime.GC() // Get up-to-date statistics
	if err := pprof.WriteHeapProfile(memFile); err != nil {
		return fmt.Errorf("writing memory profile: %w", err)
	}
	slog.Info("memory profiling completed", "file", "mem.prof")
	return nil
}

func errWithCode(err error, code int) error {
	return codedError{err: err, code: code}
}

type codedError struct {
	err  error
	code int
}

func (e codedError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return ""
}

func (e codedError) Unwrap() error {
	return e.err
}
