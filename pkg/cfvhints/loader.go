// Package cfvhints instruments LLVM IR modules with indirect control-flow
// hint hooks.
package cfvhints

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	goruntime "runtime"

	"github.com/llir/llvm/asm"
	"github.com/llir/llvm/ir"
	"github.com/puzpuzpuz/xsync/v4"
	"golang.org/x/sync/errgroup"
)

// LoaderOptions configures module loading.
type LoaderOptions struct {
	// Paths are the .ll files to load.
	Paths []string

	// Dir resolves relative paths. If empty, uses the current working
	// directory.
	Dir string
}

// Unit is one parsed compilation unit.
type Unit struct {
	// Path is the file the unit was read from, as given by the caller.
	Path string

	// Source is the original IR text.
	Source []byte

	Module *ir.Module
}

// String prints the unit's module as LLVM assembly.
func (u *Unit) String() string {
	return u.Module.String()
}

// ParseUnit parses IR text into a unit.
func ParseUnit(path string, src []byte) (*Unit, error) {
	m, err := asm.ParseBytes(path, src)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &Unit{Path: path, Source: src, Module: m}, nil
}

// Loader parses IR files in parallel. Files are cached by absolute path, so
// a path listed twice, or loaded again through the same Loader, is parsed
// once.
type Loader struct {
	cache *xsync.Map[string, *Unit]
}

// NewLoader creates a loader with an empty cache.
func NewLoader() *Loader {
	return &Loader{cache: xsync.NewMap[string, *Unit]()}
}

// LoadModules loads the given files with a fresh loader.
func LoadModules(ctx context.Context, opts LoaderOptions) ([]*Unit, error) {
	return NewLoader().Load(ctx, opts)
}

// Load parses every file in opts.Paths and returns the units in input
// order, without duplicates.
func (l *Loader) Load(ctx context.Context, opts LoaderOptions) ([]*Unit, error) {
	if len(opts.Paths) == 0 {
		return nil, errors.New("no input files")
	}

	type input struct {
		path string
		abs  string
	}
	var inputs []input
	seen := make(map[string]bool, len(opts.Paths))
	for _, path := range opts.Paths {
		abs := path
		if !filepath.IsAbs(abs) && opts.Dir != "" {
			abs = filepath.Join(opts.Dir, abs)
		}
		abs, err := filepath.Abs(abs)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", path, err)
		}
		if seen[abs] {
			continue
		}
		seen[abs] = true
		inputs = append(inputs, input{path: path, abs: abs})
	}

	// Each goroutine writes only its own index.
	units := make([]*Unit, len(inputs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(goruntime.NumCPU())
	for idx, in := range inputs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if u, ok := l.cache.Load(in.abs); ok {
				units[idx] = u
				return nil
			}
			src, err := os.ReadFile(in.abs)
			if err != nil {
				return fmt.Errorf("read %s: %w", in.path, err)
			}
			u, err := ParseUnit(in.path, src)
			if err != nil {
				return err
			}
			u, _ = l.cache.LoadOrStore(in.abs, u)
			units[idx] = u
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return units, nil
}

// Cached returns the number of parsed files held by the loader.
func (l *Loader) Cached() int {
	return l.cache.Size()
}
