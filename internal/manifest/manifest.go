// Package manifest writes the table of instrumented sites.
//
// The manifest is tab separated. A few `#` header lines identify the tool,
// followed by one column header line and one row per site:
//
//	module	pass	function	fid	site	kind	block
package manifest

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/715d/cfvhints/internal/passes"
)

// Header is the column header line.
const Header = "module\tpass\tfunction\tfid\tsite\tkind\tblock"

// Row is one instrumented site.
type Row struct {
	Module string
	passes.Record
}

// Manifest serializes instrumented sites.
type Manifest struct {
	Path   string
	writer lineWriter
	rows   int
}

// Create opens a manifest file at path and writes its header.
func Create(path, tool string) (*Manifest, error) {
	w, err := newFileWriter(path)
	if err != nil {
		return nil, fmt.Errorf("create manifest: %w", err)
	}
	m := &Manifest{Path: path, writer: w}
	if err := m.writeHeader(tool); err != nil {
		w.Close()
		return nil, fmt.Errorf("write manifest header: %w", err)
	}
	return m, nil
}

// newInMemory creates a manifest kept in memory, readable through String.
func newInMemory(tool string) *Manifest {
	m := &Manifest{writer: &memoryWriter{}}
	_ = m.writeHeader(tool)
	return m
}

func (m *Manifest) writeHeader(tool string) error {
	if err := m.writer.WriteLine("# format = cfvhints-manifest/1"); err != nil {
		return err
	}
	if err := m.writer.WriteLine("# instrumentor = " + tool); err != nil {
		return err
	}
	return m.writer.WriteLine(Header)
}

// Write appends one row.
func (m *Manifest) Write(r Row) error {
	line := fmt.Sprintf("%s\t%s\t%s\t%d\t%d\t%s\t%s",
		clean(r.Module), r.Pass, clean(r.Func), r.FID, r.Site, r.Kind, clean(r.Block))
	if err := m.writer.WriteLine(line); err != nil {
		return fmt.Errorf("write manifest row: %w", err)
	}
	m.rows++
	return nil
}

// Rows returns the number of rows written.
func (m *Manifest) Rows() int {
	return m.rows
}

// Close flushes and releases the underlying file.
func (m *Manifest) Close() error {
	return m.writer.Close()
}

func (m *Manifest) String() string {
	return m.writer.String()
}

// clean keeps quoted LLVM names from breaking the column layout. Backslashes
// are escaped as well, so an escaped tab never reads like a real one.
func clean(s string) string {
	return strings.NewReplacer(`\`, `\\`, "\t", `\t`, "\n", `\n`).Replace(s)
}

type lineWriter interface {
	WriteLine(s string) error
	Close() error
	String() string
}

type fileWriter struct {
	f *os.File
	w *bufio.Writer
}

func newFileWriter(path string) (*fileWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &fileWriter{f: f, w: bufio.NewWriter(f)}, nil
}

func (w *fileWriter) WriteLine(s string) error {
	if _, err := w.w.WriteString(s); err != nil {
		return err
	}
	return w.w.WriteByte('\n')
}

func (w *fileWriter) Close() error {
	if err := w.w.Flush(); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}

func (*fileWriter) String() string {
	return ""
}

type memoryWriter struct {
	b strings.Builder
}

func (w *memoryWriter) WriteLine(s string) error {
	w.b.WriteString(s)
	w.b.WriteByte('\n')
	return nil
}

func (*memoryWriter) Close() error {
	return nil
}

func (w *memoryWriter) String() string {
	return w.b.String()
}
