package harness

import (
	"os"
	"path/filepath"
	"slices"
	"testing"

	yaml "gopkg.in/yaml.v3"

	"github.com/stretchr/testify/require"

	"github.com/715d/cfvhints/pkg/cfvhints"
)

// LoadTestCase loads a test case from a directory with a specified testdata root.
func LoadTestCase(t *testing.T, dir, root string) *TestCase {
	t.Helper()
	yamlPath := filepath.Join(dir, "expected.yaml")

	tc := &TestCase{}
	data, err := os.ReadFile(yamlPath)
	require.NoError(t, err)
	err = yaml.Unmarshal(data, tc)
	require.NoError(t, err)

	// Use relative path from testdata root if provided.
	if root != "" {
		relPath, err := filepath.Rel(root, dir)
		if err != nil {
			tc.Dir = filepath.Base(dir)
		} else {
			tc.Dir = relPath
		}
		return tc
	}

	tc.Dir = filepath.Base(dir)
	return tc
}

// InputFiles returns the .ll files of dir in name order.
func InputFiles(t *testing.T, dir string) []string {
	t.Helper()
	files, err := filepath.Glob(filepath.Join(dir, "*.ll"))
	require.NoError(t, err)
	require.NotEmpty(t, files, "no .ll files in %s", dir)
	slices.Sort(files)
	return files
}

// LoadUnits parses the input program of dir. Unit paths are file names, so
// expectations do not depend on where the testdata lives.
func LoadUnits(t *testing.T, dir string) []*cfvhints.Unit {
	t.Helper()
	files := InputFiles(t, dir)
	units, err := cfvhints.LoadModules(t.Context(), cfvhints.LoaderOptions{Paths: files})
	require.NoError(t, err)
	for _, u := range units {
		u.Path = filepath.Base(u.Path)
	}
	return units
}

// Reparse parses the printed form of every unit.
func Reparse(t *testing.T, units []*cfvhints.Unit) []*cfvhints.Unit {
	t.Helper()
	out := make([]*cfvhints.Unit, 0, len(units))
	for _, u := range units {
		again, err := cfvhints.ParseUnit(u.Path, []byte(u.String()))
		require.NoError(t, err, "printed module %s does not parse", u.Path)
		out = append(out, again)
	}
	return out
}
