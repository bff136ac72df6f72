package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/715d/cfvhints/internal/passes"
)

var sampleRows = []Row{
	{
		Module: "a.ll",
		Record: passes.Record{Pass: passes.IBranchPassName, Func: "interp", FID: 0, Site: 0, Kind: passes.IndirectBranch, Block: "%dispatch"},
	},
	{
		Module: "a.ll",
		Record: passes.Record{Pass: passes.ICallPassName, Func: "main", FID: 1, Site: 1, Kind: passes.IndirectInvoke, Block: "%3"},
	},
}

func TestManifest_InMemory(t *testing.T) {
	m := newInMemory("cfvhints-test")
	for _, r := range sampleRows {
		require.NoError(t, m.Write(r))
	}
	require.Equal(t, 2, m.Rows())
	require.NoError(t, m.Close())

	want := strings.Join([]string{
		"# format = cfvhints-manifest/1",
		"# instrumentor = cfvhints-test",
		Header,
		"a.ll\tcollect-ibranch-hints-pass\tinterp\t0\t0\tibranch\t%dispatch",
		"a.ll\tcollect-icall-hints-pass\tmain\t1\t1\tiinvoke\t%3",
		"",
	}, "\n")
	require.Equal(t, want, m.String())
}

func TestManifest_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sites.tsv")
	m, err := Create(path, "cfvhints")
	require.NoError(t, err)
	require.Equal(t, path, m.Path)
	for _, r := range sampleRows {
		require.NoError(t, m.Write(r))
	}
	require.NoError(t, m.Close())
	require.Empty(t, m.String())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	require.Len(t, lines, 5)
	require.Equal(t, Header, lines[2])
	require.Equal(t, "a.ll\tcollect-icall-hints-pass\tmain\t1\t1\tiinvoke\t%3", lines[4])
}

func TestManifest_CreateFails(t *testing.T) {
	_, err := Create(filepath.Join(t.TempDir(), "missing", "sites.tsv"), "cfvhints")
	require.ErrorContains(t, err, "create manifest")
}

func TestManifest_EscapesNames(t *testing.T) {
	m := newInMemory("t")
	require.NoError(t, m.Write(Row{Module: "m.ll", Record: passes.Record{
		Pass: passes.ICallPassName, Func: "odd\tname", Kind: passes.IndirectCall, Block: "%entry",
	}}))
	lines := strings.Split(strings.TrimSpace(m.String()), "\n")
	require.Len(t, strings.Split(lines[len(lines)-1], "\t"), 7)
	require.Contains(t, lines[len(lines)-1], `odd\tname`)
}

func TestClean(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "dispatch", "dispatch"},
		{"real tab", "a\tb", `a\tb`},
		{"escaped tab text", `a\tb`, `a\\tb`},
		{"newline", "a\nb", `a\nb`},
		{"backslash", `a\b`, `a\\b`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, clean(tt.in))
		})
	}
	require.NotEqual(t, clean("a\tb"), clean(`a\tb`))
}
