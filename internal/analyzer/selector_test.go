package analyzer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SuryaSriramD/CodeAgentTool/internal/config"
)

func writeTree(t *testing.T, root string, files ...string) {
	t.Helper()
	for _, f := range files {
		p := filepath.Join(root, filepath.FromSlash(f))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
	}
}

func TestScanInventory(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root,
		"app/main.py",
		"app/requirements-dev.txt",
		"web/package.json",
		"web/node_modules/lib/index.js",
		".git/config",
		".hidden.py",
		"docs/logo.png",
		"svc/Api.csproj",
		".gitignore",
	)

	inv, err := Scan(root)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{
		".gitignore",
		"app/main.py",
		"app/requirements-dev.txt",
		"svc/Api.csproj",
		"web/package.json",
	}, inv.Files)
	assert.Equal(t, []string{"app/requirements-dev.txt", "svc/Api.csproj", "web/package.json"}, inv.Manifests)
	assert.True(t, inv.HasExtension(".py"))
	assert.False(t, inv.HasExtension(".js"), "node_modules must not be walked")
	assert.False(t, inv.HasExtension(".png"))
	assert.Equal(t, []string{"web/package.json"}, inv.ManifestsNamed("package.json"))
}

func TestSelect(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "main.py", "requirements.txt")
	inv, err := Scan(root)
	require.NoError(t, err)

	tc := Toolchain{}
	reg := newTestRegistry(t, NewBandit(tc), NewSemgrep(tc), NewDepcheck(tc), &fakeAnalyzer{name: "never"})
	defaults := []string{"bandit", "semgrep", "depcheck"}

	tests := []struct {
		name      string
		requested []string
		settings  config.AnalyzerSettings
		want      []string
	}{
		{
			name:     "empty request uses defaults",
			settings: config.AnalyzerSettings{Defaults: defaults},
			want:     []string{"bandit", "semgrep", "depcheck"},
		},
		{
			name:      "allow list narrows",
			requested: []string{"bandit", "semgrep"},
			settings:  config.AnalyzerSettings{Defaults: defaults, Allowed: []string{"semgrep"}},
			want:      []string{"semgrep"},
		},
		{
			name:      "unknown names dropped",
			requested: []string{"gosec", "bandit"},
			settings:  config.AnalyzerSettings{Defaults: defaults},
			want:      []string{"bandit"},
		},
		{
			name:      "inapplicable dropped",
			requested: []string{"never", "depcheck"},
			settings:  config.AnalyzerSettings{Defaults: defaults},
			want:      []string{"depcheck"},
		},
		{
			name:      "duplicates collapse",
			requested: []string{"bandit", "bandit"},
			settings:  config.AnalyzerSettings{Defaults: defaults},
			want:      []string{"bandit"},
		},
		{
			name:      "nothing allowed",
			requested: []string{"bandit"},
			settings:  config.AnalyzerSettings{Allowed: []string{"semgrep"}},
			want:      []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Select(tt.requested, inv, reg, tt.settings))
		})
	}
}

func TestSelectSkipsPythonToolsForGoOnlyTree(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "cmd/main.go")
	inv, err := Scan(root)
	require.NoError(t, err)

	tc := Toolchain{}
	reg := newTestRegistry(t, NewBandit(tc), NewSemgrep(tc), NewDepcheck(tc))

	got := Select(nil, inv, reg, config.AnalyzerSettings{Defaults: []string{"bandit", "semgrep", "depcheck"}})
	assert.Equal(t, []string{"semgrep"}, got)
}

func TestRelativePath(t *testing.T) {
	tests := []struct {
		in, workspace, want string
	}{
		{"/ws/a/b.py", "/ws", "a/b.py"},
		{"/scan/a/b.py", "/ws", "a/b.py"},
		{"/scan", "/ws", "."},
		{"./a/b.py", "/ws", "a/b.py"},
		{"a/b.py", "/ws", "a/b.py"},
		{"/other/b.py", "/ws", "/other/b.py"},
		{"/ws2/b.py", "/ws", "/ws2/b.py"},
		{"", "/ws", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, RelativePath(tt.in, tt.workspace))
		})
	}
}
