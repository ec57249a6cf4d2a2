package source

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SuryaSriramD/CodeAgentTool/internal/config"
)

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(files[name]))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func listFiles(t *testing.T, root string) []string {
	t.Helper()
	var out []string
	require.NoError(t, filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			rel, _ := filepath.Rel(root, p)
			out = append(out, filepath.ToSlash(rel))
		}
		return nil
	}))
	sort.Strings(out)
	return out
}

func TestExtractZipFlattensSingleTopDir(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "job")
	data := buildZip(t, map[string]string{
		"project-main/app.py":           "print(1)",
		"project-main/pkg/util.py":      "x = 1",
		"project-main/requirements.txt": "flask==2.0",
	})

	ws, err := ExtractZip(data, dest)
	require.NoError(t, err)
	assert.Equal(t, dest, ws.Path)
	assert.Equal(t, []string{"app.py", "pkg/util.py", "requirements.txt"}, listFiles(t, dest))
}

func TestExtractZipKeepsMultipleTopEntries(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "job")
	data := buildZip(t, map[string]string{
		"a/one.py": "",
		"b.py":     "",
	})

	_, err := ExtractZip(data, dest)
	require.NoError(t, err)
	assert.Equal(t, []string{"a/one.py", "b.py"}, listFiles(t, dest))
}

func TestExtractZipRejectsUnsafePaths(t *testing.T) {
	for _, name := range []string{"../evil.py", "/etc/passwd", "ok/../../evil.py", `..\evil.py`} {
		t.Run(name, func(t *testing.T) {
			dest := filepath.Join(t.TempDir(), "job")
			_, err := ExtractZip(buildZip(t, map[string]string{name: "x", "fine.py": "y"}), dest)
			require.Error(t, err)
			var fe *FetchError
			assert.True(t, errors.As(err, &fe))
			_, statErr := os.Stat(dest)
			assert.True(t, os.IsNotExist(statErr), "nothing is written for a rejected archive")
		})
	}
}

func TestExtractZipRejectsGarbage(t *testing.T) {
	_, err := ExtractZip([]byte("not a zip"), filepath.Join(t.TempDir(), "job"))
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "reading zip archive", fe.Op)
}

func TestMaterializeArchiveCleansUpOnFailure(t *testing.T) {
	root := t.TempDir()
	f := NewFetcher(root, &config.Config{}, nil)

	_, err := f.Materialize(context.Background(), Spec{Kind: KindArchive, Archive: []byte("bad")}, "job-1")
	require.Error(t, err)
	_, statErr := os.Stat(f.WorkspacePath("job-1"))
	assert.True(t, os.IsNotExist(statErr))

	ws, err := f.Materialize(context.Background(), Spec{Kind: KindArchive, Archive: buildZip(t, map[string]string{"x.py": ""})}, "job-2")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "job-2"), ws.Path)

	require.NoError(t, f.Cleanup("job-2"))
	_, statErr = os.Stat(ws.Path)
	assert.True(t, os.IsNotExist(statErr))
	assert.NoError(t, f.Cleanup("job-2"), "cleanup is idempotent")
	assert.Error(t, f.Cleanup("../x"))
}

func TestMaterializeGitOutsideAllowList(t *testing.T) {
	f := NewFetcher(t.TempDir(), &config.Config{}, func() []string { return []string{"https://github.com/acme/"} })

	_, err := f.Materialize(context.Background(), Spec{Kind: KindGit, URL: "https://gitlab.com/other/repo"}, "job-1")
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Contains(t, err.Error(), "not in the allow list")
}

func TestCheckAllowed(t *testing.T) {
	allow := []string{"https://github.com/", "https://git.internal/"}
	assert.NoError(t, CheckAllowed("https://github.com/o/r", allow))
	assert.NoError(t, CheckAllowed("https://git.internal/team/r.git", allow))
	assert.Error(t, CheckAllowed("https://gitlab.com/o/r", allow))
	assert.Error(t, CheckAllowed("https://github.com/o/r", nil))
	assert.Error(t, CheckAllowed("https://github.com/o/r", []string{""}))
}

func TestFetchErrorMessage(t *testing.T) {
	assert.Equal(t, "git clone timed out", (&FetchError{Op: "git clone", Err: context.DeadlineExceeded}).Error())
	err := &FetchError{Op: "git clone", Err: errors.New("repository not found")}
	assert.Equal(t, "git clone: repository not found", err.Error())
	assert.ErrorIs(t, &FetchError{Op: "x", Err: context.Canceled}, context.Canceled)
}

func TestTokenFor(t *testing.T) {
	f := NewFetcher(t.TempDir(), &config.Config{Git: config.GitConfig{
		GitHub: []config.GitHubConfig{{Token: "gh-token"}},
		GitLab: []config.GitLabConfig{{Token: "gl-token", Host: "gitlab.corp.io"}},
	}}, nil)

	assert.Equal(t, "gh-token", f.tokenFor("https://github.com/o/r"))
	assert.Equal(t, "gl-token", f.tokenFor("https://gitlab.corp.io/g/r"))
	assert.Empty(t, f.tokenFor("https://bitbucket.org/o/r"))
}

func TestSplitRepoURL(t *testing.T) {
	host, owner, name, err := splitRepoURL("https://GitHub.com/acme/api.git")
	require.NoError(t, err)
	assert.Equal(t, "github.com", host)
	assert.Equal(t, "acme", owner)
	assert.Equal(t, "api", name)

	_, owner, name, err = splitRepoURL("https://gitlab.com/group/sub/proj")
	require.NoError(t, err)
	assert.Equal(t, "group/sub", owner)
	assert.Equal(t, "proj", name)

	_, _, _, err = splitRepoURL("https://github.com/only")
	assert.Error(t, err)
}

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
}

func TestSanitizeRemovesIgnoredContent(t *testing.T) {
	ws := t.TempDir()
	writeFiles(t, ws, map[string]string{
		"app.py":                   "print(1)",
		"README.md":                "# hi",
		".gitignore":               "*.pyc",
		".env.example":             "KEY=",
		".secret":                  "x",
		"logo.PNG":                 "png",
		"pkg/mod.pyc":              "bytecode",
		"node_modules/lib/i.js":    "x",
		"node_modules/lib/j.js":    "y",
		".github/workflows/ci.yml": "on: push",
		"Build/out.js":             "z",
	})

	stats, err := NewSanitizer(0, 0).Sanitize(ws, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{".env.example", ".gitignore", "README.md", "app.py"}, listFiles(t, ws))
	assert.Equal(t, 11, stats.FilesBefore)
	assert.Equal(t, 4, stats.FilesAfter)
	assert.Equal(t, 7, stats.FilesRemoved)
	assert.Equal(t, 3, stats.DirsRemoved)
}

func TestSanitizeIncludeExclude(t *testing.T) {
	ws := t.TempDir()
	writeFiles(t, ws, map[string]string{
		"src/a.py":           "",
		"src/deep/b.py":      "",
		"src/deep/c.js":      "",
		"tests/test_a.py":    "",
		"src/deep/test_b.py": "",
	})

	_, err := NewSanitizer(0, 0).Sanitize(ws, []string{"src/**/*.py"}, []string{"**/test_*.py"})
	require.NoError(t, err)
	assert.Equal(t, []string{"src/a.py", "src/deep/b.py"}, listFiles(t, ws))
}

func TestSanitizeSingleStarDoesNotCrossDirectories(t *testing.T) {
	ws := t.TempDir()
	writeFiles(t, ws, map[string]string{"a.py": "", "sub/b.py": ""})

	_, err := NewSanitizer(0, 0).Sanitize(ws, []string{"*.py"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.py"}, listFiles(t, ws))
}

func TestSanitizeFileLimitsKeepSmallest(t *testing.T) {
	ws := t.TempDir()
	writeFiles(t, ws, map[string]string{
		"big.py":    strings.Repeat("x", 300),
		"medium.py": strings.Repeat("x", 200),
		"small.py":  strings.Repeat("x", 10),
		"tiny.py":   "x",
		"huge.py":   strings.Repeat("x", 2000),
	})

	stats, err := NewSanitizer(1000, 3).Sanitize(ws, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"medium.py", "small.py", "tiny.py"}, listFiles(t, ws))
	assert.Equal(t, 3, stats.FilesAfter)
	assert.Equal(t, 2, stats.FilesRemoved)
}

func TestSanitizeErrors(t *testing.T) {
	s := NewSanitizer(0, 0)
	_, err := s.Sanitize(filepath.Join(t.TempDir(), "missing"), nil, nil)
	assert.Error(t, err)

	_, err = s.Sanitize(t.TempDir(), []string{"src/[unclosed"}, nil)
	assert.Error(t, err)
}

func TestNewFetcherHonoursCloneTimeout(t *testing.T) {
	f := NewFetcher(t.TempDir(), &config.Config{Fetch: config.FetchConfig{CloneTimeout: time.Minute}}, nil)
	assert.Equal(t, time.Minute, f.cloneTimeout)
	assert.Nil(t, f.resolver)
}
