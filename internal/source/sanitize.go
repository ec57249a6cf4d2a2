package source

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

const (
	DefaultMaxFileBytes = 20 << 20
	DefaultMaxFiles     = 10000
)

var sanitizeIgnoredDirs = map[string]struct{}{
	".git": {}, ".svn": {}, ".hg": {}, ".bzr": {},
	"node_modules": {}, "bower_components": {}, "vendor": {},
	"__pycache__": {}, ".pytest_cache": {}, "venv": {}, ".venv": {}, "env": {}, ".env": {},
	"target": {}, "build": {}, "dist": {}, "out": {}, "bin": {}, "obj": {},
	".idea": {}, ".vscode": {}, ".vs": {}, ".eclipse": {},
	"tmp": {}, "temp": {}, "cache": {}, ".cache": {}, ".tmp": {},
	"logs": {}, "log": {},
}

var sanitizeIgnoredFiles = []string{
	"*.pyc", "*.pyo", "*.pyd", "*.class", "*.jar", "*.war", "*.ear",
	"*.o", "*.so", "*.dll", "*.dylib", "*.a", "*.lib",
	"*.exe", "*.bin", "*.app",
	"*.zip", "*.tar", "*.gz", "*.bz2", "*.xz", "*.rar", "*.7z",
	"*.jpg", "*.jpeg", "*.png", "*.gif", "*.bmp", "*.svg", "*.ico",
	"*.mp3", "*.mp4", "*.avi", "*.mov", "*.wmv", "*.flv",
	"*.pdf", "*.doc", "*.docx", "*.xls", "*.xlsx", "*.ppt", "*.pptx",
	"*.tmp", "*.temp", "*.bak", "*.backup", "*~", "*.swp", "*.swo",
	".ds_store", "thumbs.db", "desktop.ini",
}

var keptHiddenFiles = map[string]struct{}{
	".gitignore": {}, ".dockerignore": {}, ".env.example": {},
}

// Stats describes what a sanitize pass removed.
type Stats struct {
	FilesBefore  int   `json:"files_before"`
	FilesAfter   int   `json:"files_after"`
	DirsRemoved  int   `json:"dirs_removed"`
	FilesRemoved int   `json:"files_removed"`
	BytesRemoved int64 `json:"bytes_removed"`
}

// Sanitizer prunes a workspace down to the source files worth analyzing.
type Sanitizer struct {
	MaxFileBytes int64
	MaxFiles     int
}

// NewSanitizer applies defaults to non-positive limits.
func NewSanitizer(maxFileBytes int64, maxFiles int) *Sanitizer {
	if maxFileBytes <= 0 {
		maxFileBytes = DefaultMaxFileBytes
	}
	if maxFiles <= 0 {
		maxFiles = DefaultMaxFiles
	}
	return &Sanitizer{MaxFileBytes: maxFileBytes, MaxFiles: maxFiles}
}

type keptFile struct {
	path string
	rel  string
	size int64
}

// Sanitize removes ignored directories and files, applies include and
// exclude globs to workspace-relative paths, and keeps at most MaxFiles of
// the smallest remaining files. An empty include list keeps everything.
func (s *Sanitizer) Sanitize(workspace string, include, exclude []string) (Stats, error) {
	var stats Stats
	info, err := os.Stat(workspace)
	if err != nil {
		return stats, fmt.Errorf("workspace %s: %w", workspace, err)
	}
	if !info.IsDir() {
		return stats, fmt.Errorf("workspace %s is not a directory", workspace)
	}
	for _, p := range append(append([]string{}, include...), exclude...) {
		if !doublestar.ValidatePattern(p) {
			return stats, fmt.Errorf("invalid glob pattern %q", p)
		}
	}

	var files []keptFile
	remove := func(p string, size int64, reason string) {
		if err := os.Remove(p); err != nil {
			slog.Warn("Failed to remove file", "path", p, "error", err)
			return
		}
		slog.Debug("Removed file", "path", p, "reason", reason)
		stats.FilesRemoved++
		stats.BytesRemoved += size
	}

	err = filepath.WalkDir(workspace, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == workspace {
			return nil
		}
		if d.IsDir() {
			if s.ignoredDir(d.Name()) {
				n, size := countTree(p)
				if err := os.RemoveAll(p); err != nil {
					slog.Warn("Failed to remove directory", "path", p, "error", err)
					return filepath.SkipDir
				}
				stats.DirsRemoved++
				stats.FilesBefore += n
				stats.FilesRemoved += n
				stats.BytesRemoved += size
				return filepath.SkipDir
			}
			return nil
		}

		stats.FilesBefore++
		fi, err := d.Info()
		if err != nil {
			remove(p, 0, "unreadable")
			return nil
		}
		if !fi.Mode().IsRegular() {
			remove(p, 0, "not a regular file")
			return nil
		}
		if s.ignoredFile(d.Name()) {
			remove(p, fi.Size(), "ignored")
			return nil
		}
		if fi.Size() > s.MaxFileBytes {
			remove(p, fi.Size(), "too large")
			return nil
		}

		rel, err := filepath.Rel(workspace, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if !keepPath(rel, include, exclude) {
			remove(p, fi.Size(), "filtered")
			return nil
		}
		files = append(files, keptFile{path: p, rel: rel, size: fi.Size()})
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("sanitizing %s: %w", workspace, err)
	}

	if s.MaxFiles > 0 && len(files) > s.MaxFiles {
		sort.SliceStable(files, func(i, j int) bool {
			if files[i].size != files[j].size {
				return files[i].size < files[j].size
			}
			return files[i].rel < files[j].rel
		})
		for _, f := range files[s.MaxFiles:] {
			remove(f.path, f.size, "file limit")
		}
		slog.Info("Enforced file limit", "kept", s.MaxFiles, "dropped", len(files)-s.MaxFiles)
		files = files[:s.MaxFiles]
	}

	stats.FilesAfter = len(files)
	slog.Info("Workspace sanitized",
		"path", workspace,
		"files_before", stats.FilesBefore,
		"files_after", stats.FilesAfter,
		"dirs_removed", stats.DirsRemoved,
	)
	return stats, nil
}

func (s *Sanitizer) ignoredDir(name string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	_, ok := sanitizeIgnoredDirs[strings.ToLower(name)]
	return ok
}

func (s *Sanitizer) ignoredFile(name string) bool {
	lower := strings.ToLower(name)
	for _, pattern := range sanitizeIgnoredFiles {
		if ok, _ := doublestar.Match(pattern, lower); ok {
			return true
		}
	}
	if strings.HasPrefix(name, ".") {
		_, keep := keptHiddenFiles[name]
		return !keep
	}
	return false
}

func keepPath(rel string, include, exclude []string) bool {
	if len(include) > 0 && !matchAny(include, rel) {
		return false
	}
	return !matchAny(exclude, rel)
}

func matchAny(patterns []string, rel string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

func countTree(root string) (int, int64) {
	var (
		n    int
		size int64
	)
	_ = filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		n++
		if fi, err := d.Info(); err == nil {
			size += fi.Size()
		}
		return nil
	})
	return n, size
}
