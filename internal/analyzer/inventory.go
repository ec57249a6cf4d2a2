package analyzer

import (
	"io/fs"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Inventory summarises what a workspace contains.
type Inventory struct {
	Root string
	// Extensions holds lower-cased file extensions including the dot.
	Extensions map[string]struct{}
	// Files are slash-separated paths relative to Root.
	Files []string
	// Manifests are the dependency manifests among Files.
	Manifests []string
}

var inventoryIgnoredDirs = map[string]struct{}{
	".git": {}, ".svn": {}, ".hg": {}, ".bzr": {},
	"node_modules": {}, "bower_components": {},
	"__pycache__": {}, ".pytest_cache": {}, "venv": {}, ".venv": {}, "env": {}, ".env": {},
	"target": {}, "build": {}, "dist": {}, "out": {},
	".idea": {}, ".vscode": {}, ".vs": {},
	"vendor": {},
	"tmp": {}, "temp": {}, "cache": {}, ".cache": {},
	"logs": {}, "log": {},
}

var inventoryIgnoredExts = map[string]struct{}{
	".pyc": {}, ".pyo": {}, ".pyd": {},
	".class": {}, ".jar": {},
	".o": {}, ".so": {}, ".dll": {}, ".dylib": {},
	".exe": {}, ".bin": {},
	".zip": {}, ".tar": {}, ".gz": {}, ".bz2": {}, ".xz": {},
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".bmp": {}, ".svg": {},
	".mp3": {}, ".mp4": {}, ".avi": {}, ".mov": {}, ".wmv": {},
	".pdf": {}, ".doc": {}, ".docx": {}, ".xls": {}, ".xlsx": {},
	".log": {}, ".tmp": {}, ".temp": {}, ".cache": {},
}

// manifestPatterns are matched against base names.
var manifestPatterns = []string{
	// Python
	"requirements.txt", "requirements-*.txt", "Pipfile", "pyproject.toml", "setup.py",
	// JavaScript
	"package.json", "package-lock.json", "yarn.lock", "npm-shrinkwrap.json",
	// Java
	"pom.xml", "build.gradle", "build.gradle.kts", "gradle.properties",
	// .NET
	"*.csproj", "*.fsproj", "*.vbproj", "packages.config", "*.sln",
	// Go
	"go.mod", "go.sum", "Gopkg.toml", "Gopkg.lock",
	// Ruby
	"Gemfile", "Gemfile.lock", "*.gemspec",
	// PHP
	"composer.json", "composer.lock",
	// Rust
	"Cargo.toml", "Cargo.lock",
}

// Scan walks root and builds its Inventory. Ignored and hidden directories
// are not descended into.
func Scan(root string) (*Inventory, error) {
	inv := &Inventory{
		Root:       root,
		Extensions: make(map[string]struct{}),
	}
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != root && ignoredDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || ignoredFile(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		inv.Files = append(inv.Files, rel)
		if ext := strings.ToLower(filepath.Ext(d.Name())); ext != "" {
			inv.Extensions[ext] = struct{}{}
		}
		if IsManifest(d.Name()) {
			inv.Manifests = append(inv.Manifests, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(inv.Files)
	sort.Strings(inv.Manifests)
	return inv, nil
}

// HasExtension reports whether any file carries one of exts.
func (inv *Inventory) HasExtension(exts ...string) bool {
	if inv == nil {
		return false
	}
	for _, e := range exts {
		if _, ok := inv.Extensions[e]; ok {
			return true
		}
	}
	return false
}

// ManifestsNamed returns manifests whose base name matches pattern.
func (inv *Inventory) ManifestsNamed(pattern string) []string {
	var out []string
	for _, m := range inv.Manifests {
		if ok, _ := doublestar.Match(pattern, path.Base(m)); ok {
			out = append(out, m)
		}
	}
	return out
}

// IsManifest reports whether name is a known dependency manifest.
func IsManifest(name string) bool {
	for _, p := range manifestPatterns {
		if ok, _ := doublestar.Match(p, name); ok {
			return true
		}
	}
	return false
}

func ignoredDir(name string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	_, ok := inventoryIgnoredDirs[strings.ToLower(name)]
	return ok
}

func ignoredFile(name string) bool {
	if strings.HasPrefix(name, ".") && name != ".gitignore" && name != ".dockerignore" {
		return true
	}
	_, ok := inventoryIgnoredExts[strings.ToLower(filepath.Ext(name))]
	return ok
}
