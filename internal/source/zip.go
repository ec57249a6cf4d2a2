package source

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ExtractZip unpacks an uploaded archive into dest. Entries with absolute
// paths or ".." segments reject the whole archive. When everything sits under
// a single top-level directory its contents are moved up to dest.
func ExtractZip(data []byte, dest string) (Workspace, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Workspace{}, &FetchError{Op: "reading zip archive", Err: err}
	}

	for _, f := range zr.File {
		if unsafeEntry(f.Name) {
			return Workspace{}, &FetchError{Op: "extracting zip archive", Err: fmt.Errorf("unsafe path in archive: %s", f.Name)}
		}
	}

	if err := os.MkdirAll(dest, 0o750); err != nil {
		return Workspace{}, &FetchError{Op: "creating workspace", Err: err}
	}

	slog.Info("Extracting zip archive", "entries", len(zr.File), "dest", dest)
	for _, f := range zr.File {
		if err := extractEntry(f, dest); err != nil {
			return Workspace{}, &FetchError{Op: "extracting zip archive", Err: err}
		}
	}

	if err := flattenSingleDir(dest); err != nil {
		return Workspace{}, &FetchError{Op: "flattening zip archive", Err: err}
	}
	return Workspace{Path: dest}, nil
}

func unsafeEntry(name string) bool {
	name = strings.ReplaceAll(name, `\`, "/")
	if path.IsAbs(name) || filepath.IsAbs(name) || filepath.VolumeName(name) != "" {
		return true
	}
	for _, seg := range strings.Split(name, "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}

func extractEntry(f *zip.File, dest string) error {
	target := filepath.Join(dest, filepath.FromSlash(strings.ReplaceAll(f.Name, `\`, "/")))
	if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) && target != filepath.Clean(dest) {
		return fmt.Errorf("entry %s escapes workspace", f.Name)
	}

	if f.FileInfo().IsDir() {
		return os.MkdirAll(target, 0o750)
	}
	// Symlinks and other special entries are skipped.
	if !f.Mode().IsRegular() {
		slog.Debug("Skipping non-regular archive entry", "name", f.Name)
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return err
	}

	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func flattenSingleDir(dest string) error {
	entries, err := os.ReadDir(dest)
	if err != nil {
		return err
	}
	if len(entries) != 1 || !entries[0].IsDir() {
		return nil
	}

	top := filepath.Join(dest, entries[0].Name())
	children, err := os.ReadDir(top)
	if err != nil {
		return err
	}
	// A child sharing the top directory's name would collide on rename.
	staging := top + ".flatten"
	if err := os.Rename(top, staging); err != nil {
		return err
	}
	for _, c := range children {
		if err := os.Rename(filepath.Join(staging, c.Name()), filepath.Join(dest, c.Name())); err != nil {
			return err
		}
	}
	if err := os.Remove(staging); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
