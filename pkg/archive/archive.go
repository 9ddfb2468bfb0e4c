// Package archive reads individual members out of local IPSW zip
// archives, in memory or to a destination file, without flattening
// the archive's directory structure the way utils.Unzip does.
package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
)

// OpenLocal opens a local zip archive for random-access member reads.
func OpenLocal(p string) (*zip.ReadCloser, error) {
	zr, err := zip.OpenReader(p)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive %s: %w", p, err)
	}
	return zr, nil
}

func find(files []*zip.File, name string) (*zip.File, bool) {
	for _, f := range files {
		if f.Name == name || path.Clean(f.Name) == path.Clean(name) {
			return f, true
		}
	}
	return nil, false
}

// ReadFile reads the full contents of the archive member at name.
func ReadFile(files []*zip.File, name string) ([]byte, error) {
	f, ok := find(files, name)
	if !ok {
		return nil, fmt.Errorf("archive member %s not found", name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open archive member %s: %w", name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive member %s: %w", name, err)
	}
	return data, nil
}

// Size returns the uncompressed size of the archive member at name.
func Size(files []*zip.File, name string) (uint64, bool) {
	f, ok := find(files, name)
	if !ok {
		return 0, false
	}
	return f.UncompressedSize64, true
}

// ExtractToFile writes the archive member at name to dest, creating
// parent directories as needed, and returns the number of bytes
// written.
func ExtractToFile(files []*zip.File, name, dest string) (int64, error) {
	f, ok := find(files, name)
	if !ok {
		return 0, fmt.Errorf("archive member %s not found", name)
	}
	rc, err := f.Open()
	if err != nil {
		return 0, fmt.Errorf("failed to open archive member %s: %w", name, err)
	}
	defer rc.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, err
	}
	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, err
	}
	defer out.Close()

	return io.Copy(out, rc)
}

// FindMatch returns the name of the first archive member whose path
// matches pattern under path.Match rules, searching the base name of
// each entry.
func FindMatch(files []*zip.File, pattern string) (string, bool) {
	for _, f := range files {
		ok, err := path.Match(pattern, path.Base(f.Name))
		if err == nil && ok {
			return f.Name, true
		}
	}
	return "", false
}
