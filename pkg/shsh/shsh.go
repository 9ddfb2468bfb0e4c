// Package shsh manages the on-disk SHSH ticket cache: gzip-compressed
// property lists keyed by device ECID, product, version and build.
package shsh

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Trsvsr/idevicererestore/pkg/ticket"
)

// Filename returns the cache filename for a ticket, following the
// <ECID>-<product>-<version>-<build>.shsh template.
func Filename(ecid uint64, product, version, build string) string {
	return fmt.Sprintf("%d-%s-%s-%s.shsh", ecid, product, version, build)
}

// Path returns the full cache path for a ticket under cacheDir.
func Path(cacheDir string, ecid uint64, product, version, build string) string {
	return filepath.Join(cacheDir, "shsh", Filename(ecid, product, version, build))
}

// Load reads and decodes a cached ticket, returning an error if the
// file does not exist or fails to decode.
func Load(cacheDir string, ecid uint64, product, version, build string) (ticket.Ticket, error) {
	data, err := os.ReadFile(Path(cacheDir, ecid, product, version, build))
	if err != nil {
		return nil, err
	}
	return ticket.GunzipUnmarshal(data)
}

// Save writes t to the cache, creating <cacheDir>/shsh if needed. It is
// a no-op if the destination file already exists.
func Save(cacheDir string, ecid uint64, product, version, build string, t ticket.Ticket) error {
	dir := filepath.Join(cacheDir, "shsh")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create shsh cache dir: %w", err)
	}

	dst := filepath.Join(dir, Filename(ecid, product, version, build))
	if _, err := os.Stat(dst); err == nil {
		return nil
	}

	data, err := t.GzipMarshal()
	if err != nil {
		return fmt.Errorf("failed to serialize ticket: %w", err)
	}
	return os.WriteFile(dst, data, 0o644)
}
