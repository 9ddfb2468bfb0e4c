package archive

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func buildTestZip(t *testing.T) []*zip.File {
	t.Helper()
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "test.ipsw")

	f, err := os.Create(zipPath)
	if err != nil {
		t.Fatalf("failed to create temp zip: %v", err)
	}
	zw := zip.NewWriter(f)
	entries := map[string]string{
		"BuildManifest.plist":          "plist-body",
		"Firmware/dfu/iBEC.n90ap.RELEASE.dfu": "ibec-body",
	}
	for name, body := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zw.Create(%s): %v", name, err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zw.Close(): %v", err)
	}
	f.Close()

	zr, err := OpenLocal(zipPath)
	if err != nil {
		t.Fatalf("OpenLocal() error = %v", err)
	}
	t.Cleanup(func() { zr.Close() })
	return zr.File
}

func TestReadFile(t *testing.T) {
	files := buildTestZip(t)
	data, err := ReadFile(files, "BuildManifest.plist")
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !bytes.Equal(data, []byte("plist-body")) {
		t.Errorf("ReadFile() = %q, want %q", data, "plist-body")
	}

	if _, err := ReadFile(files, "NoSuchFile.plist"); err == nil {
		t.Errorf("ReadFile() on missing member expected error, got nil")
	}
}

func TestSize(t *testing.T) {
	files := buildTestZip(t)
	size, ok := Size(files, "BuildManifest.plist")
	if !ok || size != uint64(len("plist-body")) {
		t.Errorf("Size() = %d, %v, want %d, true", size, ok, len("plist-body"))
	}
	if _, ok := Size(files, "NoSuchFile.plist"); ok {
		t.Errorf("Size() on missing member ok = true, want false")
	}
}

func TestExtractToFile(t *testing.T) {
	files := buildTestZip(t)
	dest := filepath.Join(t.TempDir(), "nested", "out.dfu")

	n, err := ExtractToFile(files, "Firmware/dfu/iBEC.n90ap.RELEASE.dfu", dest)
	if err != nil {
		t.Fatalf("ExtractToFile() error = %v", err)
	}
	if n != int64(len("ibec-body")) {
		t.Errorf("ExtractToFile() wrote %d bytes, want %d", n, len("ibec-body"))
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("reading extracted file: %v", err)
	}
	if !bytes.Equal(got, []byte("ibec-body")) {
		t.Errorf("extracted content = %q, want %q", got, "ibec-body")
	}
}

func TestFindMatch(t *testing.T) {
	files := buildTestZip(t)
	name, ok := FindMatch(files, "iBEC.*.dfu")
	if !ok || name != "Firmware/dfu/iBEC.n90ap.RELEASE.dfu" {
		t.Errorf("FindMatch() = %q, %v, want the iBEC entry", name, ok)
	}
	if _, ok := FindMatch(files, "iBSS.*.dfu"); ok {
		t.Errorf("FindMatch() for absent pattern ok = true, want false")
	}
}
