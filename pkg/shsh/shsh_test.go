package shsh

import (
	"os"
	"testing"

	"github.com/Trsvsr/idevicererestore/pkg/ticket"
)

func TestFilenameTemplate(t *testing.T) {
	got := Filename(1234567890, "iPhone5,2", "9.3.6", "13G37")
	want := "1234567890-iPhone5,2-9.3.6-13G37.shsh"
	if got != want {
		t.Errorf("Filename() = %q, want %q", got, want)
	}
}

func TestSaveThenLoad(t *testing.T) {
	dir := t.TempDir()
	tk := ticket.Ticket{"ApImg4Ticket": []byte{1, 2, 3}}

	if err := Save(dir, 42, "iPhone5,2", "9.3.6", "13G37", tk); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	path := Path(dir, 42, "iPhone5,2", "9.3.6", "13G37")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected shsh file at %s: %v", path, err)
	}

	got, err := Load(dir, 42, "iPhone5,2", "9.3.6", "13G37")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !got.HasImg4Ticket() {
		t.Errorf("loaded ticket lost ApImg4Ticket")
	}
}

func TestSaveIsNoopWhenCached(t *testing.T) {
	dir := t.TempDir()
	first := ticket.Ticket{"ApImg4Ticket": []byte{1}}
	second := ticket.Ticket{"ApImg4Ticket": []byte{1, 2, 3, 4, 5}}

	if err := Save(dir, 1, "iPhone5,2", "9.3.6", "13G37", first); err != nil {
		t.Fatalf("first Save() error = %v", err)
	}
	if err := Save(dir, 1, "iPhone5,2", "9.3.6", "13G37", second); err != nil {
		t.Fatalf("second Save() error = %v", err)
	}

	got, err := Load(dir, 1, "iPhone5,2", "9.3.6", "13G37")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	blob, _ := got.RawBytes("ApImg4Ticket")
	if len(blob) != 1 {
		t.Errorf("Save() overwrote an existing cached ticket: got blob len %d, want 1", len(blob))
	}
}

func TestLoadMissingFileErrors(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(dir, 1, "iPhone5,2", "9.3.6", "13G37"); err == nil {
		t.Errorf("Load() on missing file expected error, got nil")
	}
}
