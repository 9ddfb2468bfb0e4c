package ticket

import "testing"

func TestFixupCopiesNonEmptySource(t *testing.T) {
	tk := Ticket{
		"AppleLogo":         map[string]any{"Blob": []byte{1, 2, 3}},
		"RestoreLogo":       map[string]any{},
		"DeviceTree":        map[string]any{"Blob": []byte{4, 5}},
		"RestoreDeviceTree": map[string]any{},
	}
	tk.Fixup()

	rl, ok := tk["RestoreLogo"].(map[string]any)
	if !ok || len(rl) == 0 {
		t.Fatalf("RestoreLogo not populated by Fixup: %v", tk["RestoreLogo"])
	}
	rdt, ok := tk["RestoreDeviceTree"].(map[string]any)
	if !ok || len(rdt) == 0 {
		t.Fatalf("RestoreDeviceTree not populated by Fixup: %v", tk["RestoreDeviceTree"])
	}
}

func TestFixupLeavesNonEmptyRestoreKeyAlone(t *testing.T) {
	tk := Ticket{
		"AppleLogo":   map[string]any{"Blob": []byte{9}},
		"RestoreLogo": map[string]any{"Blob": []byte{1}},
	}
	tk.Fixup()

	rl := tk["RestoreLogo"].(map[string]any)
	if got := rl["Blob"].([]byte); len(got) != 1 || got[0] != 1 {
		t.Errorf("Fixup overwrote a non-empty RestoreLogo: %v", rl)
	}
}

func TestFixupIsIdempotent(t *testing.T) {
	tk := Ticket{
		"AppleLogo":   map[string]any{"Blob": []byte{1}},
		"RestoreLogo": map[string]any{},
	}
	tk.Fixup()
	first := tk["RestoreLogo"]
	tk.Fixup()
	second := tk["RestoreLogo"]

	fm, fok := first.(map[string]any)
	sm, sok := second.(map[string]any)
	if !fok || !sok || len(fm) != len(sm) {
		t.Errorf("second Fixup() changed RestoreLogo: %v -> %v", first, second)
	}
}

func TestHasImg4TicketAndRawBytes(t *testing.T) {
	tk := Ticket{"ApImg4Ticket": []byte{0xAA, 0xBB}}
	if !tk.HasImg4Ticket() {
		t.Errorf("HasImg4Ticket() = false, want true")
	}
	b, ok := tk.RawBytes("ApImg4Ticket")
	if !ok || len(b) != 2 {
		t.Errorf("RawBytes(ApImg4Ticket) = %v, %v", b, ok)
	}

	empty := Ticket{}
	if empty.HasImg4Ticket() {
		t.Errorf("HasImg4Ticket() on empty ticket = true, want false")
	}
}

func TestComponentBlob(t *testing.T) {
	tk := Ticket{"KernelCache": map[string]any{"Blob": []byte{1, 2, 3, 4}}}
	blob, ok := tk.ComponentBlob("KernelCache")
	if !ok || len(blob) != 4 {
		t.Fatalf("ComponentBlob(KernelCache) = %v, %v", blob, ok)
	}
	if _, ok := tk.ComponentBlob("NoSuchComponent"); ok {
		t.Errorf("ComponentBlob(NoSuchComponent) ok = true, want false")
	}
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	tk := Ticket{"ApImg4Ticket": []byte{1, 2, 3}, "Count": int64(7)}
	data, err := tk.Marshal()
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	blob, ok := got.RawBytes("ApImg4Ticket")
	if !ok || len(blob) != 3 {
		t.Errorf("round trip ApImg4Ticket = %v, %v", blob, ok)
	}
}

func TestGzipMarshalGunzipUnmarshalRoundTrip(t *testing.T) {
	tk := Ticket{"ApImg4Ticket": []byte{9, 9, 9}}
	gz, err := tk.GzipMarshal()
	if err != nil {
		t.Fatalf("GzipMarshal() error = %v", err)
	}
	got, err := GunzipUnmarshal(gz)
	if err != nil {
		t.Fatalf("GunzipUnmarshal() error = %v", err)
	}
	if !got.HasImg4Ticket() {
		t.Errorf("round-tripped ticket lost ApImg4Ticket")
	}
}
