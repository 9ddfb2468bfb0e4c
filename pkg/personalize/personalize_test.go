package personalize

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/Trsvsr/idevicererestore/pkg/img3"
	"github.com/Trsvsr/idevicererestore/pkg/ticket"
)

func buildTestImg3(t *testing.T, shshDataLen int) []byte {
	t.Helper()

	reverse := func(s string) [4]byte {
		b := []byte(s)
		for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
			b[i], b[j] = b[j], b[i]
		}
		return [4]byte(b)
	}

	buf := new(bytes.Buffer)
	hdr := img3.Header{Magic: reverse(img3.Magic), Ident: reverse("test")}
	if err := binary.Write(buf, binary.LittleEndian, hdr); err != nil {
		t.Fatalf("failed to write header: %v", err)
	}
	th := img3.TagHeader{
		Magic:       reverse("SHSH"),
		TotalLength: uint32(12 + shshDataLen),
		DataLength:  uint32(shshDataLen),
	}
	if err := binary.Write(buf, binary.LittleEndian, th); err != nil {
		t.Fatalf("failed to write tag header: %v", err)
	}
	buf.Write(make([]byte, shshDataLen))
	return buf.Bytes()
}

func TestPersonalizeCopiesUnchangedWithoutTicketEntry(t *testing.T) {
	data := []byte{1, 2, 3, 4}
	out, err := Personalize("RestoreKernelCache", data, ticket.Ticket{})
	if err != nil {
		t.Fatalf("Personalize() error = %v", err)
	}
	if !bytes.Equal(out, data) {
		t.Errorf("Personalize() with no ticket entry = %v, want unchanged %v", out, data)
	}
}

func TestPersonalizeStitchesComponentBlob(t *testing.T) {
	data := buildTestImg3(t, 8)
	tk := ticket.Ticket{
		"iBEC": map[string]any{"Blob": []byte{5, 6, 7, 8}},
	}
	out, err := Personalize("iBEC", data, tk)
	if err != nil {
		t.Fatalf("Personalize() error = %v", err)
	}
	if bytes.Equal(out, data) {
		t.Errorf("Personalize() with a matching ticket entry produced unchanged bytes")
	}
}

func TestPersonalizeRejectsImg4Ticket(t *testing.T) {
	tk := ticket.Ticket{"ApImg4Ticket": []byte{1}}
	if _, err := Personalize("iBEC", []byte{1, 2, 3}, tk); err == nil {
		t.Errorf("Personalize() with an IMG4 ticket expected error, got nil")
	}
}
