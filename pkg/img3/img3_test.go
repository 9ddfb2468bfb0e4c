package img3

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// buildTestImg3 assembles a minimal valid IMG3 file: the 20-byte header
// followed by a single SHSH tag whose data is shshDataLen zero bytes.
func buildTestImg3(t *testing.T, shshDataLen int) []byte {
	t.Helper()

	buf := new(bytes.Buffer)
	hdr := Header{
		Magic:        [4]byte(reverseBytes([]byte(Magic))),
		FullSize:     0,
		SizeNoPack:   0,
		SigCheckArea: 0,
		Ident:        [4]byte(reverseBytes([]byte("test"))),
	}
	if err := binary.Write(buf, binary.LittleEndian, hdr); err != nil {
		t.Fatalf("failed to write header: %v", err)
	}

	th := TagHeader{
		Magic:       [4]byte(reverseBytes([]byte("SHSH"))),
		TotalLength: uint32(12 + shshDataLen),
		DataLength:  uint32(shshDataLen),
	}
	if err := binary.Write(buf, binary.LittleEndian, th); err != nil {
		t.Fatalf("failed to write tag header: %v", err)
	}
	buf.Write(make([]byte, shshDataLen))

	return buf.Bytes()
}

func TestParseImg3RoundTrip(t *testing.T) {
	data := buildTestImg3(t, 8)
	i, err := ParseImg3(data)
	if err != nil {
		t.Fatalf("ParseImg3() error = %v", err)
	}
	if len(i.Tags) != 1 {
		t.Fatalf("ParseImg3() tags = %d, want 1", len(i.Tags))
	}

	out, err := i.Bytes()
	if err != nil {
		t.Fatalf("Bytes() error = %v", err)
	}
	if !bytes.Equal(out, data) {
		t.Errorf("Bytes() round trip mismatch")
	}
}

func TestStitchSignature(t *testing.T) {
	data := buildTestImg3(t, 8)
	i, err := ParseImg3(data)
	if err != nil {
		t.Fatalf("ParseImg3() error = %v", err)
	}

	blob := []byte{1, 2, 3, 4}
	if err := i.StitchSignature(blob); err != nil {
		t.Fatalf("StitchSignature() error = %v", err)
	}
	if !bytes.Equal(i.Tags[0].Data[:4], blob) {
		t.Errorf("StitchSignature() did not write blob into SHSH tag data")
	}
	if !bytes.Equal(i.Tags[0].Data[4:], make([]byte, 4)) {
		t.Errorf("StitchSignature() did not zero-pad remainder of SHSH tag data")
	}
}

func TestStitchSignatureBlobTooLarge(t *testing.T) {
	data := buildTestImg3(t, 4)
	i, err := ParseImg3(data)
	if err != nil {
		t.Fatalf("ParseImg3() error = %v", err)
	}
	if err := i.StitchSignature([]byte{1, 2, 3, 4, 5}); err == nil {
		t.Errorf("StitchSignature() with oversized blob expected error, got nil")
	}
}

func TestStitchSignatureNoShshTag(t *testing.T) {
	i := &Img3{Header: Header{Magic: [4]byte(reverseBytes([]byte(Magic)))}}
	if err := i.StitchSignature([]byte{1}); err == nil {
		t.Errorf("StitchSignature() with no SHSH tag expected error, got nil")
	}
}

func TestStitchTicketBlob(t *testing.T) {
	data := buildTestImg3(t, 8)
	out, err := StitchTicketBlob(data, []byte{9, 9, 9, 9})
	if err != nil {
		t.Fatalf("StitchTicketBlob() error = %v", err)
	}
	if bytes.Equal(out, data) {
		t.Errorf("StitchTicketBlob() output identical to input, expected the signature slot to change")
	}
}
