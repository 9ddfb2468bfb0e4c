package restore

import "testing"

func TestIsUnsignedImage(t *testing.T) {
	signed := append([]byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}, 0x01, 0x02, 0x03, 0x04)
	if isUnsignedImage(signed) {
		t.Errorf("isUnsignedImage() on a non-zero marker = true, want false")
	}

	unsigned := make([]byte, 0x10)
	if !isUnsignedImage(unsigned) {
		t.Errorf("isUnsignedImage() on an all-zero marker = false, want true")
	}

	tooShort := make([]byte, 8)
	if isUnsignedImage(tooShort) {
		t.Errorf("isUnsignedImage() on a too-short image = true, want false")
	}
}
