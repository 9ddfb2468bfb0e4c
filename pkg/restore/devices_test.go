package restore

import "testing"

func TestLookupProductTypeKnown(t *testing.T) {
	cases := map[string]string{
		"8950:0": "iPhone5,1",
		"8950:3": "iPhone5,4",
		"8950:6": "iPad3,6",
	}
	for key, want := range cases {
		got, err := LookupProductType(key)
		if err != nil {
			t.Errorf("LookupProductType(%q) error = %v", key, err)
			continue
		}
		if got != want {
			t.Errorf("LookupProductType(%q) = %q, want %q", key, got, want)
		}
	}
}

func TestLookupProductTypeUnknown(t *testing.T) {
	if _, err := LookupProductType("0000:99"); err == nil {
		t.Errorf("LookupProductType() on unknown key expected error, got nil")
	}
}
