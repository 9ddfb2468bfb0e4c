package restore

import "testing"

func TestBasebandIdentityIndex(t *testing.T) {
	cases := map[string]int{
		"iPhone5,2": 0,
		"iPad3,5":   0,
		"iPhone5,4": 2,
		"iPad3,6":   2,
		"iPhone5,1": 4,
		"iPad3,4":   4,
		"iPhone5,3": 6,
		"iPhone4,1": -1,
	}
	for product, want := range cases {
		if got := basebandIdentityIndex(product); got != want {
			t.Errorf("basebandIdentityIndex(%q) = %d, want %d", product, got, want)
		}
	}
}

func TestDictPathWalksNestedMaps(t *testing.T) {
	m := map[string]any{
		"Manifest": map[string]any{
			"BasebandFirmware": map[string]any{
				"Info": map[string]any{"Path": "Firmware/something.bbfw"},
			},
		},
	}
	got, ok := dictPath(m, "Manifest", "BasebandFirmware", "Info", "Path")
	if !ok || got.(string) != "Firmware/something.bbfw" {
		t.Errorf("dictPath() = %v, %v, want the Path string", got, ok)
	}
	if _, ok := dictPath(m, "Manifest", "NoSuchKey"); ok {
		t.Errorf("dictPath() on missing key ok = true, want false")
	}
}

func TestDecodeVersionInfoParsesDecimalPrefix(t *testing.T) {
	m := genericManifest{"ProductVersion": "9.3.6", "ProductBuildVersion": "13G37"}
	version, build, buildMajor := decodeVersionInfo(m)
	if version != "9.3.6" || build != "13G37" || buildMajor != 13 {
		t.Errorf("decodeVersionInfo() = %q, %q, %d, want 9.3.6, 13G37, 13", version, build, buildMajor)
	}
}

func TestFindGenericIdentityMatchesClassAndBehavior(t *testing.T) {
	m := genericManifest{
		"BuildIdentities": []any{
			map[string]any{"Info": map[string]any{"DeviceClass": "n90ap", "RestoreBehavior": "Erase"}},
			map[string]any{"Info": map[string]any{"DeviceClass": "n90ap", "RestoreBehavior": "Update"}},
		},
	}
	id, ok := findGenericIdentity(m, "N90AP", "Update")
	if !ok {
		t.Fatalf("findGenericIdentity() ok = false, want true")
	}
	info := id["Info"].(map[string]any)
	if info["RestoreBehavior"] != "Update" {
		t.Errorf("findGenericIdentity() picked wrong identity: %v", info)
	}

	if _, ok := findGenericIdentity(m, "n90ap", "NoSuchBehavior"); ok {
		t.Errorf("findGenericIdentity() with no matching behavior ok = true, want false")
	}
}

func TestBasebandDictsMatch(t *testing.T) {
	local := map[string]any{
		"Digest": []byte{1, 2, 3},
		"Info":   map[string]any{"Path": "a"},
	}
	remote := map[string]any{
		"Digest": []byte{1, 2, 3},
		"Info":   map[string]any{"Path": "b"},
	}
	if !basebandDictsMatch(local, remote) {
		t.Errorf("basebandDictsMatch() = false, want true (Info contents don't need to match)")
	}

	mismatchedDigest := map[string]any{
		"Digest": []byte{9, 9, 9},
		"Info":   map[string]any{"Path": "a"},
	}
	if basebandDictsMatch(local, mismatchedDigest) {
		t.Errorf("basebandDictsMatch() = true for differing digests, want false")
	}

	extraKey := map[string]any{
		"Digest": []byte{1, 2, 3},
		"Info":   map[string]any{"Path": "a"},
		"Trusted": uint64(1),
	}
	if basebandDictsMatch(local, extraKey) {
		t.Errorf("basebandDictsMatch() = true despite differing key counts, want false")
	}
}
