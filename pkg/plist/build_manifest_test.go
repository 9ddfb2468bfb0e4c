package plist

import "testing"

func sampleManifest() *BuildManifest {
	return &BuildManifest{
		ProductVersion:        "9.3.6",
		ProductBuildVersion:   "13G37",
		SupportedProductTypes: []string{"iPhone5,2", "iPhone5,1"},
		BuildIdentities: []BuildIdentity{
			{
				Info: IdentityInfo{DeviceClass: "n90ap", RestoreBehavior: "Erase"},
				Manifest: map[string]IdentityManifest{
					"RestoreRamDisk": {Info: map[string]any{"Path": "018-1111-.dmg"}},
				},
			},
			{
				Info: IdentityInfo{DeviceClass: "n90ap", RestoreBehavior: "Update"},
				Manifest: map[string]IdentityManifest{
					"RestoreRamDisk": {Info: map[string]any{"Path": "018-2222-.dmg"}},
				},
			},
		},
	}
}

func TestIdentityForModelAndBehaviorCaseInsensitive(t *testing.T) {
	b := sampleManifest()
	id, ok := b.IdentityForModelAndBehavior("N90AP", "update")
	if !ok {
		t.Fatalf("IdentityForModelAndBehavior() ok = false, want true")
	}
	if id.Info.RestoreBehavior != "Update" {
		t.Errorf("matched wrong identity: %+v", id.Info)
	}
}

func TestIdentityForModelAndBehaviorNoMatch(t *testing.T) {
	b := sampleManifest()
	if _, ok := b.IdentityForModelAndBehavior("n90ap", "Missing"); ok {
		t.Errorf("IdentityForModelAndBehavior() with no match ok = true, want false")
	}
	if _, ok := b.IdentityForModelAndBehavior("n99xx", ""); ok {
		t.Errorf("IdentityForModelAndBehavior() with unknown model ok = true, want false")
	}
}

func TestCheckCompatibility(t *testing.T) {
	b := sampleManifest()
	if err := b.CheckCompatibility("iPhone5,2"); err != nil {
		t.Errorf("CheckCompatibility(iPhone5,2) error = %v, want nil", err)
	}
	if err := b.CheckCompatibility("iPad3,4"); err == nil {
		t.Errorf("CheckCompatibility(iPad3,4) expected error, got nil")
	}
}

func TestVersionInfoBuildMajor(t *testing.T) {
	b := sampleManifest()
	version, build, buildMajor := b.VersionInfo()
	if version != "9.3.6" || build != "13G37" || buildMajor != 13 {
		t.Errorf("VersionInfo() = %q, %q, %d, want 9.3.6, 13G37, 13", version, build, buildMajor)
	}
}

func TestComponentPath(t *testing.T) {
	id := &BuildIdentity{
		Manifest: map[string]IdentityManifest{
			"RestoreRamDisk": {Info: map[string]any{"Path": "018-1111-.dmg"}},
		},
	}
	path, err := id.ComponentPath("RestoreRamDisk")
	if err != nil || path != "018-1111-.dmg" {
		t.Errorf("ComponentPath() = %q, %v, want 018-1111-.dmg, nil", path, err)
	}

	if _, err := id.ComponentPath("NoSuchComponent"); err == nil {
		t.Errorf("ComponentPath() on missing component expected error, got nil")
	}
}

func TestEnumIdentitiesAndIdentityAt(t *testing.T) {
	b := sampleManifest()
	if n := b.EnumIdentities(); n != 2 {
		t.Errorf("EnumIdentities() = %d, want 2", n)
	}
	if _, ok := b.IdentityAt(5); ok {
		t.Errorf("IdentityAt(5) ok = true, want false (out of range)")
	}
	id, ok := b.IdentityAt(0)
	if !ok || id.Info.RestoreBehavior != "Erase" {
		t.Errorf("IdentityAt(0) = %+v, %v", id, ok)
	}
}
