package restore

import "testing"

func TestFlagsNormalizeLeavesLatestCustomAlone(t *testing.T) {
	// Normalize no longer resolves a Latest+Custom conflict itself;
	// that combination is a configuration error the orchestrator
	// rejects at the start of a run, not something to silently fix up.
	got := (FlagLatest | FlagCustom).Normalize()
	if !got.Has(FlagLatest) || !got.Has(FlagCustom) {
		t.Errorf("Normalize() = %v, want both Latest and Custom left set", got)
	}
}

func TestFlagsNormalizeRerestoreDefaultsToErase(t *testing.T) {
	got := FlagRerestore.Normalize()
	if !got.Has(FlagErase) {
		t.Errorf("Normalize() on bare Rerestore = %v, want Erase set", got)
	}
	if got.Has(FlagUpdate) {
		t.Errorf("Normalize() on bare Rerestore set Update unexpectedly: %v", got)
	}
}

func TestFlagsNormalizeLeavesExplicitUpdateAlone(t *testing.T) {
	got := (FlagRerestore | FlagUpdate).Normalize()
	if got.Has(FlagErase) {
		t.Errorf("Normalize() with explicit Update also set Erase: %v", got)
	}
	if !got.Has(FlagUpdate) {
		t.Errorf("Normalize() dropped explicit Update: %v", got)
	}
}

func TestBehaviorAndFlipBehavior(t *testing.T) {
	c := NewClient("", "", FlagErase)
	if got := c.Behavior(); got != "Erase" {
		t.Errorf("Behavior() = %q, want Erase", got)
	}
	flipped := c.FlipBehavior()
	if !flipped.Has(FlagUpdate) || flipped.Has(FlagErase) {
		t.Errorf("FlipBehavior() from Erase = %v, want Update set and Erase clear", flipped)
	}

	c2 := NewClient("", "", FlagUpdate)
	if got := c2.Behavior(); got != "Update" {
		t.Errorf("Behavior() = %q, want Update", got)
	}
	flipped2 := c2.FlipBehavior()
	if !flipped2.Has(FlagErase) || flipped2.Has(FlagUpdate) {
		t.Errorf("FlipBehavior() from Update = %v, want Erase set and Update clear", flipped2)
	}
}

func TestTempFilesystemTracking(t *testing.T) {
	c := NewClient("", "", 0)
	if c.TempFilesystem() {
		t.Errorf("new Client reports TempFilesystem() = true, want false")
	}
	c.MarkTempFilesystem()
	if !c.TempFilesystem() {
		t.Errorf("after MarkTempFilesystem(), TempFilesystem() = false, want true")
	}
}

func TestRequireImage4Unsupported(t *testing.T) {
	c := NewClient("", "", 0)
	if err := c.RequireImage4Unsupported(); err != nil {
		t.Errorf("RequireImage4Unsupported() on IMG3 device error = %v, want nil", err)
	}
	c.Image4Supported = true
	if err := c.RequireImage4Unsupported(); err == nil {
		t.Errorf("RequireImage4Unsupported() on IMG4 device expected error, got nil")
	}
}
