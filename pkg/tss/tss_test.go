package tss

import (
	"testing"

	bm "github.com/Trsvsr/idevicererestore/pkg/plist"
)

func TestRandomECID(t *testing.T) {
	ecid, err := RandomECID()
	if err != nil {
		t.Fatalf("RandomECID() error = %v", err)
	}
	if ecid == 0 {
		t.Errorf("RandomECID() = 0, want non-zero (astronomically unlikely but checked)")
	}
}

func TestBuildRequestRequiresECID(t *testing.T) {
	conf := &Config{
		Identity: &bm.BuildIdentity{ApChipID: "0x8960", ApBoardID: "0x0"},
	}
	if _, err := buildRequest(conf); err == nil {
		t.Errorf("buildRequest() with ECID=0 expected error, got nil")
	}
}

func TestBuildRequestBadChipID(t *testing.T) {
	conf := &Config{
		Identity: &bm.BuildIdentity{ApChipID: "not-hex", ApBoardID: "0x0"},
		ECID:     1234,
	}
	if _, err := buildRequest(conf); err == nil {
		t.Errorf("buildRequest() with malformed ApChipID expected error, got nil")
	}
}
