package restore

import (
	"archive/zip"
	"fmt"

	"github.com/Trsvsr/idevicererestore/pkg/archive"
	"github.com/Trsvsr/idevicererestore/pkg/plist"
)

// LoadManifest reads and validates the BuildManifest.plist member of the
// local IPSW archive, wiring C3's check_compatibility and version_info
// into the client's state.
func (c *Client) LoadManifest(files []*zip.File) error {
	data, err := archive.ReadFile(files, "BuildManifest.plist")
	if err != nil {
		return fmt.Errorf("failed to read BuildManifest.plist: %w", err)
	}

	m, err := plist.ParseBuildManifest(data)
	if err != nil {
		return err
	}

	if err := m.CheckCompatibility(c.Device.ProductType); err != nil {
		return err
	}

	c.Manifest = m
	c.Version, c.Build, c.BuildMajor = m.VersionInfo()
	return nil
}

// SelectIdentity chooses the build identity matching the client's
// hardware model and current Erase/Update behavior, per C3's
// identity_for_model_and_behavior.
func (c *Client) SelectIdentity() error {
	if c.Manifest == nil {
		return fmt.Errorf("no BuildManifest loaded")
	}
	identity, ok := c.Manifest.IdentityForModelAndBehavior(c.Device.HardwareModel, c.Behavior())
	if !ok {
		return fmt.Errorf("no build identity for model %s behavior %s", c.Device.HardwareModel, c.Behavior())
	}
	c.Identity = identity
	return nil
}
