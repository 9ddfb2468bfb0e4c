package restore

import (
	"archive/zip"
	"bytes"
	"crypto/sha1"
	"fmt"

	"github.com/apex/log"

	"github.com/Trsvsr/idevicererestore/pkg/archive"
)

// minRamdiskSize is the shortest ramdisk image the reconciler will
// attempt to hash; anything shorter aborts reconciliation untouched.
const minRamdiskSize = 0x14

// ReconcileRamdisk implements the Ramdisk Hash Reconciler: it chooses
// the build identity whose RestoreRamDisk is actually authorized by
// the fetched ticket, flipping Erase/Update once if the current
// identity's ramdisk digest is absent from the ticket buffer.
//
// Runs only when the manifest is ticket-enabled and Rerestore is set;
// callers are expected to check that precondition before calling.
func (c *Client) ReconcileRamdisk(files []*zip.File) error {
	raw, err := c.Ticket.RawTicketBuffer()
	if err != nil {
		return fmt.Errorf("failed to serialize ticket for ramdisk reconciliation: %w", err)
	}

	identity := c.Identity
	flags := c.Flags

	for try := 0; try < 2; try++ {
		path, err := identity.ComponentPath("RestoreRamDisk")
		if err != nil {
			return nil // abort reconciliation, keep current identity
		}
		img, err := archive.ReadFile(files, path)
		if err != nil {
			return nil
		}

		if len(img) < minRamdiskSize {
			log.WithField("ramdisk", path).Debug("ramdisk image too short to hash, aborting reconciliation")
			return nil
		}

		if isUnsignedImage(img) {
			c.Flags |= FlagCustom
			log.Debug("ramdisk is unsigned, assuming custom restore")
			return nil
		}

		digest := sha1.Sum(img[0xC:])
		if bytes.Contains(raw, digest[:]) {
			c.Identity = identity
			c.Flags = flags
			return nil
		}

		if try == 0 {
			flipped := c.FlipBehavior()
			flippedBehavior := "Erase"
			if flipped.Has(FlagUpdate) {
				flippedBehavior = "Update"
			}
			alt, ok := c.Manifest.IdentityForModelAndBehavior(c.Device.HardwareModel, flippedBehavior)
			if !ok {
				return nil // flip target doesn't exist, keep original identity/flags
			}
			identity = alt
			flags = flipped
			continue
		}

		// Second miss: force Erase, mark Custom.
		forced, ok := c.Manifest.IdentityForModelAndBehavior(c.Device.HardwareModel, "Erase")
		if !ok {
			return nil
		}
		c.Identity = forced
		c.Flags = flags&^FlagUpdate | FlagErase | FlagCustom
		return nil
	}

	return nil
}

// isUnsignedImage reports whether the 4 bytes at offset 0xC are all
// zero, the unsigned-image marker.
func isUnsignedImage(img []byte) bool {
	if len(img) < 0x10 {
		return false
	}
	for _, b := range img[0xC:0x10] {
		if b != 0 {
			return false
		}
	}
	return true
}
