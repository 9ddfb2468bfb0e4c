// Package personalize implements the Personalization Engine: stitching
// a signing-server ticket into a firmware component's signature slot.
package personalize

import (
	"fmt"
	"os"

	"github.com/apex/log"

	"github.com/Trsvsr/idevicererestore/pkg/img3"
	"github.com/Trsvsr/idevicererestore/pkg/ticket"
)

// KeepPersonalized, when set, makes Personalize write every stitched
// artifact to the working directory under its component name.
var KeepPersonalized bool

// Personalize implements personalize(name, data, ticket) → bytes: if
// the ticket carries an ApImg4Ticket blob it returns an error, since
// IMG4 stitching is not implemented for this project's legacy-device
// target, which never negotiates image4_supported; otherwise it looks
// up a per-component blob keyed by name and stitches it into data's
// IMG3 signature slot; absent either, data is returned unchanged.
func Personalize(name string, data []byte, t ticket.Ticket) ([]byte, error) {
	var out []byte

	switch {
	case t.HasImg4Ticket():
		return nil, fmt.Errorf("personalize %s: IMG4-ticketed devices are not supported by this project", name)
	default:
		blob, ok := t.ComponentBlob(name)
		if !ok {
			log.WithField("component", name).Debug("no ticket entry for component, copying unchanged")
			out = make([]byte, len(data))
			copy(out, data)
		} else {
			stitched, err := img3.StitchTicketBlob(data, blob)
			if err != nil {
				return nil, fmt.Errorf("failed to stitch %s: %w", name, err)
			}
			out = stitched
		}
	}

	if KeepPersonalized {
		if err := os.WriteFile(name, out, 0o644); err != nil {
			log.WithError(err).WithField("component", name).Warn("failed to write personalized artifact")
		}
	}

	return out, nil
}
