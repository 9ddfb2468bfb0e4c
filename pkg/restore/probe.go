package restore

import (
	"github.com/Trsvsr/idevicererestore/pkg/usb"
	"github.com/Trsvsr/idevicererestore/pkg/usb/irecv"
)

// Probe implements probe(): try, in order, recovery, DFU, normal, and
// restore; the first transport that answers determines the mode.
// Restore-mode USB transport and the byte-level restore protocol are
// out of this project's scope; Probe only needs to recognize that
// a device is present in that state, which it does by the same USB
// product-string probe used for Recovery.
func Probe() Mode {
	if _, err := irecv.NewClient("Recovery Mode"); err == nil {
		return ModeRecovery
	}

	if c, err := irecv.NewClient("DFU Mode"); err == nil {
		defer c.Close()
		if c.ECID() != "" {
			return ModeDFU
		}
		return ModeWTF
	}

	if conn, err := usb.NewConn(); err == nil {
		defer conn.Close()
		if devices, err := conn.ListDevices(); err == nil && len(devices) > 0 {
			return ModeNormal
		}
	}

	if _, err := irecv.NewClient("Restore Mode"); err == nil {
		return ModeRestore
	}

	return ModeUnknown
}

// ProbeAndSet runs Probe and stores the result on the client.
func (c *Client) ProbeAndSet() Mode {
	c.Mode = Probe()
	return c.Mode
}
