//go:build libusb

package irecv

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/apex/log"
	"github.com/google/gousb"
)

const AppleUSBVendor = 0x5ac

// Client drives an Apple device attached in DFU or Recovery mode over
// USB control and bulk transfers.
type Client struct {
	sdom string
	cpid string
	cprv string
	cpfm string
	scep string
	bdid string
	ecid string
	ibfl string
	srnm string

	dfu bool
	dev *gousb.Device
	ctx *gousb.Context
}

var serialRE = regexp.MustCompile(`^SDOM:(?P<SDOM>\d+) CPID:(?P<CPID>\d+) CPRV:(?P<CPRV>\d+) CPFM:(?P<CPFM>\d+) SCEP:(?P<SCEP>\d+) BDID:(?P<BDID>\d+) ECID:(?P<ECID>\S+) IBFL:(?P<IBFL>\S+) SRNM:\[(?P<SRNM>\S+)\]$`)

// NewClient opens the first attached Apple device whose USB product
// string contains want ("Recovery Mode" or "DFU Mode").
func NewClient(want string) (*Client, error) {
	ctx := gousb.NewContext()

	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		dev, err := ctx.OpenDeviceWithVIDPID(desc.Vendor, desc.Product)
		if err != nil {
			return false
		}
		prod, _ := dev.Product()
		return desc.Vendor == AppleUSBVendor && strings.Contains(prod, want)
	})
	if err != nil {
		ctx.Close()
		return nil, err
	}
	if len(devs) == 0 {
		ctx.Close()
		return nil, fmt.Errorf("no %q devices found", want)
	}
	for _, extra := range devs[1:] {
		extra.Close()
	}

	c := &Client{dev: devs[0], ctx: ctx, dfu: strings.Contains(want, "DFU")}

	serial, err := c.dev.SerialNumber()
	if err == nil && serialRE.MatchString(serial) {
		m := serialRE.FindStringSubmatch(serial)
		c.sdom, c.cpid, c.cprv, c.cpfm, c.scep, c.bdid, c.ecid, c.ibfl, c.srnm =
			m[1], m[2], m[3], m[4], m[5], m[6], m[7], m[8], m[9]
	}

	return c, nil
}

func (c *Client) CPID() string { return c.cpid }
func (c *Client) ECID() string { return c.ecid }
func (c *Client) SRNM() string { return c.srnm }
func (c *Client) IBFL() string { return c.ibfl }
func (c *Client) BDID() string { return c.bdid }

// IsDFU reports whether this client was opened against a DFU-mode (as
// opposed to Recovery-mode) product string. WTF mode presents the same
// "DFU Mode" product string but with CPID missing from the serial; the
// orchestrator distinguishes them by checking ECID/IBFL population.
func (c *Client) IsDFU() bool { return c.dfu }

func (c *Client) Close() error {
	defer c.ctx.Close()
	return c.dev.Close()
}

// SendCommand issues a NUL-terminated vendor control command, mirroring
// libirecovery's irecv_send_command.
func (c *Client) SendCommand(cmd string) error {
	n, err := c.dev.Control(gousb.ControlVendor|gousb.ControlOut, 0x0, 0x0, 0x0, []byte(cmd+"\x00"))
	if err != nil {
		return fmt.Errorf("%s.Control(%s): %v", c.dev, cmd, err)
	}
	if n != len(cmd)+1 {
		return fmt.Errorf("%s.Control(%s): %d bytes written, want %d", c.dev, cmd, n, len(cmd)+1)
	}
	return nil
}

// getenv reads back a boot-environment variable through the device's
// status control-in transfer, following irecv_getenv's request type 0x1.
func (c *Client) getenv(name string) (string, error) {
	if err := c.SendCommand("getenv " + name); err != nil {
		return "", err
	}
	buf := make([]byte, 256)
	n, err := c.dev.Control(gousb.ControlVendor|gousb.ControlIn, 0x1, 0x0, 0x0, buf)
	if err != nil {
		return "", fmt.Errorf("%s.Control(getenv %s): %v", c.dev, name, err)
	}
	return strings.TrimRight(string(buf[:n]), "\x00"), nil
}

// ReadApNonce requests the device's current ApNonce boot environment
// variable. Older bootroms may not expose it; callers should treat an
// error here as best-effort, matching the source's nonce-read semantics.
func (c *Client) ReadApNonce() ([]byte, error) {
	s, err := c.getenv("nonce")
	if err != nil {
		return nil, err
	}
	return decodeHexEnv(s)
}

// ReadSepNonce requests the SEP nonce, present only on devices with a
// Secure Enclave; absence is not fatal to ticket construction.
func (c *Client) ReadSepNonce() ([]byte, error) {
	s, err := c.getenv("sepnonce")
	if err != nil {
		return nil, err
	}
	return decodeHexEnv(s)
}

func decodeHexEnv(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if s == "" {
		return nil, fmt.Errorf("empty nonce environment value")
	}
	out := make([]byte, len(s)/2)
	for i := range out {
		var b int
		if _, err := fmt.Sscanf(s[i*2:i*2+2], "%02x", &b); err != nil {
			return nil, err
		}
		out[i] = byte(b)
	}
	return out, nil
}

// SendBuffer uploads a firmware component (WTF blob, iBEC, APTicket) to
// the device over the bulk-out endpoint in 0x800-byte chunks, the
// transfer size libirecovery uses for DFU/Recovery uploads.
func (c *Client) SendBuffer(data []byte) error {
	cfg, err := c.dev.Config(1)
	if err != nil {
		return fmt.Errorf("failed to claim usb config: %v", err)
	}
	defer cfg.Close()

	intf, err := cfg.Interface(0, 0)
	if err != nil {
		return fmt.Errorf("failed to claim usb interface: %v", err)
	}
	defer intf.Close()

	out, err := intf.OutEndpoint(4)
	if err != nil {
		return fmt.Errorf("failed to open bulk out endpoint: %v", err)
	}

	const chunk = 0x800
	for off := 0; off < len(data); off += chunk {
		end := min(off+chunk, len(data))
		if _, err := out.Write(data[off:end]); err != nil {
			return fmt.Errorf("failed writing firmware component at offset %d: %v", off, err)
		}
	}
	if len(data)%chunk == 0 {
		if _, err := out.Write(nil); err != nil {
			log.Debug("failed to send zero-length terminator")
		}
	}
	return c.SendCommand("")
}

// SendFile is a convenience wrapper around SendBuffer for callers that
// hold a path rather than a loaded byte slice.
func (c *Client) SendFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return c.SendBuffer(data)
}

func (c *Client) SetAutoboot(set bool) error {
	if err := c.SendCommand(fmt.Sprintf("setenv auto-boot %t", set)); err != nil {
		return err
	}
	return c.SendCommand("saveenv")
}

func (c *Client) Reboot() error {
	return c.SendCommand("reboot")
}
