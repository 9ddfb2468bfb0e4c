//go:build !libusb

package irecv

import "fmt"

// Client is a placeholder when the binary is built without the libusb
// build tag. Real DFU/Recovery USB access requires cgo and libusb;
// build with -tags libusb to link pkg/usb/irecv's gousb implementation.
type Client struct{}

var errNoLibusb = fmt.Errorf("built without libusb support: rebuild with -tags libusb for DFU/Recovery USB access")

func NewClient(want string) (*Client, error) { return nil, errNoLibusb }

func (c *Client) CPID() string                 { return "" }
func (c *Client) ECID() string                 { return "" }
func (c *Client) SRNM() string                 { return "" }
func (c *Client) IBFL() string                 { return "" }
func (c *Client) BDID() string                 { return "" }
func (c *Client) IsDFU() bool                  { return false }
func (c *Client) Close() error                 { return errNoLibusb }
func (c *Client) SendCommand(cmd string) error { return errNoLibusb }
func (c *Client) ReadApNonce() ([]byte, error) { return nil, errNoLibusb }
func (c *Client) ReadSepNonce() ([]byte, error) {
	return nil, errNoLibusb
}
func (c *Client) SendBuffer(data []byte) error { return errNoLibusb }
func (c *Client) SendFile(path string) error   { return errNoLibusb }
func (c *Client) SetAutoboot(set bool) error   { return errNoLibusb }
func (c *Client) Reboot() error                { return errNoLibusb }
