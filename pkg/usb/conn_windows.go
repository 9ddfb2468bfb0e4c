//go:build windows

package usb

import "net"

// On Windows usbmuxd listens on a local TCP port rather than a unix socket.
func usbmuxdDial() (net.Conn, error) {
	return net.Dial("tcp", "127.0.0.1:27015")
}
