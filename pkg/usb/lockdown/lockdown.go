package lockdown

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/blacktop/go-plist"
)

// Port is the lockdownd TCP port exposed over the usbmuxd relay.
const Port = 62078

const protocolVersion = "2"

type RequestType string

const (
	RequestTypeQueryType     RequestType = "QueryType"
	RequestTypeGetValue      RequestType = "GetValue"
	RequestTypeSetValue      RequestType = "SetValue"
	RequestTypePair          RequestType = "Pair"
	RequestTypeEnterRecovery RequestType = "EnterRecovery"
	RequestTypeStartSession  RequestType = "StartSession"
	RequestTypeStopSession   RequestType = "StopSession"
	RequestTypeStartService  RequestType = "StartService"
)

type basicRequest struct {
	Label           string      `plist:"Label"`
	ProtocolVersion string      `plist:"ProtocolVersion"`
	Request         RequestType `plist:"Request"`
}

type basicResponse struct {
	Request string `plist:"Request"`
	Error   string `plist:"Error"`
}

// Client drives the lockdownd protocol over an already-connected stream
// (typically produced by usb.Conn.ConnectLockdown).
type Client struct {
	c     net.Conn
	label string
	sess  string
}

// NewClient wraps a raw lockdownd stream. label is sent as the request
// Label field (normally the bundle id of the calling process).
func NewClient(c net.Conn, label string) *Client {
	return &Client{c: c, label: label}
}

func (ld *Client) Close() error {
	return ld.c.Close()
}

// SendData frames and writes a lockdown request: a 4-byte big-endian
// length prefix followed by the XML plist payload.
func (ld *Client) SendData(data []byte) error {
	buf := new(bytes.Buffer)
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(len(data)))
	buf.Write(b)
	buf.Write(data)

	n, err := ld.c.Write(buf.Bytes())
	if err != nil {
		return fmt.Errorf("failed to send lockdown packet: %v", err)
	}
	if n < len(data) {
		return fmt.Errorf("failed writing %d bytes to usb, only %d sent", len(data), n)
	}
	return nil
}

// ReadData reads one framed lockdown response and decodes it into obj.
func (ld *Client) ReadData(obj any) error {
	var length uint32
	if err := binary.Read(ld.c, binary.BigEndian, &length); err != nil {
		return err
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(ld.c, payload); err != nil {
		return err
	}

	return plist.NewDecoder(bytes.NewReader(payload)).Decode(obj)
}

// QueryType returns the service identifier ("com.apple.mobile.lockdown")
// the device reports, confirming the session speaks lockdownd.
func (ld *Client) QueryType() (string, error) {
	if err := ld.SendData(mustMarshal(basicRequest{
		Label:           ld.label,
		ProtocolVersion: protocolVersion,
		Request:         RequestTypeQueryType,
	})); err != nil {
		return "", err
	}

	resp := struct {
		basicResponse
		Type string `plist:"Type"`
	}{}
	if err := ld.ReadData(&resp); err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", errors.New(resp.Error)
	}
	return resp.Type, nil
}

type startSessionRequest struct {
	basicRequest
	HostID     string `plist:"HostID"`
	SystemBUID string `plist:"SystemBUID"`
}

type startSessionResponse struct {
	basicResponse
	SessionID        string `plist:"SessionID"`
	EnableSessionSSL bool   `plist:"EnableSessionSSL"`
}

// StartSession begins a lockdownd session using a prior pair record's
// HostID/SystemBUID. Devices in this project's scope rarely require TLS
// upgrade; EnableSessionSSL is reported back but not acted on here.
func (ld *Client) StartSession(hostID, systemBUID string) (string, error) {
	data, err := plist.Marshal(startSessionRequest{
		basicRequest: basicRequest{
			Label:           ld.label,
			ProtocolVersion: protocolVersion,
			Request:         RequestTypeStartSession,
		},
		HostID:     hostID,
		SystemBUID: systemBUID,
	}, plist.XMLFormat)
	if err != nil {
		return "", err
	}
	if err := ld.SendData(data); err != nil {
		return "", fmt.Errorf("failed to send lockdown start session request: %v", err)
	}

	resp := startSessionResponse{}
	if err := ld.ReadData(&resp); err != nil {
		return "", fmt.Errorf("failed to read lockdown start session response: %v", err)
	}
	if resp.Error != "" {
		return "", errors.New(resp.Error)
	}
	ld.sess = resp.SessionID
	return resp.SessionID, nil
}

func (ld *Client) StopSession() error {
	if ld.sess == "" {
		return nil
	}
	data, err := plist.Marshal(struct {
		basicRequest
		SessionID string `plist:"SessionID"`
	}{
		basicRequest: basicRequest{
			Label:           ld.label,
			ProtocolVersion: protocolVersion,
			Request:         RequestTypeStopSession,
		},
		SessionID: ld.sess,
	}, plist.XMLFormat)
	if err != nil {
		return err
	}
	if err := ld.SendData(data); err != nil {
		return fmt.Errorf("failed to send lockdown stop session request: %v", err)
	}
	ld.sess = ""
	return nil
}

// EnterRecovery requests that a Normal-mode device reboot directly into
// Recovery mode, bypassing the physical button sequence.
func (ld *Client) EnterRecovery() error {
	if err := ld.SendData(mustMarshal(basicRequest{
		Label:           ld.label,
		ProtocolVersion: protocolVersion,
		Request:         RequestTypeEnterRecovery,
	})); err != nil {
		return err
	}
	resp := basicResponse{}
	if err := ld.ReadData(&resp); err != nil {
		return err
	}
	if resp.Error != "" {
		return errors.New(resp.Error)
	}
	return nil
}

func mustMarshal(v any) []byte {
	data, err := plist.Marshal(v, plist.XMLFormat)
	if err != nil {
		panic(err)
	}
	return data
}
