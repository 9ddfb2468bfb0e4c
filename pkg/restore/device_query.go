package restore

import (
	"fmt"
	"strconv"

	"github.com/Trsvsr/idevicererestore/pkg/usb"
	"github.com/Trsvsr/idevicererestore/pkg/usb/irecv"
	"github.com/Trsvsr/idevicererestore/pkg/usb/lockdown"
)

// DeviceInfo is the subset of per-mode device info the orchestrator
// and the iBFL decision table need.
type DeviceInfo struct {
	IBFL string
}

// DeviceQuery is the capability interface C2 describes: one
// implementation per Device Mode, each backed by that mode's
// transport.
type DeviceQuery interface {
	ReadHardwareModel() (string, error)
	ReadECID() (uint64, error)
	ReadApNonce() ([]byte, error)
	ReadSepNonce() ([]byte, error)
	IsImage4Supported() (bool, error)
	ReadDeviceInfo() (*DeviceInfo, error)
}

// ErrInvalidState is returned when a mode has no Device Query
// implementation available.
var ErrInvalidState = fmt.Errorf("device in invalid state")

// NewDeviceQuery returns the Device Query implementation for mode,
// opening whatever transport that mode requires.
func NewDeviceQuery(mode Mode) (DeviceQuery, error) {
	switch mode {
	case ModeRecovery, ModeDFU, ModeWTF:
		want := "Recovery Mode"
		if mode != ModeRecovery {
			want = "DFU Mode"
		}
		c, err := irecv.NewClient(want)
		if err != nil {
			return nil, err
		}
		return &irecvQuery{c: c}, nil
	case ModeNormal:
		conn, err := usb.NewConn()
		if err != nil {
			return nil, err
		}
		devices, err := conn.ListDevices()
		if err != nil || len(devices) == 0 {
			conn.Close()
			return nil, fmt.Errorf("no normal-mode device attached")
		}
		ld, err := conn.ConnectLockdown(devices[0].DeviceID)
		if err != nil {
			conn.Close()
			return nil, err
		}
		return &lockdownQuery{conn: conn, ld: ld}, nil
	default:
		return nil, ErrInvalidState
	}
}

type irecvQuery struct {
	c *irecv.Client
}

// ReadHardwareModel returns the device's CPID:BDID key. DFU and
// Recovery mode devices don't report a hardware model string directly
// over USB; libirecovery resolves one from this same pair via its
// static device table, which LookupProductType mirrors here.
func (q *irecvQuery) ReadHardwareModel() (string, error) {
	return fmt.Sprintf("%s:%s", q.c.CPID(), q.c.BDID()), nil
}
func (q *irecvQuery) ReadECID() (uint64, error) {
	return strconv.ParseUint(q.c.ECID(), 16, 64)
}
func (q *irecvQuery) ReadApNonce() ([]byte, error)  { return q.c.ReadApNonce() }
func (q *irecvQuery) ReadSepNonce() ([]byte, error) { return q.c.ReadSepNonce() }
func (q *irecvQuery) IsImage4Supported() (bool, error) {
	// Legacy 32-bit bootroms never report IMG4 support; a real
	// implementation would inspect CPID against the A7+ cutoff.
	return false, nil
}
func (q *irecvQuery) ReadDeviceInfo() (*DeviceInfo, error) {
	return &DeviceInfo{IBFL: q.c.IBFL()}, nil
}

type lockdownQuery struct {
	conn *usb.Conn
	ld   *lockdown.Client
}

func (q *lockdownQuery) ReadHardwareModel() (string, error) {
	dd, err := q.ld.GetDeviceDetail()
	if err != nil {
		return "", err
	}
	return dd.HardwareModel, nil
}

// ReadProductType returns lockdownd's own ProductType value directly,
// bypassing the CPID/BDID device table that DFU and Recovery mode
// queries need. Not part of the DeviceQuery interface for the same
// reason ReadBasebandPreflight isn't: it only has meaning in Normal
// mode.
func (q *lockdownQuery) ReadProductType() (string, error) {
	dd, err := q.ld.GetDeviceDetail()
	if err != nil {
		return "", err
	}
	return dd.ProductType, nil
}

func (q *lockdownQuery) ReadECID() (uint64, error) {
	dd, err := q.ld.GetDeviceDetail()
	if err != nil {
		return 0, err
	}
	return dd.UniqueChipID, nil
}

func (q *lockdownQuery) ReadApNonce() ([]byte, error) {
	return nil, fmt.Errorf("ApNonce is not exposed by lockdownd in Normal mode")
}

func (q *lockdownQuery) ReadSepNonce() ([]byte, error) {
	return nil, fmt.Errorf("SepNonce is not exposed by lockdownd in Normal mode")
}

func (q *lockdownQuery) IsImage4Supported() (bool, error) {
	return false, nil
}

func (q *lockdownQuery) ReadDeviceInfo() (*DeviceInfo, error) {
	return &DeviceInfo{}, nil
}

// ReadBasebandPreflight reads the Normal-mode baseband preflight
// dictionary, used by the Ticket Service Client to build baseband TSS
// request tags. Not part of the DeviceQuery interface since it only
// has meaning in Normal mode.
func (q *lockdownQuery) ReadBasebandPreflight() (*BasebandPreflight, error) {
	info, err := q.ld.GetBasebandPreflightInfo()
	if err != nil {
		return nil, err
	}
	return &BasebandPreflight{
		Nonce:        fmt.Sprintf("%x", info.Nonce),
		ChipID:       fmt.Sprintf("%d", info.ChipID),
		CertID:       fmt.Sprintf("%d", info.CertID),
		ChipSerialNo: fmt.Sprintf("%x", info.ChipSerialNo),
	}, nil
}
