// Package restore holds the orchestrator's core data model: device
// mode, client state flags, and the Client that owns them for the
// duration of a run.
package restore

import (
	"fmt"

	"github.com/Trsvsr/idevicererestore/pkg/plist"
	"github.com/Trsvsr/idevicererestore/pkg/ticket"
)

// Mode is the device's current boot/recovery mode.
type Mode int

const (
	ModeUnknown Mode = iota
	ModeNormal
	ModeRecovery
	ModeDFU
	ModeWTF
	ModeRestore
)

func (m Mode) String() string {
	switch m {
	case ModeNormal:
		return "Normal"
	case ModeRecovery:
		return "Recovery"
	case ModeDFU:
		return "DFU"
	case ModeWTF:
		return "WTF"
	case ModeRestore:
		return "Restore"
	default:
		return "Unknown"
	}
}

// Flags is a bitset over the client's restore-behavior flags.
type Flags uint16

const (
	FlagErase Flags = 1 << iota
	FlagUpdate
	FlagRerestore
	FlagLatest
	FlagCustom
	FlagDebug
	FlagNoAction
	FlagShshOnly
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// Normalize enforces the flag invariants that are safe to resolve
// without user input: Rerestore without an explicit Erase/Update is
// normalized to Rerestore|Erase. Latest and Custom being set together
// is a user configuration error, not something to silently resolve
// here — the orchestrator rejects that combination at the start of a
// run instead, matching the original's startup flag validation.
func (f Flags) Normalize() Flags {
	if f.Has(FlagRerestore) && !f.Has(FlagErase) && !f.Has(FlagUpdate) {
		f |= FlagErase
	}
	return f
}

// Device is the resolved device descriptor.
type Device struct {
	HardwareModel string // e.g. "n90ap"
	ProductType   string // e.g. "iPhone5,2"
}

// BasebandPreflight mirrors the baseband preflight dictionary read in
// Normal mode, used to build baseband TSS request tags.
type BasebandPreflight struct {
	Nonce        string
	ChipID       string
	CertID       string
	ChipSerialNo string
}

// Client is the orchestrator's single owner of restore state. Every
// field is mutated only by the orchestrator (or by the components it
// calls synchronously on its behalf).
type Client struct {
	Flags Flags

	IPSWPath string
	CacheDir string

	Mode   Mode
	Device Device
	ECID   uint64

	Nonce []byte

	Version     string
	Build       string
	BuildMajor  int
	Image4Supported bool

	Manifest *plist.BuildManifest
	Identity *plist.BuildIdentity

	Ticket ticket.Ticket
	TSSURL string

	SerialNumber string

	PreflightInfo *BasebandPreflight

	BasebandPath     string
	OTAManifestPath  string

	Proxy    string
	Insecure bool

	tempFilesystem bool
}

// NewClient constructs a Client with normalized flags.
func NewClient(ipswPath, cacheDir string, flags Flags) *Client {
	return &Client{
		IPSWPath: ipswPath,
		CacheDir: cacheDir,
		Flags:    flags.Normalize(),
	}
}

// Behavior returns the RestoreBehavior string matching the client's
// Erase/Update flag, for use with identity_for_model_and_behavior.
func (c *Client) Behavior() string {
	if c.Flags.Has(FlagUpdate) {
		return "Update"
	}
	return "Erase"
}

// FlipBehavior returns the opposite RestoreBehavior flag set, used by
// the ramdisk reconciler's single retry.
func (c *Client) FlipBehavior() Flags {
	if c.Flags.Has(FlagUpdate) {
		return c.Flags &^ FlagUpdate | FlagErase
	}
	return c.Flags &^ FlagErase | FlagUpdate
}

// MarkTempFilesystem records that the extracted filesystem at its
// current path was created for this run and should be deleted on
// cleanup rather than left in the cache.
func (c *Client) MarkTempFilesystem() { c.tempFilesystem = true }

// TempFilesystem reports whether the extracted filesystem should be
// deleted during cleanup.
func (c *Client) TempFilesystem() bool { return c.tempFilesystem }

// RequireImage4Unsupported enforces the Non-goal that Image4-capable
// devices are rejected outright.
func (c *Client) RequireImage4Unsupported() error {
	if c.Image4Supported {
		return fmt.Errorf("device reports Image4 support; this project only restores legacy IMG3 devices")
	}
	return nil
}
