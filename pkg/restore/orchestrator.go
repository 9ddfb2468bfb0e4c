// Package restore implements the top-level orchestration state
// machine: detect the attached device, prepare a signed ticket for
// it, and drive it through DFU/Recovery/Restore mode to completion.
package restore

import (
	"archive/zip"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/dustin/go-humanize"

	"github.com/Trsvsr/idevicererestore/internal/cache"
	"github.com/Trsvsr/idevicererestore/internal/download"
	"github.com/Trsvsr/idevicererestore/pkg/archive"
	"github.com/Trsvsr/idevicererestore/pkg/shsh"
	"github.com/Trsvsr/idevicererestore/pkg/tss"
	"github.com/Trsvsr/idevicererestore/pkg/usb/irecv"
)

// wtfFallbackURL is the last-resort WTF recovery IPSW used when
// neither the local archive nor the version catalog has a WTF blob.
const wtfFallbackURL = "http://appldnld.apple.com.edgesuite.net/content.info.apple.com/iPhone/061-6618.20090617.Xse7Y/x12220000_5_Recovery.ipsw"

// ExitCode mirrors the process exit codes of the EXTERNAL INTERFACES
// contract: 0 success, -1 general, -2 restore-phase, -5 mode-transition.
type ExitCode int

const (
	ExitOK             ExitCode = 0
	ExitGeneral        ExitCode = -1
	ExitRestorePhase   ExitCode = -2
	ExitModeTransition ExitCode = -5
)

type stageError struct {
	code ExitCode
	err  error
}

func (e *stageError) Error() string { return e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }

func fatal(code ExitCode, format string, args ...any) error {
	return &stageError{code: code, err: fmt.Errorf(format, args...)}
}

// ProgressFunc is invoked at named milestones with the fraction
// complete within that milestone. Implementations must not block.
type ProgressFunc func(step string, fraction float64)

func noopProgress(string, float64) {}

// Streamer hands the prepared client, identity, and extracted
// filesystem off to the device-specific restore protocol; its
// implementation is outside this project's scope (the byte-level
// restored state machine).
type Streamer interface {
	Stream(c *Client, files []*zip.File, filesystemPath string) error
}

// Run drives the orchestrator end to end and returns the process exit
// code the EXTERNAL INTERFACES contract specifies.
func (c *Client) Run(streamer Streamer, progress ProgressFunc) ExitCode {
	if progress == nil {
		progress = noopProgress
	}
	err := c.run(streamer, progress)
	if err == nil {
		return ExitOK
	}
	log.WithError(err).Error("restore failed")
	if se, ok := err.(*stageError); ok {
		return se.code
	}
	return ExitGeneral
}

func (c *Client) run(streamer Streamer, progress ProgressFunc) error {
	// 1. Detect.
	progress("Detect", 0)
	if c.Flags.Has(FlagLatest) && c.Flags.Has(FlagCustom) {
		return fatal(ExitGeneral, "Latest and Custom flags are mutually exclusive")
	}
	doc, err := cache.Load(c.CacheDir)
	if err != nil {
		log.WithError(err).Warn("failed to load version data")
	}
	c.ProbeAndSet()
	progress("Detect", 0.5)

	// 2. WTF handling.
	if c.Mode == ModeWTF {
		if err := c.handleWTF(doc); err != nil {
			return fatal(ExitModeTransition, "WTF handling failed: %w", err)
		}
		time.Sleep(1 * time.Second)
		c.Mode = ModeDFU
	}
	progress("Detect", 0.75)

	// 3. Resolve hardware model.
	q, err := NewDeviceQuery(c.Mode)
	if err != nil {
		return fatal(ExitGeneral, "device query unavailable: %w", err)
	}
	model, err := q.ReadHardwareModel()
	if err != nil {
		return fatal(ExitGeneral, "failed to read hardware model: %w", err)
	}
	c.Device.HardwareModel = model
	var productType string
	if lq, ok := q.(*lockdownQuery); ok {
		productType, err = lq.ReadProductType()
		if err != nil {
			return fatal(ExitGeneral, "failed to read product type: %w", err)
		}
	} else {
		productType, err = LookupProductType(model)
		if err != nil {
			return fatal(ExitGeneral, "%w", err)
		}
	}
	c.Device.ProductType = productType
	log.WithFields(log.Fields{"hardware_model": model, "product_type": productType}).Info("identified device")

	// 4. Latest / NoAction.
	if c.Flags.Has(FlagLatest) {
		if doc == nil {
			return fatal(ExitGeneral, "no version data available to resolve latest firmware")
		}
		_, _, url, err := doc.LatestVersionFor(c.Device.ProductType)
		if err != nil {
			return fatal(ExitGeneral, "failed to resolve latest firmware: %w", err)
		}
		dest := filepath.Join(c.CacheDir, filepath.Base(url))
		d := download.NewDownload(c.Proxy, c.Insecure, false, true, false, false, false)
		d.URL = url
		d.DestName = dest
		if err := d.Do(); err != nil {
			return fatal(ExitGeneral, "failed to download latest firmware: %w", err)
		}
		c.IPSWPath = dest
	}
	if c.Flags.Has(FlagNoAction) {
		return nil
	}

	// 5. Restore mode reboot + re-probe.
	if c.Mode == ModeRestore {
		if rc, err := irecv.NewClient("Restore Mode"); err == nil {
			rc.SendCommand("reboot")
			rc.Close()
		}
		c.ProbeAndSet()
	}

	// 6. Read BuildManifest; compatibility + Image4 rejection.
	zr, err := archive.OpenLocal(c.IPSWPath)
	if err != nil {
		return fatal(ExitGeneral, "failed to open IPSW: %w", err)
	}
	defer zr.Close()

	if info, err := os.Stat(c.IPSWPath); err == nil {
		log.WithField("size", humanize.Bytes(uint64(info.Size()))).Debug("opened IPSW")
	}

	if err := c.LoadManifest(zr.File); err != nil {
		return fatal(ExitGeneral, "manifest error: %w", err)
	}
	supported, err := q.IsImage4Supported()
	if err != nil {
		log.WithError(err).Warn("failed to query Image4 support")
	}
	c.Image4Supported = supported
	if err := c.RequireImage4Unsupported(); err != nil {
		return fatal(ExitGeneral, "%w", err)
	}

	// 7. Select build identity.
	if err := c.SelectIdentity(); err != nil {
		return fatal(ExitGeneral, "identity selection failed: %w", err)
	}

	// 8. Prepare: ECID, conditional ApNonce refresh.
	progress("Prepare", 0)
	ecid, err := q.ReadECID()
	if err != nil {
		return fatal(ExitGeneral, "failed to read ECID: %w", err)
	}
	c.ECID = ecid
	if c.BuildMajor > 8 {
		if nonce, err := q.ReadApNonce(); err == nil {
			if !bytesEqual(nonce, c.Nonce) {
				c.Nonce = nonce
			}
		} else {
			log.WithError(err).Warn("failed to read ApNonce")
		}
	}

	// 9. Fetch ticket; honor ShshOnly.
	if err := c.fetchTicket(q); err != nil {
		return fatal(ExitRestorePhase, "ticket fetch failed: %w", err)
	}
	if c.Flags.Has(FlagShshOnly) {
		if err := shsh.Save(c.CacheDir, c.ECID, c.Device.ProductType, c.Version, c.Build, c.Ticket); err != nil {
			return fatal(ExitRestorePhase, "failed to save ticket: %w", err)
		}
		return nil
	}

	// 10. Ramdisk Hash Reconciler.
	ticketEnabled := c.Identity != nil && len(c.Identity.Manifest) > 0
	if ticketEnabled && c.Flags.Has(FlagRerestore) {
		if err := c.ReconcileRamdisk(zr.File); err != nil {
			return fatal(ExitRestorePhase, "ramdisk reconciliation failed: %w", err)
		}
	}

	// 11. Ticket-enabled fatal check; fixup.
	if ticketEnabled && len(c.Ticket) == 0 {
		return fatal(ExitRestorePhase, "manifest is ticket-enabled but no ticket was obtained")
	}
	c.Ticket.Fixup()

	// 12. Filesystem extraction.
	fsPath, err := c.Identity.ComponentPath("OS")
	if err != nil {
		return fatal(ExitRestorePhase, "unable to get path for filesystem component: %w", err)
	}
	localFS, err := c.extractFilesystem(zr.File, fsPath)
	if err != nil {
		return fatal(ExitRestorePhase, "filesystem extraction failed: %w", err)
	}

	// 13. Mode transitions.
	progress("Restore", 0)
	if err := c.transitionToRecoveryOrIBEC(zr.File); err != nil {
		return fatal(ExitModeTransition, "%w", err)
	}

	// 14. IBFL check.
	if err := c.checkIBFL(); err != nil {
		return fatal(ExitModeTransition, "%w", err)
	}

	// 15. Baseband Reconciler.
	if c.Flags.Has(FlagRerestore) {
		if err := c.ReconcileBaseband(zr.File); err != nil {
			log.WithError(err).Warn("baseband reconciliation failed")
		}
	}

	// 16. Nonce-change re-fetch.
	if !c.Image4Supported && c.BuildMajor > 8 {
		q2, err := NewDeviceQuery(c.Mode)
		if err == nil {
			if nonce, err := q2.ReadApNonce(); err == nil && !bytesEqual(nonce, c.Nonce) {
				c.Nonce = nonce
				if err := c.fetchTicket(q2); err != nil {
					return fatal(ExitRestorePhase, "ticket re-fetch after nonce change failed: %w", err)
				}
				c.Ticket.Fixup()
			}
		}
	}

	// 17. Recovery -> Restore transition.
	if c.Mode == ModeRecovery {
		if c.SerialNumber == "" {
			return fatal(ExitModeTransition, "srnm is required to transition to Restore mode")
		}
		if rc, err := irecv.NewClient("Recovery Mode"); err == nil {
			rc.SendCommand("go")
			rc.Close()
		}
		c.Mode = ModeRestore
	}

	// 18. Invoke external restore streamer.
	if streamer != nil {
		if err := streamer.Stream(c, zr.File, localFS); err != nil {
			return fatal(ExitRestorePhase, "restore streamer failed: %w", err)
		}
	}

	// 19. Cleanup.
	if c.TempFilesystem() {
		removeQuiet(localFS)
	}
	if strings.HasPrefix(c.Device.ProductType, "AppleTV") {
		if rc, err := irecv.NewClient("Recovery Mode"); err == nil {
			if err := rc.SetAutoboot(true); err == nil {
				rc.Reboot()
			} else {
				log.WithError(err).Error("setting auto-boot failed")
			}
			rc.Close()
		} else {
			log.WithError(err).Error("could not connect to device in recovery mode")
		}
	}

	progress("Restore", 1)
	return nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (c *Client) fetchTicket(q DeviceQuery) error {
	sepNonce, _ := q.ReadSepNonce()
	if c.Mode == ModeNormal {
		if lq, ok := q.(*lockdownQuery); ok {
			if pre, err := lq.ReadBasebandPreflight(); err == nil {
				c.PreflightInfo = pre
			} else {
				log.WithError(err).Debug("no baseband preflight info available")
			}
		}
	}
	client := tss.NewClient()
	t, err := client.FetchTicket(&tss.Config{
		Identity:        c.Identity,
		ECID:            c.ECID,
		ApNonce:         c.Nonce,
		SepNonce:        sepNonce,
		Image4Supported: c.Image4Supported,
		Baseband:        basebandPreflight(c.PreflightInfo),
		Product:         c.Device.ProductType,
		Version:         c.Version,
		Build:           c.Build,
		Rerestore:       c.Flags.Has(FlagRerestore),
		CacheDir:        c.CacheDir,
		Proxy:           c.Proxy,
		Insecure:        c.Insecure,
	})
	if err != nil {
		return err
	}
	c.Ticket = t
	return nil
}

func basebandPreflight(p *BasebandPreflight) *tss.BasebandPreflight {
	if p == nil {
		return nil
	}
	return &tss.BasebandPreflight{
		Nonce:        p.Nonce,
		ChipID:       p.ChipID,
		CertID:       p.CertID,
		ChipSerialNo: p.ChipSerialNo,
	}
}

func (c *Client) handleWTF(doc *cache.Document) error {
	dc, err := irecv.NewClient("DFU Mode")
	if err != nil {
		return fmt.Errorf("could not open device in WTF mode: %w", err)
	}
	defer dc.Close()

	cpid, err := strconv.ParseUint(strings.TrimPrefix(dc.CPID(), "0x"), 16, 64)
	if err != nil {
		return fmt.Errorf("could not get CPID for WTF mode device: %w", err)
	}
	wtfName := fmt.Sprintf("Firmware/dfu/WTF.s5l%04xxall.RELEASE.dfu", cpid)

	zr, err := archive.OpenLocal(c.IPSWPath)
	var blob []byte
	if err == nil {
		defer zr.Close()
		blob, _ = archive.ReadFile(zr.File, wtfName)
	}

	if blob == nil {
		wtfURL := wtfFallbackURL
		if doc != nil {
			if _, _, url, err := doc.LatestVersionFor("WTF"); err == nil && url != "" {
				wtfURL = url
			}
		}
		dest := filepath.Join(c.CacheDir, filepath.Base(wtfURL))
		d := download.NewDownload(c.Proxy, c.Insecure, false, true, false, false, false)
		d.URL = wtfURL
		d.DestName = dest
		if err := d.Do(); err != nil {
			return fmt.Errorf("failed to download WTF IPSW: %w", err)
		}
		wzr, err := archive.OpenLocal(dest)
		if err != nil {
			return fmt.Errorf("failed to open downloaded WTF IPSW: %w", err)
		}
		defer wzr.Close()
		blob, err = archive.ReadFile(wzr.File, wtfName)
		if err != nil {
			return fmt.Errorf("could not extract WTF: %w", err)
		}
	}

	if err := dc.SendBuffer(blob); err != nil {
		return fmt.Errorf("could not send WTF: %w", err)
	}
	return nil
}

func (c *Client) extractFilesystem(files []*zip.File, fsPath string) (string, error) {
	if fsPath == "" {
		return "", fmt.Errorf("no filesystem component path resolved")
	}
	size, ok := archive.Size(files, fsPath)
	if !ok {
		return "", fmt.Errorf("filesystem component %s not found in archive", fsPath)
	}

	dest := filepath.Join(c.CacheDir, filepath.Base(c.IPSWPath), fsPath)
	if info, err := statSize(dest); err == nil && uint64(info) == size {
		log.WithField("path", dest).Debug("reusing cached filesystem extraction")
		return dest, nil
	}

	lockPath := dest + ".lock"
	sentinel := dest + ".extract"
	unlock, err := acquireLock(lockPath)
	if err != nil {
		return "", fmt.Errorf("failed to acquire extraction lock: %w", err)
	}

	target := sentinel
	temp := false
	if _, err := statSize(sentinel); err == nil {
		target = sentinel + "." + strconv.FormatInt(time.Now().UnixNano(), 36)
		temp = true
	}
	unlock()

	if _, err := archive.ExtractToFile(files, fsPath, target); err != nil {
		return "", fmt.Errorf("failed to extract filesystem: %w", err)
	}

	if temp {
		c.MarkTempFilesystem()
		return target, nil
	}

	if err := renameOver(target, dest); err != nil {
		return "", fmt.Errorf("failed to finalize extracted filesystem: %w", err)
	}
	return dest, nil
}

// transitionToRecoveryOrIBEC implements step 13: depending on the
// current mode, request a transition into Recovery (directly, or via
// an iBEC sent from DFU), then poll until Recovery is observed.
func (c *Client) transitionToRecoveryOrIBEC(files []*zip.File) error {
	switch c.Mode {
	case ModeNormal:
		q, err := NewDeviceQuery(ModeNormal)
		if err != nil {
			return fmt.Errorf("failed to open lockdown transport: %w", err)
		}
		lq, ok := q.(*lockdownQuery)
		if !ok {
			return fmt.Errorf("normal-mode device query did not return a lockdown transport")
		}
		err = lq.ld.EnterRecovery()
		lq.conn.Close()
		if err != nil {
			return fmt.Errorf("failed to request recovery transition: %w", err)
		}

		deadline := time.Now().Add(10 * time.Second)
		for time.Now().Before(deadline) {
			if Probe() == ModeRecovery {
				c.Mode = ModeRecovery
				return nil
			}
			time.Sleep(500 * time.Millisecond)
		}
		return fmt.Errorf("device did not enter Recovery mode after requesting EnterRecovery")
	case ModeDFU:
		ibecPath, err := c.Identity.ComponentPath("iBEC")
		if err != nil {
			return fmt.Errorf("no iBEC component in identity: %w", err)
		}
		data, err := archive.ReadFile(files, ibecPath)
		if err != nil {
			return fmt.Errorf("failed to read iBEC: %w", err)
		}
		dc, err := irecv.NewClient("DFU Mode")
		if err != nil {
			return fmt.Errorf("failed to open DFU transport: %w", err)
		}
		if err := dc.SendBuffer(data); err != nil {
			dc.Close()
			return fmt.Errorf("failed to send iBEC: %w", err)
		}
		dc.Close()

		time.Sleep(2 * time.Second)
		deadline := time.Now().Add(10 * time.Second)
		for time.Now().Before(deadline) {
			if Probe() == ModeRecovery {
				c.Mode = ModeRecovery
				return nil
			}
			time.Sleep(500 * time.Millisecond)
		}
		return fmt.Errorf("device did not enter Recovery mode after sending iBEC")
	case ModeRecovery:
		if c.BuildMajor > 8 {
			if blob, ok := c.Ticket.RawBytes("APTicket"); ok {
				if rc, err := irecv.NewClient("Recovery Mode"); err == nil {
					rc.SendBuffer(blob)
					rc.Close()
				}
			}
		}
		return nil
	default:
		return fmt.Errorf("no mode transition defined for %s", c.Mode)
	}
}

func (c *Client) checkIBFL() error {
	q, err := NewDeviceQuery(ModeRecovery)
	if err != nil {
		return fmt.Errorf("could not query device info: %w", err)
	}
	info, err := q.ReadDeviceInfo()
	if err != nil {
		return fmt.Errorf("could not query device info: %w", err)
	}
	if iq, ok := q.(*irecvQuery); ok {
		c.SerialNumber = iq.c.SRNM()
	}
	ibfl, err := strconv.ParseUint(strings.TrimPrefix(info.IBFL, "0x"), 16, 64)
	if err != nil {
		return nil // undefined/unparsable IBFL: proceed silently
	}
	switch ibfl {
	case 0x03, 0x1B:
		if c.Flags.Has(FlagCustom) || !(c.BuildMajor == 9 || c.BuildMajor == 13) {
			return fmt.Errorf("failed to enter iBEC")
		}
		return fmt.Errorf("failed to enter iBEC; your APTicket might not be usable for re-restoring")
	case 0x1A, 0x02:
		log.Info("successfully entered iBEC")
		return nil
	default:
		return nil
	}
}
