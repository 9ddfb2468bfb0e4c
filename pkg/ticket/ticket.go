// Package ticket decodes and manipulates signing-server ticket (APTicket)
// responses: a property-list dictionary binding component names, and a
// handful of top-level keys, to their signed blobs.
package ticket

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/blacktop/go-plist"
)

// Ticket is the decoded response from the signing server.
type Ticket map[string]any

// Unmarshal decodes a plist-encoded ticket. go-plist auto-detects XML vs
// bplist00 from the leading bytes.
func Unmarshal(data []byte) (Ticket, error) {
	var t Ticket
	if err := plist.NewDecoder(bytes.NewReader(data)).Decode(&t); err != nil {
		return nil, fmt.Errorf("failed to decode ticket: %w", err)
	}
	return t, nil
}

// Marshal serializes the ticket to a binary property list.
func (t Ticket) Marshal() ([]byte, error) {
	return plist.Marshal(map[string]any(t), plist.BinaryFormat)
}

// HasImg4Ticket reports whether the response carries a non-empty
// ApImg4Ticket blob.
func (t Ticket) HasImg4Ticket() bool {
	b, ok := t["ApImg4Ticket"].([]byte)
	return ok && len(b) > 0
}

// Img4Ticket returns the raw ApImg4Ticket blob, if present.
func (t Ticket) Img4Ticket() ([]byte, bool) {
	b, ok := t["ApImg4Ticket"].([]byte)
	return b, ok
}

// RawTicketBuffer returns the binary plist encoding of the whole
// ticket, the buffer the ramdisk reconciler scans for a component's
// SHA-1 digest.
func (t Ticket) RawTicketBuffer() ([]byte, error) {
	return t.Marshal()
}

// RawBytes returns the raw bytes stored under the top-level key name,
// used to pull out the APTicket blob the orchestrator sends to a
// Recovery-mode device.
func (t Ticket) RawBytes(name string) ([]byte, bool) {
	b, ok := t[name].([]byte)
	return b, ok
}

// ComponentBlob returns the 64-byte per-component signature blob for
// name, as found under an IMG3-style TSS response entry.
func (t Ticket) ComponentBlob(name string) ([]byte, bool) {
	entry, ok := t[name].(map[string]any)
	if !ok {
		return nil, false
	}
	blob, ok := entry["Blob"].([]byte)
	if !ok {
		return nil, false
	}
	return blob, true
}

// Fixup applies the APTicket restore-key fallback: when a restore
// component's dictionary is empty, copy the value of its corresponding
// source key when that one is non-empty.
func (t Ticket) Fixup() {
	pairs := [][2]string{
		{"RestoreLogo", "AppleLogo"},
		{"RestoreDeviceTree", "DeviceTree"},
		{"RestoreKernelCache", "KernelCache"},
	}
	for _, p := range pairs {
		restoreKey, sourceKey := p[0], p[1]
		if restoreVal, ok := t[restoreKey].(map[string]any); ok && len(restoreVal) != 0 {
			continue
		}
		sourceVal, ok := t[sourceKey].(map[string]any)
		if !ok || len(sourceVal) == 0 {
			continue
		}
		cp := make(map[string]any, len(sourceVal))
		for k, v := range sourceVal {
			cp[k] = v
		}
		t[restoreKey] = cp
	}
}

// GzipMarshal serializes and gzip-compresses the ticket, the on-disk
// SHSH cache representation.
func (t Ticket) GzipMarshal() ([]byte, error) {
	data, err := t.Marshal()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(data); err != nil {
		return nil, err
	}
	if err := gw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// GunzipUnmarshal decompresses and decodes a cached SHSH ticket file.
func GunzipUnmarshal(data []byte) (Ticket, error) {
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open gzip ticket: %w", err)
	}
	defer gr.Close()
	body, err := io.ReadAll(gr)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress ticket: %w", err)
	}
	return Unmarshal(body)
}
