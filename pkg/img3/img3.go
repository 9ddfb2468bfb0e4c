package img3

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

const Magic = "Img3"

// Img3 object
type Img3 struct {
	Header
	Tags []Tag // continues until end of file
}

// Header img3 header object
type Header struct {
	Magic        [4]byte // ASCII_LE("Img3")
	FullSize     uint32  // full size of fw image
	SizeNoPack   uint32  // size of fw image without header
	SigCheckArea uint32  // although that is just my name for it, this is the
	// size of the start of the data section (the code) up to
	// the start of the RSA signature (SHSH section)
	Ident [4]byte // identifier of image, used when bootrom is parsing images
	// list to find LLB (illb), LLB parsing it to find iBoot (ibot),
	// etc.
}

// Tag img3 tag object
type Tag struct {
	TagHeader
	Data []byte // [dataLength]
	Pad  []byte // Typically padded to 4 byte multiple [totalLength - dataLength - 12]
}

// TagHeader img3 tag header object
type TagHeader struct {
	Magic       [4]byte // see below
	TotalLength uint32  // length of tag including "magic" and these two length values
	DataLength  uint32  // length of tag data
}

/*
VERS: iBoot version of the image
SEPO: Security Epoch
SDOM: Security Domain
PROD: Production Mode
CHIP: Chip to be used with. example: 0x8900 for S5L8900.
BORD: Board to be used with
KBAG: Contains the IV and key required to decrypt; encrypted with the GID Key
SHSH: RSA encrypted SHA1 hash of the file
CERT: Certificate
ECID: Exclusive Chip ID unique to every device
TYPE: Type of image, should contain the same string as the header's ident
DATA: Real content of the file
NONC: Nonce used when file was signed.
CEPO: Chip epoch
OVRD:
RAND:
SALT:
*/

// ParseImg3 parses an IMG3 file from a byte slice
func ParseImg3(data []byte) (*Img3, error) {
	var i Img3

	r := bytes.NewReader(data)

	if err := binary.Read(r, binary.LittleEndian, &i.Header); err != nil {
		return nil, fmt.Errorf("failed to read IMG3 header: %v", err)
	}

	// Verify magic on a copy, so the stored header keeps its on-disk byte order
	magic := make([]byte, 4)
	copy(magic, i.Magic[:])
	if string(reverseBytes(magic)) != Magic {
		return nil, fmt.Errorf("invalid IMG3 magic: %s", string(magic))
	}

	for {
		var tag Tag

		err := binary.Read(r, binary.LittleEndian, &tag.TagHeader)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read IMG3 tag header: %v", err)
		}

		tag.Data = make([]byte, tag.DataLength)
		tag.Pad = make([]byte, tag.TotalLength-tag.DataLength-12)

		if err := binary.Read(r, binary.LittleEndian, &tag.Data); err != nil {
			return nil, fmt.Errorf("failed to read IMG3 tag data: %v", err)
		}
		if err := binary.Read(r, binary.LittleEndian, &tag.Pad); err != nil {
			return nil, fmt.Errorf("failed to read IMG3 tag pad: %v", err)
		}

		i.Tags = append(i.Tags, tag)
	}

	return &i, nil
}

// Bytes re-serializes the IMG3 file: header followed by each tag's
// header, data and padding, in the order they were parsed.
func (i *Img3) Bytes() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, i.Header); err != nil {
		return nil, err
	}
	for _, tag := range i.Tags {
		if err := binary.Write(buf, binary.LittleEndian, tag.TagHeader); err != nil {
			return nil, err
		}
		if _, err := buf.Write(tag.Data); err != nil {
			return nil, err
		}
		if _, err := buf.Write(tag.Pad); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// StitchSignature overwrites the file's SHSH tag data with blob,
// zero-padding the remainder of the tag's existing data length. It is
// an error for blob to be larger than the tag's data, or for no SHSH
// tag to exist at all.
func (i *Img3) StitchSignature(blob []byte) error {
	for idx := range i.Tags {
		tag := &i.Tags[idx]
		magic := make([]byte, 4)
		copy(magic, tag.Magic[:])
		if string(reverseBytes(magic)) != "SHSH" {
			continue
		}
		if len(blob) > len(tag.Data) {
			return fmt.Errorf("signature blob (%d bytes) larger than SHSH tag data (%d bytes)", len(blob), len(tag.Data))
		}
		for j := range tag.Data {
			tag.Data[j] = 0
		}
		copy(tag.Data, blob)
		return nil
	}
	return fmt.Errorf("no SHSH tag found to stitch signature into")
}

// StitchTicketBlob parses data as an IMG3 file, stitches blob into its
// signature slot, and returns the re-serialized bytes.
func StitchTicketBlob(data, blob []byte) ([]byte, error) {
	i, err := ParseImg3(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse IMG3 for stitching: %w", err)
	}
	if err := i.StitchSignature(blob); err != nil {
		return nil, err
	}
	return i.Bytes()
}

func reverseBytes(a []byte) []byte {
	for i := len(a)/2 - 1; i >= 0; i-- {
		opp := len(a) - 1 - i
		a[i], a[opp] = a[opp], a[i]
	}
	return a
}
