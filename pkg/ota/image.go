package ota

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/nodeforge/fabricd/pkg/crypto"
	"github.com/nodeforge/fabricd/pkg/tlv"
)

// FileMagic identifies a Matter OTA image file (Spec Section 11.19.2.2).
const FileMagic uint32 = 0x1BEEF11E

// DigestType identifies the algorithm used for ImageDigest.
type DigestType uint8

const (
	DigestTypeSHA256 DigestType = 1
)

// preambleSize is the length in bytes of the fixed header that precedes
// the TLV-encoded Header: magic(4) + totalSize(8) + headerSize(4).
const preambleSize = 4 + 8 + 4

var (
	ErrBadMagic       = errors.New("ota: file magic mismatch")
	ErrTruncated      = errors.New("ota: file shorter than declared totalSize")
	ErrDigestMismatch = errors.New("ota: image digest does not match payload")
	ErrMissingField   = errors.New("ota: header missing required field")
)

// Header is the TLV-encoded metadata block that precedes the payload.
type Header struct {
	VendorID              uint16
	ProductID             uint16
	SoftwareVersion       uint32
	SoftwareVersionString string
	PayloadSize           uint64
	ImageDigestType       DigestType
	ImageDigest           []byte

	MinApplicableVersion *uint32
	MaxApplicableVersion *uint32
	ReleaseNotesURL      string
}

const (
	hdrTagVendorID        = 0
	hdrTagProductID       = 1
	hdrTagVersion         = 2
	hdrTagVersionString   = 3
	hdrTagPayloadSize     = 4
	hdrTagDigestType      = 5
	hdrTagDigest          = 6
	hdrTagMinApplicable   = 7
	hdrTagMaxApplicable   = 8
	hdrTagReleaseNotesURL = 9
)

func (h *Header) encode() ([]byte, error) {
	var buf bytes.Buffer
	w := tlv.NewWriter(&buf)

	if err := w.StartStructure(tlv.Anonymous()); err != nil {
		return nil, err
	}
	if err := w.PutUint(tlv.ContextTag(hdrTagVendorID), uint64(h.VendorID)); err != nil {
		return nil, err
	}
	if err := w.PutUint(tlv.ContextTag(hdrTagProductID), uint64(h.ProductID)); err != nil {
		return nil, err
	}
	if err := w.PutUint(tlv.ContextTag(hdrTagVersion), uint64(h.SoftwareVersion)); err != nil {
		return nil, err
	}
	if err := w.PutString(tlv.ContextTag(hdrTagVersionString), h.SoftwareVersionString); err != nil {
		return nil, err
	}
	if err := w.PutUint(tlv.ContextTag(hdrTagPayloadSize), h.PayloadSize); err != nil {
		return nil, err
	}
	if err := w.PutUint(tlv.ContextTag(hdrTagDigestType), uint64(h.ImageDigestType)); err != nil {
		return nil, err
	}
	if err := w.PutBytes(tlv.ContextTag(hdrTagDigest), h.ImageDigest); err != nil {
		return nil, err
	}
	if h.MinApplicableVersion != nil {
		if err := w.PutUint(tlv.ContextTag(hdrTagMinApplicable), uint64(*h.MinApplicableVersion)); err != nil {
			return nil, err
		}
	}
	if h.MaxApplicableVersion != nil {
		if err := w.PutUint(tlv.ContextTag(hdrTagMaxApplicable), uint64(*h.MaxApplicableVersion)); err != nil {
			return nil, err
		}
	}
	if h.ReleaseNotesURL != "" {
		if err := w.PutString(tlv.ContextTag(hdrTagReleaseNotesURL), h.ReleaseNotesURL); err != nil {
			return nil, err
		}
	}
	if err := w.EndContainer(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func decodeHeader(payload []byte) (*Header, error) {
	r := tlv.NewReader(bytes.NewReader(payload))
	if err := r.Next(); err != nil {
		return nil, err
	}
	if err := r.EnterContainer(); err != nil {
		return nil, err
	}

	h := &Header{}
	var haveVendor, haveProduct, haveVersion, haveDigest bool

	for {
		if err := r.Next(); err != nil {
			return nil, err
		}
		if r.IsEndOfContainer() {
			break
		}
		switch r.Tag().TagNumber() {
		case hdrTagVendorID:
			v, err := r.Uint()
			if err != nil {
				return nil, err
			}
			h.VendorID = uint16(v)
			haveVendor = true
		case hdrTagProductID:
			v, err := r.Uint()
			if err != nil {
				return nil, err
			}
			h.ProductID = uint16(v)
			haveProduct = true
		case hdrTagVersion:
			v, err := r.Uint()
			if err != nil {
				return nil, err
			}
			h.SoftwareVersion = uint32(v)
			haveVersion = true
		case hdrTagVersionString:
			v, err := r.String()
			if err != nil {
				return nil, err
			}
			h.SoftwareVersionString = v
		case hdrTagPayloadSize:
			v, err := r.Uint()
			if err != nil {
				return nil, err
			}
			h.PayloadSize = v
		case hdrTagDigestType:
			v, err := r.Uint()
			if err != nil {
				return nil, err
			}
			h.ImageDigestType = DigestType(v)
		case hdrTagDigest:
			v, err := r.Bytes()
			if err != nil {
				return nil, err
			}
			h.ImageDigest = v
			haveDigest = true
		case hdrTagMinApplicable:
			v, err := r.Uint()
			if err != nil {
				return nil, err
			}
			mv := uint32(v)
			h.MinApplicableVersion = &mv
		case hdrTagMaxApplicable:
			v, err := r.Uint()
			if err != nil {
				return nil, err
			}
			mv := uint32(v)
			h.MaxApplicableVersion = &mv
		case hdrTagReleaseNotesURL:
			v, err := r.String()
			if err != nil {
				return nil, err
			}
			h.ReleaseNotesURL = v
		default:
			if err := r.Skip(); err != nil {
				return nil, err
			}
		}
	}

	if err := r.ExitContainer(); err != nil {
		return nil, err
	}
	if !haveVendor || !haveProduct || !haveVersion || !haveDigest {
		return nil, ErrMissingField
	}
	return h, nil
}

// Image is a fully parsed OTA software image: preamble, header and payload.
type Image struct {
	Header  Header
	Payload []byte
}

// CreateParams describes the fields a build tool supplies; ImageDigest and
// PayloadSize are derived, not taken from the caller.
type CreateParams struct {
	VendorID              uint16
	ProductID             uint16
	SoftwareVersion       uint32
	SoftwareVersionString string
	Payload               []byte

	MinApplicableVersion *uint32
	MaxApplicableVersion *uint32
	ReleaseNotesURL      string
}

// Create builds an Image from a payload, computing its SHA-256 digest.
func Create(p CreateParams) *Image {
	digest := crypto.SHA256Slice(p.Payload)
	return &Image{
		Header: Header{
			VendorID:              p.VendorID,
			ProductID:             p.ProductID,
			SoftwareVersion:       p.SoftwareVersion,
			SoftwareVersionString: p.SoftwareVersionString,
			PayloadSize:           uint64(len(p.Payload)),
			ImageDigestType:       DigestTypeSHA256,
			ImageDigest:           digest,
			MinApplicableVersion:  p.MinApplicableVersion,
			MaxApplicableVersion:  p.MaxApplicableVersion,
			ReleaseNotesURL:       p.ReleaseNotesURL,
		},
		Payload: p.Payload,
	}
}

// Encode serializes the image to its on-wire form: magic, total size,
// header size, TLV header, then the raw payload.
func (img *Image) Encode() ([]byte, error) {
	headerBytes, err := img.Header.encode()
	if err != nil {
		return nil, fmt.Errorf("ota: encode header: %w", err)
	}

	totalSize := uint64(preambleSize) + uint64(len(headerBytes)) + uint64(len(img.Payload))

	var buf bytes.Buffer
	buf.Grow(int(totalSize))

	var magicBuf [4]byte
	binary.LittleEndian.PutUint32(magicBuf[:], FileMagic)
	buf.Write(magicBuf[:])

	var sizeBuf [8]byte
	binary.LittleEndian.PutUint64(sizeBuf[:], totalSize)
	buf.Write(sizeBuf[:])

	var hdrSizeBuf [4]byte
	binary.LittleEndian.PutUint32(hdrSizeBuf[:], uint32(len(headerBytes)))
	buf.Write(hdrSizeBuf[:])

	buf.Write(headerBytes)
	buf.Write(img.Payload)

	return buf.Bytes(), nil
}

// Parse decodes an on-wire OTA image, validating the magic, declared
// total size and payload digest.
func Parse(data []byte) (*Image, error) {
	if len(data) < preambleSize {
		return nil, ErrTruncated
	}

	magic := binary.LittleEndian.Uint32(data[0:4])
	if magic != FileMagic {
		return nil, ErrBadMagic
	}

	totalSize := binary.LittleEndian.Uint64(data[4:12])
	headerSize := binary.LittleEndian.Uint32(data[12:16])

	if uint64(len(data)) < totalSize {
		return nil, ErrTruncated
	}

	headerStart := preambleSize
	headerEnd := headerStart + int(headerSize)
	if headerEnd > len(data) {
		return nil, io.ErrUnexpectedEOF
	}

	header, err := decodeHeader(data[headerStart:headerEnd])
	if err != nil {
		return nil, fmt.Errorf("ota: decode header: %w", err)
	}

	payloadEnd := uint64(headerEnd) + header.PayloadSize
	if payloadEnd > totalSize || payloadEnd > uint64(len(data)) {
		return nil, ErrTruncated
	}
	payload := data[headerEnd:payloadEnd]

	if header.ImageDigestType == DigestTypeSHA256 {
		digest := crypto.SHA256Slice(payload)
		if !bytes.Equal(digest, header.ImageDigest) {
			return nil, ErrDigestMismatch
		}
	}

	return &Image{Header: *header, Payload: payload}, nil
}
