// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package internal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/mrhack/zippkg/internal/layout"
)

// Extra field header IDs understood by the resolver.
const (
	Zip64ExtraID       uint16 = 0x0001
	AESExtraID         uint16 = 0x9901
	UnicodePathExtraID uint16 = 0x7075
)

// Extra field names.
const (
	DataLength    = "data_length"
	Data          = "data"
	VendorVersion = "vendor_version"
	VendorID      = "vendor_id"
	Strength      = "strength"
	Version       = "version"
	UnicodeName   = "unicode_name"
)

// ExtraHeader is the {signature, data_length} prefix of every extra field.
var ExtraHeader = layout.MustSchema("extra_header",
	layout.Uint16(Signature),
	layout.Uint16(DataLength),
)

// AESVendorVersions distinguishes AE-1 (CRC kept) from AE-2 (CRC zeroed).
var AESVendorVersions = layout.NewEnum(map[string]uint64{
	"AE-1": 1,
	"AE-2": 2,
})

// AESStrengths maps the strength byte of the AES extra field.
var AESStrengths = layout.NewEnum(map[string]uint64{
	"AES-128": 1,
	"AES-192": 2,
	"AES-256": 3,
})

// AESExtra is the WinZip AES parameters field (0x9901).
var AESExtra = layout.MustSchema("aes_extra",
	layout.Uint16(Signature),
	layout.Uint16(DataLength),
	layout.Uint16(VendorVersion).WithEnum(AESVendorVersions),
	layout.Const(VendorID, []byte("AE")),
	layout.Uint8(Strength).WithEnum(AESStrengths),
	layout.Uint16(Method),
)

// UnicodePathExtra is the Info-ZIP Unicode Path field (0x7075).
// data_length covers the version byte and the CRC-32 too.
var UnicodePathExtra = layout.MustSchema("unicode_path_extra",
	layout.Uint16(Signature),
	layout.Uint16(DataLength),
	layout.Uint8(Version),
	layout.Uint32(CRC32),
	layout.BytesAdjusted(UnicodeName, DataLength, -5),
)

// Zip64Extra holds the subset of 64-bit values whose header field overflowed.
var Zip64Extra = layout.MustSchema("zip64_extra",
	layout.Uint16(Signature),
	layout.Uint16(DataLength),
	layout.Bytes(Data, DataLength),
)

// OpaqueExtra keeps unknown fields by length only.
var OpaqueExtra = layout.MustSchema("opaque_extra",
	layout.Uint16(Signature),
	layout.Uint16(DataLength),
	layout.Bytes(Data, DataLength),
)

var knownExtras = map[uint16]*layout.Schema{
	Zip64ExtraID:       Zip64Extra,
	AESExtraID:         AESExtra,
	UnicodePathExtraID: UnicodePathExtra,
}

// ExtraFields is a parsed extra-field chain keyed by header ID.
type ExtraFields struct {
	order   []uint16
	records map[uint16]*layout.Record
}

// ParseExtra walks a TLV chain until the end of b.
//
// Recognized IDs are decoded through their schema; any other field is
// kept as an opaque blob. When an ID repeats, the first occurrence is kept
// and later ones are skipped by length. A header cut short by the end of
// b, or a body running past it, is a format error.
func ParseExtra(b []byte) (*ExtraFields, error) {
	ef := &ExtraFields{records: make(map[uint16]*layout.Record)}

	for off := 0; off < len(b); {
		hdr, err := ExtraHeader.DecodeBytes(b[off:])
		if err != nil {
			return nil, fmt.Errorf("extra field at offset %d: %w", off, err)
		}
		id := uint16(hdr.Uint(Signature))
		size := int(hdr.Uint(DataLength))
		end := off + ExtraHeader.FixedSize() + size
		if end > len(b) {
			return nil, fmt.Errorf("%w: extra field 0x%04x needs %d bytes, %d left",
				layout.ErrTruncated, id, size, len(b)-off-ExtraHeader.FixedSize())
		}

		if _, dup := ef.records[id]; !dup {
			schema, known := knownExtras[id]
			if !known {
				schema = OpaqueExtra
			}
			rec, err := schema.DecodeBytes(b[off:end])
			if err != nil {
				return nil, fmt.Errorf("extra field 0x%04x: %w", id, err)
			}
			ef.records[id] = rec
			ef.order = append(ef.order, id)
		}
		off = end
	}
	return ef, nil
}

// Get returns the record stored for id.
func (ef *ExtraFields) Get(id uint16) (*layout.Record, bool) {
	if ef == nil {
		return nil, false
	}
	rec, ok := ef.records[id]
	return rec, ok
}

// Has reports whether the chain contains id.
func (ef *ExtraFields) Has(id uint16) bool {
	_, ok := ef.Get(id)
	return ok
}

// IDs returns the retained header IDs in chain order.
func (ef *ExtraFields) IDs() []uint16 {
	if ef == nil {
		return nil
	}
	return append([]uint16(nil), ef.order...)
}

// Len returns the number of retained fields.
func (ef *ExtraFields) Len() int {
	if ef == nil {
		return 0
	}
	return len(ef.order)
}

// EncodeExtra serializes records into a single extra-field chain.
func EncodeExtra(recs ...*layout.Record) ([]byte, error) {
	var out []byte
	for _, rec := range recs {
		b, err := rec.Schema().Encode(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return out, nil
}

// NewAESExtra builds an AES parameters field recording the real method.
func NewAESExtra(vendorVersion uint16, strength uint8, method uint16) *layout.Record {
	return AESExtra.New().
		Set(Signature, AESExtraID).
		Set(DataLength, 7).
		Set(VendorVersion, vendorVersion).
		Set(Strength, strength).
		Set(Method, method)
}

// NewZip64Extra packs the given 8-byte values in order.
func NewZip64Extra(values ...uint64) *layout.Record {
	data := make([]byte, 0, 8*len(values))
	for _, v := range values {
		data = binary.LittleEndian.AppendUint64(data, v)
	}
	rec := Zip64Extra.New().Set(Signature, Zip64ExtraID)
	return SetBlob(rec, DataLength, Data, data)
}

// NewUnicodePathExtra records name as UTF-8 bound to the CRC-32 of the raw header name.
func NewUnicodePathExtra(rawName []byte, name string) *layout.Record {
	return UnicodePathExtra.New().
		Set(Signature, UnicodePathExtraID).
		Set(DataLength, 5+len(name)).
		Set(Version, 1).
		Set(CRC32, crc32.ChecksumIEEE(rawName)).
		Set(UnicodeName, []byte(name))
}

// Zip64Cursor hands out the 8-byte values of a Zip64 extra field in order.
type Zip64Cursor struct {
	data []byte
}

// NewZip64Cursor starts at the first value of rec. A nil rec yields an empty cursor.
func NewZip64Cursor(rec *layout.Record) *Zip64Cursor {
	if rec == nil {
		return &Zip64Cursor{}
	}
	return &Zip64Cursor{data: rec.Bytes(Data)}
}

// Next consumes n bytes (8 for sizes and offsets, 4 for the disk number).
func (c *Zip64Cursor) Next(n int) (uint64, error) {
	if len(c.data) < n {
		return 0, fmt.Errorf("%w: zip64 extra field has %d bytes, need %d",
			layout.ErrTruncated, len(c.data), n)
	}
	var v uint64
	if n == 4 {
		v = uint64(binary.LittleEndian.Uint32(c.data))
	} else {
		v = binary.LittleEndian.Uint64(c.data)
	}
	c.data = c.data[n:]
	return v, nil
}
