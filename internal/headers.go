// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package internal declares the binary layouts of the ZIP records and the
// extra-field chain parser built on top of them.
package internal

import (
	"github.com/mrhack/zippkg/internal/layout"
	"github.com/mrhack/zippkg/internal/sys"
)

// Each record type must be identified using a header signature that identifies the record type.
// Signature values begin with the two byte constant marker of 0x4b50, representing the characters "PK".
var (
	CentralDirectorySignature            = []byte("PK\x01\x02")
	LocalFileHeaderSignature             = []byte("PK\x03\x04")
	EndOfCentralDirSignature             = []byte("PK\x05\x06")
	Zip64EndOfCentralDirSignature        = []byte("PK\x06\x06")
	Zip64EndOfCentralDirLocatorSignature = []byte("PK\x06\x07")
)

// Field names shared by the record schemas.
const (
	Signature         = "signature"
	VersionMadeBy     = "version_made_by"
	HostSystem        = "host_system"
	VersionNeeded     = "version_needed"
	Flags             = "flags"
	Method            = "method"
	ModTime           = "mod_time"
	ModDate           = "mod_date"
	CRC32             = "crc32"
	CompressedSize    = "compressed_size"
	UncompressedSize  = "uncompressed_size"
	NameLength        = "name_length"
	ExtraLength       = "extra_length"
	CommentLength     = "comment_length"
	DiskStart         = "disk_start"
	InternalAttrs     = "internal_attrs"
	ExternalAttrs     = "external_attrs"
	LocalHeaderOffset = "local_header_offset"
	Name              = "name"
	Extra             = "extra"
	Comment           = "comment"

	DiskNumber      = "disk_number"
	DiskCDStart     = "disk_cd_start"
	EntriesThisDisk = "entries_this_disk"
	EntriesTotal    = "entries_total"
	CDSize          = "cd_size"
	CDOffset        = "cd_offset"

	DiskWithZip64End = "disk_with_zip64_end"
	Zip64EndOffset   = "zip64_end_offset"
	DiskTotal        = "disk_total"
	RecordSize       = "record_size"
	ExtensibleData   = "extensible_data"
)

// Sentinels marking a field whose real value lives in a Zip64 record.
const (
	Sentinel16 = 0xFFFF
	Sentinel32 = 0xFFFFFFFF
)

// EndOfCentralDir is the archive's root index, normally the last record.
var EndOfCentralDir = layout.MustSchema("end_of_central_dir",
	layout.Const(Signature, EndOfCentralDirSignature),
	layout.Uint16(DiskNumber),
	layout.Uint16(DiskCDStart),
	layout.Uint16(EntriesThisDisk),
	layout.Uint16(EntriesTotal),
	layout.Uint32(CDSize),
	layout.Uint32(CDOffset),
	layout.Uint16(CommentLength),
	layout.Bytes(Comment, CommentLength),
)

// CentralDirectory is the per-entry record of the central directory.
var CentralDirectory = layout.MustSchema("central_directory",
	layout.Const(Signature, CentralDirectorySignature),
	layout.Uint8(VersionMadeBy),
	layout.Uint8(HostSystem).WithEnum(sys.HostSystems),
	layout.Uint16(VersionNeeded),
	layout.Uint16(Flags),
	layout.Uint16(Method),
	layout.Uint16(ModTime),
	layout.Uint16(ModDate),
	layout.Uint32(CRC32),
	layout.Uint32(CompressedSize),
	layout.Uint32(UncompressedSize),
	layout.Uint16(NameLength),
	layout.Uint16(ExtraLength),
	layout.Uint16(CommentLength),
	layout.Uint16(DiskStart),
	layout.Uint16(InternalAttrs),
	layout.Uint32(ExternalAttrs),
	layout.Uint32(LocalHeaderOffset),
	layout.Bytes(Name, NameLength),
	layout.Bytes(Extra, ExtraLength),
	layout.Bytes(Comment, CommentLength),
)

// LocalFileHeader immediately precedes an entry's payload.
var LocalFileHeader = layout.MustSchema("local_file_header",
	layout.Const(Signature, LocalFileHeaderSignature),
	layout.Uint16(VersionNeeded),
	layout.Uint16(Flags),
	layout.Uint16(Method),
	layout.Uint16(ModTime),
	layout.Uint16(ModDate),
	layout.Uint32(CRC32),
	layout.Uint32(CompressedSize),
	layout.Uint32(UncompressedSize),
	layout.Uint16(NameLength),
	layout.Uint16(ExtraLength),
	layout.Bytes(Name, NameLength),
	layout.Bytes(Extra, ExtraLength),
)

// Zip64EndOfCentralDirLocator sits right before the classic EOCD.
var Zip64EndOfCentralDirLocator = layout.MustSchema("zip64_end_of_central_dir_locator",
	layout.Const(Signature, Zip64EndOfCentralDirLocatorSignature),
	layout.Uint32(DiskWithZip64End),
	layout.Uint64(Zip64EndOffset),
	layout.Uint32(DiskTotal),
)

// zip64EndFixedTail is the part of the Zip64 end record covered by record_size.
const zip64EndFixedTail = 44

// Zip64EndOfCentralDir carries the 64-bit counts, size and offset.
// record_size excludes the leading 12 bytes.
var Zip64EndOfCentralDir = layout.MustSchema("zip64_end_of_central_dir",
	layout.Const(Signature, Zip64EndOfCentralDirSignature),
	layout.Uint64(RecordSize),
	layout.Uint8(VersionMadeBy),
	layout.Uint8(HostSystem).WithEnum(sys.HostSystems),
	layout.Uint16(VersionNeeded),
	layout.Uint32(DiskNumber),
	layout.Uint32(DiskCDStart),
	layout.Uint64(EntriesThisDisk),
	layout.Uint64(EntriesTotal),
	layout.Uint64(CDSize),
	layout.Uint64(CDOffset),
	layout.BytesAdjusted(ExtensibleData, RecordSize, -zip64EndFixedTail),
)

// NewZip64End builds a Zip64 end record without extensible data.
func NewZip64End(madeBy uint8, host sys.HostSystem, needed uint16, entries, cdSize, cdOffset uint64) *layout.Record {
	return Zip64EndOfCentralDir.New().
		Set(RecordSize, uint64(zip64EndFixedTail)).
		Set(VersionMadeBy, madeBy).
		Set(HostSystem, uint8(host)).
		Set(VersionNeeded, needed).
		Set(EntriesThisDisk, entries).
		Set(EntriesTotal, entries).
		Set(CDSize, cdSize).
		Set(CDOffset, cdOffset)
}

// NewZip64Locator points at a Zip64 end record written on the only disk.
func NewZip64Locator(zip64EndOffset uint64) *layout.Record {
	return Zip64EndOfCentralDirLocator.New().
		Set(Zip64EndOffset, zip64EndOffset).
		Set(DiskTotal, 1)
}

// SetBlob stores a variable field together with its length field.
func SetBlob(rec *layout.Record, lengthField, field string, data []byte) *layout.Record {
	return rec.Set(lengthField, len(data)).Set(field, data)
}
