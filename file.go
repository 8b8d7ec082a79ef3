// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zippkg

import (
	"io/fs"
	"strings"
	"time"

	"github.com/mrhack/zippkg/internal"
	"github.com/mrhack/zippkg/internal/layout"
	"github.com/mrhack/zippkg/internal/sys"
)

// File is a single archive entry: its central directory record, the
// parsed extra fields and the values resolved from them.
//
// Sizes, offset and disk number already have Zip64 overrides applied.
// Entries of a Reader are immutable.
type File struct {
	header *layout.Record
	extra  *internal.ExtraFields

	name    string
	comment string

	compressedSize   uint64
	uncompressedSize uint64
	offset           uint64
	diskStart        uint32
	zip64            bool

	method     CompressionMethod
	encryption EncryptionMethod

	reader *Reader
}

// Name returns the decoded entry name, including a trailing slash for directories.
func (f *File) Name() string { return f.name }

// RawName returns the undecoded name bytes stored in the central directory.
func (f *File) RawName() []byte { return f.header.Bytes(internal.Name) }

// Comment returns the decoded entry comment.
func (f *File) Comment() string { return f.comment }

// Flags returns the general purpose bit flag.
func (f *File) Flags() uint16 { return uint16(f.header.Uint(internal.Flags)) }

// Method returns the effective compression method. For AES entries this is
// the method recorded in the AES extra field.
func (f *File) Method() CompressionMethod { return f.method }

// RawMethod returns the method field of the header as stored.
func (f *File) RawMethod() CompressionMethod {
	return CompressionMethod(f.header.Uint(internal.Method))
}

// CRC32 returns the stored checksum of the uncompressed data.
// 0 means the entry is not verified on read.
func (f *File) CRC32() uint32 { return uint32(f.header.Uint(internal.CRC32)) }

// CompressedSize returns the payload size, encryption overhead included.
func (f *File) CompressedSize() uint64 { return f.compressedSize }

// UncompressedSize returns the size of the original data.
func (f *File) UncompressedSize() uint64 { return f.uncompressedSize }

// HeaderOffset returns the position of the local file header.
func (f *File) HeaderOffset() uint64 { return f.offset }

// DiskStart returns the disk number holding the entry.
func (f *File) DiskStart() uint32 { return f.diskStart }

// ModTime converts the MS-DOS timestamp of the entry.
func (f *File) ModTime() time.Time {
	return msDosToTime(uint16(f.header.Uint(internal.ModDate)), uint16(f.header.Uint(internal.ModTime)))
}

// HostSystem returns the system that created the entry.
func (f *File) HostSystem() sys.HostSystem {
	return sys.HostSystem(f.header.Uint(internal.HostSystem))
}

// VersionMadeBy returns the ZIP specification version of the creator, times ten.
func (f *File) VersionMadeBy() uint8 { return uint8(f.header.Uint(internal.VersionMadeBy)) }

// VersionNeeded returns the minimum version required to extract the entry.
func (f *File) VersionNeeded() uint16 { return uint16(f.header.Uint(internal.VersionNeeded)) }

// ExternalAttrs returns the host-dependent file attributes.
func (f *File) ExternalAttrs() uint32 { return uint32(f.header.Uint(internal.ExternalAttrs)) }

// IsDir reports whether the entry is a directory.
func (f *File) IsDir() bool {
	return strings.HasSuffix(f.name, "/") || f.Mode().IsDir()
}

// Mode derives permission and type bits from the external attributes.
func (f *File) Mode() fs.FileMode {
	attrs := f.ExternalAttrs()

	switch f.HostSystem() {
	case sys.HostSystemUNIX, sys.HostSystemDarwin:
		unixMode := attrs >> 16
		mode := fs.FileMode(unixMode & 0777)
		switch unixMode & sys.S_IFMT {
		case sys.S_IFDIR:
			mode |= fs.ModeDir
		case sys.S_IFLNK:
			mode |= fs.ModeSymlink
		}
		return mode
	}

	mode := fs.FileMode(0644)
	if strings.HasSuffix(f.name, "/") || attrs&sys.DOSDirectory != 0 {
		mode = 0755 | fs.ModeDir
	}
	if attrs&sys.DOSReadOnly != 0 {
		mode &^= 0222 // Remove write permission (a-w)
	}
	return mode
}

// IsEncrypted reports whether bit 0 of the flags is set.
func (f *File) IsEncrypted() bool { return f.Flags()&flagEncrypted != 0 }

// Encryption returns the classified encryption scheme of the entry.
func (f *File) Encryption() EncryptionMethod { return f.encryption }

// IsZip64 reports whether the entry carries a Zip64 extra field.
func (f *File) IsZip64() bool { return f.zip64 }

// HasExtraField reports whether the extra field chain contains id.
func (f *File) HasExtraField(id uint16) bool { return f.extra.Has(id) }

// ExtraField returns the body of the extra field id, without its 4-byte header.
func (f *File) ExtraField(id uint16) []byte {
	rec, ok := f.extra.Get(id)
	if !ok {
		return nil
	}
	b, err := internal.EncodeExtra(rec)
	if err != nil || len(b) < 4 {
		return nil
	}
	return b[4:]
}

// Read returns the uncompressed content using the reader's password.
func (f *File) Read() ([]byte, error) {
	if f.reader == nil {
		return nil, ErrDetached
	}
	return f.reader.readFile(f, f.reader.config.Password)
}

// ReadWithPassword returns the uncompressed content using pwd.
func (f *File) ReadWithPassword(pwd string) ([]byte, error) {
	if f.reader == nil {
		return nil, ErrDetached
	}
	return f.reader.readFile(f, pwd)
}
