// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zippkg

import (
	"fmt"
	"hash/crc32"

	"github.com/mrhack/zippkg/internal"
	"github.com/mrhack/zippkg/internal/layout"
	"golang.org/x/text/encoding/charmap"
)

// General purpose bit flags
const (
	flagEncrypted      = 0x1
	flagDataDescriptor = 0x8
	flagUTF8           = 0x800
)

// resolveFile builds an entry from a decoded central directory record.
// It applies Zip64 overrides, decodes the name and comment, and classifies
// the encryption scheme. Any failure aborts the whole entry.
func resolveFile(header *layout.Record) (*File, error) {
	extra, err := internal.ParseExtra(header.Bytes(internal.Extra))
	if err != nil {
		return nil, err
	}

	f := &File{
		header:           header,
		extra:            extra,
		compressedSize:   header.Uint(internal.CompressedSize),
		uncompressedSize: header.Uint(internal.UncompressedSize),
		offset:           header.Uint(internal.LocalHeaderOffset),
		diskStart:        uint32(header.Uint(internal.DiskStart)),
		method:           CompressionMethod(header.Uint(internal.Method)),
	}

	if err := f.applyZip64(); err != nil {
		return nil, err
	}

	flags := header.Uint(internal.Flags)
	f.name = decodeName(header.Bytes(internal.Name), flags, extra)
	f.comment = decodeText(header.Bytes(internal.Comment), flags)

	if err := f.classifyEncryption(); err != nil {
		return nil, fmt.Errorf("%s: %w", f.name, err)
	}
	return f, nil
}

// applyZip64 replaces sentinel fields with the values of the Zip64 extra
// field in the fixed order: uncompressed size, compressed size, local
// header offset, disk number. Fields below the sentinel are left untouched
// and consume nothing.
func (f *File) applyZip64() error {
	rec, ok := f.extra.Get(internal.Zip64ExtraID)
	if !ok {
		return nil
	}
	f.zip64 = true
	cur := internal.NewZip64Cursor(rec)

	for _, field := range []*uint64{&f.uncompressedSize, &f.compressedSize, &f.offset} {
		if *field != internal.Sentinel32 {
			continue
		}
		v, err := cur.Next(8)
		if err != nil {
			return err
		}
		*field = v
	}

	if f.diskStart == internal.Sentinel16 {
		v, err := cur.Next(4)
		if err != nil {
			return err
		}
		f.diskStart = uint32(v)
	}
	return nil
}

// decodeName follows a strict precedence: the UTF-8 flag, then a Unicode
// Path extra field whose CRC matches the raw name, then code page 437.
func decodeName(raw []byte, flags uint64, extra *internal.ExtraFields) string {
	if flags&flagUTF8 != 0 {
		return string(raw)
	}
	if upef, ok := extra.Get(internal.UnicodePathExtraID); ok {
		if uint32(upef.Uint(internal.CRC32)) == crc32.ChecksumIEEE(raw) {
			return string(upef.Bytes(internal.UnicodeName))
		}
	}
	return decodeCP437(raw)
}

func decodeText(raw []byte, flags uint64) string {
	if flags&flagUTF8 != 0 {
		return string(raw)
	}
	return decodeCP437(raw)
}

func decodeCP437(raw []byte) string {
	if isASCII(raw) {
		return string(raw)
	}
	out, err := charmap.CodePage437.NewDecoder().Bytes(raw)
	if err != nil {
		return string(raw)
	}
	return string(out)
}

func isASCII(b []byte) bool {
	for _, c := range b {
		if c >= 0x80 {
			return false
		}
	}
	return true
}

// classifyEncryption picks the cipher of an encrypted entry. An AES extra
// field carries both the strength and the real compression method, which
// the header overloads with the AES marker.
func (f *File) classifyEncryption() error {
	if f.header.Uint(internal.Flags)&flagEncrypted == 0 {
		f.encryption = NotEncrypted
		return nil
	}

	aes, ok := f.extra.Get(internal.AESExtraID)
	if !ok {
		f.encryption = ZipCrypto
		return nil
	}

	method, err := aesMethodForStrength(uint8(aes.Uint(internal.Strength)))
	if err != nil {
		return err
	}
	f.encryption = method
	f.method = CompressionMethod(aes.Uint(internal.Method))
	return nil
}
