// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zippkg

import (
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/mrhack/zippkg/internal"
	"github.com/mrhack/zippkg/internal/layout"
	"github.com/mrhack/zippkg/internal/sys"
	"github.com/valyala/bytebufferpool"
)

// Version fields written by the Writer, as major*10 + minor.
const (
	versionMadeBy  = 20
	versionDefault = 20
	versionZip64   = 45
	versionAES     = 51
	versionZstd    = 63
)

const aesVendorVersionAE2 = 2

// Writer appends entries to a ZIP stream. Each entry is buffered in memory,
// compressed and encrypted in one pass, then written with its local header.
// The central directory is written by Close.
//
// A Writer is not safe for concurrent use.
type Writer struct {
	dest   *byteCountWriter
	closer io.Closer // set when the Writer created the file itself
	config Config
	logger *slog.Logger
	files  []*File
	closed bool
}

// NewWriter returns a Writer appending to dest, positioned at offset 0.
func NewWriter(dest io.Writer, config Config) (*Writer, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	return &Writer{
		dest:   &byteCountWriter{dest: dest},
		config: config,
		logger: config.log(),
	}, nil
}

// Create creates the named file and returns a Writer owning it.
// Close finalizes the archive and closes the file.
func Create(path string, config Config) (*Writer, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w, err := NewWriter(f, config)
	if err != nil {
		f.Close()
		return nil, err
	}
	w.closer = f
	return w, nil
}

// SetOffset declares that dest is already n bytes into the archive stream,
// e.g. when appending after a prefix such as a self-extractor stub.
// It must be called before any entry is written.
func (w *Writer) SetOffset(n int64) {
	if len(w.files) != 0 {
		panic("zip: SetOffset called after entries were written")
	}
	w.dest.bytesWritten = n
}

// WriteBytes compresses, optionally encrypts and appends a file entry.
func (w *Writer) WriteBytes(name string, content []byte, options ...AddOption) error {
	return w.writeEntry(name, content, false, options)
}

// WriteString is like WriteBytes for string content.
func (w *Writer) WriteString(name, content string, options ...AddOption) error {
	return w.writeEntry(name, []byte(content), false, options)
}

// Mkdir appends a directory entry. A trailing slash is added when missing.
func (w *Writer) Mkdir(name string, options ...AddOption) error {
	if !strings.HasSuffix(name, "/") {
		name += "/"
	}
	return w.writeEntry(name, nil, true, options)
}

// Files returns the entries written so far, in order.
func (w *Writer) Files() []*File {
	out := make([]*File, len(w.files))
	copy(out, w.files)
	return out
}

func (w *Writer) fileConfig(options []AddOption) FileConfig {
	fc := FileConfig{
		CompressionMethod: w.config.CompressionMethod,
		CompressionLevel:  w.config.CompressionLevel,
		EncryptionMethod:  w.config.EncryptionMethod,
		Password:          w.config.Password,
	}
	for _, opt := range options {
		opt(&fc)
	}
	return fc
}

// entryPayload is the processed content of an entry ready to be written.
type entryPayload struct {
	crc        uint32
	method     CompressionMethod // real method
	encryption EncryptionMethod
	data       []byte
}

func (w *Writer) writeEntry(name string, content []byte, isDir bool, options []AddOption) error {
	if w.closed {
		return ErrClosed
	}
	if !fitsUint16(len(name)) {
		return fmt.Errorf("%w: %d bytes", ErrFilenameTooLong, len(name))
	}

	fc := w.fileConfig(options)
	if !fitsUint16(len(fc.Comment)) {
		return fmt.Errorf("%w: %s: %d bytes", ErrCommentTooLong, name, len(fc.Comment))
	}
	if fc.ModTime.IsZero() {
		fc.ModTime = time.Now()
	}

	payload, err := w.preparePayload(content, isDir, fc)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}

	header, localExtra, err := w.buildHeader(name, uint64(len(content)), isDir, fc, payload)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}

	local, err := localHeaderFor(header, localExtra)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if _, err := w.dest.Write(local); err != nil {
		return fmt.Errorf("write local header: %w", err)
	}
	if _, err := w.dest.Write(payload.data); err != nil {
		return fmt.Errorf("write file data: %w", err)
	}

	f, err := resolveFile(header)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	w.files = append(w.files, f)

	w.logger.Debug("wrote entry",
		slog.String("name", name),
		slog.String("method", payload.method.String()),
		slog.String("encryption", payload.encryption.String()),
		slog.Int("size", len(content)),
		slog.Int("compressed", len(payload.data)),
		slog.Bool("zip64", f.zip64))
	return nil
}

// preparePayload computes the CRC-32, then compresses and encrypts content.
func (w *Writer) preparePayload(content []byte, isDir bool, fc FileConfig) (entryPayload, error) {
	if isDir {
		return entryPayload{method: Stored, encryption: NotEncrypted}, nil
	}

	if fc.CompressionLevel < 0 || fc.CompressionLevel > 9 {
		return entryPayload{}, fmt.Errorf("%w: compression level %d out of range 0-9", ErrConfig, fc.CompressionLevel)
	}
	enc := fc.encryption()
	if err := validateEncryption(fc.EncryptionMethod, fc.Password); err != nil {
		return entryPayload{}, err
	}

	codec, err := codecFor(fc.CompressionMethod, fc.CompressionLevel)
	if err != nil {
		return entryPayload{}, err
	}
	compressed, err := codec.Compress(content)
	if err != nil {
		return entryPayload{}, fmt.Errorf("compress: %w", err)
	}

	p := entryPayload{
		crc:        crc32.ChecksumIEEE(content),
		method:     fc.CompressionMethod,
		encryption: enc,
		data:       compressed,
	}

	switch {
	case enc == ZipCrypto:
		p.data, err = encryptZipCrypto(compressed, []byte(fc.Password), byte(p.crc>>24))
	case enc.IsAES():
		p.data, err = encryptAES(compressed, []byte(fc.Password), enc)
	}
	if err != nil {
		return entryPayload{}, fmt.Errorf("encrypt: %w", err)
	}
	return p, nil
}

// buildHeader fills the central directory record of a new entry. Sizes and
// the offset that do not fit below the 32-bit sentinel move to a Zip64
// extra field, in the order uncompressed size, compressed size, offset.
//
// It also returns the extra field of the local header. A local Zip64 field
// never carries the offset and, once present, holds both sizes.
func (w *Writer) buildHeader(name string, size uint64, isDir bool, fc FileConfig, p entryPayload) (*layout.Record, []byte, error) {
	dosDate, dosTime := timeToMsDos(fc.ModTime)

	flags := uint16(flagUTF8)
	if p.encryption != NotEncrypted {
		flags |= flagEncrypted
	}

	headerMethod := p.method
	crc := p.crc
	needed := uint16(versionDefault)
	if p.method == ZStandard {
		needed = versionZstd
	}

	var extras, localExtras []*layout.Record
	if p.encryption.IsAES() {
		headerMethod = aesMarker
		crc = 0 // AE-2 relies on the authentication code alone
		needed = max(needed, versionAES)
		aesExtra := internal.NewAESExtra(aesVendorVersionAE2, aesParams[p.encryption].strength, uint16(p.method))
		extras = append(extras, aesExtra)
		localExtras = append(localExtras, aesExtra)
	}

	csize := uint64(len(p.data))
	sizes := [3]uint64{size, csize, uint64(w.dest.bytesWritten)}
	var overflow []uint64
	for i, v := range sizes {
		if v >= internal.Sentinel32 {
			overflow = append(overflow, v)
			sizes[i] = internal.Sentinel32
		}
	}
	if len(overflow) > 0 {
		needed = max(needed, versionZip64)
		extras = append(extras, internal.NewZip64Extra(overflow...))
	}
	if size >= internal.Sentinel32 || csize >= internal.Sentinel32 {
		localExtras = append(localExtras, internal.NewZip64Extra(size, csize))
	}

	extra, err := internal.EncodeExtra(extras...)
	if err != nil {
		return nil, nil, err
	}
	localExtra, err := internal.EncodeExtra(localExtras...)
	if err != nil {
		return nil, nil, err
	}
	if n := max(len(extra), len(localExtra)); !fitsUint16(n) {
		return nil, nil, fmt.Errorf("%w: %d bytes", ErrExtraFieldTooLong, n)
	}

	attrs := uint32(sys.S_IFREG|0644) << 16
	if isDir {
		attrs = uint32(sys.S_IFDIR|0755)<<16 | sys.DOSDirectory
	}

	header := internal.CentralDirectory.New().
		Set(internal.VersionMadeBy, versionMadeBy).
		Set(internal.HostSystem, uint8(sys.HostSystemUNIX)).
		Set(internal.VersionNeeded, needed).
		Set(internal.Flags, flags).
		Set(internal.Method, uint16(headerMethod)).
		Set(internal.ModTime, dosTime).
		Set(internal.ModDate, dosDate).
		Set(internal.CRC32, crc).
		Set(internal.UncompressedSize, sizes[0]).
		Set(internal.CompressedSize, sizes[1]).
		Set(internal.LocalHeaderOffset, sizes[2]).
		Set(internal.ExternalAttrs, attrs)
	internal.SetBlob(header, internal.NameLength, internal.Name, []byte(name))
	internal.SetBlob(header, internal.ExtraLength, internal.Extra, extra)
	internal.SetBlob(header, internal.CommentLength, internal.Comment, []byte(fc.Comment))
	return header, localExtra, nil
}

// localHeaderFor encodes the local file header mirroring a directory record.
// With a local Zip64 field present both size fields hold the sentinel.
func localHeaderFor(header *layout.Record, extra []byte) ([]byte, error) {
	local := internal.LocalFileHeader.New()
	for _, key := range []string{
		internal.VersionNeeded, internal.Flags, internal.Method, internal.ModTime, internal.ModDate,
		internal.CRC32, internal.CompressedSize, internal.UncompressedSize,
	} {
		local.Set(key, header.Uint(key))
	}

	ef, err := internal.ParseExtra(extra)
	if err != nil {
		return nil, err
	}
	if ef.Has(internal.Zip64ExtraID) {
		local.Set(internal.CompressedSize, internal.Sentinel32).
			Set(internal.UncompressedSize, internal.Sentinel32)
	}

	internal.SetBlob(local, internal.NameLength, internal.Name, header.Bytes(internal.Name))
	internal.SetBlob(local, internal.ExtraLength, internal.Extra, extra)
	return internal.LocalFileHeader.Encode(local)
}

// Close writes the central directory, the Zip64 end records when needed
// and the end of central directory record. It does not close dest unless
// the Writer was returned by Create.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	err := w.finish()
	if w.closer != nil {
		if cerr := w.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func (w *Writer) finish() error {
	cdOffset := uint64(w.dest.bytesWritten)

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	for _, f := range w.files {
		b, err := internal.CentralDirectory.Encode(f.header)
		if err != nil {
			return fmt.Errorf("%s: encode central directory: %w", f.name, err)
		}
		buf.Write(b)
	}
	if _, err := w.dest.Write(buf.B); err != nil {
		return fmt.Errorf("write central directory: %w", err)
	}
	cdSize := uint64(buf.Len())
	entries := uint64(len(w.files))

	zip64 := entries >= internal.Sentinel16 || cdSize >= internal.Sentinel32 || cdOffset >= internal.Sentinel32
	if zip64 {
		if err := w.writeZip64End(entries, cdSize, cdOffset); err != nil {
			return err
		}
	}

	eocd := internal.EndOfCentralDir.New().
		Set(internal.EntriesThisDisk, min(entries, internal.Sentinel16)).
		Set(internal.EntriesTotal, min(entries, internal.Sentinel16)).
		Set(internal.CDSize, min(cdSize, internal.Sentinel32)).
		Set(internal.CDOffset, min(cdOffset, internal.Sentinel32))
	internal.SetBlob(eocd, internal.CommentLength, internal.Comment, []byte(w.config.Comment))

	b, err := internal.EndOfCentralDir.Encode(eocd)
	if err != nil {
		return err
	}
	if _, err := w.dest.Write(b); err != nil {
		return fmt.Errorf("write end of central directory: %w", err)
	}

	w.logger.Debug("finalized archive",
		slog.Int("entries", len(w.files)),
		slog.Uint64("cd_offset", cdOffset),
		slog.Uint64("cd_size", cdSize),
		slog.Bool("zip64", zip64))
	return nil
}

func (w *Writer) writeZip64End(entries, cdSize, cdOffset uint64) error {
	endOffset := uint64(w.dest.bytesWritten)

	end, err := internal.Zip64EndOfCentralDir.Encode(
		internal.NewZip64End(versionZip64, sys.HostSystemUNIX, versionZip64, entries, cdSize, cdOffset))
	if err != nil {
		return err
	}
	locator, err := internal.Zip64EndOfCentralDirLocator.Encode(internal.NewZip64Locator(endOffset))
	if err != nil {
		return err
	}

	if _, err := w.dest.Write(end); err != nil {
		return fmt.Errorf("write zip64 end of central directory: %w", err)
	}
	if _, err := w.dest.Write(locator); err != nil {
		return fmt.Errorf("write zip64 end of central directory locator: %w", err)
	}
	return nil
}
