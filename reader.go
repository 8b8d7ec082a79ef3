// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zippkg

import (
	"bytes"
	"context"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"math"
	"os"
	"path"
	"strings"

	"github.com/mrhack/zippkg/internal"
	"github.com/mrhack/zippkg/internal/layout"
)

const (
	directoryEndLen = 22 // Size of EOCD without comment
	zip64LocatorLen = 20 // Size of Zip64 Locator
	maxCommentLen   = 0xFFFF
)

// Reader provides read access to the entries of a ZIP archive.
//
// The underlying stream is used through ReadAt only, with no shared cursor.
// A Reader is not safe for concurrent use.
type Reader struct {
	src    io.ReaderAt
	size   int64
	closer io.Closer // set when the Reader opened the file itself
	config Config
	logger *slog.Logger

	eocd    *layout.Record
	zip64   bool
	comment []byte
	files   []*File
	index   map[string]*File
	closed  bool
}

// OpenReader opens the named file and parses its central directory.
// The file is closed by Close, and on every error path.
func OpenReader(name string, config Config) (*Reader, error) {
	return OpenReaderWithContext(context.Background(), name, config)
}

// OpenReaderWithContext is like OpenReader but stops the central
// directory walk when ctx is done.
func OpenReaderWithContext(ctx context.Context, name string, config Config) (*Reader, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	r, err := NewReaderWithContext(ctx, f, info.Size(), config)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.closer = f
	return r, nil
}

// NewReader parses the archive stored in the first size bytes of src.
// src is borrowed: Close does not close it.
func NewReader(src io.ReaderAt, size int64, config Config) (*Reader, error) {
	return NewReaderWithContext(context.Background(), src, size, config)
}

// NewReaderWithContext parses an archive with context support.
func NewReaderWithContext(ctx context.Context, src io.ReaderAt, size int64, config Config) (*Reader, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := config.validate(); err != nil {
		return nil, err
	}

	r := &Reader{
		src:    src,
		size:   size,
		config: config,
		logger: config.log(),
		index:  make(map[string]*File),
	}
	if err := r.init(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Reader) init(ctx context.Context) error {
	eocd, eocdOffset, err := r.findEndOfCentralDir()
	if err != nil {
		return err
	}
	r.eocd = eocd
	r.comment = eocd.Bytes(internal.Comment)
	r.logger.Debug("found end of central directory",
		slog.Int64("offset", eocdOffset),
		slog.Uint64("entries", eocd.Uint(internal.EntriesTotal)))

	if isZip64End(eocd) {
		if err := r.readZip64End(eocdOffset); err != nil {
			return err
		}
		r.zip64 = true
	}

	if eocd.Uint(internal.CDSize) == 0 {
		return nil
	}
	return r.readCentralDir(ctx)
}

// findEndOfCentralDir scans the last 64KiB backward for the EOCD signature.
// A candidate whose comment would run past the end of the file is skipped.
func (r *Reader) findEndOfCentralDir() (*layout.Record, int64, error) {
	if r.size < directoryEndLen {
		return nil, 0, fmt.Errorf("%w: file too small", ErrBadArchive)
	}

	tailLen := min(r.size, int64(maxCommentLen+directoryEndLen))
	tailStart := r.size - tailLen
	tail := make([]byte, tailLen)
	if _, err := r.src.ReadAt(tail, tailStart); err != nil && err != io.EOF {
		return nil, 0, fmt.Errorf("read at %d: %w", tailStart, err)
	}

	for p := len(tail) - directoryEndLen; p >= 0; p-- {
		if !bytes.Equal(tail[p:p+4], internal.EndOfCentralDirSignature) {
			continue
		}
		rec, err := internal.EndOfCentralDir.DecodeBytes(tail[p:])
		if err != nil {
			continue
		}
		return rec, tailStart + int64(p), nil
	}

	return nil, 0, fmt.Errorf("%w: no end of central directory signature found", ErrBadArchive)
}

// isZip64End compares the EOCD counts against the 16- and 32-bit
// all-ones patterns, and size and offset against the 32-bit one.
func isZip64End(eocd *layout.Record) bool {
	for _, key := range []string{internal.EntriesThisDisk, internal.EntriesTotal} {
		if v := eocd.Uint(key); v == internal.Sentinel16 || v == internal.Sentinel32 {
			return true
		}
	}
	return eocd.Uint(internal.CDSize) == internal.Sentinel32 ||
		eocd.Uint(internal.CDOffset) == internal.Sentinel32
}

// readZip64End follows the locator preceding the EOCD and overwrites the
// EOCD counts, size and offset with the 64-bit values.
func (r *Reader) readZip64End(eocdOffset int64) error {
	locOffset := eocdOffset - zip64LocatorLen
	if locOffset < 0 {
		return fmt.Errorf("%w: no room for zip64 locator", ErrFormat)
	}

	locator, err := internal.Zip64EndOfCentralDirLocator.Decode(r.section(locOffset, zip64LocatorLen))
	if err != nil {
		return fmt.Errorf("read zip64 end of central dir locator: %w", err)
	}
	if locator.Uint(internal.DiskWithZip64End) != 0 && locator.Uint(internal.DiskTotal) != 1 {
		return ErrMultiDisk
	}

	endOffset := locator.Uint(internal.Zip64EndOffset)
	if endOffset >= uint64(r.size) {
		return fmt.Errorf("%w: zip64 end of central directory offset %d beyond file", ErrFormat, endOffset)
	}
	end, err := internal.Zip64EndOfCentralDir.Decode(r.section(int64(endOffset), r.size-int64(endOffset)))
	if err != nil {
		return fmt.Errorf("read zip64 end of central dir: %w", err)
	}

	for _, key := range []string{internal.EntriesThisDisk, internal.EntriesTotal, internal.CDSize, internal.CDOffset} {
		r.eocd.Set(key, end.Uint(key))
	}
	r.logger.Debug("read zip64 end of central directory",
		slog.Uint64("offset", endOffset),
		slog.Uint64("entries", end.Uint(internal.EntriesTotal)))
	return nil
}

// readCentralDir walks exactly entries_total directory records.
func (r *Reader) readCentralDir(ctx context.Context) error {
	offset := r.eocd.Uint(internal.CDOffset)
	entries := r.eocd.Uint(internal.EntriesTotal)
	if offset > uint64(r.size) {
		return fmt.Errorf("%w: central directory offset %d beyond file", ErrFormat, offset)
	}

	// A directory record is at least 46 bytes; trust the count only as far as the file allows.
	capHint := min(entries, uint64(r.size)/uint64(internal.CentralDirectory.FixedSize()))
	r.files = make([]*File, 0, capHint)

	cd := r.section(int64(offset), r.size-int64(offset))
	for i := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		header, err := internal.CentralDirectory.Decode(cd)
		if err != nil {
			return fmt.Errorf("central directory entry %d: %w", i, err)
		}
		f, err := resolveFile(header)
		if err != nil {
			return fmt.Errorf("central directory entry %d: %w", i, err)
		}
		f.reader = r
		r.files = append(r.files, f)
		r.index[f.name] = f
	}

	r.logger.Debug("read central directory", slog.Int("entries", len(r.files)), slog.Bool("zip64", r.zip64))
	return nil
}

func (r *Reader) section(off, n int64) *io.SectionReader {
	return io.NewSectionReader(r.src, off, n)
}

// Names returns the entry names in central directory order.
func (r *Reader) Names() []string {
	names := make([]string, len(r.files))
	for i, f := range r.files {
		names[i] = f.name
	}
	return names
}

// Files returns the entries in central directory order.
func (r *Reader) Files() []*File {
	out := make([]*File, len(r.files))
	copy(out, r.files)
	return out
}

// File returns the entry named name. When names repeat, the last one wins.
func (r *Reader) File(name string) (*File, error) {
	f, ok := r.index[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}
	return f, nil
}

// Exists reports whether name is an entry or a directory holding entries.
func (r *Reader) Exists(name string) bool {
	key := strings.TrimPrefix(path.Clean(strings.ReplaceAll(name, "\\", "/")), "/")
	if _, ok := r.index[key]; ok {
		return true
	}
	if _, ok := r.index[key+"/"]; ok {
		return true
	}
	for _, f := range r.files {
		if strings.HasPrefix(f.name, key+"/") {
			return true
		}
	}
	return false
}

// Glob returns the entries whose full names match pattern.
// Pattern syntax is identical to [path.Match].
func (r *Reader) Glob(pattern string) ([]*File, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, err
	}

	var matches []*File
	for _, f := range r.files {
		if matched, _ := path.Match(pattern, f.name); matched {
			matches = append(matches, f)
		}
	}
	return matches, nil
}

// Find matches pattern against base names in every directory.
// Find("*.log") matches "error.log" and "var/logs/access.log".
func (r *Reader) Find(pattern string) ([]*File, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, err
	}

	var matches []*File
	for _, f := range r.files {
		if matched, _ := path.Match(pattern, path.Base(f.name)); matched {
			matches = append(matches, f)
		}
	}
	return matches, nil
}

// Read returns the content of the entry named name using the configured password.
func (r *Reader) Read(name string) ([]byte, error) {
	return r.ReadWithPassword(name, r.config.Password)
}

// ReadWithPassword returns the content of the entry named name using pwd.
// A failed attempt leaves the Reader usable with another password.
func (r *Reader) ReadWithPassword(name, pwd string) ([]byte, error) {
	f, err := r.File(name)
	if err != nil {
		return nil, err
	}
	return r.readFile(f, pwd)
}

// Comment returns the raw archive comment.
func (r *Reader) Comment() string { return string(r.comment) }

// IsZip64 reports whether the archive uses a Zip64 end of central directory.
func (r *Reader) IsZip64() bool { return r.zip64 }

// Close releases the file opened by OpenReader. Borrowed sources are left open.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

// readFile reads the local header, then decrypts, decompresses and
// verifies the payload of f.
func (r *Reader) readFile(f *File, pwd string) ([]byte, error) {
	if r.closed {
		return nil, ErrClosed
	}
	if f.offset > uint64(r.size) {
		return nil, fmt.Errorf("%w: %s: local header offset %d beyond file", ErrFormat, f.name, f.offset)
	}

	lfh, err := internal.LocalFileHeader.Decode(r.section(int64(f.offset), r.size-int64(f.offset)))
	if err != nil {
		return nil, fmt.Errorf("%s: local file header: %w", f.name, err)
	}

	csize := f.compressedSize
	if csize == 0 {
		csize = lfh.Uint(internal.CompressedSize)
	}
	dataOffset := int64(f.offset) + int64(lfh.Size())
	if csize > uint64(r.size-dataOffset) {
		return nil, fmt.Errorf("%w: %s: %d compressed bytes past end of file", ErrFormat, f.name, csize)
	}

	data := make([]byte, csize)
	if _, err := r.src.ReadAt(data, dataOffset); err != nil && err != io.EOF {
		return nil, fmt.Errorf("%s: read data: %w", f.name, err)
	}

	if data, err = f.decrypt(data, pwd); err != nil {
		return nil, fmt.Errorf("%s: %w", f.name, err)
	}

	codec, err := codecFor(f.method, 0)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.name, err)
	}
	limit := int64(-1)
	if f.uncompressedSize != 0 && f.uncompressedSize < math.MaxInt64 {
		limit = int64(f.uncompressedSize)
	}
	content, err := codec.Decompress(data, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.name, err)
	}

	if limit >= 0 && uint64(len(content)) != f.uncompressedSize {
		return nil, fmt.Errorf("%w: %s: read %d, want %d", ErrSizeMismatch, f.name, len(content), f.uncompressedSize)
	}
	if want := f.CRC32(); want != 0 {
		if got := crc32.ChecksumIEEE(content); got != want {
			return nil, fmt.Errorf("%w: %s: got %08x, want %08x", ErrChecksum, f.name, got, want)
		}
	}
	return content, nil
}

// decrypt strips the encryption envelope of an entry payload.
func (f *File) decrypt(data []byte, pwd string) ([]byte, error) {
	if f.encryption == NotEncrypted {
		return data, nil
	}
	if pwd == "" {
		return nil, ErrPasswordRequired
	}

	if f.encryption == ZipCrypto {
		return decryptZipCrypto(data, []byte(pwd), f.checkByte())
	}
	return decryptAES(data, []byte(pwd), f.encryption)
}

// checkByte is the last byte of the legacy encryption header: the high
// byte of the DOS time when sizes are deferred to a data descriptor, the
// high byte of the CRC-32 otherwise.
func (f *File) checkByte() byte {
	if f.Flags()&flagDataDescriptor != 0 {
		return byte(f.header.Uint(internal.ModTime) >> 8)
	}
	return byte(f.CRC32() >> 24)
}
