// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package zippkg reads and writes ZIP archives, including Zip64 archives,
// entries protected with the legacy PKWARE cipher and WinZip AES.
//
// Every record is described declaratively by the internal layout engine and
// decoded field by field, so malformed input surfaces as an error naming the
// offending record and field instead of a panic or silent garbage.
//
// # Reading
//
//	r, err := zippkg.OpenReader("archive.zip", zippkg.Config{Password: "secret"})
//	if err != nil {
//		return err
//	}
//	defer r.Close()
//
//	for _, name := range r.Names() {
//		data, err := r.Read(name)
//		...
//	}
//
// A caller that already holds an [io.ReaderAt] uses [NewReader]; the reader
// then borrows the handle and never closes it.
//
// # Writing
//
//	w, err := zippkg.NewWriter(f, zippkg.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	w.WriteString("hello.txt", "hello world")
//	w.Mkdir("images")
//	w.WriteBytes("images/logo.png", png, zippkg.WithCompression(zippkg.Stored, 0))
//	return w.Close()
//
// Entries are written in append order. Sizes and offsets that do not fit in
// 32 bits are moved to Zip64 extra fields automatically.
//
// # Errors
//
// Failures are reported through sentinel errors to be tested with
// [errors.Is]: [ErrFormat] for malformed records, [ErrBadArchive] when no
// archive is found, [ErrBadPassword], [ErrIntegrity] for authentication
// or checksum failures, and [ErrUnsupportedMethod].
package zippkg

import (
	"fmt"
	"log/slog"
	"time"
)

// Config defines configuration parameters for an archive.
// Writer settings apply to every entry unless overridden per entry with
// an AddOption. A Reader only uses Password and Logger.
type Config struct {
	// CompressionMethod is the default algorithm for new entries.
	// The zero value stores entries uncompressed; DefaultConfig selects Deflated.
	CompressionMethod CompressionMethod

	// CompressionLevel controls the speed vs size trade-off (1-9).
	// 0 selects the library default.
	CompressionLevel int

	// EncryptionMethod is the default encryption algorithm.
	// When a Password is set and this is NotEncrypted, ZipCrypto is used.
	EncryptionMethod EncryptionMethod

	// Password protects written entries and unlocks read entries.
	Password string

	// Comment is the archive-level comment (max 65535 bytes).
	Comment string

	// Logger receives debug records about archive structure.
	// Passwords and keys are never logged. Nil disables logging.
	Logger *slog.Logger
}

// DefaultConfig returns a Config that deflates entries at the default level.
func DefaultConfig() Config {
	return Config{CompressionMethod: Deflated}
}

// validate checks every field once, when a Reader or Writer is built.
func (c Config) validate() error {
	if c.CompressionLevel < 0 || c.CompressionLevel > 9 {
		return fmt.Errorf("%w: compression level %d out of range 0-9", ErrConfig, c.CompressionLevel)
	}
	if _, err := codecFor(c.CompressionMethod, c.CompressionLevel); err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}
	if err := validateEncryption(c.EncryptionMethod, c.Password); err != nil {
		return err
	}
	if !fitsUint16(len(c.Comment)) {
		return fmt.Errorf("%w: %w: %d bytes", ErrConfig, ErrCommentTooLong, len(c.Comment))
	}
	return nil
}

func validateEncryption(method EncryptionMethod, password string) error {
	if method != NotEncrypted && method != ZipCrypto && !method.IsAES() {
		return fmt.Errorf("%w: %w: %v", ErrConfig, ErrUnsupportedEncryption, method)
	}
	if method != NotEncrypted && password == "" {
		return fmt.Errorf("%w: %v encryption requires a password", ErrConfig, method)
	}
	return nil
}

func (c Config) log() *slog.Logger {
	if c.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.Logger
}

// FileConfig defines configuration specific to a single archive entry.
// It starts as a copy of the writer's Config.
type FileConfig struct {
	CompressionMethod CompressionMethod
	CompressionLevel  int
	EncryptionMethod  EncryptionMethod
	Password          string

	// Comment is a file-specific comment (max 65535 bytes).
	Comment string

	// ModTime is stored as an MS-DOS timestamp. Zero means the time of writing.
	ModTime time.Time
}

// encryption resolves the method actually applied to the entry.
func (fc FileConfig) encryption() EncryptionMethod {
	if fc.Password != "" && fc.EncryptionMethod == NotEncrypted {
		return ZipCrypto
	}
	if fc.Password == "" {
		return NotEncrypted
	}
	return fc.EncryptionMethod
}

// AddOption is a functional option for configuring entries as they are written.
type AddOption func(c *FileConfig)

// WithConfig applies a complete FileConfig, overwriting existing settings.
func WithConfig(fc FileConfig) AddOption {
	return func(c *FileConfig) {
		*c = fc
	}
}

// WithCompression sets the compression method and level for a regular file.
// Ignored for directories.
func WithCompression(method CompressionMethod, lvl int) AddOption {
	return func(c *FileConfig) {
		c.CompressionMethod = method
		c.CompressionLevel = lvl
	}
}

// WithEncryption sets the encryption method and password for a regular file.
// Ignored for directories.
func WithEncryption(e EncryptionMethod, pwd string) AddOption {
	return func(c *FileConfig) {
		c.EncryptionMethod = e
		c.Password = pwd
	}
}

// WithPassword sets the encryption password for a specific file.
// If no encryption method is specified, it defaults to ZipCrypto.
// Ignored for directories.
func WithPassword(pwd string) AddOption {
	return func(c *FileConfig) {
		c.Password = pwd
	}
}

// WithComment sets the entry comment.
func WithComment(comment string) AddOption {
	return func(c *FileConfig) {
		c.Comment = comment
	}
}

// WithModTime sets the entry modification time.
func WithModTime(t time.Time) AddOption {
	return func(c *FileConfig) {
		c.ModTime = t
	}
}
