// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zippkg

import (
	"errors"
	"fmt"

	"github.com/mrhack/zippkg/internal/layout"
)

var (
	// ErrFormat is returned when a record is malformed: a bad signature,
	// an undefined blob length or a truncated stream.
	ErrFormat = layout.ErrFormat

	// ErrBadArchive is returned when the input is not a ZIP archive.
	ErrBadArchive = errors.New("zip: not a zip archive")

	// ErrMultiDisk is returned for spanned archives, which are not supported.
	ErrMultiDisk = fmt.Errorf("%w: multi-disk archives are not supported", ErrBadArchive)

	// ErrBadPassword is returned when the provided password does not match.
	ErrBadPassword = errors.New("zip: invalid password")

	// ErrPasswordRequired is returned when an encrypted entry is read without a password.
	ErrPasswordRequired = fmt.Errorf("%w: password required", ErrBadPassword)

	// ErrIntegrity is returned when decoded data fails verification.
	ErrIntegrity = errors.New("zip: integrity check failed")

	// ErrAuthentication is returned when the AES authentication code does not match.
	ErrAuthentication = fmt.Errorf("%w: aes authentication failed", ErrIntegrity)

	// ErrChecksum is returned when reading a file checksum does not match.
	ErrChecksum = fmt.Errorf("%w: checksum error", ErrIntegrity)

	// ErrSizeMismatch is returned when the uncompressed size does not match the header.
	ErrSizeMismatch = fmt.Errorf("%w: uncompressed size mismatch", ErrIntegrity)

	// ErrUnsupportedMethod is returned when a compression algorithm is not supported.
	ErrUnsupportedMethod = errors.New("zip: unsupported compression method")

	// ErrUnsupportedEncryption is returned when an encryption method is not supported.
	ErrUnsupportedEncryption = errors.New("zip: unsupported encryption method")

	// ErrFileNotFound is returned when the requested file is not found in the archive.
	ErrFileNotFound = errors.New("zip: file not found")

	// ErrClosed is returned when using a reader or writer after Close.
	ErrClosed = errors.New("zip: archive closed")

	// ErrDetached is returned when reading an entry that has no archive behind it,
	// such as the entries reported by Writer.Files.
	ErrDetached = errors.New("zip: entry is not attached to a reader")

	// ErrConfig is returned when a Config or option holds an invalid value.
	ErrConfig = errors.New("zip: invalid configuration")

	// ErrFilenameTooLong is returned when a filename exceeds 65535 bytes.
	ErrFilenameTooLong = errors.New("zip: filename too long")

	// ErrCommentTooLong is returned when a comment exceeds 65535 bytes.
	ErrCommentTooLong = errors.New("zip: comment too long")

	// ErrExtraFieldTooLong is returned when the total size of extra fields exceeds 65535 bytes.
	ErrExtraFieldTooLong = errors.New("zip: extra field too long")
)
