// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package layout

import (
	"errors"
	"fmt"
)

var (
	// ErrFormat is the root of every malformed-record error.
	ErrFormat = errors.New("zip: format error")

	// ErrSignatureMismatch is returned when a constant field holds other bytes.
	ErrSignatureMismatch = fmt.Errorf("%w: signature mismatch", ErrFormat)

	// ErrUndefinedLength is returned when a blob length references a missing
	// field or resolves to a negative size.
	ErrUndefinedLength = fmt.Errorf("%w: undefined length", ErrFormat)

	// ErrTruncated is returned when the stream ends inside a record.
	ErrTruncated = fmt.Errorf("%w: truncated record", ErrFormat)

	// ErrFieldValue is returned when a value cannot be encoded into its field.
	ErrFieldValue = fmt.Errorf("%w: invalid field value", ErrFormat)
)

// FieldError reports which schema field failed to decode or encode.
type FieldError struct {
	Schema string
	Field  string
	Detail string
	Err    error
}

func (e *FieldError) Error() string {
	msg := fmt.Sprintf("%v: %s.%s", e.Err, e.Schema, e.Field)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *FieldError) Unwrap() error { return e.Err }

func fieldErr(s *Schema, f Field, err error, format string, args ...any) error {
	return &FieldError{
		Schema: s.name,
		Field:  f.Name,
		Detail: fmt.Sprintf(format, args...),
		Err:    err,
	}
}
