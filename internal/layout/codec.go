// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package layout

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"

	"github.com/valyala/bytebufferpool"
)

// Decode reads exactly one record from r, group by group.
func (s *Schema) Decode(r io.Reader) (*Record, error) {
	rec := s.New()
	var scratch [64]byte

	for _, g := range s.groups {
		switch g.kind {
		case KindUint, KindConst:
			var buf []byte
			if g.size > len(scratch) {
				buf = make([]byte, g.size)
			} else {
				buf = scratch[:g.size]
			}
			if _, err := io.ReadFull(r, buf); err != nil {
				return nil, s.truncated(g.fields[0], err)
			}
			if err := s.decodeFixed(g, buf, rec); err != nil {
				return nil, err
			}

		case KindBytes:
			for _, f := range g.fields {
				size, err := s.blobSize(f, rec)
				if err != nil {
					return nil, err
				}
				blob, err := readBlob(r, size)
				if err != nil {
					return nil, s.truncated(f, err)
				}
				rec.values[f.Name] = blob
			}
		}
	}
	return rec, nil
}

// maxBlobPrealloc bounds the buffer allocated up front for a blob.
// Larger lengths come from untrusted input; their buffer grows only with
// the bytes actually read.
const maxBlobPrealloc = 64 << 10

func readBlob(r io.Reader, size int) ([]byte, error) {
	if size <= maxBlobPrealloc {
		blob := make([]byte, size)
		if _, err := io.ReadFull(r, blob); err != nil {
			return nil, err
		}
		return blob, nil
	}

	var buf bytes.Buffer
	buf.Grow(maxBlobPrealloc)
	n, err := io.CopyN(&buf, r, int64(size))
	if n < int64(size) {
		if err == nil || err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeBytes decodes a record from the start of b.
// Trailing bytes after the record are ignored.
func (s *Schema) DecodeBytes(b []byte) (*Record, error) {
	return s.Decode(bytes.NewReader(b))
}

func (s *Schema) decodeFixed(g group, buf []byte, rec *Record) error {
	off := 0
	for _, f := range g.fields {
		switch f.Kind {
		case KindUint:
			rec.values[f.Name] = getUint(buf[off:off+f.Width], f.Width)
			off += f.Width
		case KindConst:
			got := buf[off : off+len(f.Value)]
			if !bytes.Equal(got, f.Value) {
				return fieldErr(s, f, ErrSignatureMismatch, "want %x, got %x", f.Value, got)
			}
			rec.values[f.Name] = f.Value
			off += len(f.Value)
		}
	}
	return nil
}

func (s *Schema) truncated(f Field, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fieldErr(s, f, ErrTruncated, "")
	}
	return err
}

// Encode validates every value of rec and serializes it in field order.
func (s *Schema) Encode(rec *Record) ([]byte, error) {
	if rec.schema != s {
		return nil, &FieldError{Schema: s.name, Err: ErrFieldValue, Detail: "record of schema " + rec.schema.name}
	}
	for name := range rec.values {
		if _, ok := s.index[name]; !ok {
			return nil, &FieldError{Schema: s.name, Field: name, Err: ErrFieldValue, Detail: errUnknownField.Error()}
		}
	}

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	var tmp [8]byte
	for _, f := range s.fields {
		switch f.Kind {
		case KindUint:
			n, err := rec.uint(f.Name)
			if err != nil {
				return nil, err
			}
			if n > f.maxValue() {
				return nil, fieldErr(s, f, ErrFieldValue, "%d overflows %d-byte field", n, f.Width)
			}
			putUint(tmp[:f.Width], f.Width, n)
			buf.Write(tmp[:f.Width])

		case KindConst:
			if v, ok := rec.values[f.Name]; ok {
				b, isBytes := asBytes(v)
				if !isBytes {
					return nil, fieldErr(s, f, ErrFieldValue, "unsupported type %T", v)
				}
				if !bytes.Equal(b, f.Value) {
					return nil, fieldErr(s, f, ErrFieldValue, "constant must be %x", f.Value)
				}
			}
			buf.Write(f.Value)

		case KindBytes:
			var blob []byte
			if v, ok := rec.values[f.Name]; ok {
				b, isBytes := asBytes(v)
				if !isBytes {
					return nil, fieldErr(s, f, ErrFieldValue, "unsupported type %T", v)
				}
				blob = b
			}
			size, err := s.blobSize(f, rec)
			if err != nil {
				return nil, err
			}
			if len(blob) != size {
				return nil, fieldErr(s, f, ErrFieldValue, "length is %d, want %d", len(blob), size)
			}
			buf.Write(blob)
		}
	}

	out := make([]byte, buf.Len())
	copy(out, buf.B)
	return out, nil
}

func asBytes(v any) ([]byte, bool) {
	switch b := v.(type) {
	case []byte:
		return b, true
	case string:
		return []byte(b), true
	}
	return nil, false
}

func getUint(b []byte, width int) uint64 {
	switch width {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(b))
	case 4:
		return uint64(binary.LittleEndian.Uint32(b))
	default:
		return binary.LittleEndian.Uint64(b)
	}
}

func putUint(b []byte, width int, v uint64) {
	switch width {
	case 1:
		b[0] = uint8(v)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(v))
	default:
		binary.LittleEndian.PutUint64(b, v)
	}
}
