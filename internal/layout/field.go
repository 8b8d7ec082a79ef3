// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package layout turns declarative field lists into exact little-endian
// byte encodings and decodings of ZIP records.
//
// A Schema is an ordered list of Field descriptors. Three kinds exist:
// fixed-width unsigned integers (optionally enum-mapped), constant byte
// strings (signatures) and byte blobs whose length is either a literal or
// the value of a previously decoded sibling field plus an adjustment.
package layout

import "fmt"

// Kind classifies a Field.
type Kind uint8

const (
	KindUint  Kind = iota // Fixed-width little-endian unsigned integer
	KindConst             // Constant byte string, e.g. a record signature
	KindBytes             // Length-dependent byte blob
)

func (k Kind) String() string {
	switch k {
	case KindUint:
		return "uint"
	case KindConst:
		return "const"
	case KindBytes:
		return "bytes"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Field describes a single record field.
type Field struct {
	Name string
	Kind Kind

	// Width is the integer width in bytes (1, 2, 4 or 8) for KindUint.
	Width int
	// Enum optionally maps integer values to symbolic names.
	Enum *Enum

	// Value is the expected content of a KindConst field.
	Value []byte

	// SizeFrom names the sibling field holding the blob length.
	// When empty, Size is used as a literal length.
	SizeFrom string
	Size     int
	// Adjust is added to the referenced length. It may be negative when
	// the referenced length also covers fields decoded separately.
	Adjust int
}

// Uint8 declares a 1-byte integer field.
func Uint8(name string) Field { return Field{Name: name, Kind: KindUint, Width: 1} }

// Uint16 declares a 2-byte little-endian integer field.
func Uint16(name string) Field { return Field{Name: name, Kind: KindUint, Width: 2} }

// Uint32 declares a 4-byte little-endian integer field.
func Uint32(name string) Field { return Field{Name: name, Kind: KindUint, Width: 4} }

// Uint64 declares an 8-byte little-endian integer field.
func Uint64(name string) Field { return Field{Name: name, Kind: KindUint, Width: 8} }

// WithEnum attaches a value/name table to an integer field.
func (f Field) WithEnum(e *Enum) Field {
	f.Enum = e
	return f
}

// Const declares a field that must decode to exactly value.
func Const(name string, value []byte) Field {
	v := make([]byte, len(value))
	copy(v, value)
	return Field{Name: name, Kind: KindConst, Value: v}
}

// Bytes declares a blob whose length is the value of the sibling field sizeFrom.
func Bytes(name, sizeFrom string) Field {
	return Field{Name: name, Kind: KindBytes, SizeFrom: sizeFrom}
}

// BytesAdjusted declares a blob of length sizeFrom+adjust.
func BytesAdjusted(name, sizeFrom string, adjust int) Field {
	return Field{Name: name, Kind: KindBytes, SizeFrom: sizeFrom, Adjust: adjust}
}

// FixedBytes declares a blob of literal length n.
func FixedBytes(name string, n int) Field {
	return Field{Name: name, Kind: KindBytes, Size: n}
}

// maxValue returns the largest value representable by an integer field.
func (f Field) maxValue() uint64 {
	if f.Width >= 8 {
		return ^uint64(0)
	}
	return 1<<(8*uint(f.Width)) - 1
}

// Enum is an immutable bidirectional table between integer values and names.
type Enum struct {
	byValue map[uint64]string
	byName  map[string]uint64
}

// NewEnum builds both directions of the table once.
// It panics when two names share a value, since such a table is ambiguous.
func NewEnum(names map[string]uint64) *Enum {
	e := &Enum{
		byValue: make(map[uint64]string, len(names)),
		byName:  make(map[string]uint64, len(names)),
	}
	for name, v := range names {
		if prev, ok := e.byValue[v]; ok {
			panic(fmt.Sprintf("layout: enum value %d mapped to both %q and %q", v, prev, name))
		}
		e.byValue[v] = name
		e.byName[name] = v
	}
	return e
}

// Name returns the symbolic name for v.
func (e *Enum) Name(v uint64) (string, bool) {
	name, ok := e.byValue[v]
	return name, ok
}

// Value returns the integer value for name.
func (e *Enum) Value(name string) (uint64, bool) {
	v, ok := e.byName[name]
	return v, ok
}
