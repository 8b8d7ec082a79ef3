// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package layout

import (
	"errors"
	"fmt"
)

// group is a run of adjacent fields sharing a kind.
// Groups are decoded in file byte order.
type group struct {
	kind   Kind
	fields []Field
	size   int // Byte size of uint and const runs, 0 for blob runs
}

// Schema is a compiled, immutable record layout.
type Schema struct {
	name   string
	fields []Field
	index  map[string]int
	groups []group
	fixed  int
}

// NewSchema validates the field list and compiles it into runs.
func NewSchema(name string, fields ...Field) (*Schema, error) {
	s := &Schema{
		name:   name,
		fields: fields,
		index:  make(map[string]int, len(fields)),
	}

	for i, f := range fields {
		if f.Name == "" {
			return nil, fmt.Errorf("layout: %s: field %d has no name", name, i)
		}
		if _, dup := s.index[f.Name]; dup {
			return nil, fmt.Errorf("layout: %s: duplicate field %q", name, f.Name)
		}

		switch f.Kind {
		case KindUint:
			switch f.Width {
			case 1, 2, 4, 8:
			default:
				return nil, fmt.Errorf("layout: %s.%s: unsupported width %d", name, f.Name, f.Width)
			}
		case KindConst:
			if len(f.Value) == 0 {
				return nil, fmt.Errorf("layout: %s.%s: empty constant", name, f.Name)
			}
		case KindBytes:
			if f.SizeFrom != "" {
				j, ok := s.index[f.SizeFrom]
				if !ok {
					return nil, fmt.Errorf("layout: %s.%s: length field %q must precede it", name, f.Name, f.SizeFrom)
				}
				if fields[j].Kind != KindUint {
					return nil, fmt.Errorf("layout: %s.%s: length field %q is not an integer", name, f.Name, f.SizeFrom)
				}
			} else if f.Size < 0 {
				return nil, fmt.Errorf("layout: %s.%s: negative literal size", name, f.Name)
			}
		default:
			return nil, fmt.Errorf("layout: %s.%s: unknown kind %v", name, f.Name, f.Kind)
		}

		s.index[f.Name] = i
	}

	s.compile()
	return s, nil
}

// MustSchema is like NewSchema but panics on an invalid layout.
// It is meant for package-level schema declarations.
func MustSchema(name string, fields ...Field) *Schema {
	s, err := NewSchema(name, fields...)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Schema) compile() {
	var cur *group
	for _, f := range s.fields {
		if cur == nil || cur.kind != f.Kind {
			s.groups = append(s.groups, group{kind: f.Kind})
			cur = &s.groups[len(s.groups)-1]
		}
		cur.fields = append(cur.fields, f)

		switch f.Kind {
		case KindUint:
			cur.size += f.Width
			s.fixed += f.Width
		case KindConst:
			cur.size += len(f.Value)
			s.fixed += len(f.Value)
		case KindBytes:
			if f.SizeFrom == "" {
				s.fixed += f.Size
			}
		}
	}
}

// Name returns the schema name used in error messages.
func (s *Schema) Name() string { return s.name }

// FixedSize returns the size of the integer and constant fields plus any
// literal-size blobs, i.e. the record size when all variable blobs are empty.
func (s *Schema) FixedSize() int { return s.fixed }

// Field looks up a descriptor by name.
func (s *Schema) Field(name string) (Field, bool) {
	i, ok := s.index[name]
	if !ok {
		return Field{}, false
	}
	return s.fields[i], true
}

// blobSize resolves the effective length of a blob field against rec.
func (s *Schema) blobSize(f Field, rec *Record) (int, error) {
	if f.SizeFrom == "" {
		return f.Size, nil
	}
	if _, ok := rec.values[f.SizeFrom]; !ok {
		return 0, fieldErr(s, f, ErrUndefinedLength, "length field %q is not set", f.SizeFrom)
	}
	ref, err := rec.uint(f.SizeFrom)
	if err != nil {
		return 0, err
	}
	size := int64(ref) + int64(f.Adjust)
	if ref > 1<<32 || size < 0 {
		return 0, fieldErr(s, f, ErrUndefinedLength, "%d%+d", ref, f.Adjust)
	}
	return int(size), nil
}

var errUnknownField = errors.New("unknown field")
