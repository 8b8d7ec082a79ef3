// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package layout

import "fmt"

// Record holds field values for one instance of a Schema.
// Integer fields are stored as uint64 or, for enum fields, may be set
// by symbolic name. Constant and blob fields hold []byte.
type Record struct {
	schema *Schema
	values map[string]any
}

// New returns an empty record. Unset integers encode as zero and unset
// constants encode as their declared value.
func (s *Schema) New() *Record {
	return &Record{schema: s, values: make(map[string]any, len(s.fields))}
}

// Schema returns the layout the record belongs to.
func (r *Record) Schema() *Schema { return r.schema }

// Set stores a value without validating it. Encode reports type and
// range problems. Set returns r to allow chaining.
func (r *Record) Set(name string, v any) *Record {
	r.values[name] = v
	return r
}

// Has reports whether a value is present for name.
func (r *Record) Has(name string) bool {
	_, ok := r.values[name]
	return ok
}

// Get returns the stored value. Integer fields with an enum mapping are
// returned as their symbolic name when the value is known.
func (r *Record) Get(name string) (any, bool) {
	v, ok := r.values[name]
	if !ok {
		return nil, false
	}
	if f, known := r.schema.Field(name); known && f.Kind == KindUint && f.Enum != nil {
		if n, err := r.uint(name); err == nil {
			if sym, mapped := f.Enum.Name(n); mapped {
				return sym, true
			}
			return n, true
		}
	}
	return v, true
}

// Uint returns an integer field, resolving enum symbols to their values.
// Unset or invalid values yield 0.
func (r *Record) Uint(name string) uint64 {
	n, _ := r.uint(name)
	return n
}

// Symbol returns the enum name of an integer field.
func (r *Record) Symbol(name string) (string, bool) {
	f, ok := r.schema.Field(name)
	if !ok || f.Enum == nil {
		return "", false
	}
	n, err := r.uint(name)
	if err != nil {
		return "", false
	}
	return f.Enum.Name(n)
}

// Bytes returns a blob or constant field. Unset fields yield nil.
func (r *Record) Bytes(name string) []byte {
	switch v := r.values[name].(type) {
	case []byte:
		return v
	case string:
		return []byte(v)
	}
	return nil
}

// Size returns the encoded length of the record with its current values.
func (r *Record) Size() int {
	n := r.schema.fixed
	for _, f := range r.schema.fields {
		if f.Kind == KindBytes && f.SizeFrom != "" {
			if size, err := r.schema.blobSize(f, r); err == nil {
				n += size
			}
		}
	}
	return n
}

// uint converts the stored value of an integer field to uint64.
func (r *Record) uint(name string) (uint64, error) {
	f, ok := r.schema.Field(name)
	if !ok {
		return 0, &FieldError{Schema: r.schema.name, Field: name, Err: ErrFieldValue, Detail: errUnknownField.Error()}
	}

	v, ok := r.values[name]
	if !ok {
		return 0, nil
	}

	switch n := v.(type) {
	case uint64:
		return n, nil
	case uint:
		return uint64(n), nil
	case uint32:
		return uint64(n), nil
	case uint16:
		return uint64(n), nil
	case uint8:
		return uint64(n), nil
	case int, int64, int32, int16, int8:
		i := toInt64(n)
		if i < 0 {
			return 0, fieldErr(r.schema, f, ErrFieldValue, "negative value %d", i)
		}
		return uint64(i), nil
	case string:
		if f.Enum == nil {
			return 0, fieldErr(r.schema, f, ErrFieldValue, "symbol %q on non-enum field", n)
		}
		val, known := f.Enum.Value(n)
		if !known {
			return 0, fieldErr(r.schema, f, ErrFieldValue, "unknown symbol %q", n)
		}
		return val, nil
	}
	return 0, fieldErr(r.schema, f, ErrFieldValue, "unsupported type %T", v)
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int64:
		return n
	case int32:
		return int64(n)
	case int16:
		return int64(n)
	case int8:
		return int64(n)
	}
	panic(fmt.Sprintf("layout: not a signed integer: %T", v))
}
