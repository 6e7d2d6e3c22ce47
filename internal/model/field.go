// Package model defines the typed in-memory descriptors the rest of the
// engine operates on: fields, ingesters, intervals, users, and instances.
// Descriptors are parsed once from declarative configuration (C1) and are
// otherwise mutated only by their owning scheduler tick (see
// internal/scheduler), in keeping with the single-writer invariant.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// FieldType enumerates the scalar types a Field's value may hold.
type FieldType string

const (
	TypeInt8      FieldType = "int8"
	TypeInt16     FieldType = "int16"
	TypeInt32     FieldType = "int32"
	TypeInt64     FieldType = "int64"
	TypeUint8     FieldType = "uint8"
	TypeUint16    FieldType = "uint16"
	TypeUint32    FieldType = "uint32"
	TypeUint64    FieldType = "uint64"
	TypeFloat32   FieldType = "float32"
	TypeFloat64   FieldType = "float64"
	TypeBool      FieldType = "bool"
	TypeTimestamp FieldType = "timestamp"
	TypeString    FieldType = "string"
	TypeBinary    FieldType = "binary"
	TypeVarbinary FieldType = "varbinary"
)

// ValidFieldTypes is the enumerated scalar set named in spec.md §3.
var ValidFieldTypes = map[FieldType]bool{
	TypeInt8: true, TypeInt16: true, TypeInt32: true, TypeInt64: true,
	TypeUint8: true, TypeUint16: true, TypeUint32: true, TypeUint64: true,
	TypeFloat32: true, TypeFloat64: true,
	TypeBool: true, TypeTimestamp: true, TypeString: true,
	TypeBinary: true, TypeVarbinary: true,
}

// Field is a typed, named column of one ingester.
type Field struct {
	Name         string
	Type         FieldType
	Target       string
	Selector     string
	Params       map[string]string
	Transformers []string
	Tags         []string
	Transient    bool

	// Value is the mutable current value, populated by the ingester body and
	// then rewritten in place by the transformation engine (§4.2). Only the
	// owning scheduler tick may write this field.
	Value any
}

// ID is a stable hash over the field's signature: (name, type, target,
// selector, params, transformers). Two fields with identical signatures
// share an ID even across ingester reloads.
func (f Field) ID() string {
	h := sha256.New()
	fmt.Fprintf(h, "name=%s\x00type=%s\x00target=%s\x00selector=%s\x00", f.Name, f.Type, f.Target, f.Selector)
	for _, k := range sortedKeys(f.Params) {
		fmt.Fprintf(h, "param:%s=%s\x00", k, f.Params[k])
	}
	for _, t := range f.Transformers {
		fmt.Fprintf(h, "xform:%s\x00", t)
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// Simple insertion sort: param maps are small (single-digit entries).
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}

// WithDefaults returns a copy of f with any empty Target/Selector/Params/
// Transformers filled in from the ingester's shared defaults.
func (f Field) WithDefaults(defTarget, defSelector string, defParams map[string]string, defTransformers []string) Field {
	out := f
	if out.Target == "" {
		out.Target = defTarget
	}
	if out.Selector == "" {
		out.Selector = defSelector
	}
	if out.Params == nil && len(defParams) > 0 {
		out.Params = defParams
	}
	if out.Transformers == nil && len(defTransformers) > 0 {
		out.Transformers = defTransformers
	}
	return out
}

// Clone returns a deep-enough copy for passing across tick boundaries;
// Params/Transformers/Tags slices and maps are copied, Value is shared
// (scalars and immutable strings only, per the field type contract).
func (f Field) Clone() Field {
	out := f
	if f.Params != nil {
		out.Params = make(map[string]string, len(f.Params))
		for k, v := range f.Params {
			out.Params[k] = v
		}
	}
	if f.Transformers != nil {
		out.Transformers = append([]string(nil), f.Transformers...)
	}
	if f.Tags != nil {
		out.Tags = append([]string(nil), f.Tags...)
	}
	return out
}

func normalizeName(name string) string {
	return strings.TrimSpace(name)
}
