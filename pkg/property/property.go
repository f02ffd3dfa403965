// Package property defines the opaque 128-bit property hash and the
// typed value variants carried in property-update batches. Hashes are
// always computed by the caller from (entity-id, application-id,
// type-name, property-name); this package never computes or
// interprets them beyond equality and ordering.
package property

import "encoding/binary"

// Hash is an opaque 128-bit key identifying an (entity, app, type,
// property) tuple. The core treats it as an uninterpreted bag of
// bits; callers are responsible for computing it consistently.
type Hash [16]byte

// Less gives Hash a total order (byte-wise, first byte most
// significant). It plays no part in equality semantics.
func (h Hash) Less(other Hash) bool {
	for i := range h {
		if h[i] != other[i] {
			return h[i] < other[i]
		}
	}
	return false
}

func (h Hash) String() string {
	const hexdigits = "0123456789abcdef"
	buf := make([]byte, 32)
	for i, b := range h {
		buf[i*2] = hexdigits[b>>4]
		buf[i*2+1] = hexdigits[b&0xF]
	}
	return string(buf)
}

// FromUint64Pair packs two 64-bit halves into a Hash, a convenience
// for callers whose hashing scheme already produces a 128-bit value
// as two words (e.g. a combined FNV/xxhash over the tuple fields).
func FromUint64Pair(hi, lo uint64) Hash {
	var h Hash
	binary.BigEndian.PutUint64(h[0:8], hi)
	binary.BigEndian.PutUint64(h[8:16], lo)
	return h
}

// Type enumerates the typed value variants a property update may
// carry.
type Type uint8

const (
	TypeInt32 Type = iota
	TypeInt64
	TypeFloat32
	TypeFloat64
	TypeVec2
	TypeVec3
	TypeVec4
	TypeQuat
	TypeString
	TypeBool
	TypeBytes
)

func (t Type) String() string {
	switch t {
	case TypeInt32:
		return "int32"
	case TypeInt64:
		return "int64"
	case TypeFloat32:
		return "float32"
	case TypeFloat64:
		return "float64"
	case TypeVec2:
		return "vec2"
	case TypeVec3:
		return "vec3"
	case TypeVec4:
		return "vec4"
	case TypeQuat:
		return "quat"
	case TypeString:
		return "string"
	case TypeBool:
		return "bool"
	case TypeBytes:
		return "bytes"
	default:
		return "unknown"
	}
}

// Vec2, Vec3, Vec4, Quat are the fixed-width geometric payloads.
type Vec2 struct{ X, Y float32 }
type Vec3 struct{ X, Y, Z float32 }
type Vec4 struct{ X, Y, Z, W float32 }
type Quat struct{ X, Y, Z, W float32 }

// Value is a typed union over the variants in Type. Exactly one of
// the typed fields is meaningful, selected by Type; this mirrors the
// original PropertyValue variant without needing a discriminated
// interface{} at the hot path.
type Value struct {
	Type    Type
	Int32   int32
	Int64   int64
	Float32 float32
	Float64 float64
	Vec2    Vec2
	Vec3    Vec3
	Vec4    Vec4
	Quat    Quat
	Str     string
	Bool    bool
	Bytes   []byte
}

func Int32Value(v int32) Value     { return Value{Type: TypeInt32, Int32: v} }
func Int64Value(v int64) Value     { return Value{Type: TypeInt64, Int64: v} }
func Float32Value(v float32) Value { return Value{Type: TypeFloat32, Float32: v} }
func Float64Value(v float64) Value { return Value{Type: TypeFloat64, Float64: v} }
func Vec2Value(v Vec2) Value       { return Value{Type: TypeVec2, Vec2: v} }
func Vec3Value(v Vec3) Value       { return Value{Type: TypeVec3, Vec3: v} }
func Vec4Value(v Vec4) Value       { return Value{Type: TypeVec4, Vec4: v} }
func QuatValue(v Quat) Value       { return Value{Type: TypeQuat, Quat: v} }
func StringValue(v string) Value   { return Value{Type: TypeString, Str: v} }
func BoolValue(v bool) Value       { return Value{Type: TypeBool, Bool: v} }
func BytesValue(v []byte) Value    { return Value{Type: TypeBytes, Bytes: v} }

// Equal reports whether two values carry the same type and payload.
// Used only by tests; the batcher never compares values, it always
// overwrites on duplicate key.
func (v Value) Equal(o Value) bool {
	if v.Type != o.Type {
		return false
	}
	switch v.Type {
	case TypeInt32:
		return v.Int32 == o.Int32
	case TypeInt64:
		return v.Int64 == o.Int64
	case TypeFloat32:
		return v.Float32 == o.Float32
	case TypeFloat64:
		return v.Float64 == o.Float64
	case TypeVec2:
		return v.Vec2 == o.Vec2
	case TypeVec3:
		return v.Vec3 == o.Vec3
	case TypeVec4:
		return v.Vec4 == o.Vec4
	case TypeQuat:
		return v.Quat == o.Quat
	case TypeString:
		return v.Str == o.Str
	case TypeBool:
		return v.Bool == o.Bool
	case TypeBytes:
		return string(v.Bytes) == string(o.Bytes)
	default:
		return false
	}
}

// Registry is an optional, purely diagnostic mapping from Hash back
// to the (entity, app, type, property) tuple it was computed from.
// The core never consults this for correctness — a Hash is always
// treated as opaque; the registry exists so introspection tooling can
// render human-readable property names.
type Registry struct {
	entries map[Hash]Descriptor
}

// Descriptor names the tuple a Hash was derived from.
type Descriptor struct {
	EntityID uint64
	AppID    string
	TypeName string
	PropName string
}

// NewRegistry creates an empty diagnostic registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[Hash]Descriptor)}
}

// Register records the descriptor a hash was computed from. Returns
// false if a different descriptor is already registered under the same
// hash (a collision), true otherwise, including when the identical
// descriptor is registered again.
func (r *Registry) Register(h Hash, d Descriptor) bool {
	if existing, ok := r.entries[h]; ok {
		return existing == d
	}
	r.entries[h] = d
	return true
}

// Lookup returns the descriptor for a hash, if known.
func (r *Registry) Lookup(h Hash) (Descriptor, bool) {
	d, ok := r.entries[h]
	return d, ok
}
