package pyro

import "math"

// ValueKind is the Value discriminant.
type ValueKind uint8

const (
	KindBool ValueKind = iota
	KindNull
	KindI64
	KindF64
	KindRune
	KindObj
)

// Value is a tagged union, copied by value. Only the KindObj variant
// carries identity (the boxed Obj); every other variant compares and
// hashes structurally. It's a small fixed-size struct with a
// discriminant, rather than an interface, so that the millions of
// VM-loop value copies don't each allocate.
type Value struct {
	kind ValueKind
	b    bool
	i    int64
	f    float64
	r    rune
	obj  Obj
}

func Bool(b bool) Value    { return Value{kind: KindBool, b: b} }
func Null() Value          { return Value{kind: KindNull} }
func I64(i int64) Value    { return Value{kind: KindI64, i: i} }
func F64(f float64) Value  { return Value{kind: KindF64, f: f} }
func RuneVal(r rune) Value { return Value{kind: KindRune, r: r} }
func ObjVal(o Obj) Value   { return Value{kind: KindObj, obj: o} }

func (v Value) Kind() ValueKind { return v.kind }
func (v Value) IsNull() bool    { return v.kind == KindNull }
func (v Value) IsObj() bool     { return v.kind == KindObj }

func (v Value) AsBool() bool   { return v.b }
func (v Value) AsI64() int64   { return v.i }
func (v Value) AsF64() float64 { return v.f }
func (v Value) AsRune() rune   { return v.r }
func (v Value) AsObj() Obj     { return v.obj }

// TypeName returns the value's type name as used in type-error
// messages.
func (v Value) TypeName() string {
	switch v.kind {
	case KindBool:
		return "bool"
	case KindNull:
		return "null"
	case KindI64:
		return "i64"
	case KindF64:
		return "f64"
	case KindRune:
		return "rune"
	case KindObj:
		return v.obj.ObjKind().String()
	default:
		return "unknown"
	}
}

// IsTruthy implements Pyro's "kinda falsey" truthiness rule: null,
// false, and the numeric zero values are falsey; everything else --
// including empty strings/vectors -- is truthy. Used by the
// conditional jumps, `!` and `assert`.
func (v Value) IsTruthy() bool {
	switch v.kind {
	case KindNull:
		return false
	case KindBool:
		return v.b
	case KindI64:
		return v.i != 0
	case KindF64:
		return v.f != 0
	case KindRune:
		return v.r != 0
	default:
		return true
	}
}

func isNumericKind(k ValueKind) bool {
	switch k {
	case KindI64, KindF64, KindRune, KindBool:
		return true
	default:
		return false
	}
}

func (v Value) isNumericKind() bool { return isNumericKind(v.kind) }

// Eq implements structural equality: numeric kinds compare across
// i64/f64/rune/bool by mathematical value, strings by interned
// pointer identity, other objects by identity unless the instance
// defines `$op_binary_equals_equals` (handled one level up, in the VM,
// since that requires a method-dispatch call).
func (v Value) Eq(o Value) bool {
	if v.kind == KindObj && o.kind == KindObj {
		if vs, ok := v.obj.(*ObjString); ok {
			os, ok := o.obj.(*ObjString)
			return ok && vs == os // interned: pointer equality IS string equality
		}
		return v.obj == o.obj
	}
	if isNumericKind(v.kind) && isNumericKind(o.kind) {
		if v.isExactInteger() && o.isExactInteger() {
			return v.asInteger() == o.asInteger()
		}
		return v.asFloat() == o.asFloat()
	}
	return false
}

func (v Value) isExactInteger() bool {
	switch v.kind {
	case KindI64, KindRune, KindBool:
		return true
	default:
		return false
	}
}

func (v Value) asInteger() int64 {
	switch v.kind {
	case KindI64:
		return v.i
	case KindRune:
		return int64(v.r)
	case KindBool:
		if v.b {
			return 1
		}
		return 0
	default:
		return int64(v.f)
	}
}

func (v Value) asFloat() float64 {
	switch v.kind {
	case KindI64:
		return float64(v.i)
	case KindF64:
		return v.f
	case KindRune:
		return float64(v.r)
	case KindBool:
		if v.b {
			return 1
		}
		return 0
	default:
		return 0
	}
}

// Hash implements a consistent hash: integers, integer-valued
// floats, runes and booleans hash consistently with each other;
// strings reuse their precomputed FNV-1a hash; other objects hash by
// an allocation-order serial assigned at construction time.
func (v Value) Hash() uint64 {
	switch v.kind {
	case KindBool:
		if v.b {
			return 1
		}
		return 0
	case KindNull:
		return 0x9e3779b97f4a7c15
	case KindI64:
		return hashI64(v.i)
	case KindRune:
		return hashI64(int64(v.r))
	case KindF64:
		if v.f == math.Trunc(v.f) && !math.IsInf(v.f, 0) && !math.IsNaN(v.f) {
			return hashI64(int64(v.f))
		}
		return math.Float64bits(v.f)
	case KindObj:
		if s, ok := v.obj.(*ObjString); ok {
			return s.hash
		}
		return hashI64(int64(v.obj.header().serial))
	default:
		return 0
	}
}

func hashI64(i int64) uint64 {
	u := uint64(i)
	u ^= u >> 33
	u *= 0xff51afd7ed558ccd
	u ^= u >> 33
	u *= 0xc4ceb9fe1a85ec53
	u ^= u >> 33
	return u
}
