package pyro

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// binaryOp implements every binary operator's semantics, with user
// classes able to override via `$op_binary_*`/`$rop_*` dunder methods
// looked up on instances before falling back to the builtin
// numeric/string/collection rules.
func binaryOp(vm *VM, op Opcode, a, b Value) (Value, error) {
	if dunder, ok := binaryDunderNames[op]; ok {
		if a.kind == KindObj {
			if inst, ok := a.obj.(*ObjInstance); ok {
				if method, ok := inst.class.allInstanceMethods[dunder]; ok {
					return vm.callMethodValue(method, a, []Value{b})
				}
			}
		}
		if rop, ok := binaryRDunderNames[op]; ok && b.kind == KindObj {
			if inst, ok := b.obj.(*ObjInstance); ok {
				if method, ok := inst.class.allInstanceMethods[rop]; ok {
					return vm.callMethodValue(method, b, []Value{a})
				}
			}
		}
	}

	switch op {
	case OpBinaryEqualEqual:
		return Bool(a.Eq(b)), nil
	case OpBinaryBangEqual:
		return Bool(!a.Eq(b)), nil
	case OpBinaryIn:
		return containsOp(a, b)
	}

	if op == OpBinaryPlus {
		if as, ok := a.obj.(*ObjString); ok && a.kind == KindObj {
			bs, ok := b.obj.(*ObjString)
			if !ok {
				return Value{}, vm.runtimeError(PanicTypeError, "cannot add string and "+b.TypeName())
			}
			return ObjVal(vm.heap.NewStringBytes(append(append([]byte(nil), as.bytes...), bs.bytes...))), nil
		}
	}

	if !a.isNumericKind() || !b.isNumericKind() {
		return Value{}, vm.runtimeError(PanicTypeError, fmt.Sprintf("unsupported operand types for '%s': '%s' and '%s'", op, a.TypeName(), b.TypeName()))
	}

	if a.Kind() == KindF64 || b.Kind() == KindF64 {
		af, bf := a.asFloat(), b.asFloat()
		switch op {
		case OpBinaryPlus:
			return F64(af + bf), nil
		case OpBinaryMinus:
			return F64(af - bf), nil
		case OpBinaryStar:
			return F64(af * bf), nil
		case OpBinarySlash:
			if bf == 0 {
				return Value{}, vm.runtimeError(PanicDivByZero, "division by zero")
			}
			return F64(af / bf), nil
		case OpBinaryStarStar:
			return F64(math.Pow(af, bf)), nil
		case OpBinaryPercent:
			if bf == 0 {
				return Value{}, vm.runtimeError(PanicDivByZero, "division by zero")
			}
			return F64(math.Mod(af, bf)), nil
		case OpBinaryMod:
			if bf == 0 {
				return Value{}, vm.runtimeError(PanicDivByZero, "division by zero")
			}
			r := math.Mod(af, bf)
			if r != 0 && (r < 0) != (bf < 0) {
				r += bf
			}
			return F64(r), nil
		case OpBinaryLess:
			return Bool(af < bf), nil
		case OpBinaryLessEqual:
			return Bool(af <= bf), nil
		case OpBinaryGreater:
			return Bool(af > bf), nil
		case OpBinaryGreaterEqual:
			return Bool(af >= bf), nil
		}
		return Value{}, vm.runtimeError(PanicTypeError, "operator not defined for floats")
	}

	ai, bi := a.asInteger(), b.asInteger()
	switch op {
	case OpBinaryPlus:
		return I64(ai + bi), nil
	case OpBinaryMinus:
		return I64(ai - bi), nil
	case OpBinaryStar:
		return I64(ai * bi), nil
	case OpBinarySlash:
		if bi == 0 {
			return Value{}, vm.runtimeError(PanicDivByZero, "division by zero")
		}
		return F64(float64(ai) / float64(bi)), nil
	case OpBinarySlashSlash:
		if bi == 0 {
			return Value{}, vm.runtimeError(PanicDivByZero, "division by zero")
		}
		return I64(ai / bi), nil
	case OpBinaryPercent:
		if bi == 0 {
			return Value{}, vm.runtimeError(PanicDivByZero, "division by zero")
		}
		return I64(ai % bi), nil
	case OpBinaryMod:
		if bi == 0 {
			return Value{}, vm.runtimeError(PanicDivByZero, "division by zero")
		}
		return I64(flooredMod(ai, bi)), nil
	case OpBinaryStarStar:
		return F64(math.Pow(float64(ai), float64(bi))), nil
	case OpBinaryAmp:
		return I64(ai & bi), nil
	case OpBinaryBar:
		return I64(ai | bi), nil
	case OpBinaryCaret:
		return I64(ai ^ bi), nil
	case OpBinaryLessLess:
		return I64(ai << uint(bi)), nil
	case OpBinaryGreaterGreater:
		return I64(ai >> uint(bi)), nil
	case OpBinaryLess:
		return Bool(ai < bi), nil
	case OpBinaryLessEqual:
		return Bool(ai <= bi), nil
	case OpBinaryGreater:
		return Bool(ai > bi), nil
	case OpBinaryGreaterEqual:
		return Bool(ai >= bi), nil
	}
	return Value{}, vm.runtimeError(PanicTypeError, "unsupported binary operator")
}

// flooredDiv implements `mod`'s floored-division convention.
func flooredDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// flooredMod is the builtin `mod` operator's companion remainder,
// matching flooredDiv (result sign matches the divisor).
func flooredMod(a, b int64) int64 {
	r := a % b
	if r != 0 && (r < 0) != (b < 0) {
		r += b
	}
	return r
}

var binaryDunderNames = map[Opcode]string{
	OpBinaryPlus: "$op_binary_plus", OpBinaryMinus: "$op_binary_minus",
	OpBinaryStar: "$op_binary_star", OpBinarySlash: "$op_binary_slash",
	OpBinaryEqualEqual: "$op_binary_equals_equals", OpBinaryLess: "$op_binary_less_than",
	OpBinaryLessEqual: "$op_binary_less_than_equals", OpBinaryGreater: "$op_binary_greater_than",
	OpBinaryGreaterEqual: "$op_binary_greater_than_equals",
}

var binaryRDunderNames = map[Opcode]string{
	OpBinaryPlus: "$rop_binary_plus", OpBinaryMinus: "$rop_binary_minus",
	OpBinaryStar: "$rop_binary_star", OpBinarySlash: "$rop_binary_slash",
}

func containsOp(item, container Value) (Value, error) {
	if container.kind != KindObj {
		return Bool(false), nil
	}
	switch c := container.obj.(type) {
	case *ObjVec:
		for _, v := range c.items {
			if v.Eq(item) {
				return Bool(true), nil
			}
		}
		return Bool(false), nil
	case *ObjTuple:
		for _, v := range c.items {
			if v.Eq(item) {
				return Bool(true), nil
			}
		}
		return Bool(false), nil
	case *ObjMap:
		_, ok := c.Get(item)
		return Bool(ok), nil
	case *ObjString:
		if s, ok := item.obj.(*ObjString); ok {
			return Bool(strings.Contains(string(c.bytes), string(s.bytes))), nil
		}
	}
	return Bool(false), nil
}

func unaryOp(vm *VM, op Opcode, v Value) (Value, error) {
	switch op {
	case OpUnaryBang:
		return Bool(!v.IsTruthy()), nil
	case OpUnaryMinus:
		switch v.Kind() {
		case KindI64:
			return I64(-v.AsI64()), nil
		case KindF64:
			return F64(-v.AsF64()), nil
		}
		return Value{}, vm.runtimeError(PanicTypeError, "unary '-' requires a number, got "+v.TypeName())
	case OpUnaryPlus:
		if !v.isNumericKind() {
			return Value{}, vm.runtimeError(PanicTypeError, "unary '+' requires a number, got "+v.TypeName())
		}
		return v, nil
	case OpUnaryTilde:
		if v.Kind() != KindI64 {
			return Value{}, vm.runtimeError(PanicTypeError, "unary '~' requires an i64, got "+v.TypeName())
		}
		return I64(^v.AsI64()), nil
	}
	return Value{}, vm.runtimeError(PanicTypeError, "unsupported unary operator")
}

// stringifyValue renders a value the way `echo`/string interpolation
// do, dispatching to a `$str` method when the value is an instance
// that defines one.
func stringifyValue(vm *VM, v Value) string {
	switch v.Kind() {
	case KindNull:
		return "null"
	case KindBool:
		if v.AsBool() {
			return "true"
		}
		return "false"
	case KindI64:
		return strconv.FormatInt(v.AsI64(), 10)
	case KindF64:
		return formatFloat(v.AsF64())
	case KindRune:
		return string(v.AsRune())
	case KindObj:
		return stringifyObj(vm, v.AsObj())
	}
	return "<?>"
}

func formatFloat(f float64) string {
	if math.IsInf(f, 1) {
		return "inf"
	}
	if math.IsInf(f, -1) {
		return "-inf"
	}
	if math.IsNaN(f) {
		return "NaN"
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

func stringifyObj(vm *VM, o Obj) string {
	switch v := o.(type) {
	case *ObjString:
		return string(v.bytes)
	case *ObjBuffer:
		return fmt.Sprintf("<buf %d>", len(v.bytes))
	case *ObjTuple:
		parts := make([]string, len(v.items))
		for i, item := range v.items {
			parts[i] = debugifyValue(vm, item)
		}
		return "(" + strings.Join(parts, ", ") + ")"
	case *ObjVec:
		parts := make([]string, len(v.items))
		for i, item := range v.items {
			parts[i] = debugifyValue(vm, item)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case *ObjMap:
		var parts []string
		v.Each(func(k, val Value) {
			parts = append(parts, debugifyValue(vm, k)+": "+debugifyValue(vm, val))
		})
		return "{" + strings.Join(parts, ", ") + "}"
	case *ObjClass:
		return "<class " + v.name + ">"
	case *ObjInstance:
		if method, ok := v.class.allInstanceMethods["$str"]; ok {
			result, err := vm.callMethodValue(method, ObjVal(v), nil)
			if err == nil {
				if s, ok := result.obj.(*ObjString); ok {
					return string(s.bytes)
				}
			}
		}
		return "<instance " + v.class.name + ">"
	case *ObjClosure:
		return "<fn " + v.fn.name + ">"
	case *ObjNativeFn:
		return "<fn " + v.name + ">"
	case *ObjModule:
		return "<module " + v.name + ">"
	case *ObjErr:
		return "<err " + string(v.message.bytes) + ">"
	case *ObjEnumMember:
		return v.enumType.name + "::" + v.name
	case *ObjFile:
		return "<file>"
	case *ObjQueue:
		return fmt.Sprintf("<queue %d>", v.count)
	case *ObjIterator:
		return "<iter>"
	default:
		return "<object>"
	}
}

func debugifyValue(vm *VM, v Value) string {
	if s, ok := v.obj.(*ObjString); v.Kind() == KindObj && ok {
		return strconv.Quote(string(s.bytes))
	}
	return stringifyValue(vm, v)
}

// formatValue implements `{i:spec}` format-string rendering. An empty
// spec stringifies; a spec ending in `x`, `X`, `o` or `b` renders an
// i64 in that base; `.N` renders an f64 with N decimals. Any other
// spec goes to an instance's `$fmt` method, and panics for every other
// value. Width and alignment are not supported.
func formatValue(vm *VM, v Value, spec string) (string, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return stringifyValue(vm, v), nil
	}
	switch {
	case strings.HasSuffix(spec, "x"):
		if v.Kind() != KindI64 {
			return "", vm.runtimeError(PanicTypeError, "'x' format requires an i64")
		}
		return fmt.Sprintf("%x", v.AsI64()), nil
	case strings.HasSuffix(spec, "X"):
		if v.Kind() != KindI64 {
			return "", vm.runtimeError(PanicTypeError, "'X' format requires an i64")
		}
		return fmt.Sprintf("%X", v.AsI64()), nil
	case strings.HasSuffix(spec, "o"):
		if v.Kind() != KindI64 {
			return "", vm.runtimeError(PanicTypeError, "'o' format requires an i64")
		}
		return fmt.Sprintf("%o", v.AsI64()), nil
	case strings.HasSuffix(spec, "b"):
		if v.Kind() != KindI64 {
			return "", vm.runtimeError(PanicTypeError, "'b' format requires an i64")
		}
		return strconv.FormatInt(v.AsI64(), 2), nil
	case strings.HasPrefix(spec, "."):
		precStr := spec[1:]
		prec, err := strconv.Atoi(precStr)
		if err != nil {
			return "", vm.runtimeError(PanicValueError, "invalid format specifier '"+spec+"'")
		}
		if v.Kind() == KindF64 {
			return strconv.FormatFloat(v.AsF64(), 'f', prec, 64), nil
		}
		return "", vm.runtimeError(PanicTypeError, "precision format requires an f64")
	default:
		if inst, ok := v.obj.(*ObjInstance); ok && v.kind == KindObj {
			if method, ok := inst.class.allInstanceMethods["$fmt"]; ok {
				result, err := vm.callMethodValue(method, v, []Value{ObjVal(vm.heap.NewString(spec))})
				if err != nil {
					return "", err
				}
				if s, ok := result.obj.(*ObjString); ok && result.kind == KindObj {
					return string(s.bytes), nil
				}
				return "", vm.runtimeError(PanicTypeError, "$fmt must return a string")
			}
		}
		return "", vm.runtimeError(PanicValueError, "invalid format specifier '"+spec+"'")
	}
}
