package pyro

import (
	"fmt"
	"math"
)

// Native functions backing the `std::math`/`std::io` builtin modules,
// following the embedding API's NativeFunc calling convention:
// (vm, receiver, args) -> (Value, error).

func nativeMathSqrt(vm *VM, recv Value, args []Value) (Value, error) {
	if len(args) != 1 || !args[0].isNumericKind() {
		return Value{}, vm.runtimeError(PanicTypeError, "sqrt() expects one number argument")
	}
	return F64(math.Sqrt(args[0].asFloat())), nil
}

func nativeMathAbs(vm *VM, recv Value, args []Value) (Value, error) {
	if len(args) != 1 || !args[0].isNumericKind() {
		return Value{}, vm.runtimeError(PanicTypeError, "abs() expects one number argument")
	}
	if args[0].Kind() == KindI64 {
		v := args[0].AsI64()
		if v < 0 {
			v = -v
		}
		return I64(v), nil
	}
	return F64(math.Abs(args[0].AsF64())), nil
}

func nativeIOPrint(vm *VM, recv Value, args []Value) (Value, error) {
	parts := make([]any, len(args))
	for i, a := range args {
		parts[i] = stringifyValue(vm, a)
	}
	fmt.Println(parts...)
	return Null(), nil
}
