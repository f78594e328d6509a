package pyro

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBinaryOpIntegerArithmetic(t *testing.T) {
	vm := NewVM(NewConfig())
	tests := []struct {
		op   Opcode
		a, b int64
		want int64
	}{
		{OpBinaryPlus, 2, 3, 5},
		{OpBinaryMinus, 5, 3, 2},
		{OpBinaryStar, 4, 3, 12},
		{OpBinaryAmp, 0b1100, 0b1010, 0b1000},
		{OpBinaryBar, 0b1100, 0b1010, 0b1110},
		{OpBinaryCaret, 0b1100, 0b1010, 0b0110},
		{OpBinaryLessLess, 1, 4, 16},
		{OpBinaryGreaterGreater, 16, 4, 1},
	}
	for _, tt := range tests {
		got, err := binaryOp(vm, tt.op, I64(tt.a), I64(tt.b))
		require.NoError(t, err)
		assert.Equal(t, tt.want, got.AsI64())
	}
}

func TestBinaryOpFlooredModVsTruncatingRem(t *testing.T) {
	vm := NewVM(NewConfig())
	rem, err := binaryOp(vm, OpBinaryPercent, I64(-7), I64(3))
	require.NoError(t, err)
	assert.Equal(t, int64(-1), rem.AsI64())

	mod, err := binaryOp(vm, OpBinaryMod, I64(-7), I64(3))
	require.NoError(t, err)
	assert.Equal(t, int64(2), mod.AsI64())
}

func TestBinaryOpFloatModFollowsDivisorSign(t *testing.T) {
	vm := NewVM(NewConfig())
	mod, err := binaryOp(vm, OpBinaryMod, F64(-7.5), F64(3))
	require.NoError(t, err)
	assert.InDelta(t, 1.5, mod.AsF64(), 1e-9)
}

func TestBinaryOpDivisionByZeroPanics(t *testing.T) {
	vm := NewVM(NewConfig())
	_, err := binaryOp(vm, OpBinarySlash, I64(1), I64(0))
	require.Error(t, err)
	p, ok := err.(*Panic)
	require.True(t, ok)
	assert.Equal(t, PanicDivByZero, p.Kind)
}

func TestBinaryOpStringConcatenation(t *testing.T) {
	vm := NewVM(NewConfig())
	a := ObjVal(vm.heap.NewString("foo"))
	b := ObjVal(vm.heap.NewString("bar"))
	got, err := binaryOp(vm, OpBinaryPlus, a, b)
	require.NoError(t, err)
	s, ok := got.obj.(*ObjString)
	require.True(t, ok)
	assert.Equal(t, "foobar", string(s.bytes))
}

func TestBinaryOpRejectsStringPlusNonString(t *testing.T) {
	vm := NewVM(NewConfig())
	s := ObjVal(vm.heap.NewString("x"))
	_, err := binaryOp(vm, OpBinaryPlus, s, I64(1))
	require.Error(t, err)
	_, ok := err.(*Panic)
	assert.True(t, ok)
}

func TestUnaryOperators(t *testing.T) {
	vm := NewVM(NewConfig())
	neg, err := unaryOp(vm, OpUnaryMinus, I64(5))
	require.NoError(t, err)
	assert.Equal(t, int64(-5), neg.AsI64())

	not, err := unaryOp(vm, OpUnaryBang, Bool(false))
	require.NoError(t, err)
	assert.True(t, not.AsBool())

	inv, err := unaryOp(vm, OpUnaryTilde, I64(0))
	require.NoError(t, err)
	assert.Equal(t, int64(-1), inv.AsI64())
}

func TestStringifyValueRendersEachKind(t *testing.T) {
	vm := NewVM(NewConfig())
	assert.Equal(t, "null", stringifyValue(vm, Null()))
	assert.Equal(t, "true", stringifyValue(vm, Bool(true)))
	assert.Equal(t, "42", stringifyValue(vm, I64(42)))
	assert.Equal(t, "3.5", stringifyValue(vm, F64(3.5)))
	assert.Equal(t, "2.0", stringifyValue(vm, F64(2)))
}

func TestFormatValueHexAndPrecisionSpecs(t *testing.T) {
	vm := NewVM(NewConfig())
	hex, err := formatValue(vm, I64(255), "x")
	require.NoError(t, err)
	assert.Equal(t, "ff", hex)

	prec, err := formatValue(vm, F64(3.14159), ".2")
	require.NoError(t, err)
	assert.Equal(t, "3.14", prec)
}

func TestContainsOpForVectorAndMap(t *testing.T) {
	vm := NewVM(NewConfig())
	vec := vm.heap.NewVec([]Value{I64(1), I64(2), I64(3)})
	got, err := containsOp(I64(2), ObjVal(vec))
	require.NoError(t, err)
	assert.True(t, got.AsBool())

	m := vm.heap.NewMap(false)
	m.Set(ObjVal(vm.heap.NewString("k")), I64(1))
	got, err = containsOp(ObjVal(vm.heap.NewString("k")), ObjVal(m))
	require.NoError(t, err)
	assert.True(t, got.AsBool())
}
