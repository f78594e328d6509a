package pyro

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValueTruthiness(t *testing.T) {
	tests := []struct {
		name string
		v    Value
		want bool
	}{
		{"null is falsey", Null(), false},
		{"false is falsey", Bool(false), false},
		{"true is truthy", Bool(true), true},
		{"zero i64 is falsey", I64(0), false},
		{"nonzero i64 is truthy", I64(1), true},
		{"zero f64 is falsey", F64(0), false},
		{"nonzero f64 is truthy", F64(0.5), true},
		{"nul rune is falsey", RuneVal(0), false},
		{"nonzero rune is truthy", RuneVal('a'), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.v.IsTruthy())
		})
	}
}

func TestValueEqNumericCrossKind(t *testing.T) {
	assert.True(t, I64(3).Eq(F64(3.0)))
	assert.True(t, I64(1).Eq(Bool(true)))
	assert.True(t, RuneVal('a').Eq(I64(97)))
	assert.False(t, I64(3).Eq(F64(3.5)))
}

func TestValueEqNaN(t *testing.T) {
	nan := F64(nanValue())
	assert.False(t, nan.Eq(nan), "NaN == NaN must be false per IEEE 754 semantics")
}

func nanValue() float64 {
	var zero float64
	return zero / zero
}

func TestValueHashConsistentAcrossNumericKinds(t *testing.T) {
	assert.Equal(t, I64(5).Hash(), F64(5.0).Hash())
	assert.Equal(t, I64(5).Hash(), RuneVal(5).Hash())
}

func TestValueTypeName(t *testing.T) {
	assert.Equal(t, "i64", I64(1).TypeName())
	assert.Equal(t, "f64", F64(1).TypeName())
	assert.Equal(t, "bool", Bool(true).TypeName())
	assert.Equal(t, "null", Null().TypeName())
	assert.Equal(t, "rune", RuneVal('x').TypeName())
}
