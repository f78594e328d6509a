package pyro

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compile(t *testing.T, src string) *ObjFn {
	t.Helper()
	fn, err := NewCompiler(NewHeap(NewConfig()), NewConfig(), "test", []byte(src)).Compile()
	require.NoError(t, err)
	return fn
}

func TestCompileSimpleArithmeticEmitsExpectedOpcodes(t *testing.T) {
	fn := compile(t, `var x = 1 + 2;`)
	var ops []Opcode
	for i := 0; i < len(fn.code); {
		op := Opcode(fn.code[i])
		ops = append(ops, op)
		i += 1 + operandWidth(op)
	}
	assert.Contains(t, ops, OpBinaryPlus)
	assert.Contains(t, ops, OpDefinePubGlobal)
	assert.Equal(t, OpReturn, ops[len(ops)-1])
}

func TestCompileModAndRemEmitDistinctOpcodes(t *testing.T) {
	fn := compile(t, `var a = 7 mod 3; var b = 7 rem 3;`)
	var sawMod, sawPercent bool
	for i := 0; i < len(fn.code); {
		op := Opcode(fn.code[i])
		switch op {
		case OpBinaryMod:
			sawMod = true
		case OpBinaryPercent:
			sawPercent = true
		}
		i += 1 + operandWidth(op)
	}
	assert.True(t, sawMod, "`mod` must compile to its own opcode")
	assert.True(t, sawPercent, "`rem` must compile to the truncating-remainder opcode")
}

func TestCompileSyntaxErrorOnMalformedSource(t *testing.T) {
	_, err := NewCompiler(NewHeap(NewConfig()), NewConfig(), "test", []byte(`var = 1;`)).Compile()
	require.Error(t, err)
	_, ok := err.(*SyntaxError)
	assert.True(t, ok)
}

func TestCompileClassWithStaticAndInstanceFieldsSeparatesStorage(t *testing.T) {
	fn := compile(t, `
		class Point {
			pub var x = 0;
			static var origin = "0,0";
		}
	`)
	var sawStaticField, sawPubField bool
	for i := 0; i < len(fn.code); {
		op := Opcode(fn.code[i])
		switch op {
		case OpDefineStaticField:
			sawStaticField = true
		case OpDefinePubField:
			sawPubField = true
		}
		i += 1 + operandWidth(op)
	}
	assert.True(t, sawStaticField)
	assert.True(t, sawPubField)
}

// operandWidth returns how many bytes of operand follow op in the
// bytecode stream, mirroring the disassembler's own instruction-width
// table.
func operandWidth(op Opcode) int {
	return op.OperandBytes()
}
