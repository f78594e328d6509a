package pyro

import (
	"fmt"
	"strings"

	"github.com/pyrolang/pyro/ascii"
)

// Disassemble renders fn's bytecode as a human-readable listing,
// colorized via ascii.Theme. Intended for embedders wiring a `Tracer`
// that wants to log what the VM is about to execute, and for tests
// asserting on emitted bytecode shape.
func Disassemble(fn *ObjFn, theme ascii.Theme) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", ascii.Color(theme.Label, "== %s ==", fn.name))

	offset := 0
	for offset < len(fn.code) {
		offset = disassembleInstruction(&b, fn, offset, theme)
	}
	return b.String()
}

func disassembleInstruction(b *strings.Builder, fn *ObjFn, offset int, theme ascii.Theme) int {
	op := Opcode(fn.code[offset])
	line := fn.lineFor(offset)

	fmt.Fprintf(b, "%s  %s",
		ascii.Color(theme.Muted, "%04d", offset),
		ascii.Color(theme.Operator, "%-24s", op.String()))

	width := op.OperandBytes()
	switch {
	case op == OpLoadI64:
		var v uint64
		for i := 0; i < 8; i++ {
			v = v<<8 | uint64(fn.code[offset+1+i])
		}
		fmt.Fprintf(b, " %s", ascii.Color(theme.Literal, "%d", int64(v)))
	case width == 1:
		fmt.Fprintf(b, " %s", ascii.Color(theme.Operand, "%d", fn.code[offset+1]))
	case width == 2:
		operand := uint16(fn.code[offset+1])<<8 | uint16(fn.code[offset+2])
		fmt.Fprintf(b, " %s", ascii.Color(theme.Operand, "%d", operand))
		if isConstantOpcode(op) && int(operand) < len(fn.constants) {
			fmt.Fprintf(b, " %s", ascii.Color(theme.Span, "; %v", fn.constants[operand]))
		}
	case width == 3:
		nameIdx := uint16(fn.code[offset+1])<<8 | uint16(fn.code[offset+2])
		argCount := fn.code[offset+3]
		fmt.Fprintf(b, " %s %s",
			ascii.Color(theme.Operand, "#%d", nameIdx),
			ascii.Color(theme.Operand, "argc=%d", argCount))
	}

	fmt.Fprintf(b, "  %s\n", ascii.Color(theme.Comment, "line %d", line))
	return offset + 1 + width
}

func isConstantOpcode(op Opcode) bool {
	switch op {
	case OpLoadConstant, OpGetGlobal, OpSetGlobal, OpDefinePubGlobal, OpDefinePriGlobal,
		OpGetField, OpSetField, OpDefinePubField, OpDefinePriField, OpDefineStaticField,
		OpDefinePubMethod, OpDefinePriMethod, OpDefineStaticMethod, OpMakeClosure:
		return true
	default:
		return false
	}
}
