package pyro

// Opcode is a single bytecode instruction.
type Opcode byte

const (
	OpAssert Opcode = iota

	OpBinaryAmp
	OpBinaryBangEqual
	OpBinaryBar
	OpBinaryCaret
	OpBinaryEqualEqual
	OpBinaryGreater
	OpBinaryGreaterEqual
	OpBinaryGreaterGreater
	OpBinaryIn
	OpBinaryLess
	OpBinaryLessEqual
	OpBinaryLessLess
	OpBinaryMinus
	OpBinaryMod
	OpBinaryPercent
	OpBinaryPlus
	OpBinarySlash
	OpBinarySlashSlash
	OpBinaryStar
	OpBinaryStarStar

	OpBreak

	OpCallMethod
	OpCallMethodWithUnpack
	OpCallPubMethod
	OpCallPubMethodWithUnpack
	OpCallSuperMethod
	OpCallSuperMethodWithUnpack
	OpCallValue
	OpCallValueWithUnpack

	OpConcatStrings
	OpCloseUpvalue

	OpDefinePriField
	OpDefinePriGlobal
	OpDefinePriMethod
	OpDefinePubField
	OpDefinePubGlobal
	OpDefinePubMethod
	OpDefineStaticField
	OpDefineStaticMethod

	OpDup
	OpDup2

	OpEcho
	OpEndWith

	OpFormat

	OpGetField
	OpGetGlobal
	OpGetIndex
	OpGetIterator
	OpGetLocal
	OpGetMember
	OpGetMethod
	OpGetNextFromIterator
	OpGetPubField
	OpGetPubMethod
	OpGetSuperMethod
	OpGetUpvalue

	OpImportModule
	OpImportNamedMembers

	OpInherit

	OpJump
	OpJumpBack
	OpJumpIfErr
	OpJumpIfFalse
	OpJumpIfNotErr
	OpJumpIfNotNull
	OpJumpIfTrue

	OpLoadConstant
	OpLoadFalse
	OpLoadI64
	OpLoadNull
	OpLoadTrue

	OpMakeClass
	OpMakeClosure
	OpMakeClosureWithDefArgs
	OpMakeEnum
	OpAddEnumMember
	OpMakeMap
	OpMakeSet
	OpMakeTup
	OpMakeVec

	OpPop
	OpPopEchoInRepl
	OpPopJumpIfFalse

	OpReturn
	OpReturnTuple

	OpSetField
	OpSetGlobal
	OpSetIndex
	OpSetLocal
	OpSetPubField
	OpSetUpvalue

	OpStartWith
	OpStringify

	OpTry
	OpEndTry

	OpUnaryBang
	OpUnaryMinus
	OpUnaryPlus
	OpUnaryTilde

	OpUnpack

	opcodeCount
)

// operandBytes gives the fixed operand width following each opcode,
// used to step from one instruction to the next (the disassembler,
// and catchError's skip to the closing END_TRY). Opcodes not listed
// take no operand.
var operandBytes = map[Opcode]int{
	OpCallValue:              1, // arg count
	OpCallValueWithUnpack:    1,
	OpCallMethod:             3, // [name const u16][arg count]
	OpCallMethodWithUnpack:   3,
	OpCallPubMethod:          3,
	OpCallPubMethodWithUnpack: 3,
	OpCallSuperMethod:        3,
	OpCallSuperMethodWithUnpack: 3,

	OpDefinePriField:    2,
	OpDefinePriGlobal:   2,
	OpDefinePriMethod:   2,
	OpDefinePubField:    2,
	OpDefinePubGlobal:   2,
	OpDefinePubMethod:   2,
	OpDefineStaticField: 2,
	OpDefineStaticMethod: 2,

	OpGetField:      2,
	OpGetGlobal:     2,
	OpGetLocal:      2,
	OpGetMember:     2,
	OpGetMethod:     2,
	OpGetPubField:   2,
	OpGetPubMethod:  2,
	OpGetSuperMethod: 2,
	OpGetUpvalue:    2,

	OpImportModule:       2, // path segment count
	OpImportNamedMembers: 1,

	OpJump:                 2,
	OpJumpBack:             2,
	OpJumpIfErr:    2,
	OpJumpIfFalse:  2,
	OpJumpIfNotErr: 2,
	OpJumpIfNotNull: 2,
	OpJumpIfTrue:   2,
	OpPopJumpIfFalse: 2,

	OpLoadConstant: 2,
	OpLoadI64:      8,

	OpMakeClass:             2,
	OpMakeClosure:           2,
	OpMakeClosureWithDefArgs: 4, // [fn const u16][default count u16]
	OpMakeEnum:              2,
	OpAddEnumMember:         2,
	OpMakeMap:               2,
	OpMakeSet:               2,
	OpMakeTup:               2,
	OpMakeVec:               2,

	OpSetField:     2,
	OpSetGlobal:    2,
	OpSetLocal:     2,
	OpSetPubField:  2,
	OpSetUpvalue:   2,

	OpUnpack: 1,
}

func (op Opcode) OperandBytes() int { return operandBytes[op] }

var opcodeNames = map[Opcode]string{
	OpAssert: "ASSERT", OpBinaryAmp: "BINARY_AMP", OpBinaryBangEqual: "BINARY_BANG_EQUAL",
	OpBinaryBar: "BINARY_BAR", OpBinaryCaret: "BINARY_CARET", OpBinaryEqualEqual: "BINARY_EQUAL_EQUAL",
	OpBinaryGreater: "BINARY_GREATER", OpBinaryGreaterEqual: "BINARY_GREATER_EQUAL",
	OpBinaryGreaterGreater: "BINARY_GREATER_GREATER", OpBinaryIn: "BINARY_IN",
	OpBinaryLess: "BINARY_LESS", OpBinaryLessEqual: "BINARY_LESS_EQUAL", OpBinaryLessLess: "BINARY_LESS_LESS",
	OpBinaryMinus: "BINARY_MINUS", OpBinaryMod: "BINARY_MOD", OpBinaryPercent: "BINARY_PERCENT", OpBinaryPlus: "BINARY_PLUS",
	OpBinarySlash: "BINARY_SLASH", OpBinarySlashSlash: "BINARY_SLASH_SLASH", OpBinaryStar: "BINARY_STAR",
	OpBinaryStarStar: "BINARY_STAR_STAR", OpBreak: "BREAK",
	OpCallMethod: "CALL_METHOD", OpCallMethodWithUnpack: "CALL_METHOD_WITH_UNPACK",
	OpCallPubMethod: "CALL_PUB_METHOD", OpCallPubMethodWithUnpack: "CALL_PUB_METHOD_WITH_UNPACK",
	OpCallSuperMethod: "CALL_SUPER_METHOD", OpCallSuperMethodWithUnpack: "CALL_SUPER_METHOD_WITH_UNPACK",
	OpCallValue: "CALL_VALUE", OpCallValueWithUnpack: "CALL_VALUE_WITH_UNPACK", OpConcatStrings: "CONCAT_STRINGS",
	OpCloseUpvalue: "CLOSE_UPVALUE",
	OpDefinePriField: "DEFINE_PRI_FIELD", OpDefinePriGlobal: "DEFINE_PRI_GLOBAL", OpDefinePriMethod: "DEFINE_PRI_METHOD",
	OpDefinePubField: "DEFINE_PUB_FIELD", OpDefinePubGlobal: "DEFINE_PUB_GLOBAL", OpDefinePubMethod: "DEFINE_PUB_METHOD",
	OpDefineStaticField: "DEFINE_STATIC_FIELD", OpDefineStaticMethod: "DEFINE_STATIC_METHOD",
	OpDup: "DUP", OpDup2: "DUP_2", OpEcho: "ECHO", OpEndWith: "END_WITH",
	OpFormat: "FORMAT", OpGetField: "GET_FIELD", OpGetGlobal: "GET_GLOBAL", OpGetIndex: "GET_INDEX",
	OpGetIterator: "GET_ITERATOR", OpGetLocal: "GET_LOCAL", OpGetMember: "GET_MEMBER", OpGetMethod: "GET_METHOD",
	OpGetNextFromIterator: "GET_NEXT_FROM_ITERATOR", OpGetPubField: "GET_PUB_FIELD", OpGetPubMethod: "GET_PUB_METHOD",
	OpGetSuperMethod: "GET_SUPER_METHOD", OpGetUpvalue: "GET_UPVALUE",
	OpImportModule: "IMPORT_MODULE", OpImportNamedMembers: "IMPORT_NAMED_MEMBERS",
	OpInherit: "INHERIT", OpJump: "JUMP", OpJumpBack: "JUMP_BACK",
	OpJumpIfErr: "JUMP_IF_ERR", OpJumpIfFalse: "JUMP_IF_FALSE", OpJumpIfNotErr: "JUMP_IF_NOT_ERR",
	OpJumpIfNotNull: "JUMP_IF_NOT_NULL", OpJumpIfTrue: "JUMP_IF_TRUE", OpLoadConstant: "LOAD_CONSTANT",
	OpLoadFalse: "LOAD_FALSE", OpLoadI64: "LOAD_I64", OpLoadNull: "LOAD_NULL", OpLoadTrue: "LOAD_TRUE",
	OpMakeClass: "MAKE_CLASS", OpMakeClosure: "MAKE_CLOSURE", OpMakeClosureWithDefArgs: "MAKE_CLOSURE_WITH_DEF_ARGS",
	OpMakeEnum: "MAKE_ENUM", OpAddEnumMember: "ADD_ENUM_MEMBER",
	OpMakeMap: "MAKE_MAP", OpMakeSet: "MAKE_SET",
	OpMakeTup: "MAKE_TUP", OpMakeVec: "MAKE_VEC", OpPop: "POP", OpPopEchoInRepl: "POP_ECHO_IN_REPL",
	OpPopJumpIfFalse: "POP_JUMP_IF_FALSE",
	OpReturn: "RETURN", OpReturnTuple: "RETURN_TUPLE", OpSetField: "SET_FIELD", OpSetGlobal: "SET_GLOBAL",
	OpSetIndex: "SET_INDEX", OpSetLocal: "SET_LOCAL", OpSetPubField: "SET_PUB_FIELD", OpSetUpvalue: "SET_UPVALUE",
	OpStartWith: "START_WITH",
	OpStringify: "STRINGIFY", OpTry: "TRY", OpEndTry: "END_TRY", OpUnaryBang: "UNARY_BANG", OpUnaryMinus: "UNARY_MINUS",
	OpUnaryPlus: "UNARY_PLUS", OpUnaryTilde: "UNARY_TILDE", OpUnpack: "UNPACK",
}

func (op Opcode) String() string {
	if name, ok := opcodeNames[op]; ok {
		return name
	}
	return "UNKNOWN"
}
