package pyro

import "fmt"

// fnKind distinguishes the kind of function body currently being
// compiled: top-level module code vs. a function/method/initializer
// body, each of which binds locals a little differently.
type fnKind int

const (
	fnKindScript fnKind = iota
	fnKindFunction
	fnKindMethod
	fnKindInitMethod
	fnKindDefaultArgClosure
)

type localVar struct {
	name       string
	depth      int
	isCaptured bool
}

type upvalueRef struct {
	index   uint8
	isLocal bool
}

type loopCtx struct {
	breakJumps    []int
	continueTarget int
	scopeDepth    int
}

// funcCompiler is one stack frame of compile-time state, one per
// nested function/method/closure body.
type funcCompiler struct {
	enclosing *funcCompiler
	fn        *ObjFn
	kind      fnKind
	scopeDepth int
	locals    []localVar
	upvalues  []upvalueRef
	loops     []*loopCtx
}

type classCompiler struct {
	enclosing     *classCompiler
	hasSuperclass bool
}

// Compiler performs single-pass recursive-descent compilation with
// Pratt-style expression precedence: no separate AST stage, each
// parse function emits bytecode directly as it recognizes a
// construct.
type Compiler struct {
	heap     *Heap
	cfg      *Config
	lex      *Lexer
	cur      Token
	prev     Token
	sourceID string
	fc       *funcCompiler
	class    *classCompiler
	err      *SyntaxError

	// pendingSelfReceiver is true for the first postfix operator
	// (`.`/`:`) immediately following a bare, unchained `self`; that
	// one access alone gets the private/full-access opcode variant.
	// parsePrecedence sets it right before every infix call and
	// dot/colonCall consume it immediately, so it never leaks across
	// a chain or into recursively-parsed argument expressions.
	pendingSelfReceiver bool
}

func NewCompiler(heap *Heap, cfg *Config, sourceID string, src []byte) *Compiler {
	c := &Compiler{heap: heap, cfg: cfg, sourceID: sourceID}
	c.lex = NewLexer(sourceID, src)
	return c
}

// Compile compiles a full source unit into a top-level ObjFn whose
// body is the module's statement list.
func (c *Compiler) Compile() (*ObjFn, error) {
	c.heap.DisallowGC()
	defer c.heap.AllowGC()

	top := c.heap.NewFn("$module", c.sourceID)
	c.fc = &funcCompiler{fn: top, kind: fnKindScript}

	c.advance() // prime cur
	for !c.check(TokEOF) {
		c.declaration()
		if c.err != nil {
			return nil, c.err
		}
	}
	if c.err != nil {
		return nil, c.err
	}
	c.emitByte(OpLoadNull)
	c.emitByte(OpReturn)
	return top, nil
}

// ---- token plumbing ----

func (c *Compiler) advance() {
	c.prev = c.cur
	for {
		c.cur = c.lex.Next()
		if c.cur.Kind != TokError {
			break
		}
		c.fail(c.cur.Lexeme)
		return
	}
}

func (c *Compiler) check(k TokenKind) bool { return c.cur.Kind == k }

func (c *Compiler) match(k TokenKind) bool {
	if !c.check(k) {
		return false
	}
	c.advance()
	return true
}

func (c *Compiler) expect(k TokenKind, msg string) {
	if c.check(k) {
		c.advance()
		return
	}
	c.fail(msg)
}

func (c *Compiler) fail(msg string) {
	if c.err == nil {
		c.err = &SyntaxError{Pos: Pos{SourceID: c.sourceID, Line: c.cur.Line}, Message: msg}
	}
}

// ---- bytecode emission ----

func (c *Compiler) emitByte(b Opcode) {
	c.fc.fn.code = append(c.fc.fn.code, byte(b))
	c.noteLine()
}

func (c *Compiler) emitByteRaw(b byte) {
	c.fc.fn.code = append(c.fc.fn.code, b)
}

func (c *Compiler) emitU16(v uint16) {
	c.emitByteRaw(byte(v >> 8))
	c.emitByteRaw(byte(v))
}

func (c *Compiler) noteLine() {
	fn := c.fc.fn
	offset := len(fn.code) - 1
	if len(fn.lines) > 0 && fn.lines[len(fn.lines)-1].line == c.prev.Line {
		return
	}
	fn.lines = append(fn.lines, lineRun{startOffset: offset, line: c.prev.Line})
}

func (c *Compiler) emitOpU16(op Opcode, operand uint16) {
	c.emitByte(op)
	c.emitU16(operand)
}

func (c *Compiler) emitConstant(v Value) {
	idx := c.addConstant(v)
	c.emitOpU16(OpLoadConstant, idx)
}

func (c *Compiler) addConstant(v Value) uint16 {
	for i, existing := range c.fc.fn.constants {
		if existing.Eq(v) {
			return uint16(i)
		}
	}
	c.fc.fn.constants = append(c.fc.fn.constants, v)
	return uint16(len(c.fc.fn.constants) - 1)
}

// emitJump emits [op][u16 placeholder] and returns the placeholder's
// offset for later patching.
func (c *Compiler) emitJump(op Opcode) int {
	c.emitByte(op)
	c.emitU16(0xFFFF)
	return len(c.fc.fn.code) - 2
}

func (c *Compiler) patchJump(offset int) {
	target := len(c.fc.fn.code)
	delta := target - (offset + 2)
	c.fc.fn.code[offset] = byte(delta >> 8)
	c.fc.fn.code[offset+1] = byte(delta)
}

func (c *Compiler) emitLoop(loopStart int) {
	c.emitByte(OpJumpBack)
	delta := len(c.fc.fn.code) + 2 - loopStart
	c.emitU16(uint16(delta))
}

// ---- scopes & locals ----

func (c *Compiler) beginScope() { c.fc.scopeDepth++ }

func (c *Compiler) endScope() {
	c.fc.scopeDepth--
	for len(c.fc.locals) > 0 && c.fc.locals[len(c.fc.locals)-1].depth > c.fc.scopeDepth {
		last := c.fc.locals[len(c.fc.locals)-1]
		if last.isCaptured {
			c.emitByte(OpCloseUpvalue)
		} else {
			c.emitByte(OpPop)
		}
		c.fc.locals = c.fc.locals[:len(c.fc.locals)-1]
	}
}

func (c *Compiler) declareLocal(name string) {
	if c.fc.scopeDepth == 0 {
		return
	}
	for i := len(c.fc.locals) - 1; i >= 0; i-- {
		l := c.fc.locals[i]
		if l.depth != -1 && l.depth < c.fc.scopeDepth {
			break
		}
		if l.name == name {
			c.fail(fmt.Sprintf("variable '%s' already declared in this scope", name))
			return
		}
	}
	c.fc.locals = append(c.fc.locals, localVar{name: name, depth: c.fc.scopeDepth})
}

func (c *Compiler) resolveLocal(fc *funcCompiler, name string) int {
	for i := len(fc.locals) - 1; i >= 0; i-- {
		if fc.locals[i].name == name {
			return i
		}
	}
	return -1
}

func (c *Compiler) resolveUpvalue(fc *funcCompiler, name string) int {
	if fc.enclosing == nil {
		return -1
	}
	if local := c.resolveLocal(fc.enclosing, name); local != -1 {
		fc.enclosing.locals[local].isCaptured = true
		return c.addUpvalue(fc, uint8(local), true)
	}
	if up := c.resolveUpvalue(fc.enclosing, name); up != -1 {
		return c.addUpvalue(fc, uint8(up), false)
	}
	return -1
}

func (c *Compiler) addUpvalue(fc *funcCompiler, index uint8, isLocal bool) int {
	for i, u := range fc.upvalues {
		if u.index == index && u.isLocal == isLocal {
			return i
		}
	}
	fc.upvalues = append(fc.upvalues, upvalueRef{index: index, isLocal: isLocal})
	fc.fn.upvalueIsLocal = append(fc.fn.upvalueIsLocal, isLocal)
	fc.fn.upvalueIndex = append(fc.fn.upvalueIndex, int(index))
	fc.fn.upvalueCount = len(fc.upvalues)
	return len(fc.upvalues) - 1
}

// ---- declarations & statements ----

func (c *Compiler) declaration() {
	switch {
	case c.match(TokVar):
		c.varDecl(false)
	case c.match(TokLet):
		c.varDecl(true)
	case c.match(TokDef):
		c.defDecl()
	case c.match(TokClass):
		c.classDecl()
	case c.match(TokEnum):
		c.enumDecl()
	case c.match(TokImport):
		c.importDecl()
	default:
		c.statement()
	}
}

func (c *Compiler) varDecl(isLet bool) {
	_ = isLet
	if c.match(TokLParen) {
		c.unpackingVarDecl()
		return
	}
	for {
		c.expect(TokIdent, "expected variable name")
		name := c.prev.Lexeme
		c.declareLocal(name)
		if c.match(TokEqual) {
			c.expression()
		} else {
			c.emitByte(OpLoadNull)
		}
		if c.fc.scopeDepth == 0 {
			idx := c.addConstant(ObjVal(c.heap.NewString(name)))
			c.emitOpU16(OpDefinePubGlobal, idx)
		}
		if !c.match(TokComma) {
			break
		}
	}
	c.consumeStmtEnd()
}

// unpackingVarDecl compiles `var (a, b) = expr`: UNPACK leaves the
// container's items on the stack in forward order (first target at
// the bottom), which is exactly the order declareLocal expects but
// the reverse of what global definition needs, since OP_DEFINE_PUB_GLOBAL
// pops from the top.
func (c *Compiler) unpackingVarDecl() {
	var names []string
	for {
		c.expect(TokIdent, "expected variable name")
		names = append(names, c.prev.Lexeme)
		if !c.match(TokComma) {
			break
		}
	}
	c.expect(TokRParen, "expected ')' after unpacking targets")
	c.expect(TokEqual, "expected '=' in unpacking declaration")
	c.expression()
	c.emitByte(OpUnpack)
	c.emitByteRaw(byte(len(names)))
	for _, name := range names {
		c.declareLocal(name)
	}
	if c.fc.scopeDepth == 0 {
		for i := len(names) - 1; i >= 0; i-- {
			idx := c.addConstant(ObjVal(c.heap.NewString(names[i])))
			c.emitOpU16(OpDefinePubGlobal, idx)
		}
	}
	c.consumeStmtEnd()
}

func (c *Compiler) consumeStmtEnd() {
	c.match(TokSemicolon)
}

func (c *Compiler) defDecl() {
	c.expect(TokIdent, "expected function name")
	name := c.prev.Lexeme
	c.declareLocal(name)
	fn, defaultFns := c.function(name, fnKindFunction)
	c.emitClosure(fn, defaultFns)
	if c.fc.scopeDepth == 0 {
		idx := c.addConstant(ObjVal(c.heap.NewString(name)))
		c.emitOpU16(OpDefinePubGlobal, idx)
	}
}

// function compiles `( params ) { body }` into a fresh ObjFn, pushing
// a new funcCompiler frame for its body. A trailing `...name` rest
// parameter marks the function variadic; it never counts toward
// arity. Once a parameter carries a default value, every later
// (non-rest) parameter must too. The returned defaultFns are the
// zero-argument closures for each default-value expression, aligned
// to the tail of the parameter list, to be emitted by emitClosure in
// the enclosing scope.
func (c *Compiler) function(name string, kind fnKind) (*ObjFn, []*ObjFn) {
	fn := c.heap.NewFn(name, c.sourceID)
	enclosing := c.fc
	c.fc = &funcCompiler{enclosing: enclosing, fn: fn, kind: kind}
	c.beginScope()

	if kind == fnKindMethod || kind == fnKindInitMethod {
		// Methods reserve local slot 0 for the receiver: callMethodValue
		// pushes it there before the explicit arguments.
		c.fc.locals = append(c.fc.locals, localVar{name: "self", depth: c.fc.scopeDepth})
	}

	var defaultFns []*ObjFn
	seenDefault := false

	c.expect(TokLParen, "expected '(' after function name")
	if !c.check(TokRParen) {
		for {
			if c.match(TokEllipsis) {
				c.expect(TokIdent, "expected parameter name after '...'")
				c.declareLocal(c.prev.Lexeme)
				fn.isVariadic = true
				break
			}
			c.expect(TokIdent, "expected parameter name")
			c.declareLocal(c.prev.Lexeme)
			if c.match(TokEqual) {
				seenDefault = true
				defaultFns = append(defaultFns, c.defaultValueFn(enclosing))
			} else if seenDefault {
				c.fail("parameter without a default value cannot follow one that has one")
			}
			fn.arity++
			if !c.match(TokComma) {
				break
			}
		}
	}
	c.expect(TokRParen, "expected ')' after parameters")
	c.expect(TokLBrace, "expected '{' before function body")
	c.block()

	c.emitByte(OpLoadNull)
	c.emitByte(OpReturn)

	completed := c.fc
	c.fc = enclosing
	return completed.fn, defaultFns
}

// defaultValueFn compiles a parameter's default-value expression into
// its own zero-argument ObjFn, compiled as if it were written in the
// function's enclosing scope: its upvalues resolve through enclosing,
// not through the partially-declared parameter list of the function
// being defined. The VM evaluates it fresh via a recursive CallValue
// every time the default is actually needed.
func (c *Compiler) defaultValueFn(enclosing *funcCompiler) *ObjFn {
	fn := c.heap.NewFn("$default", c.sourceID)
	saved := c.fc
	c.fc = &funcCompiler{enclosing: enclosing, fn: fn, kind: fnKindDefaultArgClosure}
	c.beginScope()
	c.expression()
	c.emitByte(OpReturn)
	completed := c.fc
	c.fc = saved
	return completed.fn
}

func (c *Compiler) emitClosure(fn *ObjFn, defaultFns []*ObjFn) {
	for _, d := range defaultFns {
		didx := c.addConstant(ObjVal(d))
		c.emitOpU16(OpMakeClosure, didx)
	}
	idx := c.addConstant(ObjVal(fn))
	if len(defaultFns) == 0 {
		c.emitOpU16(OpMakeClosure, idx)
		return
	}
	c.emitByte(OpMakeClosureWithDefArgs)
	c.emitU16(idx)
	c.emitU16(uint16(len(defaultFns)))
}

func (c *Compiler) block() {
	c.beginScope()
	for !c.check(TokRBrace) && !c.check(TokEOF) {
		c.declaration()
		if c.err != nil {
			return
		}
	}
	c.expect(TokRBrace, "expected '}' after block")
	c.endScope()
}

func (c *Compiler) classDecl() {
	c.expect(TokIdent, "expected class name")
	name := c.prev.Lexeme
	c.declareLocal(name)

	nameIdx := c.addConstant(ObjVal(c.heap.NewString(name)))
	c.emitOpU16(OpMakeClass, nameIdx)

	cc := &classCompiler{enclosing: c.class}
	c.class = cc

	if c.match(TokExtends) {
		c.expect(TokIdent, "expected superclass name")
		c.variableRef(c.prev.Lexeme)
		c.emitByte(OpInherit)
		cc.hasSuperclass = true
	}

	c.expect(TokLBrace, "expected '{' before class body")
	for !c.check(TokRBrace) && !c.check(TokEOF) {
		c.classMember()
		if c.err != nil {
			return
		}
	}
	c.expect(TokRBrace, "expected '}' after class body")

	if c.fc.scopeDepth == 0 {
		idx := c.addConstant(ObjVal(c.heap.NewString(name)))
		c.emitOpU16(OpDefinePubGlobal, idx)
	}
	c.class = cc.enclosing
}

func (c *Compiler) classMember() {
	isPub := c.match(TokPub)
	isPri := !isPub && c.match(TokPri)
	isStatic := c.match(TokStatic)
	_ = isPri

	if c.match(TokVar) || c.match(TokLet) {
		c.expect(TokIdent, "expected field name")
		fieldName := c.prev.Lexeme
		if c.match(TokEqual) {
			c.expression()
		} else {
			c.emitByte(OpLoadNull)
		}
		idx := c.addConstant(ObjVal(c.heap.NewString(fieldName)))
		switch {
		case isStatic:
			c.emitOpU16(OpDefineStaticField, idx)
		case isPub:
			c.emitOpU16(OpDefinePubField, idx)
		default:
			c.emitOpU16(OpDefinePriField, idx)
		}
		c.consumeStmtEnd()
		return
	}

	c.expect(TokDef, "expected method definition")
	c.expect(TokIdent, "expected method name")
	methodName := c.prev.Lexeme
	kind := fnKindMethod
	if methodName == "$init" {
		kind = fnKindInitMethod
	}
	fn, defaultFns := c.function(methodName, kind)
	c.emitClosure(fn, defaultFns)
	idx := c.addConstant(ObjVal(c.heap.NewString(methodName)))
	switch {
	case isStatic:
		c.emitOpU16(OpDefineStaticMethod, idx)
	case isPub:
		c.emitOpU16(OpDefinePubMethod, idx)
	default:
		c.emitOpU16(OpDefinePriMethod, idx)
	}
}

// enumDecl compiles `enum Name { A, B(SomeType), C }`. Payload-type
// annotations are parsed and discarded, the same convention `typedef`
// uses elsewhere: enum members are simple singleton tag values here,
// not tagged-union variant constructors (see DESIGN.md).
func (c *Compiler) enumDecl() {
	c.expect(TokIdent, "expected enum name")
	name := c.prev.Lexeme
	c.declareLocal(name)
	nameIdx := c.addConstant(ObjVal(c.heap.NewString(name)))
	c.emitOpU16(OpMakeEnum, nameIdx)
	c.expect(TokLBrace, "expected '{' after enum name")
	for !c.check(TokRBrace) && !c.check(TokEOF) {
		c.expect(TokIdent, "expected enum member name")
		memberName := c.prev.Lexeme
		if c.match(TokLParen) {
			c.expect(TokIdent, "expected enum payload type")
			c.expect(TokRParen, "expected ')' after enum payload type")
		}
		memberIdx := c.addConstant(ObjVal(c.heap.NewString(memberName)))
		c.emitOpU16(OpAddEnumMember, memberIdx)
		if !c.match(TokComma) {
			break
		}
	}
	c.expect(TokRBrace, "expected '}' after enum body")
	if c.fc.scopeDepth == 0 {
		idx2 := c.addConstant(ObjVal(c.heap.NewString(name)))
		c.emitOpU16(OpDefinePubGlobal, idx2)
	}
}

// importDecl compiles `import a::b`, `import a::b as c`, and
// `import a::b::{x, y}`: the last form imports named members directly
// into the current scope instead of binding the module itself.
func (c *Compiler) importDecl() {
	segs := []string{}
	for {
		c.expect(TokIdent, "expected module path segment")
		segs = append(segs, c.prev.Lexeme)
		if c.match(TokColonColon) {
			if c.check(TokLBrace) {
				break
			}
			continue
		}
		break
	}

	if c.match(TokLBrace) {
		var names []string
		for {
			c.expect(TokIdent, "expected imported member name")
			names = append(names, c.prev.Lexeme)
			if !c.match(TokComma) {
				break
			}
		}
		c.expect(TokRBrace, "expected '}' after imported member list")
		for _, seg := range segs {
			c.emitConstant(ObjVal(c.heap.NewString(seg)))
		}
		c.emitOpU16(OpImportModule, uint16(len(segs)))
		for _, name := range names {
			c.emitConstant(ObjVal(c.heap.NewString(name)))
		}
		c.emitByte(OpImportNamedMembers)
		c.emitByteRaw(byte(len(names)))
		for _, name := range names {
			c.declareLocal(name)
		}
		if c.fc.scopeDepth == 0 {
			for i := len(names) - 1; i >= 0; i-- {
				idx := c.addConstant(ObjVal(c.heap.NewString(names[i])))
				c.emitOpU16(OpDefinePubGlobal, idx)
			}
		}
		c.consumeStmtEnd()
		return
	}

	alias := segs[len(segs)-1]
	if c.match(TokAs) {
		c.expect(TokIdent, "expected alias name")
		alias = c.prev.Lexeme
	}
	for _, seg := range segs {
		c.emitConstant(ObjVal(c.heap.NewString(seg)))
	}
	c.emitOpU16(OpImportModule, uint16(len(segs)))
	c.declareLocal(alias)
	if c.fc.scopeDepth == 0 {
		idx := c.addConstant(ObjVal(c.heap.NewString(alias)))
		c.emitOpU16(OpDefinePubGlobal, idx)
	}
	c.consumeStmtEnd()
}

func (c *Compiler) statement() {
	switch {
	case c.match(TokEcho):
		c.expression()
		c.emitByte(OpEcho)
		c.consumeStmtEnd()
	case c.match(TokAssert):
		c.expression()
		c.emitByte(OpAssert)
		c.consumeStmtEnd()
	case c.match(TokIf):
		c.ifStatement()
	case c.match(TokWhile):
		c.whileStatement()
	case c.match(TokLoop):
		c.loopStatement()
	case c.match(TokFor):
		c.forStatement()
	case c.match(TokWith):
		c.withStatement()
	case c.match(TokReturn):
		c.returnStatement()
	case c.match(TokBreak):
		c.breakStatement()
	case c.match(TokContinue):
		c.continueStatement()
	case c.match(TokLBrace):
		c.block()
	default:
		c.expression()
		c.emitByte(OpPop)
		c.consumeStmtEnd()
	}
}

func (c *Compiler) ifStatement() {
	c.expect(TokLParen, "expected '(' after 'if'")
	c.expression()
	c.expect(TokRParen, "expected ')' after condition")
	thenJump := c.emitJump(OpJumpIfFalse)
	c.emitByte(OpPop)
	c.statement()
	elseJump := c.emitJump(OpJump)
	c.patchJump(thenJump)
	c.emitByte(OpPop)
	if c.match(TokElse) {
		c.statement()
	}
	c.patchJump(elseJump)
}

func (c *Compiler) pushLoop() *loopCtx {
	lc := &loopCtx{scopeDepth: c.fc.scopeDepth}
	c.fc.loops = append(c.fc.loops, lc)
	return lc
}

func (c *Compiler) popLoop() {
	lc := c.fc.loops[len(c.fc.loops)-1]
	c.fc.loops = c.fc.loops[:len(c.fc.loops)-1]
	for _, j := range lc.breakJumps {
		c.patchJump(j)
	}
}

func (c *Compiler) whileStatement() {
	loopStart := len(c.fc.fn.code)
	lc := c.pushLoop()
	lc.continueTarget = loopStart

	c.expect(TokLParen, "expected '(' after 'while'")
	c.expression()
	c.expect(TokRParen, "expected ')' after condition")

	exitJump := c.emitJump(OpJumpIfFalse)
	c.emitByte(OpPop)
	c.statement()
	c.emitLoop(loopStart)

	c.patchJump(exitJump)
	c.emitByte(OpPop)
	c.popLoop()
}

func (c *Compiler) loopStatement() {
	loopStart := len(c.fc.fn.code)
	lc := c.pushLoop()
	lc.continueTarget = loopStart
	c.statement()
	c.emitLoop(loopStart)
	c.popLoop()
}

// forStatement compiles `for (ident in expr) body` using
// GET_ITERATOR / GET_NEXT_FROM_ITERATOR.
func (c *Compiler) forStatement() {
	c.expect(TokLParen, "expected '(' after 'for'")
	c.beginScope()
	c.expect(TokIdent, "expected loop variable name")
	varName := c.prev.Lexeme
	c.expect(TokIn, "expected 'in' in for-loop")
	c.expression()
	c.expect(TokRParen, "expected ')' after iterable")

	c.emitByte(OpGetIterator)
	c.declareLocal("$iter")

	loopStart := len(c.fc.fn.code)
	lc := c.pushLoop()
	lc.continueTarget = loopStart

	c.emitByte(OpGetNextFromIterator)
	exitJump := c.emitJump(OpJumpIfErr)
	c.declareLocal(varName)

	c.statement()

	// Drop the per-iteration loop variable, both at runtime and in the
	// compiler's local bookkeeping, before looping back; the iterator
	// itself keeps its original stack slot across iterations.
	c.emitByte(OpPop)
	c.fc.locals = c.fc.locals[:len(c.fc.locals)-1]
	c.emitLoop(loopStart)

	c.patchJump(exitJump)
	c.emitByte(OpPop) // the exhausted-iterator Err value
	c.popLoop()
	c.endScope()
}

// withStatement compiles `with ident = expr { ... }`, guaranteeing
// `$exit` runs exactly once via START_WITH/END_WITH.
func (c *Compiler) withStatement() {
	c.beginScope()
	c.expect(TokIdent, "expected binding name in with-statement")
	name := c.prev.Lexeme
	c.expect(TokEqual, "expected '=' in with-statement")
	c.expression()
	c.emitByte(OpStartWith)
	c.declareLocal(name)
	c.expect(TokLBrace, "expected '{' after with-statement header")
	c.block()
	c.emitByte(OpEndWith)
	c.endScope()
}

func (c *Compiler) returnStatement() {
	if c.check(TokSemicolon) || c.check(TokRBrace) {
		c.emitByte(OpLoadNull)
	} else {
		c.expression()
	}
	c.emitByte(OpReturn)
	c.consumeStmtEnd()
}

func (c *Compiler) breakStatement() {
	if len(c.fc.loops) == 0 {
		c.fail("'break' outside loop")
		return
	}
	c.consumeStmtEnd()
	lc := c.fc.loops[len(c.fc.loops)-1]
	j := c.emitJump(OpJump)
	lc.breakJumps = append(lc.breakJumps, j)
}

func (c *Compiler) continueStatement() {
	if len(c.fc.loops) == 0 {
		c.fail("'continue' outside loop")
		return
	}
	c.consumeStmtEnd()
	lc := c.fc.loops[len(c.fc.loops)-1]
	c.emitByte(OpJumpBack)
	delta := len(c.fc.fn.code) + 2 - lc.continueTarget
	c.emitU16(uint16(delta))
}

// ---- expressions: Pratt precedence climbing ----

type precedence int

const (
	precNone precedence = iota
	precAssignment
	precCoalesce
	precOr
	precAnd
	precEquality
	precComparison
	precBitwise
	precShift
	precTerm
	precFactor
	precUnary
	precCall
	precPrimary
)

type parseRule struct {
	prefix  func(c *Compiler, canAssign bool)
	infix   func(c *Compiler, canAssign bool)
	prec    precedence
}

var rules map[TokenKind]parseRule

func init() {
	rules = map[TokenKind]parseRule{
		TokLParen:          {prefix: (*Compiler).grouping, infix: (*Compiler).call, prec: precCall},
		TokDot:             {infix: (*Compiler).dot, prec: precCall},
		TokColon:           {infix: (*Compiler).colonCall, prec: precCall},
		TokColonColon:      {infix: (*Compiler).moduleMember, prec: precCall},
		TokLBracket:        {prefix: (*Compiler).vecOrMapLiteral, infix: (*Compiler).index, prec: precCall},
		TokMinus:           {prefix: (*Compiler).unary, infix: (*Compiler).binary, prec: precTerm},
		TokPlus:            {infix: (*Compiler).binary, prec: precTerm},
		TokSlash:           {infix: (*Compiler).binary, prec: precFactor},
		TokSlashSlash:      {infix: (*Compiler).binary, prec: precFactor},
		TokStar:            {infix: (*Compiler).binary, prec: precFactor},
		TokStarStar:        {infix: (*Compiler).binary, prec: precFactor},
		TokPercent:         {infix: (*Compiler).binary, prec: precFactor},
		TokMod:             {infix: (*Compiler).binary, prec: precFactor},
		TokRem:             {infix: (*Compiler).binary, prec: precFactor},
		TokBang:            {prefix: (*Compiler).unary},
		TokTilde:           {prefix: (*Compiler).unary, infix: nil},
		TokBangEqual:       {infix: (*Compiler).binary, prec: precEquality},
		TokEqualEqual:      {infix: (*Compiler).binary, prec: precEquality},
		TokGreater:         {infix: (*Compiler).binary, prec: precComparison},
		TokGreaterEqual:    {infix: (*Compiler).binary, prec: precComparison},
		TokLess:            {infix: (*Compiler).binary, prec: precComparison},
		TokLessEqual:       {infix: (*Compiler).binary, prec: precComparison},
		TokLessLess:        {infix: (*Compiler).binary, prec: precShift},
		TokGreaterGreater:  {infix: (*Compiler).binary, prec: precShift},
		TokAmp:             {infix: (*Compiler).binary, prec: precBitwise},
		TokBar:             {infix: (*Compiler).binary, prec: precBitwise},
		TokCaret:           {infix: (*Compiler).binary, prec: precBitwise},
		TokAmpAmp:          {infix: (*Compiler).and, prec: precAnd},
		TokBarBar:          {infix: (*Compiler).or, prec: precOr},
		TokQuestionQuestion: {infix: (*Compiler).coalesce, prec: precCoalesce},
		TokIn:              {infix: (*Compiler).binary, prec: precComparison},
		TokIdent:           {prefix: (*Compiler).identifier},
		TokInt:             {prefix: (*Compiler).intLiteral},
		TokFloat:           {prefix: (*Compiler).floatLiteral},
		TokRune:            {prefix: (*Compiler).runeLiteral},
		TokString:          {prefix: (*Compiler).stringLiteral},
		TokStringFragment:  {prefix: (*Compiler).interpolatedString},
		TokTrue:            {prefix: (*Compiler).literalTrue},
		TokFalse:           {prefix: (*Compiler).literalFalse},
		TokNull:            {prefix: (*Compiler).literalNull},
		TokSelf:            {prefix: (*Compiler).selfExpr},
		TokSuper:           {prefix: (*Compiler).superExpr},
		TokTry:             {prefix: (*Compiler).tryExpr},
		TokDef:             {prefix: (*Compiler).lambdaExpr},
	}
}

func (c *Compiler) getRule(k TokenKind) parseRule { return rules[k] }

func (c *Compiler) expression() { c.parsePrecedence(precAssignment) }

func (c *Compiler) parsePrecedence(prec precedence) {
	c.advance()
	rule := c.getRule(c.prev.Kind)
	if rule.prefix == nil {
		c.fail("expected expression")
		return
	}
	canAssign := prec <= precAssignment
	selfPrefixed := c.prev.Kind == TokSelf
	rule.prefix(c, canAssign)

	first := true
	for prec <= c.getRule(c.cur.Kind).prec {
		c.advance()
		infix := c.getRule(c.prev.Kind).infix
		if infix == nil {
			break
		}
		c.pendingSelfReceiver = first && selfPrefixed
		infix(c, canAssign)
		first = false
	}

	if canAssign && c.match(TokEqual) {
		c.fail("invalid assignment target")
	}
}

func (c *Compiler) grouping(canAssign bool) {
	c.expression()
	c.expect(TokRParen, "expected ')' after expression")
}

func (c *Compiler) unary(canAssign bool) {
	op := c.prev.Kind
	c.parsePrecedence(precUnary)
	switch op {
	case TokMinus:
		c.emitByte(OpUnaryMinus)
	case TokBang:
		c.emitByte(OpUnaryBang)
	case TokTilde:
		c.emitByte(OpUnaryTilde)
	case TokPlus:
		c.emitByte(OpUnaryPlus)
	}
}

var binaryOpcodes = map[TokenKind]Opcode{
	TokPlus: OpBinaryPlus, TokMinus: OpBinaryMinus, TokStar: OpBinaryStar,
	TokSlash: OpBinarySlash, TokSlashSlash: OpBinarySlashSlash, TokStarStar: OpBinaryStarStar,
	TokPercent: OpBinaryPercent, TokRem: OpBinaryPercent, TokMod: OpBinaryMod,
	TokBangEqual: OpBinaryBangEqual, TokEqualEqual: OpBinaryEqualEqual,
	TokGreater: OpBinaryGreater, TokGreaterEqual: OpBinaryGreaterEqual,
	TokLess: OpBinaryLess, TokLessEqual: OpBinaryLessEqual,
	TokLessLess: OpBinaryLessLess, TokGreaterGreater: OpBinaryGreaterGreater,
	TokAmp: OpBinaryAmp, TokBar: OpBinaryBar, TokCaret: OpBinaryCaret, TokIn: OpBinaryIn,
}

func (c *Compiler) binary(canAssign bool) {
	op := c.prev.Kind
	rule := c.getRule(op)
	c.parsePrecedence(rule.prec + 1)
	if code, ok := binaryOpcodes[op]; ok {
		c.emitByte(code)
	}
}

func (c *Compiler) and(canAssign bool) {
	endJump := c.emitJump(OpJumpIfFalse)
	c.emitByte(OpPop)
	c.parsePrecedence(precAnd)
	c.patchJump(endJump)
}

func (c *Compiler) or(canAssign bool) {
	endJump := c.emitJump(OpJumpIfTrue)
	c.emitByte(OpPop)
	c.parsePrecedence(precOr)
	c.patchJump(endJump)
}

func (c *Compiler) coalesce(canAssign bool) {
	endJump := c.emitJump(OpJumpIfNotNull)
	c.emitByte(OpPop)
	c.parsePrecedence(precCoalesce)
	c.patchJump(endJump)
}

// compileArgList compiles a parenthesized argument list already
// positioned just after '(', returning the number of fixed arguments
// compiled and whether the list ended in a `...expr` splat whose
// items should be spread onto the call at runtime.
func (c *Compiler) compileArgList() (argCount int, hasUnpack bool) {
	if !c.check(TokRParen) {
		for {
			if c.match(TokEllipsis) {
				c.expression()
				hasUnpack = true
				c.match(TokComma)
				break
			}
			c.expression()
			argCount++
			if !c.match(TokComma) {
				break
			}
		}
	}
	c.expect(TokRParen, "expected ')' after arguments")
	return argCount, hasUnpack
}

func (c *Compiler) call(canAssign bool) {
	argCount, hasUnpack := c.compileArgList()
	if hasUnpack {
		c.emitByte(OpCallValueWithUnpack)
	} else {
		c.emitByte(OpCallValue)
	}
	c.emitByteRaw(byte(argCount))
}

// dot compiles `.field` access/assignment. A chain's first access off
// a bare, unchained `self` is privileged (sees private fields and
// methods); every other receiver only sees public ones.
func (c *Compiler) dot(canAssign bool) {
	privileged := c.pendingSelfReceiver
	c.pendingSelfReceiver = false
	c.expect(TokIdent, "expected property name after '.'")
	name := c.prev.Lexeme
	idx := c.addConstant(ObjVal(c.heap.NewString(name)))
	if canAssign && c.match(TokEqual) {
		c.expression()
		if privileged {
			c.emitOpU16(OpSetField, idx)
		} else {
			c.emitOpU16(OpSetPubField, idx)
		}
		return
	}
	if privileged {
		c.emitOpU16(OpGetField, idx)
	} else {
		c.emitOpU16(OpGetPubField, idx)
	}
}

// colonCall compiles `:method` / `:method(...)`: the method-call
// counterpart of `.`, distinguished from it so that a bare `obj:method`
// (no parens) yields an unbound method lookup rather than a field read.
func (c *Compiler) colonCall(canAssign bool) {
	privileged := c.pendingSelfReceiver
	c.pendingSelfReceiver = false
	c.expect(TokIdent, "expected method name after ':'")
	name := c.prev.Lexeme
	idx := c.addConstant(ObjVal(c.heap.NewString(name)))
	if c.match(TokLParen) {
		argCount, hasUnpack := c.compileArgList()
		switch {
		case privileged && hasUnpack:
			c.emitOpU16(OpCallMethodWithUnpack, idx)
		case privileged:
			c.emitOpU16(OpCallMethod, idx)
		case hasUnpack:
			c.emitOpU16(OpCallPubMethodWithUnpack, idx)
		default:
			c.emitOpU16(OpCallPubMethod, idx)
		}
		c.emitByteRaw(byte(argCount))
		return
	}
	if privileged {
		c.emitOpU16(OpGetMethod, idx)
	} else {
		c.emitOpU16(OpGetPubMethod, idx)
	}
}

// moduleMember compiles `::member` access on a module value.
func (c *Compiler) moduleMember(canAssign bool) {
	c.expect(TokIdent, "expected member name after '::'")
	name := c.prev.Lexeme
	idx := c.addConstant(ObjVal(c.heap.NewString(name)))
	if canAssign && c.match(TokEqual) {
		c.expression()
		c.emitOpU16(OpSetField, idx)
		return
	}
	c.emitOpU16(OpGetMember, idx)
}

func (c *Compiler) index(canAssign bool) {
	c.expression()
	c.expect(TokRBracket, "expected ']' after index")
	if canAssign && c.match(TokEqual) {
		c.expression()
		c.emitByte(OpSetIndex)
		return
	}
	c.emitByte(OpGetIndex)
}

func (c *Compiler) vecOrMapLiteral(canAssign bool) {
	count := 0
	for !c.check(TokRBracket) && !c.check(TokEOF) {
		c.expression()
		count++
		if !c.match(TokComma) {
			break
		}
	}
	c.expect(TokRBracket, "expected ']' after vector literal")
	c.emitOpU16(OpMakeVec, uint16(count))
}

func (c *Compiler) intLiteral(canAssign bool)   { c.emitConstant(I64(c.prev.IntVal)) }
func (c *Compiler) floatLiteral(canAssign bool) { c.emitConstant(F64(c.prev.FltVal)) }
func (c *Compiler) runeLiteral(canAssign bool)  { c.emitConstant(RuneVal(c.prev.RunVal)) }
func (c *Compiler) stringLiteral(canAssign bool) {
	c.emitConstant(ObjVal(c.heap.NewString(c.prev.StrVal)))
}
func (c *Compiler) literalTrue(canAssign bool)  { c.emitByte(OpLoadTrue) }
func (c *Compiler) literalFalse(canAssign bool) { c.emitByte(OpLoadFalse) }
func (c *Compiler) literalNull(canAssign bool)  { c.emitByte(OpLoadNull) }

// interpolatedString compiles `"a${expr}b"` as a left-fold of
// CONCAT_STRINGS over fragments and stringified expression results.
func (c *Compiler) interpolatedString(canAssign bool) {
	c.emitConstant(ObjVal(c.heap.NewString(c.prev.StrVal)))
	for {
		c.expression()
		if c.check(TokFormatSpec) {
			c.advance()
			c.emitConstant(ObjVal(c.heap.NewString(c.prev.StrVal)))
			c.emitByte(OpFormat)
		} else {
			c.emitByte(OpStringify)
		}
		c.emitByte(OpConcatStrings)
		if c.check(TokStringFragment) {
			c.advance()
			c.emitConstant(ObjVal(c.heap.NewString(c.prev.StrVal)))
			c.emitByte(OpConcatStrings)
			continue
		}
		c.expect(TokStringFragmentFinal, "unterminated interpolated string")
		c.emitConstant(ObjVal(c.heap.NewString(c.prev.StrVal)))
		c.emitByte(OpConcatStrings)
		break
	}
}

func (c *Compiler) variableRef(name string) {
	if slot := c.resolveLocal(c.fc, name); slot != -1 {
		c.emitOpU16(OpGetLocal, uint16(slot))
		return
	}
	if slot := c.resolveUpvalue(c.fc, name); slot != -1 {
		c.emitOpU16(OpGetUpvalue, uint16(slot))
		return
	}
	idx := c.addConstant(ObjVal(c.heap.NewString(name)))
	c.emitOpU16(OpGetGlobal, idx)
}

func (c *Compiler) identifier(canAssign bool) {
	name := c.prev.Lexeme

	if canAssign && c.match(TokEqual) {
		c.expression()
		c.assignTo(name)
		return
	}

	c.variableRef(name)
}

func (c *Compiler) assignTo(name string) {
	if slot := c.resolveLocal(c.fc, name); slot != -1 {
		c.emitOpU16(OpSetLocal, uint16(slot))
		return
	}
	if slot := c.resolveUpvalue(c.fc, name); slot != -1 {
		c.emitOpU16(OpSetUpvalue, uint16(slot))
		return
	}
	idx := c.addConstant(ObjVal(c.heap.NewString(name)))
	c.emitOpU16(OpSetGlobal, idx)
}

func (c *Compiler) selfExpr(canAssign bool) { c.variableRef("self") }

func (c *Compiler) superExpr(canAssign bool) {
	c.expect(TokColon, "expected ':' after 'super'")
	c.expect(TokIdent, "expected superclass method name")
	name := c.prev.Lexeme
	idx := c.addConstant(ObjVal(c.heap.NewString(name)))
	c.variableRef("self")
	if c.match(TokLParen) {
		argCount, hasUnpack := c.compileArgList()
		if hasUnpack {
			c.emitOpU16(OpCallSuperMethodWithUnpack, idx)
		} else {
			c.emitOpU16(OpCallSuperMethod, idx)
		}
		c.emitByteRaw(byte(argCount))
		return
	}
	c.emitOpU16(OpGetSuperMethod, idx)
}

// tryExpr compiles `try expr` as a TRY/END_TRY-bracketed evaluation:
// TRY snapshots the stack and call depth, and if anything inside the
// bracket panics the VM unwinds to that snapshot and yields an Err
// value in place of the result instead of propagating.
func (c *Compiler) tryExpr(canAssign bool) {
	c.emitByte(OpTry)
	c.parsePrecedence(precUnary)
	c.emitByte(OpEndTry)
}

func (c *Compiler) lambdaExpr(canAssign bool) {
	fn, defaultFns := c.function("$lambda", fnKindFunction)
	c.emitClosure(fn, defaultFns)
}
