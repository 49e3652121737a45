package compiler

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/chazu/venom/vm"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("venom.compiler")

// ---------------------------------------------------------------------------
// Compiler: single-pass Pratt parser emitting bytecode
// ---------------------------------------------------------------------------

// Precedence levels, lowest to highest.
type precedence int

const (
	precNone precedence = iota
	precTerm            // + -
	precFactor          // * / %
	precUnary           // -
	precCall            // ()
	precPrimary
)

type parseFn func(c *Compiler)

type parseRule struct {
	prefix parseFn
	infix  parseFn
	prec   precedence
}

var rules map[TokenType]parseRule

func init() {
	rules = map[TokenType]parseRule{
		TokenLParen:     {prefix: (*Compiler).grouping, infix: (*Compiler).call, prec: precCall},
		TokenMinus:      {prefix: (*Compiler).unary, infix: (*Compiler).binary, prec: precTerm},
		TokenPlus:       {infix: (*Compiler).binary, prec: precTerm},
		TokenStar:       {infix: (*Compiler).binary, prec: precFactor},
		TokenSlash:      {infix: (*Compiler).binary, prec: precFactor},
		TokenPercent:    {infix: (*Compiler).binary, prec: precFactor},
		TokenNumber:     {prefix: (*Compiler).number},
		TokenIdentifier: {prefix: (*Compiler).identifier},
	}
}

func getRule(t TokenType) parseRule {
	return rules[t]
}

// DeclKind classifies a top-level declaration.
type DeclKind int

const (
	DeclGlobal DeclKind = iota
	DeclFunction
)

func (k DeclKind) String() string {
	if k == DeclFunction {
		return "function"
	}
	return "global"
}

// Declaration is a top-level `let` or `fn` seen during compilation.
type Declaration struct {
	Name   string
	Kind   DeclKind
	Arity  int // functions only
	Params []string
	Line   int
	Column int
}

// Compiler holds the state of one compilation. It is used once.
type Compiler struct {
	lexer     *Lexer
	prevToken Token
	curToken  Token
	peekToken Token

	heap    *vm.Heap
	symbols *vm.SymbolTable

	// globals records top-level names in the order their declarations end.
	globals map[string]bool
	decls   []Declaration

	fs *funcState

	errors    ErrorList
	panicMode bool
}

func newCompiler(source string) *Compiler {
	c := &Compiler{
		lexer:   NewLexer(source),
		heap:    vm.NewHeap(),
		symbols: vm.NewSymbolTable(),
		globals: make(map[string]bool),
	}
	// Fill curToken and peekToken
	c.peekToken = c.lexer.NextToken()
	c.advance()
	return c
}

// Compile translates source into a program in a single pass. On failure the
// returned error is an ErrorList and nothing is allocated.
func Compile(source string) (*vm.Program, error) {
	c := newCompiler(source)
	prog := c.compileScript()
	if err := c.errors.Err(); err != nil {
		prog.Release()
		return nil, err
	}
	log.Debugf("compiled %d bytes of code, %d globals, %d objects",
		c.scriptFunction(prog).Chunk.CurrentOffset(), c.symbols.Len(), c.heap.Live())
	return prog, nil
}

// Analysis is the result of compiling source for tooling: every diagnostic
// and the top-level declarations that were seen, even when compilation
// failed.
type Analysis struct {
	Errors       ErrorList
	Declarations []Declaration
}

// Analyze compiles source and discards the program.
func Analyze(source string) *Analysis {
	c := newCompiler(source)
	prog := c.compileScript()
	prog.Release()
	return &Analysis{Errors: c.errors, Declarations: c.decls}
}

// AsErrorList extracts the diagnostics from an error returned by Compile.
func AsErrorList(err error) (ErrorList, bool) {
	var list ErrorList
	if errors.As(err, &list) {
		return list, true
	}
	return nil, false
}

func (c *Compiler) compileScript() *vm.Program {
	script := vm.NewFunction("", 0)
	c.fs = newFuncState(nil, script, true)
	for !c.curTokenIs(TokenEOF) {
		c.statement()
	}
	c.emitImplicitReturn()
	return &vm.Program{
		Script:  c.heap.Alloc(script),
		Heap:    c.heap,
		Symbols: c.symbols,
	}
}

func (c *Compiler) scriptFunction(prog *vm.Program) *vm.Function {
	fn, err := prog.ScriptFunction()
	if err != nil {
		panic(fmt.Sprintf("compiler: script not resolvable: %v", err))
	}
	return fn
}

// ---------------------------------------------------------------------------
// Token handling
// ---------------------------------------------------------------------------

// advance moves to the next token, reporting lexer errors as they become
// current.
func (c *Compiler) advance() {
	c.prevToken = c.curToken
	for {
		c.curToken = c.peekToken
		if c.peekToken.Type != TokenEOF {
			c.peekToken = c.lexer.NextToken()
		}
		if c.curToken.Type != TokenError {
			return
		}
		c.errorAt(c.curToken, "%s", c.curToken.Literal)
	}
}

func (c *Compiler) curTokenIs(t TokenType) bool {
	return c.curToken.Type == t
}

func (c *Compiler) peekTokenIs(t TokenType) bool {
	return c.peekToken.Type == t
}

// match consumes the current token if it has type t.
func (c *Compiler) match(t TokenType) bool {
	if !c.curTokenIs(t) {
		return false
	}
	c.advance()
	return true
}

// expect consumes a token of type t or reports msg at the current token.
func (c *Compiler) expect(t TokenType, msg string) bool {
	if c.curTokenIs(t) {
		c.advance()
		return true
	}
	c.errorAt(c.curToken, "%s%s", msg, where(c.curToken))
	return false
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

func (c *Compiler) errorAt(tok Token, format string, args ...any) {
	if c.panicMode {
		return
	}
	c.panicMode = true
	c.errors = append(c.errors, &CompileError{
		Line:    tok.Pos.Line,
		Column:  tok.Pos.Column,
		Message: fmt.Sprintf(format, args...),
	})
}

// where describes the token a syntax error was found at.
func where(tok Token) string {
	switch tok.Type {
	case TokenEOF:
		return " at end"
	case TokenError:
		return ""
	}
	return fmt.Sprintf(" at '%s'", tok.Literal)
}

func (c *Compiler) errorAtPrev(format string, args ...any) {
	c.errorAt(c.prevToken, format, args...)
}

// synchronize skips tokens until a likely statement boundary.
func (c *Compiler) synchronize() {
	c.panicMode = false
	for !c.curTokenIs(TokenEOF) {
		if c.prevToken.Type == TokenSemicolon {
			return
		}
		switch c.curToken.Type {
		case TokenLet, TokenFn, TokenPrint, TokenReturn, TokenLBrace, TokenRBrace:
			return
		}
		c.advance()
	}
}

// ---------------------------------------------------------------------------
// Emission
// ---------------------------------------------------------------------------

func (c *Compiler) chunk() *vm.Chunk {
	return c.fs.fn.Chunk
}

// emit appends an instruction and applies its stack effect to the static
// height. Operands are big-endian.
func (c *Compiler) emit(op vm.Opcode, operands ...byte) {
	switch len(operands) {
	case 0:
		c.emitted(op, c.chunk().Emit(op), 0)
	case 1:
		c.emitted(op, c.chunk().EmitWithOperand(op, operands...), int(operands[0]))
	default:
		c.emitted(op, c.chunk().EmitWithOperand(op, operands...), 0)
	}
}

func (c *Compiler) emitUint16(op vm.Opcode, operand int) {
	c.emitted(op, c.chunk().EmitUint16(op, uint16(operand)), 0)
}

// emitted maps the instruction at offset to the current source line and
// applies its stack effect to the static height. operand is the byte
// operand for single-byte forms.
func (c *Compiler) emitted(op vm.Opcode, offset, operand int) {
	chunk := c.chunk()
	chunk.AddSourceLocation(offset, c.prevToken.Pos.Line, c.prevToken.Pos.Column)

	pop, push := op.StackEffect(operand)
	c.fs.height -= pop
	if c.fs.height < 0 && len(c.errors) == 0 {
		panic(fmt.Sprintf("compiler: static stack underflow emitting %s in %s", op, c.fs.fn.DisplayName()))
	}
	c.fs.height += push
	if c.fs.height > chunk.MaxStack {
		chunk.MaxStack = c.fs.height
	}
}

func (c *Compiler) emitPops(n int) {
	for n > 0 {
		switch {
		case n == 1:
			c.emit(vm.OpPop)
			n = 0
		case n > 255:
			c.emit(vm.OpPopN, 255)
			n -= 255
		default:
			c.emit(vm.OpPopN, byte(n))
			n = 0
		}
	}
}

func (c *Compiler) emitImplicitReturn() {
	c.emit(vm.OpNil)
	c.emit(vm.OpReturn)
}

// makeConstant adds v to the pool, reporting an error past the u16 limit.
func (c *Compiler) makeConstant(v vm.Value) int {
	idx := c.chunk().AddConstant(v)
	if idx >= vm.MaxConstants {
		c.errorAtPrev("too many constants in one function")
		return 0
	}
	return idx
}

// symbol interns a global name, reporting an error past the u16 limit.
func (c *Compiler) symbol(name string) int {
	id := int(c.symbols.Intern(name))
	if id >= vm.MaxConstants {
		c.errorAtPrev("too many global names")
		return 0
	}
	return id
}

// checkBoundary asserts that only live locals remain on the stack between
// statements. A mismatch is a bug in code generation.
func (c *Compiler) checkBoundary() {
	if len(c.errors) > 0 {
		return
	}
	if c.fs.height != len(c.fs.locals) {
		panic(fmt.Sprintf("compiler: stack height %d with %d locals after statement at line %d in %s",
			c.fs.height, len(c.fs.locals), c.prevToken.Pos.Line, c.fs.fn.DisplayName()))
	}
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (c *Compiler) statement() {
	switch {
	case c.curTokenIs(TokenLet):
		c.letStatement()
	case c.curTokenIs(TokenFn):
		c.fnStatement()
	case c.curTokenIs(TokenPrint):
		c.printStatement()
	case c.curTokenIs(TokenReturn):
		c.returnStatement()
	case c.curTokenIs(TokenLBrace):
		c.advance()
		c.fs.beginScope()
		c.block()
		c.emitPops(c.fs.endScope())
	case c.curTokenIs(TokenIdentifier) && c.peekTokenIs(TokenAssign):
		c.assignStatement()
	default:
		c.expressionStatement()
	}

	if c.panicMode {
		c.synchronize()
	}
	c.checkBoundary()
}

// block parses statements up to and including the closing brace.
func (c *Compiler) block() {
	for !c.curTokenIs(TokenRBrace) && !c.curTokenIs(TokenEOF) {
		c.statement()
	}
	c.expect(TokenRBrace, "expected '}' after block")
}

func (c *Compiler) letStatement() {
	c.advance() // let
	name := c.curToken
	if !c.expect(TokenIdentifier, "expected variable name after 'let'") {
		return
	}
	if !c.expect(TokenAssign, "expected '=' after variable name") {
		return
	}
	c.expression()
	c.expect(TokenSemicolon, "expected ';' after variable declaration")
	c.defineVariable(name, DeclGlobal, nil)
}

// defineVariable binds name to the value on top of the stack: a global at
// script depth 0, otherwise a new local occupying that slot.
func (c *Compiler) defineVariable(name Token, kind DeclKind, params []string) {
	if c.fs.declaresGlobals() {
		c.globals[name.Literal] = true
		c.declare(Declaration{
			Name:   name.Literal,
			Kind:   kind,
			Arity:  len(params),
			Params: params,
			Line:   name.Pos.Line,
			Column: name.Pos.Column,
		})
		c.emitUint16(vm.OpDefineGlobal, c.symbol(name.Literal))
		return
	}
	c.declareLocal(name)
}

// declare records a global declaration. Redefining a global replaces the
// earlier entry.
func (c *Compiler) declare(d Declaration) {
	for i := range c.decls {
		if c.decls[i].Name == d.Name {
			c.decls[i] = d
			return
		}
	}
	c.decls = append(c.decls, d)
}

func (c *Compiler) declareLocal(name Token) {
	if c.fs.declaredInScope(name.Literal) {
		c.errorAt(name, "variable '%s' already declared in this scope", name.Literal)
	}
	if len(c.fs.locals) >= vm.MaxLocals {
		c.errorAt(name, "too many local variables in function")
	}
	c.fs.addLocal(name.Literal)
}

func (c *Compiler) assignStatement() {
	name := c.curToken
	c.advance() // identifier
	c.advance() // =

	slot, isLocal := c.fs.resolveLocal(name.Literal)
	if !isLocal && !c.globals[name.Literal] {
		c.errorAt(name, "assignment to undeclared variable '%s'", name.Literal)
	}

	c.expression()
	c.expect(TokenSemicolon, "expected ';' after assignment")

	if isLocal {
		c.emit(vm.OpSetLocal, byte(slot))
	} else {
		c.emitUint16(vm.OpSetGlobal, c.symbol(name.Literal))
	}
}

func (c *Compiler) printStatement() {
	c.advance() // print
	c.expression()
	c.expect(TokenSemicolon, "expected ';' after value")
	c.emit(vm.OpPrint)
}

func (c *Compiler) returnStatement() {
	tok := c.curToken
	c.advance() // return
	if c.fs.isScript {
		c.errorAt(tok, "cannot return from top-level code")
	}
	if c.match(TokenSemicolon) {
		c.emit(vm.OpNil)
	} else {
		c.expression()
		c.expect(TokenSemicolon, "expected ';' after return value")
	}
	c.emit(vm.OpReturn)
}

func (c *Compiler) expressionStatement() {
	c.expression()
	c.expect(TokenSemicolon, "expected ';' after expression")
	c.emit(vm.OpPop)
}

// fnStatement compiles a nested function, stores it in the enclosing
// constant pool and binds it like a variable.
func (c *Compiler) fnStatement() {
	c.advance() // fn
	name := c.curToken
	if !c.expect(TokenIdentifier, "expected function name after 'fn'") {
		return
	}

	fn := vm.NewFunction(name.Literal, 0)
	enclosing := c.fs
	c.fs = newFuncState(enclosing, fn, false)

	params := c.parameters()
	fn.Arity = len(params)
	c.fs.height = fn.Arity
	fn.Chunk.MaxStack = fn.Arity

	if c.expect(TokenLBrace, "expected '{' before function body") {
		c.block()
	}
	c.emitImplicitReturn()
	c.fs = enclosing

	ref := c.heap.Alloc(fn)
	c.emitUint16(vm.OpFunction, c.makeConstant(vm.ObjectValue(ref)))
	c.defineVariable(name, DeclFunction, params)
}

// parameters parses "(a, b)" and declares each name as a local of the
// function being compiled.
func (c *Compiler) parameters() []string {
	var params []string
	if !c.expect(TokenLParen, "expected '(' after function name") {
		return nil
	}
	if !c.curTokenIs(TokenRParen) {
		for {
			tok := c.curToken
			if !c.expect(TokenIdentifier, "expected parameter name") {
				return params
			}
			if len(params) == vm.MaxArgs {
				c.errorAt(tok, "can't have more than %d parameters", vm.MaxArgs)
			}
			if c.fs.declaredInScope(tok.Literal) {
				c.errorAt(tok, "duplicate parameter '%s'", tok.Literal)
			}
			c.fs.addLocal(tok.Literal)
			params = append(params, tok.Literal)
			if !c.match(TokenComma) {
				break
			}
		}
	}
	c.expect(TokenRParen, "expected ')' after parameters")
	return params
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

func (c *Compiler) expression() {
	c.parsePrecedence(precTerm)
}

func (c *Compiler) parsePrecedence(prec precedence) {
	c.advance()
	prefix := getRule(c.prevToken.Type).prefix
	if prefix == nil {
		c.errorAtPrev("expected expression%s", where(c.prevToken))
		return
	}
	prefix(c)

	for prec <= getRule(c.curToken.Type).prec {
		c.advance()
		getRule(c.prevToken.Type).infix(c)
	}
}

func (c *Compiler) number() {
	n, err := strconv.ParseFloat(c.prevToken.Literal, 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		c.errorAtPrev("invalid number")
		return
	}
	c.emitUint16(vm.OpConst, c.makeConstant(vm.NumberValue(n)))
}

func (c *Compiler) identifier() {
	name := c.prevToken.Literal
	if slot, ok := c.fs.resolveLocal(name); ok {
		c.emit(vm.OpGetLocal, byte(slot))
		return
	}
	c.emitUint16(vm.OpGetGlobal, c.symbol(name))
}

func (c *Compiler) grouping() {
	c.expression()
	c.expect(TokenRParen, "expected ')' after expression")
}

func (c *Compiler) unary() {
	c.parsePrecedence(precUnary)
	c.emit(vm.OpNeg)
}

var binaryOps = map[TokenType]vm.Opcode{
	TokenPlus:    vm.OpAdd,
	TokenMinus:   vm.OpSub,
	TokenStar:    vm.OpMul,
	TokenSlash:   vm.OpDiv,
	TokenPercent: vm.OpMod,
}

func (c *Compiler) binary() {
	opTok := c.prevToken
	c.parsePrecedence(getRule(opTok.Type).prec + 1)
	c.emit(binaryOps[opTok.Type])
}

func (c *Compiler) call() {
	argc := 0
	if !c.curTokenIs(TokenRParen) {
		for {
			c.expression()
			if argc == vm.MaxArgs {
				c.errorAtPrev("can't have more than %d arguments", vm.MaxArgs)
			}
			argc++
			if !c.match(TokenComma) {
				break
			}
		}
	}
	c.expect(TokenRParen, "expected ')' after arguments")
	c.emit(vm.OpCall, byte(argc))
}
