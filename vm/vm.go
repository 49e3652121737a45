package vm

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("venom.vm")

const (
	// DefaultMaxFrames is the call depth limit, script frame included.
	DefaultMaxFrames = 256

	// DefaultMaxStack is the value stack limit in slots.
	DefaultMaxStack = 1 << 16

	initialStack = 256
)

// ---------------------------------------------------------------------------
// VM: stack machine for compiled programs
// ---------------------------------------------------------------------------

// frame is one active call. The callee value sits at base-1 and the
// arguments start at base. ip of a caller frame is its return address.
type frame struct {
	fn   *Function
	ip   int
	base int
	last int // offset of the instruction being executed
}

// VM executes programs. A VM is not safe for concurrent use; Run calls on one
// VM must be serialized.
type VM struct {
	out       io.Writer
	maxFrames int
	maxStack  int
	trace     bool
	stackDump bool

	prog    *Program
	stack   []Value
	sp      int
	frames  []frame
	globals []Value
	defined []bool
}

// Option configures a VM.
type Option func(*VM)

// WithOutput sets the writer receiving print output and stack dumps.
// Defaults to os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(vm *VM) { vm.out = w }
}

// WithMaxFrames sets the call depth limit.
func WithMaxFrames(n int) Option {
	return func(vm *VM) {
		if n > 0 {
			vm.maxFrames = n
		}
	}
}

// WithMaxStack sets the value stack limit.
func WithMaxStack(n int) Option {
	return func(vm *VM) {
		if n > 0 {
			vm.maxStack = n
		}
	}
}

// WithTrace logs every executed instruction at debug level.
func WithTrace(enabled bool) Option {
	return func(vm *VM) { vm.trace = enabled }
}

// WithStackDump writes the final value stack after a successful run.
func WithStackDump(enabled bool) Option {
	return func(vm *VM) { vm.stackDump = enabled }
}

// New creates a VM.
func New(opts ...Option) *VM {
	vm := &VM{
		out:       os.Stdout,
		maxFrames: DefaultMaxFrames,
		maxStack:  DefaultMaxStack,
	}
	vm.Configure(opts...)
	return vm
}

// Configure applies opts to an idle VM. Settings persist across runs.
func (vm *VM) Configure(opts ...Option) {
	for _, opt := range opts {
		opt(vm)
	}
}

// Run executes prog from its script function until the script returns or a
// runtime error halts it. Each run starts with an empty stack and no globals.
// Output written before an error stays written.
func (vm *VM) Run(prog *Program) (err error) {
	if prog == nil {
		return errors.New("run: nil program")
	}
	script, err := prog.ScriptFunction()
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}

	vm.reset(prog)
	vm.frames = append(vm.frames, frame{fn: script})

	defer func() {
		if r := recover(); r != nil {
			re, ok := r.(*RuntimeError)
			if !ok {
				vm.unwind()
				panic(r)
			}
			vm.annotate(re)
			log.Debugf("run halted: %s", re)
			vm.unwind()
			err = re
		}
	}()

	vm.execute()

	if vm.stackDump {
		if _, werr := fmt.Fprintf(vm.out, "stack: [%s]\n", vm.formatStack()); werr != nil {
			return fmt.Errorf("write stack dump: %w", werr)
		}
	}
	return nil
}

// Global returns the value of a global after a run.
func (vm *VM) Global(name string) (Value, bool) {
	if vm.prog == nil {
		return Nil, false
	}
	id, ok := vm.prog.Symbols.Lookup(name)
	if !ok || int(id) >= len(vm.globals) || !vm.defined[id] {
		return Nil, false
	}
	return vm.globals[id], true
}

// Depth returns the current value stack height.
func (vm *VM) Depth() int { return vm.sp }

// Close drops all execution state. The VM can be reused afterwards.
func (vm *VM) Close() {
	vm.stack = nil
	vm.sp = 0
	vm.frames = nil
	vm.globals = nil
	vm.defined = nil
	vm.prog = nil
}

func (vm *VM) reset(prog *Program) {
	vm.prog = prog
	if vm.stack == nil {
		vm.stack = make([]Value, initialStack)
	}
	clear(vm.stack[:vm.sp])
	vm.sp = 0
	vm.frames = vm.frames[:0]
	n := prog.Symbols.Len()
	vm.globals = make([]Value, n)
	vm.defined = make([]bool, n)
}

func (vm *VM) unwind() {
	vm.frames = vm.frames[:0]
	clear(vm.stack[:vm.sp])
	vm.sp = 0
}

// annotate fills in the line and call trace from the active frames.
func (vm *VM) annotate(re *RuntimeError) {
	re.Trace = re.Trace[:0]
	for i := len(vm.frames) - 1; i >= 0; i-- {
		fr := vm.frames[i]
		line, _ := fr.fn.Chunk.GetSourceLocation(fr.last)
		re.Trace = append(re.Trace, TraceEntry{Function: fr.fn.DisplayName(), Line: line})
	}
	if len(re.Trace) > 0 {
		re.Line = re.Trace[0].Line
	}
}

// ---------------------------------------------------------------------------
// Stack operations
// ---------------------------------------------------------------------------

func (vm *VM) push(v Value) {
	if vm.sp >= vm.maxStack {
		runtimeErrorf("stack overflow")
	}
	if vm.sp >= len(vm.stack) {
		newStack := make([]Value, min(len(vm.stack)*2, vm.maxStack))
		copy(newStack, vm.stack)
		vm.stack = newStack
	}
	vm.stack[vm.sp] = v
	vm.sp++
}

func (vm *VM) pop() Value {
	if vm.sp <= 0 {
		runtimeErrorf("stack underflow")
	}
	vm.sp--
	v := vm.stack[vm.sp]
	vm.stack[vm.sp] = Value{}
	return v
}

func (vm *VM) popN(n int) {
	if vm.sp < n {
		runtimeErrorf("stack underflow")
	}
	clear(vm.stack[vm.sp-n : vm.sp])
	vm.sp -= n
}

func (vm *VM) popNumber(opName string) float64 {
	v := vm.pop()
	if !v.IsNumber() {
		runtimeErrorf("operand of %s must be a number, got %s", opName, v.Kind())
	}
	return v.Number()
}

// ---------------------------------------------------------------------------
// Main interpreter loop
// ---------------------------------------------------------------------------

func (vm *VM) execute() {
	for {
		f := &vm.frames[len(vm.frames)-1]
		chunk := f.fn.Chunk
		code := chunk.Code

		if f.ip >= len(code) {
			runtimeErrorf("instruction pointer %d past end of %s", f.ip, f.fn.DisplayName())
		}
		f.last = f.ip
		op := Opcode(code[f.ip])
		if !op.IsKnown() {
			runtimeErrorf("unknown opcode 0x%02x", byte(op))
		}
		operandLen := op.OperandLen()
		if f.ip+1+operandLen > len(code) {
			runtimeErrorf("truncated operand for %s", op)
		}
		if vm.trace {
			log.Debugf("[%04x] %-16s sp=%d in %s", f.ip, op, vm.sp, f.fn.DisplayName())
		}
		f.ip++

		switch op {
		case OpPop:
			vm.pop()

		case OpPopN:
			n := int(code[f.ip])
			f.ip++
			vm.popN(n)

		case OpConst:
			idx := int(chunk.ReadUint16(f.ip))
			f.ip += 2
			if idx >= len(chunk.Constants) {
				runtimeErrorf("constant index %d out of range", idx)
			}
			vm.push(chunk.Constants[idx])

		case OpNil:
			vm.push(Nil)

		case OpFunction:
			idx := int(chunk.ReadUint16(f.ip))
			f.ip += 2
			if idx >= len(chunk.Constants) || !chunk.Constants[idx].IsObject() {
				runtimeErrorf("constant %d is not a function", idx)
			}
			vm.push(chunk.Constants[idx])

		case OpGetLocal:
			slot := int(code[f.ip])
			f.ip++
			if f.base+slot >= vm.sp {
				runtimeErrorf("local slot %d out of range", slot)
			}
			vm.push(vm.stack[f.base+slot])

		case OpSetLocal:
			slot := int(code[f.ip])
			f.ip++
			v := vm.pop()
			if f.base+slot >= vm.sp {
				runtimeErrorf("local slot %d out of range", slot)
			}
			vm.stack[f.base+slot] = v

		case OpGetGlobal:
			id := int(chunk.ReadUint16(f.ip))
			f.ip += 2
			vm.checkSymbol(id)
			if !vm.defined[id] {
				runtimeErrorf("undefined variable '%s'", vm.prog.Symbols.Name(uint32(id)))
			}
			vm.push(vm.globals[id])

		case OpDefineGlobal:
			id := int(chunk.ReadUint16(f.ip))
			f.ip += 2
			vm.checkSymbol(id)
			vm.globals[id] = vm.pop()
			vm.defined[id] = true

		case OpSetGlobal:
			id := int(chunk.ReadUint16(f.ip))
			f.ip += 2
			vm.checkSymbol(id)
			v := vm.pop()
			if !vm.defined[id] {
				runtimeErrorf("undefined variable '%s'", vm.prog.Symbols.Name(uint32(id)))
			}
			vm.globals[id] = v

		case OpAdd, OpSub, OpMul, OpDiv, OpMod:
			b := vm.popNumber(op.String())
			a := vm.popNumber(op.String())
			vm.push(NumberValue(arith(op, a, b)))

		case OpNeg:
			vm.push(NumberValue(-vm.popNumber(op.String())))

		case OpPrint:
			n := vm.popNumber(op.String())
			if _, err := fmt.Fprintf(vm.out, "dbg print :: %s\n", FormatNumber(n)); err != nil {
				runtimeErrorf("write output: %v", err)
			}

		case OpCall:
			argc := int(code[f.ip])
			f.ip++
			vm.call(argc)

		case OpReturn:
			if vm.ret(vm.pop()) {
				return
			}
		}
	}
}

func arith(op Opcode, a, b float64) float64 {
	switch op {
	case OpAdd:
		return a + b
	case OpSub:
		return a - b
	case OpMul:
		return a * b
	case OpDiv:
		return a / b
	case OpMod:
		return math.Mod(a, b)
	}
	panic(fmt.Sprintf("vm: %s is not arithmetic", op))
}

func (vm *VM) checkSymbol(id int) {
	if id >= len(vm.globals) {
		runtimeErrorf("symbol %d out of range", id)
	}
}

// call enters the function sitting below its argc arguments.
func (vm *VM) call(argc int) {
	calleeSlot := vm.sp - argc - 1
	if calleeSlot < 0 {
		runtimeErrorf("stack underflow")
	}
	callee := vm.stack[calleeSlot]
	if !callee.IsObject() {
		runtimeErrorf("can only call functions, got %s", callee.Kind())
	}
	fn, err := vm.prog.Heap.Function(callee.Ref())
	if err != nil {
		runtimeErrorf("can only call functions: %v", err)
	}
	if argc != fn.Arity {
		runtimeErrorf("%s expects %d arguments but got %d", fn.Name, fn.Arity, argc)
	}
	if len(vm.frames) >= vm.maxFrames {
		runtimeErrorf("call stack overflow (%d frames)", vm.maxFrames)
	}
	vm.frames = append(vm.frames, frame{fn: fn, base: calleeSlot + 1})
}

// ret leaves the current frame. It reports true when the script frame
// returned and execution is complete.
func (vm *VM) ret(result Value) bool {
	f := vm.frames[len(vm.frames)-1]
	vm.frames = vm.frames[:len(vm.frames)-1]
	if len(vm.frames) == 0 {
		if vm.sp != 0 {
			panic(fmt.Sprintf("vm: %d values left on stack at script return", vm.sp))
		}
		return true
	}
	vm.popN(vm.sp - (f.base - 1))
	vm.push(result)
	return false
}

func (vm *VM) formatStack() string {
	parts := make([]string, vm.sp)
	for i := 0; i < vm.sp; i++ {
		parts[i] = vm.describe(vm.stack[i])
	}
	return strings.Join(parts, ", ")
}

func (vm *VM) describe(v Value) string {
	if v.IsObject() {
		if fn, err := vm.prog.Heap.Function(v.Ref()); err == nil {
			return "<fn " + fn.DisplayName() + ">"
		}
	}
	return v.String()
}
