package vm

import (
	"errors"
	"fmt"
)

// ErrInvalidProgram is wrapped by every error Verify returns.
var ErrInvalidProgram = errors.New("invalid program")

// Verify checks that every function reachable from the script is well
// formed: known opcodes, complete operands, in-range constant, symbol and
// slot operands, no static stack underflow and a final RETURN. Programs
// produced by the compiler always verify; images read from disk may not.
func Verify(prog *Program) error {
	fns, err := prog.Functions()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProgram, err)
	}
	for i, fn := range fns {
		if err := verifyFunction(prog, fn, i == 0); err != nil {
			return err
		}
	}
	return nil
}

func verifyFunction(prog *Program, fn *Function, isScript bool) error {
	c := fn.Chunk
	fail := func(offset int, format string, args ...any) error {
		return fmt.Errorf("%w: %s at %04X: %s", ErrInvalidProgram, fn.DisplayName(), offset, fmt.Sprintf(format, args...))
	}

	if fn.Arity < 0 || fn.Arity > MaxArgs {
		return fail(0, "arity %d out of range", fn.Arity)
	}
	if isScript && fn.Arity != 0 {
		return fail(0, "script takes no parameters")
	}
	if len(c.Code) == 0 {
		return fail(0, "empty code")
	}

	height := fn.Arity
	lastOp := Opcode(0)
	for offset := 0; offset < len(c.Code); {
		op := Opcode(c.Code[offset])
		if !op.IsKnown() {
			return fail(offset, "unknown opcode 0x%02X", byte(op))
		}
		n := op.InstructionLen()
		if offset+n > len(c.Code) {
			return fail(offset, "truncated operand for %s", op)
		}

		operand := 0
		switch op.OperandLen() {
		case 1:
			operand = int(c.Code[offset+1])
		case 2:
			operand = int(c.ReadUint16(offset + 1))
		}

		switch op {
		case OpConst:
			if operand >= len(c.Constants) {
				return fail(offset, "constant %d out of range", operand)
			}
		case OpFunction:
			if operand >= len(c.Constants) {
				return fail(offset, "constant %d out of range", operand)
			}
			k := c.Constants[operand]
			if !k.IsObject() {
				return fail(offset, "constant %d is not a function", operand)
			}
			if _, err := prog.Heap.Function(k.Ref()); err != nil {
				return fail(offset, "constant %d: %v", operand, err)
			}
		case OpGetGlobal, OpDefineGlobal, OpSetGlobal:
			if operand >= prog.Symbols.Len() {
				return fail(offset, "symbol %d out of range", operand)
			}
		}

		pop, push := op.StackEffect(operand)
		if pop > height {
			return fail(offset, "stack underflow in %s (height %d)", op, height)
		}
		if op == OpReturn && isScript && height != 1 {
			return fail(offset, "script returns with %d values on the stack", height)
		}
		height -= pop

		switch op {
		case OpGetLocal:
			if operand >= height {
				return fail(offset, "local slot %d out of range", operand)
			}
		case OpSetLocal:
			if operand >= height {
				return fail(offset, "local slot %d out of range", operand)
			}
		}

		height += push
		lastOp = op
		offset += n
	}

	if lastOp != OpReturn {
		return fail(len(c.Code), "code does not end with RETURN")
	}
	return nil
}
