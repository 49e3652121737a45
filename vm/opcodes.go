package vm

import "fmt"

// Opcode represents a bytecode instruction.
// Opcodes are organized into ranges by category for easy identification.
type Opcode byte

const (
	// ========================================================================
	// Stack manipulation (0x00-0x0F)
	// ========================================================================

	OpPop  Opcode = 0x01 // Pop top of stack
	OpPopN Opcode = 0x02 // Pop n values: OpPopN <count:u8>

	// ========================================================================
	// Constants (0x10-0x1F)
	// ========================================================================

	OpConst    Opcode = 0x10 // Push constant from pool: OpConst <index:u16>
	OpNil      Opcode = 0x11 // Push nil
	OpFunction Opcode = 0x12 // Push function constant: OpFunction <index:u16>

	// ========================================================================
	// Local variables (0x20-0x2F)
	// ========================================================================

	OpGetLocal Opcode = 0x20 // Push local slot: OpGetLocal <slot:u8>
	OpSetLocal Opcode = 0x21 // Pop and store to local slot: OpSetLocal <slot:u8>

	// ========================================================================
	// Global variables (0x30-0x3F)
	// ========================================================================

	OpGetGlobal    Opcode = 0x30 // Push global: OpGetGlobal <symbol:u16>
	OpDefineGlobal Opcode = 0x31 // Pop and define global: OpDefineGlobal <symbol:u16>
	OpSetGlobal    Opcode = 0x32 // Pop and store to existing global: OpSetGlobal <symbol:u16>

	// ========================================================================
	// Arithmetic (0x50-0x5F)
	// ========================================================================

	OpAdd Opcode = 0x50 // Pop two, push sum
	OpSub Opcode = 0x51 // Pop two, push difference (a - b where b is TOS)
	OpMul Opcode = 0x52 // Pop two, push product
	OpDiv Opcode = 0x53 // Pop two, push quotient
	OpMod Opcode = 0x54 // Pop two, push remainder (fmod)
	OpNeg Opcode = 0x55 // Negate top of stack

	// ========================================================================
	// Output (0x70-0x7F)
	// ========================================================================

	OpPrint Opcode = 0x70 // Pop and write the debug-formatted number

	// ========================================================================
	// Calls (0x90-0x9F)
	// ========================================================================

	OpCall Opcode = 0x90 // Call function below argc args: OpCall <argc:u8>

	// ========================================================================
	// Return (0xF0-0xFF)
	// ========================================================================

	OpReturn Opcode = 0xF0 // Return top of stack to caller
)

// OpcodeInfo provides metadata about each opcode for debugging and validation.
type OpcodeInfo struct {
	Name       string // Human-readable name
	StackPop   int    // How many values popped from stack (-1 = variable)
	StackPush  int    // How many values pushed to stack
	OperandLen int    // Number of operand bytes following the opcode
}

// opcodeInfoTable maps opcodes to their metadata.
var opcodeInfoTable = map[Opcode]OpcodeInfo{
	// Stack manipulation
	OpPop:  {"POP", 1, 0, 0},
	OpPopN: {"POPN", -1, 0, 1}, // Pops count values

	// Constants
	OpConst:    {"CONST", 0, 1, 2},
	OpNil:      {"NIL", 0, 1, 0},
	OpFunction: {"FUNCTION", 0, 1, 2},

	// Locals
	OpGetLocal: {"GET_LOCAL", 0, 1, 1},
	OpSetLocal: {"SET_LOCAL", 1, 0, 1},

	// Globals
	OpGetGlobal:    {"GET_GLOBAL", 0, 1, 2},
	OpDefineGlobal: {"DEFINE_GLOBAL", 1, 0, 2},
	OpSetGlobal:    {"SET_GLOBAL", 1, 0, 2},

	// Arithmetic
	OpAdd: {"ADD", 2, 1, 0},
	OpSub: {"SUB", 2, 1, 0},
	OpMul: {"MUL", 2, 1, 0},
	OpDiv: {"DIV", 2, 1, 0},
	OpMod: {"MOD", 2, 1, 0},
	OpNeg: {"NEG", 1, 1, 0},

	// Output
	OpPrint: {"PRINT", 1, 0, 0},

	// Calls
	OpCall: {"CALL", -1, 1, 1}, // Pops callee + argc args

	// Return
	OpReturn: {"RETURN", 1, 0, 0},
}

// GetOpcodeInfo returns metadata for an opcode.
// Returns a zero OpcodeInfo with name "UNKNOWN" if the opcode is not recognized.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))}
}

// IsKnown reports whether op has metadata.
func (op Opcode) IsKnown() bool {
	_, ok := opcodeInfoTable[op]
	return ok
}

// String returns the human-readable name of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// OperandLen returns the number of operand bytes for this opcode.
func (op Opcode) OperandLen() int {
	return GetOpcodeInfo(op).OperandLen
}

// InstructionLen returns the total length of an instruction (1 + operand bytes).
func (op Opcode) InstructionLen() int {
	return 1 + op.OperandLen()
}

// StackEffect returns the values popped and pushed by an instruction.
// operand is the u8 operand for the variable-effect opcodes (POPN, CALL).
func (op Opcode) StackEffect(operand int) (pop, push int) {
	info := GetOpcodeInfo(op)
	switch op {
	case OpPopN:
		return operand, 0
	case OpCall:
		return operand + 1, 1
	}
	return info.StackPop, info.StackPush
}

// AllOpcodes returns a slice of all defined opcodes.
// Useful for testing that all opcodes have metadata.
func AllOpcodes() []Opcode {
	opcodes := make([]Opcode, 0, len(opcodeInfoTable))
	for op := range opcodeInfoTable {
		opcodes = append(opcodes, op)
	}
	return opcodes
}
