package vm

import (
	"encoding/binary"
	"math"
)

// SourceLocation maps bytecode position to source location for error reports.
type SourceLocation struct {
	BytecodeOffset uint32 // Offset in code section
	Line           uint32 // Source line number (1-based)
	Column         uint16 // Source column number (1-based)
}

// Chunk is the compiled instruction stream and constant pool of one
// function or of the top-level script. It is immutable once the compiler
// finishes the function that owns it.
type Chunk struct {
	Code      []byte
	Constants []Value

	// SourceMap holds one entry per change of source line, in offset order.
	SourceMap []SourceLocation

	// MaxStack is the deepest static stack height the compiler computed,
	// relative to the frame base.
	MaxStack int

	numIndex map[uint64]int // number bits -> constant index, built lazily
}

// NewChunk creates a new empty chunk.
func NewChunk() *Chunk {
	return &Chunk{
		Code:      make([]byte, 0, 64),
		Constants: make([]Value, 0, 8),
	}
}

// AddConstant adds a value to the pool and returns its index.
// If an equal constant already exists, returns the existing index.
func (c *Chunk) AddConstant(value Value) int {
	if value.IsNumber() {
		if c.numIndex == nil {
			c.numIndex = make(map[uint64]int, len(c.Constants))
			for i, v := range c.Constants {
				if v.IsNumber() {
					bits := math.Float64bits(v.Number())
					if _, dup := c.numIndex[bits]; !dup {
						c.numIndex[bits] = i
					}
				}
			}
		}
		bits := math.Float64bits(value.Number())
		if i, ok := c.numIndex[bits]; ok {
			return i
		}
		c.Constants = append(c.Constants, value)
		c.numIndex[bits] = len(c.Constants) - 1
		return len(c.Constants) - 1
	}

	for i, v := range c.Constants {
		if v.Equal(value) {
			return i
		}
	}
	c.Constants = append(c.Constants, value)
	return len(c.Constants) - 1
}

// Emit appends a single-byte opcode to the code section.
func (c *Chunk) Emit(op Opcode) int {
	offset := len(c.Code)
	c.Code = append(c.Code, byte(op))
	return offset
}

// EmitWithOperand appends an opcode with operand bytes.
func (c *Chunk) EmitWithOperand(op Opcode, operands ...byte) int {
	offset := len(c.Code)
	c.Code = append(c.Code, byte(op))
	c.Code = append(c.Code, operands...)
	return offset
}

// EmitUint16 appends an opcode with a big-endian u16 operand.
func (c *Chunk) EmitUint16(op Opcode, operand uint16) int {
	return c.EmitWithOperand(op, byte(operand>>8), byte(operand))
}

// CurrentOffset returns the current offset in the code section.
func (c *Chunk) CurrentOffset() int {
	return len(c.Code)
}

// ReadUint16 decodes the big-endian u16 operand at offset.
func (c *Chunk) ReadUint16(offset int) uint16 {
	return binary.BigEndian.Uint16(c.Code[offset:])
}

// AddSourceLocation records that code from offset onward comes from line.
// Consecutive instructions on the same line share one entry.
func (c *Chunk) AddSourceLocation(offset int, line int, column int) {
	if n := len(c.SourceMap); n > 0 && c.SourceMap[n-1].Line == uint32(line) {
		return
	}
	c.SourceMap = append(c.SourceMap, SourceLocation{
		BytecodeOffset: uint32(offset),
		Line:           uint32(line),
		Column:         uint16(column),
	})
}

// GetSourceLocation returns the source location for a bytecode offset.
// Returns line 0, column 0 if no mapping exists.
func (c *Chunk) GetSourceLocation(offset int) (line int, column int) {
	for i := len(c.SourceMap) - 1; i >= 0; i-- {
		if int(c.SourceMap[i].BytecodeOffset) <= offset {
			return int(c.SourceMap[i].Line), int(c.SourceMap[i].Column)
		}
	}
	return 0, 0
}
