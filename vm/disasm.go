package vm

import (
	"fmt"
	"strings"
)

// Disassemble returns a human-readable bytecode listing for the chunk.
func (c *Chunk) Disassemble() string {
	return c.DisassembleWithName("", nil, nil)
}

// DisassembleWithName returns a listing with a name header. heap and symbols
// are optional; when given, function constants and global operands are
// shown by name.
func (c *Chunk) DisassembleWithName(name string, heap *Heap, symbols *SymbolTable) string {
	var sb strings.Builder

	if name != "" {
		fmt.Fprintf(&sb, "; === %s ===\n", name)
	}
	fmt.Fprintf(&sb, "; Max stack: %d\n", c.MaxStack)

	if len(c.Constants) > 0 {
		sb.WriteString("; Constants:\n")
		for i, v := range c.Constants {
			fmt.Fprintf(&sb, ";   [%3d] %s\n", i, describeConstant(v, heap))
		}
	}

	sb.WriteString("; Code:\n")
	offset := 0
	lastLine := 0
	for offset < len(c.Code) {
		text, n := c.disassembleInstruction(offset, heap, symbols)
		if line, _ := c.GetSourceLocation(offset); line > 0 && line != lastLine {
			fmt.Fprintf(&sb, "%04X  %-30s ; line %d\n", offset, text, line)
			lastLine = line
		} else {
			fmt.Fprintf(&sb, "%04X  %s\n", offset, text)
		}
		offset += n
	}
	return sb.String()
}

// disassembleInstruction formats the instruction at offset and returns its
// length. Truncated instructions consume the rest of the code.
func (c *Chunk) disassembleInstruction(offset int, heap *Heap, symbols *SymbolTable) (string, int) {
	op := Opcode(c.Code[offset])
	if !op.IsKnown() {
		return op.String(), 1
	}
	n := op.InstructionLen()
	if offset+n > len(c.Code) {
		return fmt.Sprintf("%-16s <truncated>", op), len(c.Code) - offset
	}

	switch op {
	case OpConst, OpFunction:
		idx := int(c.ReadUint16(offset + 1))
		desc := "<invalid>"
		if idx < len(c.Constants) {
			desc = describeConstant(c.Constants[idx], heap)
		}
		return fmt.Sprintf("%-16s %5d ; %s", op, idx, desc), n

	case OpGetGlobal, OpDefineGlobal, OpSetGlobal:
		id := c.ReadUint16(offset + 1)
		if symbols != nil {
			return fmt.Sprintf("%-16s %5d ; %s", op, id, symbols.Name(uint32(id))), n
		}
		return fmt.Sprintf("%-16s %5d", op, id), n

	case OpGetLocal, OpSetLocal, OpPopN, OpCall:
		return fmt.Sprintf("%-16s %5d", op, c.Code[offset+1]), n
	}
	return op.String(), n
}

func describeConstant(v Value, heap *Heap) string {
	if v.IsObject() && heap != nil {
		if fn, err := heap.Function(v.Ref()); err == nil {
			return fmt.Sprintf("<fn %s/%d>", fn.Name, fn.Arity)
		}
	}
	return v.String()
}
