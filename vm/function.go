package vm

import (
	"fmt"
	"strings"
)

// Per-function limits imposed by the instruction encoding.
const (
	MaxLocals    = 256     // GET_LOCAL/SET_LOCAL slot is a u8
	MaxArgs      = 255     // CALL argc is a u8
	MaxConstants = 1 << 16 // CONST index is a u16
)

// Function is a compiled function: the top-level script (empty name) or a
// `fn` declaration. It is created once by the compiler and never mutated
// after its chunk is finished.
type Function struct {
	Name  string
	Arity int
	Chunk *Chunk
}

// NewFunction creates a function with an empty chunk.
func NewFunction(name string, arity int) *Function {
	return &Function{Name: name, Arity: arity, Chunk: NewChunk()}
}

// ObjectKind implements Object.
func (f *Function) ObjectKind() string { return "function" }

// DisplayName returns the name used in traces and listings.
func (f *Function) DisplayName() string {
	if f.Name == "" {
		return "script"
	}
	return f.Name + "()"
}

// Program is the output of compilation: the script function, the heap that
// owns every function object and the interned global names.
type Program struct {
	Script  Ref
	Heap    *Heap
	Symbols *SymbolTable

	released bool
}

// ScriptFunction resolves the top-level script.
func (p *Program) ScriptFunction() (*Function, error) {
	if p.released {
		return nil, fmt.Errorf("program released: %w", ErrStaleRef)
	}
	return p.Heap.Function(p.Script)
}

// Functions returns every function reachable from the script, script first,
// in constant-pool order.
func (p *Program) Functions() ([]*Function, error) {
	script, err := p.ScriptFunction()
	if err != nil {
		return nil, err
	}
	var out []*Function
	seen := make(map[*Function]bool)
	var walk func(fn *Function) error
	walk = func(fn *Function) error {
		if seen[fn] {
			return nil
		}
		seen[fn] = true
		out = append(out, fn)
		for _, c := range fn.Chunk.Constants {
			if !c.IsObject() {
				continue
			}
			child, err := p.Heap.Function(c.Ref())
			if err != nil {
				return err
			}
			if err := walk(child); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(script); err != nil {
		return nil, err
	}
	return out, nil
}

// Disassemble returns a listing of every function in the program.
func (p *Program) Disassemble() (string, error) {
	fns, err := p.Functions()
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for i, fn := range fns {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(fn.Chunk.DisassembleWithName(fn.DisplayName(), p.Heap, p.Symbols))
	}
	return sb.String(), nil
}

// Release frees every object of the program. It is safe to call more than
// once; values still holding handles into the heap become stale.
func (p *Program) Release() {
	if p == nil || p.released {
		return
	}
	p.Heap.Release()
	p.released = true
}

// Released reports whether Release has been called.
func (p *Program) Released() bool { return p.released }
