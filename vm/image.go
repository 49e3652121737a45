package vm

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ---------------------------------------------------------------------------
// Compiled images
// ---------------------------------------------------------------------------

const (
	// ImageMagic identifies a compiled venom image.
	ImageMagic = "VNBC"

	// ImageVersion changes whenever the instruction set or the image layout
	// changes. Images of another version are rejected.
	ImageVersion = 1
)

// ErrBadImage is wrapped by DecodeImage errors caused by malformed input.
var ErrBadImage = errors.New("bad image")

const (
	constNumber   = 0
	constFunction = 1
)

type imageFile struct {
	Magic     string          `cbor:"magic"`
	Version   int             `cbor:"version"`
	Symbols   []string        `cbor:"symbols"`
	Script    int             `cbor:"script"`
	Functions []imageFunction `cbor:"functions"`
}

type imageFunction struct {
	Name      string           `cbor:"name"`
	Arity     int              `cbor:"arity"`
	MaxStack  int              `cbor:"maxStack"`
	Code      []byte           `cbor:"code"`
	Constants []imageConstant  `cbor:"constants"`
	SourceMap []SourceLocation `cbor:"sourceMap,omitempty"`
}

type imageConstant struct {
	Kind     int     `cbor:"kind"`
	Number   float64 `cbor:"number,omitempty"`
	Function int     `cbor:"function,omitempty"`
}

var imageEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("vm: failed to create CBOR enc mode: %v", err))
	}
	imageEncMode = em
}

// EncodeImage serializes a program. Function references inside constant
// pools become indices into the image's function list.
func EncodeImage(prog *Program) ([]byte, error) {
	fns, err := prog.Functions()
	if err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	index := make(map[*Function]int, len(fns))
	for i, fn := range fns {
		index[fn] = i
	}

	img := imageFile{
		Magic:     ImageMagic,
		Version:   ImageVersion,
		Symbols:   prog.Symbols.All(),
		Script:    0,
		Functions: make([]imageFunction, len(fns)),
	}
	for i, fn := range fns {
		out := imageFunction{
			Name:      fn.Name,
			Arity:     fn.Arity,
			MaxStack:  fn.Chunk.MaxStack,
			Code:      fn.Chunk.Code,
			Constants: make([]imageConstant, len(fn.Chunk.Constants)),
			SourceMap: fn.Chunk.SourceMap,
		}
		for j, k := range fn.Chunk.Constants {
			switch k.Kind() {
			case ValueNumber:
				out.Constants[j] = imageConstant{Kind: constNumber, Number: k.Number()}
			case ValueObject:
				child, err := prog.Heap.Function(k.Ref())
				if err != nil {
					return nil, fmt.Errorf("encode image: %s constant %d: %w", fn.DisplayName(), j, err)
				}
				out.Constants[j] = imageConstant{Kind: constFunction, Function: index[child]}
			default:
				return nil, fmt.Errorf("encode image: %s constant %d has kind %s", fn.DisplayName(), j, k.Kind())
			}
		}
		img.Functions[i] = out
	}

	data, err := imageEncMode.Marshal(&img)
	if err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	return data, nil
}

// DecodeImage rebuilds a program from an image in a fresh heap and verifies
// it before returning.
func DecodeImage(data []byte) (*Program, error) {
	var img imageFile
	if err := cbor.Unmarshal(data, &img); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadImage, err)
	}
	if img.Magic != ImageMagic {
		return nil, fmt.Errorf("%w: magic %q", ErrBadImage, img.Magic)
	}
	if img.Version != ImageVersion {
		return nil, fmt.Errorf("%w: version %d, want %d", ErrBadImage, img.Version, ImageVersion)
	}
	if img.Script < 0 || img.Script >= len(img.Functions) {
		return nil, fmt.Errorf("%w: script index %d out of range", ErrBadImage, img.Script)
	}

	symbols := NewSymbolTable()
	for i, name := range img.Symbols {
		if id := symbols.Intern(name); int(id) != i {
			return nil, fmt.Errorf("%w: duplicate symbol %q", ErrBadImage, name)
		}
	}

	heap := NewHeap()
	prog := &Program{Heap: heap, Symbols: symbols}

	// Allocate every function first so constants can refer forward.
	fns := make([]*Function, len(img.Functions))
	refs := make([]Ref, len(img.Functions))
	for i, f := range img.Functions {
		fn := &Function{
			Name:  f.Name,
			Arity: f.Arity,
			Chunk: &Chunk{
				Code:      f.Code,
				Constants: make([]Value, len(f.Constants)),
				SourceMap: f.SourceMap,
				MaxStack:  f.MaxStack,
			},
		}
		fns[i] = fn
		refs[i] = heap.Alloc(fn)
	}
	for i, f := range img.Functions {
		for j, k := range f.Constants {
			switch k.Kind {
			case constNumber:
				fns[i].Chunk.Constants[j] = NumberValue(k.Number)
			case constFunction:
				if k.Function < 0 || k.Function >= len(refs) {
					prog.Release()
					return nil, fmt.Errorf("%w: function %d constant %d refers to function %d", ErrBadImage, i, j, k.Function)
				}
				fns[i].Chunk.Constants[j] = ObjectValue(refs[k.Function])
			default:
				prog.Release()
				return nil, fmt.Errorf("%w: function %d constant %d has kind %d", ErrBadImage, i, j, k.Kind)
			}
		}
	}
	prog.Script = refs[img.Script]

	if err := Verify(prog); err != nil {
		prog.Release()
		return nil, err
	}
	return prog, nil
}
