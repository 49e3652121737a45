package vm_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/chazu/venom/compiler"
	"github.com/chazu/venom/vm"
	"github.com/fxamacker/cbor/v2"
)

const imageSource = `
let base = 10;
fn scale(x, k) { return x * k; }
fn main() {
  let y = scale(base, 3);
  { let z = y - 0.5; print z; }
  base = -base;
  print base;
}
main();
`

func runProgram(t *testing.T, prog *vm.Program) string {
	t.Helper()
	var out bytes.Buffer
	if err := vm.New(vm.WithOutput(&out), vm.WithStackDump(true)).Run(prog); err != nil {
		t.Fatalf("Run: %v", err)
	}
	return out.String()
}

func TestImageRoundTrip(t *testing.T) {
	prog, err := compiler.Compile(imageSource)
	if err != nil {
		t.Fatal(err)
	}
	defer prog.Release()

	data, err := vm.EncodeImage(prog)
	if err != nil {
		t.Fatalf("EncodeImage: %v", err)
	}
	loaded, err := vm.DecodeImage(data)
	if err != nil {
		t.Fatalf("DecodeImage: %v", err)
	}
	defer loaded.Release()

	if loaded.Heap == prog.Heap {
		t.Error("decoded program shares the original heap")
	}
	if loaded.Heap.Live() != prog.Heap.Live() {
		t.Errorf("decoded heap has %d objects, want %d", loaded.Heap.Live(), prog.Heap.Live())
	}

	want := "dbg print :: 29.50\ndbg print :: -10.00\nstack: []\n"
	if got := runProgram(t, prog); got != want {
		t.Errorf("original output = %q, want %q", got, want)
	}
	if got := runProgram(t, loaded); got != want {
		t.Errorf("decoded output = %q, want %q", got, want)
	}

	origDis, err := prog.Disassemble()
	if err != nil {
		t.Fatal(err)
	}
	loadedDis, err := loaded.Disassemble()
	if err != nil {
		t.Fatal(err)
	}
	if origDis != loadedDis {
		t.Errorf("disassembly differs after round trip:\n%s\n---\n%s", origDis, loadedDis)
	}
}

func TestImageEncodingIsDeterministic(t *testing.T) {
	a, err := compiler.Compile(imageSource)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Release()
	b, err := compiler.Compile(imageSource)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Release()

	da, err := vm.EncodeImage(a)
	if err != nil {
		t.Fatal(err)
	}
	db, err := vm.EncodeImage(b)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(da, db) {
		t.Error("same source produced different images")
	}
}

func TestImageRuntimeErrorKeepsLines(t *testing.T) {
	prog, err := compiler.Compile("fn f(a) { }\n\nf();")
	if err != nil {
		t.Fatal(err)
	}
	defer prog.Release()
	data, err := vm.EncodeImage(prog)
	if err != nil {
		t.Fatal(err)
	}
	loaded, err := vm.DecodeImage(data)
	if err != nil {
		t.Fatal(err)
	}
	defer loaded.Release()

	err = vm.New(vm.WithOutput(&bytes.Buffer{})).Run(loaded)
	var re *vm.RuntimeError
	if !errors.As(err, &re) || re.Line != 3 {
		t.Errorf("err = %v, want arity error on line 3", err)
	}
}

func TestDecodeImageRejects(t *testing.T) {
	encode := func(v any) []byte {
		t.Helper()
		data, err := cbor.Marshal(v)
		if err != nil {
			t.Fatal(err)
		}
		return data
	}
	fn := func(code []byte) map[string]any {
		return map[string]any{"name": "", "arity": 0, "code": code, "constants": []any{}}
	}
	valid := []byte{byte(vm.OpNil), byte(vm.OpReturn)}

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"garbage", []byte{0xff, 0x00, 0x13}, vm.ErrBadImage},
		{"wrong magic", encode(map[string]any{"magic": "NOPE", "version": vm.ImageVersion}), vm.ErrBadImage},
		{"wrong version", encode(map[string]any{"magic": vm.ImageMagic, "version": vm.ImageVersion + 1}), vm.ErrBadImage},
		{"no functions", encode(map[string]any{"magic": vm.ImageMagic, "version": vm.ImageVersion, "script": 0}), vm.ErrBadImage},
		{"duplicate symbols", encode(map[string]any{
			"magic": vm.ImageMagic, "version": vm.ImageVersion,
			"symbols": []string{"x", "x"}, "script": 0,
			"functions": []any{fn(valid)},
		}), vm.ErrBadImage},
		{"dangling function constant", encode(map[string]any{
			"magic": vm.ImageMagic, "version": vm.ImageVersion, "script": 0,
			"functions": []any{map[string]any{
				"name": "", "arity": 0, "code": valid,
				"constants": []any{map[string]any{"kind": 1, "function": 7}},
			}},
		}), vm.ErrBadImage},
		{"unverifiable code", encode(map[string]any{
			"magic": vm.ImageMagic, "version": vm.ImageVersion, "script": 0,
			"functions": []any{fn([]byte{byte(vm.OpAdd), byte(vm.OpReturn)})},
		}), vm.ErrInvalidProgram},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prog, err := vm.DecodeImage(tt.data)
			if err == nil {
				prog.Release()
				t.Fatal("expected error")
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDecodeMinimalImage(t *testing.T) {
	data, err := cbor.Marshal(map[string]any{
		"magic": vm.ImageMagic, "version": vm.ImageVersion, "script": 0,
		"functions": []any{map[string]any{
			"name": "", "arity": 0,
			"code":      []byte{byte(vm.OpConst), 0, 0, byte(vm.OpPrint), byte(vm.OpNil), byte(vm.OpReturn)},
			"constants": []any{map[string]any{"kind": 0, "number": 4.25}},
		}},
	})
	if err != nil {
		t.Fatal(err)
	}
	prog, err := vm.DecodeImage(data)
	if err != nil {
		t.Fatalf("DecodeImage: %v", err)
	}
	defer prog.Release()
	if got := runProgram(t, prog); got != "dbg print :: 4.25\nstack: []\n" {
		t.Errorf("output = %q", got)
	}
}
