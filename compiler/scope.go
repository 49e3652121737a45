package compiler

import "github.com/chazu/venom/vm"

// local is a named stack slot. Its slot number is its index in
// funcState.locals.
type local struct {
	name  string
	depth int
}

// funcState is the per-function compilation state. The script is a
// funcState with isScript set whose depth-0 declarations become globals.
type funcState struct {
	enclosing *funcState
	fn        *vm.Function
	isScript  bool

	locals []local
	depth  int

	// height is the static value stack height relative to the frame base.
	height int
}

func newFuncState(enclosing *funcState, fn *vm.Function, isScript bool) *funcState {
	fs := &funcState{
		enclosing: enclosing,
		fn:        fn,
		isScript:  isScript,
		locals:    make([]local, 0, 8),
	}
	if !isScript {
		fs.depth = 1
	}
	return fs
}

// declaresGlobals reports whether a declaration at the current depth
// defines a global.
func (fs *funcState) declaresGlobals() bool {
	return fs.isScript && fs.depth == 0
}

// resolveLocal scans newest-first so inner declarations shadow outer ones.
func (fs *funcState) resolveLocal(name string) (int, bool) {
	for i := len(fs.locals) - 1; i >= 0; i-- {
		if fs.locals[i].name == name {
			return i, true
		}
	}
	return 0, false
}

// declaredInScope reports whether name is already a local of the current
// depth.
func (fs *funcState) declaredInScope(name string) bool {
	for i := len(fs.locals) - 1; i >= 0 && fs.locals[i].depth == fs.depth; i-- {
		if fs.locals[i].name == name {
			return true
		}
	}
	return false
}

func (fs *funcState) addLocal(name string) {
	fs.locals = append(fs.locals, local{name: name, depth: fs.depth})
}

func (fs *funcState) beginScope() {
	fs.depth++
}

// endScope leaves the current depth and returns how many locals it
// declared. The caller emits the pops.
func (fs *funcState) endScope() int {
	fs.depth--
	n := 0
	for len(fs.locals) > 0 && fs.locals[len(fs.locals)-1].depth > fs.depth {
		fs.locals = fs.locals[:len(fs.locals)-1]
		n++
	}
	return n
}
