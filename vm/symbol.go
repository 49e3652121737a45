package vm

// ---------------------------------------------------------------------------
// SymbolTable: Interned names
// ---------------------------------------------------------------------------

// SymbolTable interns identifier strings to dense IDs.
// Equal names always map to the same ID, so global lookups and name
// comparisons work on integers.
type SymbolTable struct {
	byName map[string]uint32 // name -> ID
	byID   []string          // ID -> name
}

// NewSymbolTable creates a new empty symbol table.
func NewSymbolTable() *SymbolTable {
	return &SymbolTable{
		byName: make(map[string]uint32),
		byID:   make([]string, 0, 32),
	}
}

// Intern returns the ID for a name, creating a new one if needed.
func (st *SymbolTable) Intern(name string) uint32 {
	if id, ok := st.byName[name]; ok {
		return id
	}
	id := uint32(len(st.byID))
	st.byName[name] = id
	st.byID = append(st.byID, name)
	return id
}

// Lookup returns the ID for a name, or 0 and false if not found.
func (st *SymbolTable) Lookup(name string) (uint32, bool) {
	id, ok := st.byName[name]
	return id, ok
}

// Name returns the name for an ID, or "" if invalid.
func (st *SymbolTable) Name(id uint32) string {
	if int(id) >= len(st.byID) {
		return ""
	}
	return st.byID[id]
}

// Len returns the number of interned names.
func (st *SymbolTable) Len() int {
	return len(st.byID)
}

// All returns all names in ID order.
func (st *SymbolTable) All() []string {
	result := make([]string, len(st.byID))
	copy(result, st.byID)
	return result
}
