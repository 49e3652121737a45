// Package vm implements the venom virtual machine.
//
// This package contains:
//   - Tagged value representation and the generation-checked object heap
//   - Chunks, opcodes, disassembly and static verification
//   - The stack-based bytecode interpreter with call frames
//   - CBOR encoding of compiled programs (images)
package vm
