// Package bytecode provides the native stack machine for dice programs.
//
// The format is deliberately tiny:
//   - PUSH_INTEGER <u32> pushes an unsigned literal
//   - ROLL_DICE pops faces, then count, and pushes count uniform draws in
//     [1, faces] in draw order
//
// A dice expression NdS compiles to PUSH_INTEGER N, PUSH_INTEGER S,
// ROLL_DICE. When the code is exhausted the VM prints every value left on
// the stack from bottom to top, one per line, followed by "Total: <sum>".
// The sum is accumulated as uint64 so it cannot overflow for any u32 count.
//
// # Chunks
//
// A Chunk holds the encoded instruction stream. Chunks serialize as the
// "DCBC" magic followed by canonical CBOR, so the same program always
// produces the same bytes and can be stored on disk and run later with
// Deserialize + VM.Execute.
//
// # Faults
//
// Rolling with zero faces fails with ErrDivisionByZero before any value is
// drawn. Popping an empty stack fails with ErrStackUnderflow and growing
// the stack past the VM's limit fails with ErrStackOverflow.
package bytecode
