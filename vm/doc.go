// Package vm implements the light machine: a small stack-based virtual
// machine that runs per-LED color programs, the binary program image format
// those programs are stored in, and the capacity-checked builder that lays
// out new images.
//
// A program image is a flat array of 16-bit words (ProgramWord). The
// runtime operates on wider 32-bit values (StackWord) so user programs have
// arithmetic headroom beyond the word range of the image itself.
//
// Every fallible operation returns a typed error. The interpreter never
// panics on malformed input: bad opcodes, out-of-range memory accesses,
// stack discipline violations and arithmetic domain errors all surface as
// *Error values with a Kind the caller can classify.
package vm
