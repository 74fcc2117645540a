// Package stir implements the entropy pool's sliding-window stirring
// transform: a pure, deterministic, length-preserving distillation of a
// byte buffer using a SHA-256 windowed XOR.
package stir

import "crypto/sha256"

// WindowSize is the number of trailing bytes hashed for each block (W).
const WindowSize = 1024

// BlockSize is the size of each XOR'd block (B); also the SHA-256 digest
// size, so the whole digest is consumed.
const BlockSize = sha256.Size // 32

// Stir distills input into a same-length output by walking it in
// non-overlapping BlockSize-byte blocks and XORing each block with the
// SHA-256 hash of the window ending at that block.
//
// For block k ending at offset e = (k+1)*BlockSize, the window is the
// min(WindowSize, e) bytes of input ending at e: early blocks, which don't
// yet have WindowSize bytes of history behind them, use a shrinking prefix
// window rather than wrapping or padding. This is the published
// window-edge convention for this transform — callers relying on a
// specific "short input" behavior should rely on this rule, not guess it.
//
// A final block shorter than BlockSize is handled the same way: its window
// is still the min(WindowSize, len(input)) bytes ending at len(input), and
// only the first len(tail) bytes of the resulting digest are XORed in.
func Stir(input []byte) []byte {
	out := make([]byte, len(input))
	copy(out, input)

	for start := 0; start < len(input); start += BlockSize {
		end := start + BlockSize
		if end > len(input) {
			end = len(input)
		}

		windowStart := end - WindowSize
		if windowStart < 0 {
			windowStart = 0
		}

		// Hashed against the original input, never the partially-XORed
		// out: later blocks' windows must stay independent of earlier
		// blocks' transforms (spec.md §4.1).
		digest := sha256.Sum256(input[windowStart:end])

		block := out[start:end]
		for i := range block {
			block[i] ^= digest[i]
		}
	}

	return out
}
