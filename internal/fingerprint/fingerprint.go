// Package fingerprint computes cheap, deterministic digests of screen-capture
// payloads. A fingerprint only gates how often a capture is analyzed; it is
// not collision-free and must never be used to identify stored content.
package fingerprint

import (
	"fmt"
)

// Stride is the sampling distance between bytes folded into each hash.
const Stride = 97

// Of samples payload every Stride bytes from the front and, independently,
// from the back, folding each sample into a shift-and-add rolling hash. The
// two partial hashes are rendered together with the payload length.
func Of(payload []byte) string {
	var front, back uint32
	for i := 0; i < len(payload); i += Stride {
		front = fold(front, payload[i])
	}
	for i := len(payload) - 1; i >= 0; i -= Stride {
		back = fold(back, payload[i])
	}
	return fmt.Sprintf("%08x-%08x-%d", front, back, len(payload))
}

// OfString is Of for text payloads such as base64-encoded images.
func OfString(payload string) string {
	return Of([]byte(payload))
}

func fold(h uint32, b byte) uint32 {
	return (h << 5) - h + uint32(b)
}
