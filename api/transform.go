// File: api/transform.go
// Author: momentics <momentics@gmail.com>
//
// Transform contract applied by the processing loop to every ready input buffer.

package api

import "golang.org/x/text/transform"

// Transformer is the processing-side collaborator. For every input unit the
// processing loop calls Reset and then Transform(dst, src, true) with dst pre-sized
// to at least len(src) (or OutputSize, when implemented). transform.ErrShortDst is tolerated: the produced
// bytes are published and the unconsumed input keeps its place at the ready head.
// Implementations must be deterministic and must not retain dst or src.
type Transformer = transform.Transformer

// OutputSizer is optionally implemented by transformers whose output can be larger
// than their input.
type OutputSizer interface {
	OutputSize(srcLen int) int
}
