// File: transforms/reverse.go
// Author: momentics <momentics@gmail.com>

package transforms

import "golang.org/x/text/transform"

// Reverse writes its input in reverse byte order. The whole unit must fit in dst;
// otherwise nothing is consumed and transform.ErrShortDst is returned.
type Reverse struct{ transform.NopResetter }

// Transform implements transform.Transformer.
func (Reverse) Transform(dst, src []byte, atEOF bool) (nDst, nSrc int, err error) {
	if !atEOF {
		return 0, 0, transform.ErrShortSrc
	}
	if len(dst) < len(src) {
		return 0, 0, transform.ErrShortDst
	}
	ReverseBytes(dst, src)
	return len(src), len(src), nil
}

// OutputSize implements api.OutputSizer.
func (Reverse) OutputSize(srcLen int) int { return srcLen }

// ReverseBytes stores src reversed into dst[:len(src)]. dst may alias src.
func ReverseBytes(dst, src []byte) {
	n := len(src)
	if n > 0 && &dst[0] == &src[0] {
		for i, j := 0, n-1; i < j; i, j = i+1, j-1 {
			dst[i], dst[j] = dst[j], dst[i]
		}
		return
	}
	for i, c := range src {
		dst[n-1-i] = c
	}
}
