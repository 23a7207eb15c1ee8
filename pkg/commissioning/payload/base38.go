package payload

import (
	"fmt"
	"strings"
)

const base38Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ-."

// base38Width maps a chunk of 1..3 bytes to its character count.
var base38Width = [4]int{0, 2, 4, 5}

// encodeBase38 packs data three bytes at a time, least significant
// character first.
func encodeBase38(data []byte) string {
	var b strings.Builder
	for len(data) > 0 {
		n := min(3, len(data))
		var v uint32
		for i := n - 1; i >= 0; i-- {
			v = v<<8 | uint32(data[i])
		}
		for range base38Width[n] {
			b.WriteByte(base38Alphabet[v%38])
			v /= 38
		}
		data = data[n:]
	}
	return b.String()
}

func decodeBase38(s string) ([]byte, error) {
	out := make([]byte, 0, len(s)*3/5+1)
	for len(s) > 0 {
		width, n := 5, 3
		switch {
		case len(s) >= 5:
		case len(s) == 4:
			width, n = 4, 2
		case len(s) == 2:
			width, n = 2, 1
		default:
			return nil, fmt.Errorf("%w: base38 length", ErrInvalidFormat)
		}
		var v uint32
		for i := width - 1; i >= 0; i-- {
			d := strings.IndexByte(base38Alphabet, s[i])
			if d < 0 {
				return nil, fmt.Errorf("%w: base38 character %q", ErrInvalidFormat, s[i])
			}
			v = v*38 + uint32(d)
		}
		if v >= 1<<(8*n) {
			return nil, fmt.Errorf("%w: base38 chunk overflow", ErrInvalidFormat)
		}
		for range n {
			out = append(out, byte(v))
			v >>= 8
		}
		s = s[width:]
	}
	return out, nil
}
