package sshterminal

import (
	"strings"
	"unicode/utf8"
)

// Decoder turns a byte stream into UTF-8 text. A rune split across two
// reads is held back until its remaining bytes arrive; invalid bytes become
// U+FFFD.
type Decoder struct {
	pending []byte
}

// Decode returns the text that can be completed with p.
func (d *Decoder) Decode(p []byte) string {
	buf := make([]byte, 0, len(d.pending)+len(p))
	buf = append(buf, d.pending...)
	buf = append(buf, p...)

	cut := completePrefix(buf)
	d.pending = append(d.pending[:0], buf[cut:]...)
	return strings.ToValidUTF8(string(buf[:cut]), "\uFFFD")
}

// Flush returns whatever is still pending, replacing the incomplete rune.
func (d *Decoder) Flush() string {
	if len(d.pending) == 0 {
		return ""
	}
	text := strings.ToValidUTF8(string(d.pending), "\uFFFD")
	d.pending = d.pending[:0]
	return text
}

// completePrefix returns the length of b without a trailing incomplete rune.
func completePrefix(b []byte) int {
	for i := len(b) - 1; i >= 0 && i > len(b)-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if !utf8.FullRune(b[i:]) {
				return i
			}
			return len(b)
		}
	}
	return len(b)
}
