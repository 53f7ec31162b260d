package otp

import (
	"bytes"
	"errors"
	"strings"
)

// ErrNeedMoreInput reports that the buffered bytes do not yet contain a
// complete field. The buffer is left untouched so the same read can be
// retried once more data arrives.
var ErrNeedMoreInput = errors.New("need more input")

// Field delimiters of the wire grammar.
var (
	delimToken   = []byte("<|>")
	delimNewline = []byte("\n")
	delimSemi    = []byte(";")
)

// Buffer is a fixed-capacity byte window over the scanner stream. Bytes
// are consumed only when a complete delimited field is available, which
// is what makes parsing resumable at arbitrary read boundaries.
type Buffer struct {
	data  []byte
	start int
	end   int
}

// NewBuffer returns a buffer with the given capacity. The capacity bounds
// the longest single field the parser will accept.
func NewBuffer(capacity int) *Buffer {
	return &Buffer{data: make([]byte, capacity)}
}

// Feed copies as much of p as fits into the free tail of the buffer and
// returns the number of bytes taken.
func (b *Buffer) Feed(p []byte) int {
	n := copy(b.data[b.end:], p)
	b.end += n
	return n
}

// Compact moves unconsumed bytes to the front, reclaiming consumed space.
func (b *Buffer) Compact() {
	if b.start == 0 {
		return
	}
	copy(b.data, b.data[b.start:b.end])
	b.end -= b.start
	b.start = 0
}

// Len returns the number of unconsumed bytes.
func (b *Buffer) Len() int {
	return b.end - b.start
}

// Free returns the writable space at the tail.
func (b *Buffer) Free() int {
	return len(b.data) - b.end
}

// Full reports whether the buffer holds a full window with no consumed
// prefix to reclaim. A full buffer with no delimiter in sight means the
// field can never complete.
func (b *Buffer) Full() bool {
	return b.start == 0 && b.end == len(b.data)
}

// Reset discards all buffered bytes.
func (b *Buffer) Reset() {
	b.start = 0
	b.end = 0
}

func (b *Buffer) pending() []byte {
	return b.data[b.start:b.end]
}

// takeUntil scans for the first occurrence of any delimiter and consumes
// through it, returning the field text with surrounding whitespace
// trimmed and the index of the delimiter that matched. Without a match
// the buffer is left untouched and ErrNeedMoreInput is returned.
func (b *Buffer) takeUntil(delims ...[]byte) (string, int, error) {
	window := b.pending()

	at := -1
	which := -1
	for i, d := range delims {
		if pos := bytes.Index(window, d); pos >= 0 && (at < 0 || pos < at) {
			at = pos
			which = i
		}
	}
	if at < 0 {
		return "", -1, ErrNeedMoreInput
	}

	field := strings.TrimSpace(string(window[:at]))
	b.start += at + len(delims[which])
	return field, which, nil
}

// TakeField consumes one field terminated by the given delimiter.
func (b *Buffer) TakeField(delim []byte) (string, error) {
	field, _, err := b.takeUntil(delim)
	return field, err
}

// TakeFieldAny consumes one field terminated by whichever of newline or
// token delimiter occurs first. The returned flag is true when the field
// ended at a newline.
func (b *Buffer) TakeFieldAny() (string, bool, error) {
	field, which, err := b.takeUntil(delimNewline, delimToken)
	return field, which == 0, err
}

// SkipLeadingSpace consumes leading whitespace bytes. Prompt literals in
// the legacy handshake may be preceded by stray newlines.
func (b *Buffer) SkipLeadingSpace() {
	window := b.pending()
	i := 0
	for i < len(window) && (window[i] == ' ' || window[i] == '\n' || window[i] == '\r' || window[i] == '\t') {
		i++
	}
	b.start += i
}

// MatchLiteral checks whether the buffered bytes begin with the literal.
// On a full match the literal is consumed and (true, nil) is returned. A
// definite mismatch returns (false, nil) without consuming anything. When
// the buffered bytes are a proper prefix of the literal the answer is not
// yet known and ErrNeedMoreInput is returned.
func (b *Buffer) MatchLiteral(lit string) (bool, error) {
	window := b.pending()
	n := len(window)
	if n > len(lit) {
		n = len(lit)
	}
	if string(window[:n]) != lit[:n] {
		return false, nil
	}
	if n < len(lit) {
		return false, ErrNeedMoreInput
	}
	b.start += len(lit)
	return true, nil
}
