package stream

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Decoder converts the raw byte stream of one session into text. Transport
// chunks arrive at arbitrary boundaries, so a multi-byte UTF-8 sequence can
// be split across two (or more) chunks. The decoder holds back an incomplete
// trailing sequence and prepends it to the next chunk.
//
// A Decoder is owned by exactly one session and is not safe for concurrent
// use; the session serializes calls to Decode.
type Decoder struct {
	// carry is the incomplete trailing sequence from the previous chunk.
	// UTF-8 encodes runes in at most 4 bytes, so an incomplete prefix is
	// at most 3 bytes long.
	carry [3]byte
	n     int
}

// DecodeError reports a chunk that failed to decode even after accounting
// for carried-over bytes. The stream is not poisoned: the decoder resets its
// carry and resumes cleanly on the next chunk.
type DecodeError struct {
	Offset int // byte offset of the first invalid byte within the combined buffer
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("stream: invalid UTF-8 at offset %d", e.Offset)
}

// NewDecoder returns a decoder with no pending bytes.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Pending returns the number of carried-over bytes awaiting completion.
func (d *Decoder) Pending() int { return d.n }

// Reset discards any carried-over bytes. Called on session reset/reattach.
func (d *Decoder) Reset() { d.n = 0 }

// Decode returns the text encoded by the carry-over bytes plus chunk,
// holding back a trailing incomplete sequence for the next call.
//
// Invalid bytes in the interior of the buffer (genuine corruption, not a
// chunk-boundary artifact) are replaced with U+FFFD and reported via a
// non-nil *DecodeError alongside the decoded text.
func (d *Decoder) Decode(chunk []byte) (string, error) {
	if d.n == 0 && len(chunk) == 0 {
		return "", nil
	}

	buf := chunk
	if d.n > 0 {
		buf = make([]byte, 0, d.n+len(chunk))
		buf = append(buf, d.carry[:d.n]...)
		buf = append(buf, chunk...)
		d.n = 0
	}

	// Scan backward from the end for a trailing incomplete sequence: a lead
	// byte whose encoded length extends past the end of the buffer.
	cut := len(buf)
	for i := len(buf) - 1; i >= 0 && i >= len(buf)-utf8.UTFMax+1; i-- {
		b := buf[i]
		if b < utf8.RuneSelf {
			break // ASCII: everything up to the end is complete
		}
		if isLeadByte(b) {
			if need := seqLen(b); need > len(buf)-i {
				cut = i // incomplete: hold back buf[i:]
			}
			break
		}
		// continuation byte: keep scanning backward for the lead
	}

	if tail := len(buf) - cut; tail > 0 {
		copy(d.carry[:], buf[cut:])
		d.n = tail
		buf = buf[:cut]
	}

	if utf8.Valid(buf) {
		return string(buf), nil
	}

	// Interior corruption. Substitute U+FFFD for each invalid run and report
	// where it started so the caller can log it.
	offset := 0
	for offset < len(buf) {
		r, size := utf8.DecodeRune(buf[offset:])
		if r == utf8.RuneError && size == 1 {
			break
		}
		offset += size
	}
	return strings.ToValidUTF8(string(buf), "�"), &DecodeError{Offset: offset}
}

// isLeadByte reports whether b starts a multi-byte UTF-8 sequence.
func isLeadByte(b byte) bool { return b&0xC0 == 0xC0 }

// seqLen returns the total encoded length implied by lead byte b.
func seqLen(b byte) int {
	switch {
	case b&0xE0 == 0xC0:
		return 2
	case b&0xF0 == 0xE0:
		return 3
	case b&0xF8 == 0xF0:
		return 4
	default:
		return 1 // invalid lead, let the validity check handle it
	}
}
