package stream

import (
	"testing"
)

// sample mixes ASCII, 2-, 3- and 4-byte sequences so any split point can
// land mid-character.
const sample = "ls -la\r\n├── café ñ 日本語 🚀 done\r\n"

func TestDecode_WholeBuffer(t *testing.T) {
	d := NewDecoder()
	got, err := d.Decode([]byte(sample))
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if got != sample {
		t.Errorf("Decode = %q, want %q", got, sample)
	}
	if d.Pending() != 0 {
		t.Errorf("Pending = %d, want 0", d.Pending())
	}
}

func TestDecode_ChunkBoundaryInvariance(t *testing.T) {
	// Every split point, including mid-multi-byte-character, must produce
	// the same text as decoding the whole buffer at once.
	raw := []byte(sample)
	for split := 0; split <= len(raw); split++ {
		d := NewDecoder()
		a, err := d.Decode(raw[:split])
		if err != nil {
			t.Fatalf("split %d: first chunk error: %v", split, err)
		}
		b, err := d.Decode(raw[split:])
		if err != nil {
			t.Fatalf("split %d: second chunk error: %v", split, err)
		}
		if a+b != sample {
			t.Errorf("split %d: got %q, want %q", split, a+b, sample)
		}
		if d.Pending() != 0 {
			t.Errorf("split %d: Pending = %d, want 0", split, d.Pending())
		}
	}
}

func TestDecode_ThreeWaySplitOfOneRune(t *testing.T) {
	// U+65E5 日 encodes as three bytes; feed them one at a time.
	raw := []byte("日")
	d := NewDecoder()

	var out string
	for i, b := range raw {
		s, err := d.Decode([]byte{b})
		if err != nil {
			t.Fatalf("byte %d: error: %v", i, err)
		}
		out += s
	}
	if out != "日" {
		t.Errorf("got %q, want %q", out, "日")
	}
}

func TestDecode_FourByteRuneSplit(t *testing.T) {
	raw := []byte("🚀") // four bytes
	for split := 1; split < len(raw); split++ {
		d := NewDecoder()
		a, _ := d.Decode(raw[:split])
		if a != "" {
			t.Errorf("split %d: partial rune decoded early: %q", split, a)
		}
		if d.Pending() != split {
			t.Errorf("split %d: Pending = %d, want %d", split, d.Pending(), split)
		}
		b, err := d.Decode(raw[split:])
		if err != nil {
			t.Fatalf("split %d: error: %v", split, err)
		}
		if b != "🚀" {
			t.Errorf("split %d: got %q", split, b)
		}
	}
}

func TestDecode_EmptyChunk(t *testing.T) {
	d := NewDecoder()
	got, err := d.Decode(nil)
	if err != nil || got != "" {
		t.Errorf("Decode(nil) = %q, %v; want \"\", nil", got, err)
	}
}

func TestDecode_InteriorCorruption(t *testing.T) {
	// A stray continuation byte in the middle is genuine corruption, not a
	// chunk-boundary artifact. It must be surfaced, not silently dropped.
	d := NewDecoder()
	got, err := d.Decode([]byte{'a', 0x80, 'b'})
	if err == nil {
		t.Fatal("expected DecodeError for interior corruption")
	}
	decErr, ok := err.(*DecodeError)
	if !ok {
		t.Fatalf("error type = %T, want *DecodeError", err)
	}
	if decErr.Offset != 1 {
		t.Errorf("Offset = %d, want 1", decErr.Offset)
	}
	// Text is still returned with the invalid byte substituted.
	if got != "a�b" {
		t.Errorf("got %q, want %q", got, "a�b")
	}
}

func TestDecode_ResyncsAfterCorruption(t *testing.T) {
	d := NewDecoder()
	if _, err := d.Decode([]byte{0xFF, 0xFE}); err == nil {
		t.Fatal("expected error for garbage bytes")
	}
	// Next well-formed chunk decodes cleanly: the stream is not poisoned.
	got, err := d.Decode([]byte("ok"))
	if err != nil {
		t.Fatalf("decoder did not resync: %v", err)
	}
	if got != "ok" {
		t.Errorf("got %q, want %q", got, "ok")
	}
}

func TestDecode_FalseCarryResolvedByNextChunk(t *testing.T) {
	// A trailing lead byte is held back; if the next chunk proves it was
	// corruption (ASCII follows), the error surfaces then.
	d := NewDecoder()
	a, err := d.Decode([]byte{'x', 0xE6})
	if err != nil {
		t.Fatalf("trailing lead byte should be carried, got error: %v", err)
	}
	if a != "x" {
		t.Errorf("first chunk = %q, want %q", a, "x")
	}
	b, err := d.Decode([]byte("y"))
	if err == nil {
		t.Fatal("expected DecodeError once the sequence proved invalid")
	}
	if b != "�y" {
		t.Errorf("second chunk = %q, want %q", b, "�y")
	}
}

func TestDecode_Reset(t *testing.T) {
	d := NewDecoder()
	_, _ = d.Decode([]byte{0xE6, 0x97}) // two bytes of 日
	if d.Pending() != 2 {
		t.Fatalf("Pending = %d, want 2", d.Pending())
	}
	d.Reset()
	if d.Pending() != 0 {
		t.Errorf("Pending after Reset = %d, want 0", d.Pending())
	}
	got, err := d.Decode([]byte("fresh"))
	if err != nil || got != "fresh" {
		t.Errorf("Decode after Reset = %q, %v", got, err)
	}
}
