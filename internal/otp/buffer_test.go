package otp

import (
	"errors"
	"testing"
)

func TestBufferFeedAndLen(t *testing.T) {
	b := NewBuffer(16)

	n := b.Feed([]byte("hello"))
	if n != 5 {
		t.Errorf("Expected 5 bytes fed, got %d", n)
	}
	if b.Len() != 5 {
		t.Errorf("Expected length 5, got %d", b.Len())
	}
	if b.Free() != 11 {
		t.Errorf("Expected 11 free bytes, got %d", b.Free())
	}
}

func TestBufferFeedTruncatesAtCapacity(t *testing.T) {
	b := NewBuffer(4)

	n := b.Feed([]byte("abcdef"))
	if n != 4 {
		t.Errorf("Expected 4 bytes fed into full buffer, got %d", n)
	}
	if !b.Full() {
		t.Error("Buffer should be full")
	}
}

func TestTakeFieldToken(t *testing.T) {
	b := NewBuffer(64)
	b.Feed([]byte(" hello <|> world"))

	field, err := b.TakeField(delimToken)
	if err != nil {
		t.Fatalf("TakeField failed: %v", err)
	}
	if field != "hello" {
		t.Errorf("Expected trimmed field hello, got %q", field)
	}
	if b.Len() != len(" world") {
		t.Errorf("Delimiter should be consumed, %d bytes left", b.Len())
	}
}

func TestTakeFieldNeedsMoreInput(t *testing.T) {
	b := NewBuffer(64)
	b.Feed([]byte("incomplete field <|"))

	before := b.Len()
	_, err := b.TakeField(delimToken)
	if !errors.Is(err, ErrNeedMoreInput) {
		t.Fatalf("Expected ErrNeedMoreInput, got %v", err)
	}
	if b.Len() != before {
		t.Error("Failed take must not consume any bytes")
	}

	// Completing the delimiter makes the same take succeed.
	b.Feed([]byte(">"))
	field, err := b.TakeField(delimToken)
	if err != nil {
		t.Fatalf("TakeField after completion failed: %v", err)
	}
	if field != "incomplete field" {
		t.Errorf("Unexpected field: %q", field)
	}
}

func TestTakeFieldAnyPicksFirstDelimiter(t *testing.T) {
	b := NewBuffer(64)
	b.Feed([]byte("first\nsecond <|> third"))

	field, atNewline, err := b.TakeFieldAny()
	if err != nil {
		t.Fatalf("TakeFieldAny failed: %v", err)
	}
	if field != "first" || !atNewline {
		t.Errorf("Expected first via newline, got %q newline=%v", field, atNewline)
	}

	field, atNewline, err = b.TakeFieldAny()
	if err != nil {
		t.Fatalf("TakeFieldAny failed: %v", err)
	}
	if field != "second" || atNewline {
		t.Errorf("Expected second via token, got %q newline=%v", field, atNewline)
	}
}

func TestTakeUntilSemicolonBeforeToken(t *testing.T) {
	b := NewBuffer(64)
	b.Feed([]byte("accept;deny; <|> rest"))

	field, which, err := b.takeUntil(delimSemi, delimToken)
	if err != nil || field != "accept" || which != 0 {
		t.Errorf("Expected accept via semicolon, got %q which=%d err=%v", field, which, err)
	}

	field, which, err = b.takeUntil(delimSemi, delimToken)
	if err != nil || field != "deny" || which != 0 {
		t.Errorf("Expected deny via semicolon, got %q which=%d err=%v", field, which, err)
	}

	field, which, err = b.takeUntil(delimSemi, delimToken)
	if err != nil || field != "" || which != 1 {
		t.Errorf("Expected empty field via token, got %q which=%d err=%v", field, which, err)
	}
}

func TestCompactReclaimsConsumedSpace(t *testing.T) {
	b := NewBuffer(16)
	b.Feed([]byte("aaaa <|> bb"))

	if _, err := b.TakeField(delimToken); err != nil {
		t.Fatalf("TakeField failed: %v", err)
	}
	if b.Free() >= 8 {
		t.Fatalf("Expected little free space before compact, got %d", b.Free())
	}

	b.Compact()
	if b.Free() != 16-len(" bb") {
		t.Errorf("Compact should reclaim consumed prefix, free=%d", b.Free())
	}
	if b.Len() != len(" bb") {
		t.Errorf("Compact must preserve unconsumed bytes, len=%d", b.Len())
	}
}

func TestFullReportsOnlyUnreclaimableWindows(t *testing.T) {
	b := NewBuffer(8)
	b.Feed([]byte("abcd<|>e"))

	if !b.Full() {
		t.Error("Untouched full window should report full")
	}

	if _, err := b.TakeField(delimToken); err != nil {
		t.Fatalf("TakeField failed: %v", err)
	}
	if b.Full() {
		t.Error("Window with consumed prefix is reclaimable, not full")
	}
}

func TestMatchLiteral(t *testing.T) {
	t.Run("full match consumes", func(t *testing.T) {
		b := NewBuffer(64)
		b.Feed([]byte("User : admin"))
		ok, err := b.MatchLiteral("User : ")
		if err != nil || !ok {
			t.Fatalf("Expected match, got ok=%v err=%v", ok, err)
		}
		if b.Len() != len("admin") {
			t.Errorf("Literal should be consumed, %d bytes left", b.Len())
		}
	})

	t.Run("mismatch leaves buffer intact", func(t *testing.T) {
		b := NewBuffer(64)
		b.Feed([]byte("SERVER <|> HOLE"))
		ok, err := b.MatchLiteral("Bad login attempt !")
		if err != nil || ok {
			t.Fatalf("Expected clean mismatch, got ok=%v err=%v", ok, err)
		}
		if b.Len() != len("SERVER <|> HOLE") {
			t.Error("Mismatch must not consume bytes")
		}
	})

	t.Run("prefix needs more input", func(t *testing.T) {
		b := NewBuffer(64)
		b.Feed([]byte("Bad login at"))
		_, err := b.MatchLiteral("Bad login attempt !")
		if !errors.Is(err, ErrNeedMoreInput) {
			t.Fatalf("Expected ErrNeedMoreInput for prefix, got %v", err)
		}
		if b.Len() != len("Bad login at") {
			t.Error("Undecided match must not consume bytes")
		}
	})
}

func TestSkipLeadingSpace(t *testing.T) {
	b := NewBuffer(64)
	b.Feed([]byte("\n\r\t SERVER"))

	b.SkipLeadingSpace()
	if b.Len() != len("SERVER") {
		t.Errorf("Expected whitespace skipped, %d bytes left", b.Len())
	}
}

func TestBufferReset(t *testing.T) {
	b := NewBuffer(8)
	b.Feed([]byte("junk"))
	b.Reset()

	if b.Len() != 0 || b.Free() != 8 {
		t.Error("Reset should discard all buffered bytes")
	}
}
