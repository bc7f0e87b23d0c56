package token

import (
	"strings"
	"testing"

	"github.com/usagekit/usagekit/domain/quota"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tok := Encode(3, "2025-06-15")

	rec := Decode(tok)
	if rec.Count != 3 {
		t.Errorf("Count = %d, want 3", rec.Count)
	}
	if rec.PeriodKey != "2025-06-15" {
		t.Errorf("PeriodKey = %s, want 2025-06-15", rec.PeriodKey)
	}
}

func TestEncodeIsOpaque(t *testing.T) {
	tok := Encode(3, "2025-06-15")

	// The counter and day must not appear in the clear.
	if strings.Contains(tok, "2025") || strings.Contains(tok, "|") {
		t.Errorf("token leaks payload: %s", tok)
	}
	// URL-safe alphabet only, usable in cookies and headers as-is.
	if strings.ContainsAny(tok, "+/=") {
		t.Errorf("token not URL-safe: %s", tok)
	}
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name string
		tok  string
	}{
		{name: "empty", tok: ""},
		{name: "not base64", tok: "!!!not-base64!!!"},
		{name: "random garbage", tok: "aGVsbG8gd29ybGQ"},
		{name: "truncated", tok: Encode(3, "2025-06-15")[:5]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := Decode(tt.tok)
			if rec != (quota.Record{}) {
				t.Errorf("Decode(%q) = %+v, want zero record", tt.tok, rec)
			}
		})
	}
}

func TestDecodeTampered(t *testing.T) {
	tok := Encode(3, "2025-06-15")

	// Flip a character; the scrambled payload no longer parses, or parses
	// to a shape that fails validation. Either way: zero record, no error.
	tampered := []byte(tok)
	if tampered[0] == 'A' {
		tampered[0] = 'B'
	} else {
		tampered[0] = 'A'
	}

	rec := Decode(string(tampered))
	if rec.Count == 3 && rec.PeriodKey == "2025-06-15" {
		t.Error("tampered token decoded to the original record")
	}
}

func TestDecodeRejectsNegativeCount(t *testing.T) {
	// A forged payload with a negative counter must not produce negative
	// usage.
	tok := Encode(-5, "2025-06-15")
	rec := Decode(tok)
	if rec.Count < 0 {
		t.Errorf("Count = %d, negative usage must never decode", rec.Count)
	}
}

func TestDecodeRejectsBadDay(t *testing.T) {
	tests := []struct {
		name string
		day  string
	}{
		{name: "wrong length", day: "2025-6-15"},
		{name: "missing dashes", day: "2025/06/15"},
		{name: "letters", day: "2025-ab-15"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := Decode(Encode(3, tt.day))
			if rec != (quota.Record{}) {
				t.Errorf("day %q decoded to %+v, want zero record", tt.day, rec)
			}
		})
	}
}

func TestDecodeZeroCount(t *testing.T) {
	rec := Decode(Encode(0, "2025-06-15"))
	if rec.Count != 0 || rec.PeriodKey != "2025-06-15" {
		t.Errorf("got %+v, want zero count with period", rec)
	}
}
