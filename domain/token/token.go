// Package token encodes the anonymous quota record as an opaque
// client-held string.
//
// TRUST BOUNDARY: this is obfuscation, not security. The anonymous tier is
// a UX nudge; a motivated client can always discard its token and start
// over. Nothing billing-relevant may ever depend on this encoding - the
// authenticated store is the sole source of truth for billable usage.
package token

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/usagekit/usagekit/domain/quota"
)

// xorKey scrambles the payload so the counter is not trivially readable in
// devtools. Changing it invalidates outstanding tokens, which costs each
// anonymous client at most one day's allowance.
var xorKey = []byte("usagekit.quota.v1")

const version = "1"

// Encode packs a counter and period key into an opaque token.
func Encode(count int64, periodKey string) string {
	payload := fmt.Sprintf("%s|%d|%s", version, count, periodKey)
	return base64.RawURLEncoding.EncodeToString(scramble([]byte(payload)))
}

// Decode unpacks a token. Malformed, absent, or tampered input yields the
// zero record - Decode never fails.
func Decode(tok string) quota.Record {
	if tok == "" {
		return quota.Record{}
	}
	raw, err := base64.RawURLEncoding.DecodeString(tok)
	if err != nil {
		return quota.Record{}
	}
	parts := strings.SplitN(string(scramble(raw)), "|", 3)
	if len(parts) != 3 || parts[0] != version {
		return quota.Record{}
	}
	count, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || count < 0 {
		return quota.Record{}
	}
	if !validDay(parts[2]) {
		return quota.Record{}
	}
	return quota.Record{Count: count, PeriodKey: parts[2]}
}

// validDay checks the YYYY-MM-DD shape without allocating a time.Time.
func validDay(s string) bool {
	if len(s) != len(quota.PeriodKeyLayout) {
		return false
	}
	for i, c := range s {
		switch i {
		case 4, 7:
			if c != '-' {
				return false
			}
		default:
			if c < '0' || c > '9' {
				return false
			}
		}
	}
	return true
}

// scramble XORs data with the package key. XOR is its own inverse, so the
// same function encodes and decodes.
func scramble(data []byte) []byte {
	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = b ^ xorKey[i%len(xorKey)]
	}
	return out
}
