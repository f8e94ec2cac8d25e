package clearing

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	var maxOption OptionKey
	var maxClaim ClaimKey
	for i := range maxOption {
		maxOption[i] = 0xFF
	}
	for i := range maxClaim {
		maxClaim[i] = 0xFF
	}
	cases := []struct {
		option OptionKey
		claim  ClaimKey
	}{
		{OptionKey{}, ClaimKey{}},
		{maxOption, maxClaim},
		{maxOption, ClaimKey{}},
		{OptionKey{}, maxClaim},
		{OptionKey(newTestAddress(0x5A)), ClaimKeyFromUint64(1)},
	}
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 64; i++ {
		var option OptionKey
		var claim ClaimKey
		rng.Read(option[:])
		rng.Read(claim[:])
		cases = append(cases, struct {
			option OptionKey
			claim  ClaimKey
		}{option, claim})
	}
	for _, tc := range cases {
		id := EncodeTokenID(tc.option, tc.claim)
		option, claim := id.Decode()
		if option != tc.option || claim != tc.claim {
			t.Fatalf("round trip mismatch for %x/%x: got %x/%x", tc.option, tc.claim, option, claim)
		}
		if !bytes.Equal(id[:20], tc.option[:]) || !bytes.Equal(id[20:], tc.claim[:]) {
			t.Fatalf("unexpected layout %x", id)
		}
	}
}

func TestTokenIDIsClaim(t *testing.T) {
	option := OptionKey(newTestAddress(0x42))
	if option.OptionID().IsClaim() {
		t.Fatalf("option unit reported as claim")
	}
	if !EncodeTokenID(option, ClaimKeyFromUint64(3)).IsClaim() {
		t.Fatalf("claim not detected")
	}
}

func TestParseTokenID(t *testing.T) {
	id := EncodeTokenID(OptionKey(newTestAddress(0x42)), ClaimKeyFromUint64(9))
	parsed, err := ParseTokenID(id.String())
	if err != nil {
		t.Fatalf("parse hex: %v", err)
	}
	if parsed != id {
		t.Fatalf("hex mismatch: %s vs %s", parsed, id)
	}
	parsed, err = ParseTokenID(id.Uint256().Dec())
	if err != nil {
		t.Fatalf("parse decimal: %v", err)
	}
	if parsed != id {
		t.Fatalf("decimal mismatch: %s vs %s", parsed, id)
	}
	parsed, err = ParseTokenID("0x1")
	if err != nil {
		t.Fatalf("parse short hex: %v", err)
	}
	if parsed.ClaimKey() != ClaimKeyFromUint64(1) {
		t.Fatalf("short hex not left padded: %s", parsed)
	}
	for _, raw := range []string{"", "0xzz", "abc", "0x" + string(bytes.Repeat([]byte("ff"), 33))} {
		if _, err := ParseTokenID(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestClaimKeyNextExhausted(t *testing.T) {
	var last ClaimKey
	for i := range last {
		last[i] = 0xFF
	}
	if _, err := last.next(); !errors.Is(err, ErrClaimKeyExhausted) {
		t.Fatalf("expected exhaustion, got %v", err)
	}
	next, err := ClaimKeyFromUint64(41).next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if next != ClaimKeyFromUint64(42) {
		t.Fatalf("unexpected next key %s", next)
	}
}

func TestOptionKeyDeterministic(t *testing.T) {
	h := newTestHarness()
	a := h.terms(7, 3000)
	b := h.terms(7, 3000)
	if a.Key() != b.Key() {
		t.Fatalf("identical terms hashed differently")
	}
	b.ExpiryTimestamp++
	if a.Key() == b.Key() {
		t.Fatalf("different terms share a key")
	}
}
