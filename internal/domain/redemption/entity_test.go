package redemption

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func baseToken(now time.Time) *Token {
	return &Token{
		ID:          uuid.New(),
		UserID:      uuid.New(),
		MerchantID:  uuid.New(),
		OfferID:     uuid.New(),
		DisplayCode: "ABCD2345",
		Pin:         "123456",
		PartySize:   2,
		CreatedAt:   now,
		ExpiresAt:   now.Add(60 * time.Second),
	}
}

func TestTokenStateTransitions(t *testing.T) {
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	const maxAttempts = 3

	tests := []struct {
		name   string
		mutate func(*Token)
		at     time.Time
		want   State
	}{
		{"fresh token", func(tk *Token) {}, now, StateCreated},
		{"after wrong attempt", func(tk *Token) { tk.PinAttempts = 1 }, now, StatePinPending},
		{"pin verified", func(tk *Token) { tk.PinVerified = true }, now, StatePinVerified},
		{"redeemed", func(tk *Token) { tk.PinVerified = true; tk.Used = true }, now, StateRedeemed},
		{"expired lazily", func(tk *Token) {}, now.Add(61 * time.Second), StateExpired},
		{"expired exactly at ttl", func(tk *Token) {}, now.Add(60 * time.Second), StateExpired},
		{"locked", func(tk *Token) { tk.PinAttempts = 3 }, now, StateLocked},
		{"locked beats expired", func(tk *Token) { tk.PinAttempts = 3 }, now.Add(61 * time.Second), StateLocked},
		{"redeemed beats expired", func(tk *Token) { tk.PinVerified = true; tk.Used = true }, now.Add(61 * time.Second), StateRedeemed},
		{"verified at cap is not locked", func(tk *Token) { tk.PinVerified = true; tk.PinAttempts = 3 }, now, StatePinVerified},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tk := baseToken(now)
			tc.mutate(tk)
			if got := tk.State(tc.at, maxAttempts); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestIsRedeemable(t *testing.T) {
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

	tk := baseToken(now)
	if tk.IsRedeemable(now) {
		t.Fatal("unverified token must not be redeemable")
	}

	tk.PinVerified = true
	if !tk.IsRedeemable(now) {
		t.Fatal("verified unexpired token must be redeemable")
	}
	if tk.IsRedeemable(now.Add(60 * time.Second)) {
		t.Fatal("expired token must not be redeemable")
	}

	tk.Used = true
	if tk.IsRedeemable(now) {
		t.Fatal("used token must not be redeemable")
	}
}
