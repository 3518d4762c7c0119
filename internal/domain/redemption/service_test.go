package redemption

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/perkly/perkly-api/internal/pkg/ratelimit"
	"github.com/perkly/perkly-api/internal/pkg/tokencodec"
)

// fixture is a shared in-memory backend for all service collaborators. The
// repo stub mirrors the conditional-update semantics of the real repository:
// RunTx serializes transactions behind a mutex and rolls state back when the
// transaction function fails.
type fixture struct {
	mu sync.Mutex

	now time.Time

	tokens      map[uuid.UUID]Token
	balances    map[uuid.UUID]int64
	usage       map[string]int
	redemptions []Redemption

	offers        map[uuid.UUID]OfferInfo
	goodStanding  map[uuid.UUID]bool
	activeCust    map[uuid.UUID]bool
	deviceTokens  map[uuid.UUID]string
	pushes        []map[string]string

	limitMax    int
	limitWindow time.Duration
	limitCount  map[string]int
	limitStart  map[string]time.Time
}

func newFixture() *fixture {
	return &fixture{
		now:          time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC),
		tokens:       make(map[uuid.UUID]Token),
		balances:     make(map[uuid.UUID]int64),
		usage:        make(map[string]int),
		offers:       make(map[uuid.UUID]OfferInfo),
		goodStanding: make(map[uuid.UUID]bool),
		activeCust:   make(map[uuid.UUID]bool),
		deviceTokens: make(map[uuid.UUID]string),
		limitMax:     5,
		limitWindow:  time.Hour,
		limitCount:   make(map[string]int),
		limitStart:   make(map[string]time.Time),
	}
}

func (f *fixture) clock() time.Time { return f.now }

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

// ---- Repository stub ----

type stubRepo struct{ f *fixture }

func (r *stubRepo) Create(_ context.Context, token *Token) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	r.f.tokens[token.ID] = *token
	return nil
}

func (r *stubRepo) GetByID(_ context.Context, id uuid.UUID) (*Token, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	t, ok := r.f.tokens[id]
	if !ok {
		return nil, ErrTokenNotFound
	}
	return &t, nil
}

func (r *stubRepo) GetByDisplayCode(_ context.Context, code string) (*Token, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	var latest *Token
	for id := range r.f.tokens {
		t := r.f.tokens[id]
		if t.DisplayCode != code {
			continue
		}
		if latest == nil || t.CreatedAt.After(latest.CreatedAt) {
			cp := t
			latest = &cp
		}
	}
	if latest == nil {
		return nil, ErrTokenNotFound
	}
	return latest, nil
}

func (r *stubRepo) VerifyPin(_ context.Context, tokenID uuid.UUID, presentedPin string, maxAttempts int, now time.Time) (int, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()

	t, ok := r.f.tokens[tokenID]
	if !ok {
		return 0, ErrTokenNotFound
	}
	switch {
	case t.IsExpired(now):
		return 0, ErrTokenExpired
	case t.Used:
		return 0, ErrAlreadyUsed
	case t.PinAttempts >= maxAttempts:
		return 0, ErrPinLocked
	}

	if t.Pin == presentedPin {
		t.PinVerified = true
		r.f.tokens[tokenID] = t
		return maxAttempts - t.PinAttempts, nil
	}

	t.PinAttempts++
	r.f.tokens[tokenID] = t
	remaining := maxAttempts - t.PinAttempts
	if remaining <= 0 {
		return 0, ErrPinLocked
	}
	return remaining, ErrInvalidPin
}

func (r *stubRepo) RunTx(_ context.Context, fn func(tx *sqlx.Tx) error) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()

	// Snapshot for rollback
	tokens := make(map[uuid.UUID]Token, len(r.f.tokens))
	for k, v := range r.f.tokens {
		tokens[k] = v
	}
	balances := make(map[uuid.UUID]int64, len(r.f.balances))
	for k, v := range r.f.balances {
		balances[k] = v
	}
	usage := make(map[string]int, len(r.f.usage))
	for k, v := range r.f.usage {
		usage[k] = v
	}
	redemptions := len(r.f.redemptions)

	if err := fn(nil); err != nil {
		r.f.tokens = tokens
		r.f.balances = balances
		r.f.usage = usage
		r.f.redemptions = r.f.redemptions[:redemptions]
		return err
	}
	return nil
}

func (r *stubRepo) GetForUpdateTx(_ context.Context, _ *sqlx.Tx, id uuid.UUID) (*Token, error) {
	t, ok := r.f.tokens[id]
	if !ok {
		return nil, ErrTokenNotFound
	}
	return &t, nil
}

func (r *stubRepo) MarkUsedTx(_ context.Context, _ *sqlx.Tx, id uuid.UUID) error {
	t, ok := r.f.tokens[id]
	if !ok || t.Used {
		return ErrAlreadyUsed
	}
	t.Used = true
	r.f.tokens[id] = t
	return nil
}

func (r *stubRepo) InsertRedemptionTx(_ context.Context, _ *sqlx.Tx, rec *Redemption) error {
	r.f.redemptions = append(r.f.redemptions, *rec)
	return nil
}

// ---- Collaborator stubs ----

type stubQuota struct {
	f          *fixture
	defaultCap int
}

func (q *stubQuota) Cap(offerCap int) int {
	if offerCap > 0 {
		return offerCap
	}
	return q.defaultCap
}

func (q *stubQuota) CheckAndReserve(_ context.Context, _ *sqlx.Tx, userID, offerID uuid.UUID, periodKey string, limit int) error {
	key := userID.String() + "|" + offerID.String() + "|" + periodKey
	if q.f.usage[key] >= limit {
		return ErrMonthlyLimitReached
	}
	q.f.usage[key]++
	return nil
}

type stubOffers struct{ f *fixture }

func (o *stubOffers) GetOffer(_ context.Context, id uuid.UUID) (*OfferInfo, error) {
	info, ok := o.f.offers[id]
	if !ok {
		return nil, ErrOfferInactive
	}
	return &info, nil
}

type stubCustomers struct{ f *fixture }

func (c *stubCustomers) GetCustomer(_ context.Context, id uuid.UUID) (*CustomerAccount, error) {
	c.f.mu.Lock()
	defer c.f.mu.Unlock()
	if _, ok := c.f.balances[id]; !ok {
		return nil, ErrSubscriptionRequired
	}
	return &CustomerAccount{
		ID:          id,
		Active:      c.f.activeCust[id],
		DeviceToken: c.f.deviceTokens[id],
	}, nil
}

func (c *stubCustomers) DebitPointsTx(_ context.Context, _ *sqlx.Tx, id uuid.UUID, points int64) error {
	if c.f.balances[id] < points {
		return ErrInsufficientBalance
	}
	c.f.balances[id] -= points
	return nil
}

type stubMerchants struct{ f *fixture }

func (m *stubMerchants) InGoodStanding(_ context.Context, id uuid.UUID) (bool, error) {
	return m.f.goodStanding[id], nil
}

type stubLimiter struct{ f *fixture }

func (l *stubLimiter) Allow(_ context.Context, key string) (ratelimit.Result, error) {
	l.f.mu.Lock()
	defer l.f.mu.Unlock()

	start, ok := l.f.limitStart[key]
	if !ok || l.f.now.Sub(start) >= l.f.limitWindow {
		l.f.limitStart[key] = l.f.now
		l.f.limitCount[key] = 0
	}
	l.f.limitCount[key]++
	return ratelimit.Result{
		Allowed: l.f.limitCount[key] <= l.f.limitMax,
		Count:   l.f.limitCount[key],
	}, nil
}

type stubPusher struct{ f *fixture }

func (p *stubPusher) SendData(_ context.Context, _ string, data map[string]string) error {
	p.f.pushes = append(p.f.pushes, data)
	return nil
}

// ---- Test harness ----

type env struct {
	f          *fixture
	svc        *Service
	userID     uuid.UUID
	merchantID uuid.UUID
	offerID    uuid.UUID
}

func newEnv(t *testing.T) *env {
	t.Helper()

	f := newFixture()
	userID := uuid.New()
	merchantID := uuid.New()
	offerID := uuid.New()

	f.balances[userID] = 1000
	f.activeCust[userID] = true
	f.deviceTokens[userID] = "device-abc"
	f.goodStanding[merchantID] = true
	f.offers[offerID] = OfferInfo{
		ID:         offerID,
		MerchantID: merchantID,
		PointsCost: 250,
		Active:     true,
	}

	codec, err := tokencodec.New("test-secret")
	if err != nil {
		t.Fatalf("codec: %v", err)
	}

	svc := NewService(
		&stubRepo{f: f},
		&stubQuota{f: f, defaultCap: 1},
		&stubOffers{f: f},
		&stubCustomers{f: f},
		&stubMerchants{f: f},
		&stubLimiter{f: f},
		codec,
		&stubPusher{f: f},
		f.clock,
		Config{
			TokenTTL:       60 * time.Second,
			MaxPinAttempts: 3,
			PinLength:      6,
			MonthlyQuota:   1,
		},
	)

	return &env{f: f, svc: svc, userID: userID, merchantID: merchantID, offerID: offerID}
}

func (e *env) generate(t *testing.T) *GenerateResult {
	t.Helper()
	result, err := e.svc.Generate(context.Background(), e.userID, e.merchantID, e.offerID, "deadbeef01", 2)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	return result
}

func (e *env) pin(t *testing.T, tokenID uuid.UUID) string {
	t.Helper()
	e.f.mu.Lock()
	defer e.f.mu.Unlock()
	tk, ok := e.f.tokens[tokenID]
	if !ok {
		t.Fatalf("token %s not stored", tokenID)
	}
	return tk.Pin
}

// ---- Tests ----

func TestGenerateIssuesToken(t *testing.T) {
	e := newEnv(t)

	result := e.generate(t)

	e.f.mu.Lock()
	tk, ok := e.f.tokens[result.TokenID]
	e.f.mu.Unlock()
	if !ok {
		t.Fatal("token not persisted")
	}
	if tk.PinVerified || tk.Used || tk.PinAttempts != 0 {
		t.Fatalf("fresh token has wrong flags: %+v", tk)
	}
	if len(tk.Pin) != 6 {
		t.Fatalf("expected 6-digit pin, got %q", tk.Pin)
	}
	if !tk.ExpiresAt.Equal(e.f.now.Add(60 * time.Second)) {
		t.Fatalf("expected 60s ttl, got %v", tk.ExpiresAt.Sub(e.f.now))
	}
	if result.DisplayCode != tk.DisplayCode || result.DisplayCode == "" {
		t.Fatalf("display code mismatch: %q vs %q", result.DisplayCode, tk.DisplayCode)
	}

	// The PIN travels out-of-band only
	if result.TokenRef == tk.Pin || result.DisplayCode == tk.Pin {
		t.Fatal("pin leaked into customer-facing result")
	}
	if len(e.f.pushes) != 1 || e.f.pushes[0]["pin"] != tk.Pin {
		t.Fatalf("expected pin push delivery, got %+v", e.f.pushes)
	}
}

func TestGenerateOfferInactive(t *testing.T) {
	e := newEnv(t)

	info := e.f.offers[e.offerID]
	info.Active = false
	e.f.offers[e.offerID] = info

	if _, err := e.svc.Generate(context.Background(), e.userID, e.merchantID, e.offerID, "deadbeef01", 1); !errors.Is(err, ErrOfferInactive) {
		t.Fatalf("expected ErrOfferInactive, got %v", err)
	}
}

func TestGenerateOfferMerchantMismatchIsInactive(t *testing.T) {
	e := newEnv(t)

	otherMerchant := uuid.New()
	e.f.goodStanding[otherMerchant] = true

	if _, err := e.svc.Generate(context.Background(), e.userID, otherMerchant, e.offerID, "deadbeef01", 1); !errors.Is(err, ErrOfferInactive) {
		t.Fatalf("expected ErrOfferInactive, got %v", err)
	}
}

func TestGenerateSubscriptionChecks(t *testing.T) {
	e := newEnv(t)

	e.f.goodStanding[e.merchantID] = false
	if _, err := e.svc.Generate(context.Background(), e.userID, e.merchantID, e.offerID, "deadbeef01", 1); !errors.Is(err, ErrSubscriptionRequired) {
		t.Fatalf("expected ErrSubscriptionRequired for merchant, got %v", err)
	}

	e.f.goodStanding[e.merchantID] = true
	e.f.activeCust[e.userID] = false
	if _, err := e.svc.Generate(context.Background(), e.userID, e.merchantID, e.offerID, "deadbeef01", 1); !errors.Is(err, ErrSubscriptionRequired) {
		t.Fatalf("expected ErrSubscriptionRequired for customer, got %v", err)
	}
}

func TestGenerateRateLimited(t *testing.T) {
	e := newEnv(t)

	for i := 0; i < 5; i++ {
		e.generate(t)
	}

	_, err := e.svc.Generate(context.Background(), e.userID, e.merchantID, e.offerID, "deadbeef01", 1)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited on 6th call, got %v", err)
	}

	// A different device is not affected
	if _, err := e.svc.Generate(context.Background(), e.userID, e.merchantID, e.offerID, "cafebabe02", 1); err != nil {
		t.Fatalf("expected other device to pass, got %v", err)
	}

	// Window rollover resets the budget
	e.f.advance(time.Hour)
	if _, err := e.svc.Generate(context.Background(), e.userID, e.merchantID, e.offerID, "deadbeef01", 1); err != nil {
		t.Fatalf("expected success after window rollover, got %v", err)
	}
}

func TestValidatePinLockout(t *testing.T) {
	e := newEnv(t)
	result := e.generate(t)
	correct := e.pin(t, result.TokenID)
	wrong := "000000"
	if wrong == correct {
		wrong = "000001"
	}

	res, err := e.svc.ValidatePin(context.Background(), result.TokenRef, e.merchantID, wrong)
	if !errors.Is(err, ErrInvalidPin) {
		t.Fatalf("expected ErrInvalidPin, got %v", err)
	}
	if res == nil || res.AttemptsRemaining != 2 {
		t.Fatalf("expected 2 attempts remaining, got %+v", res)
	}

	if _, err := e.svc.ValidatePin(context.Background(), result.TokenRef, e.merchantID, wrong); !errors.Is(err, ErrInvalidPin) {
		t.Fatalf("expected ErrInvalidPin, got %v", err)
	}

	// Third wrong attempt reaches the cap
	if _, err := e.svc.ValidatePin(context.Background(), result.TokenRef, e.merchantID, wrong); !errors.Is(err, ErrPinLocked) {
		t.Fatalf("expected ErrPinLocked on third attempt, got %v", err)
	}

	// Correct PIN after lockout stays locked
	if _, err := e.svc.ValidatePin(context.Background(), result.TokenRef, e.merchantID, correct); !errors.Is(err, ErrPinLocked) {
		t.Fatalf("expected ErrPinLocked for correct pin after lockout, got %v", err)
	}
}

func TestValidatePinExpired(t *testing.T) {
	e := newEnv(t)
	result := e.generate(t)
	correct := e.pin(t, result.TokenID)

	e.f.advance(61 * time.Second)

	if _, err := e.svc.ValidatePin(context.Background(), result.TokenRef, e.merchantID, correct); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestValidatePinMerchantMismatch(t *testing.T) {
	e := newEnv(t)
	result := e.generate(t)

	if _, err := e.svc.ValidatePin(context.Background(), result.TokenRef, uuid.New(), e.pin(t, result.TokenID)); !errors.Is(err, ErrMerchantMismatch) {
		t.Fatalf("expected ErrMerchantMismatch, got %v", err)
	}
}

func TestValidatePinByDisplayCode(t *testing.T) {
	e := newEnv(t)
	result := e.generate(t)

	res, err := e.svc.ValidatePin(context.Background(), result.DisplayCode, e.merchantID, e.pin(t, result.TokenID))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.TokenID != result.TokenID {
		t.Fatalf("resolved wrong token: %s", res.TokenID)
	}
}

func TestValidatePinTamperedRef(t *testing.T) {
	e := newEnv(t)
	result := e.generate(t)

	last := result.TokenRef[len(result.TokenRef)-1]
	flip := "A"
	if last == 'A' {
		flip = "B"
	}
	tampered := result.TokenRef[:len(result.TokenRef)-1] + flip
	if _, err := e.svc.ValidatePin(context.Background(), tampered, e.merchantID, e.pin(t, result.TokenID)); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound for tampered ref, got %v", err)
	}
}

func TestFinalizeHappyPath(t *testing.T) {
	e := newEnv(t)
	result := e.generate(t)

	if _, err := e.svc.ValidatePin(context.Background(), result.TokenRef, e.merchantID, e.pin(t, result.TokenID)); err != nil {
		t.Fatalf("validate: %v", err)
	}

	ok, err := e.svc.IsRedeemable(context.Background(), result.TokenRef)
	if err != nil || !ok {
		t.Fatalf("expected redeemable after pin verification, got %v %v", ok, err)
	}

	redemptionID, err := e.svc.Finalize(context.Background(), result.TokenRef, e.merchantID)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if redemptionID == uuid.Nil {
		t.Fatal("expected redemption id")
	}

	if got := e.f.balances[e.userID]; got != 750 {
		t.Fatalf("expected balance 750 after 250 debit, got %d", got)
	}
	if len(e.f.redemptions) != 1 {
		t.Fatalf("expected 1 redemption record, got %d", len(e.f.redemptions))
	}
	rec := e.f.redemptions[0]
	if rec.TokenID != result.TokenID || rec.Points != 250 || rec.ID != redemptionID {
		t.Fatalf("bad redemption record: %+v", rec)
	}

	ok, err = e.svc.IsRedeemable(context.Background(), result.TokenRef)
	if err != nil || ok {
		t.Fatalf("expected not redeemable after finalize, got %v %v", ok, err)
	}
}

func TestFinalizeBeforePinVerified(t *testing.T) {
	e := newEnv(t)
	result := e.generate(t)

	if _, err := e.svc.Finalize(context.Background(), result.TokenRef, e.merchantID); !errors.Is(err, ErrPinNotVerified) {
		t.Fatalf("expected ErrPinNotVerified, got %v", err)
	}
	if got := e.f.balances[e.userID]; got != 1000 {
		t.Fatalf("balance must be unchanged, got %d", got)
	}
	if len(e.f.redemptions) != 0 {
		t.Fatal("no redemption record expected")
	}
}

func TestFinalizeMerchantMismatch(t *testing.T) {
	e := newEnv(t)
	result := e.generate(t)
	if _, err := e.svc.ValidatePin(context.Background(), result.TokenRef, e.merchantID, e.pin(t, result.TokenID)); err != nil {
		t.Fatalf("validate: %v", err)
	}

	if _, err := e.svc.Finalize(context.Background(), result.TokenRef, uuid.New()); !errors.Is(err, ErrMerchantMismatch) {
		t.Fatalf("expected ErrMerchantMismatch, got %v", err)
	}
	if got := e.f.balances[e.userID]; got != 1000 {
		t.Fatalf("balance must be unchanged, got %d", got)
	}
}

func TestFinalizeIdempotent(t *testing.T) {
	e := newEnv(t)
	result := e.generate(t)
	if _, err := e.svc.ValidatePin(context.Background(), result.TokenRef, e.merchantID, e.pin(t, result.TokenID)); err != nil {
		t.Fatalf("validate: %v", err)
	}

	if _, err := e.svc.Finalize(context.Background(), result.TokenRef, e.merchantID); err != nil {
		t.Fatalf("first finalize: %v", err)
	}
	if _, err := e.svc.Finalize(context.Background(), result.TokenRef, e.merchantID); !errors.Is(err, ErrAlreadyUsed) {
		t.Fatalf("expected ErrAlreadyUsed on retry, got %v", err)
	}

	if got := e.f.balances[e.userID]; got != 750 {
		t.Fatalf("expected exactly one debit, balance %d", got)
	}
	if len(e.f.redemptions) != 1 {
		t.Fatalf("expected exactly one record, got %d", len(e.f.redemptions))
	}
}

func TestFinalizeConcurrentSingleWinner(t *testing.T) {
	e := newEnv(t)
	result := e.generate(t)
	if _, err := e.svc.ValidatePin(context.Background(), result.TokenRef, e.merchantID, e.pin(t, result.TokenID)); err != nil {
		t.Fatalf("validate: %v", err)
	}

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.svc.Finalize(context.Background(), result.TokenRef, e.merchantID)
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrAlreadyUsed), errors.Is(err, ErrConflict):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if successes != 1 {
		t.Fatalf("expected exactly 1 success, got %d", successes)
	}
	if got := e.f.balances[e.userID]; got != 750 {
		t.Fatalf("expected exactly one debit, balance %d", got)
	}
	if len(e.f.redemptions) != 1 {
		t.Fatalf("expected exactly one record, got %d", len(e.f.redemptions))
	}
}

func TestFinalizeInsufficientBalance(t *testing.T) {
	e := newEnv(t)
	e.f.balances[e.userID] = 100 // offer costs 250

	result := e.generate(t)
	if _, err := e.svc.ValidatePin(context.Background(), result.TokenRef, e.merchantID, e.pin(t, result.TokenID)); err != nil {
		t.Fatalf("validate: %v", err)
	}

	if _, err := e.svc.Finalize(context.Background(), result.TokenRef, e.merchantID); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	// The aborted transaction must leave no trace: token stays unused,
	// quota reservation rolled back
	e.f.mu.Lock()
	tk := e.f.tokens[result.TokenID]
	e.f.mu.Unlock()
	if tk.Used {
		t.Fatal("token must not be consumed by a failed finalize")
	}
	if len(e.f.usage) != 0 {
		for k, v := range e.f.usage {
			if v != 0 {
				t.Fatalf("quota reservation leaked: %s=%d", k, v)
			}
		}
	}
	if len(e.f.redemptions) != 0 {
		t.Fatal("no redemption record expected")
	}
}

func TestMonthlyQuota(t *testing.T) {
	e := newEnv(t)

	verifyAndFinalize := func() error {
		result := e.generate(t)
		if _, err := e.svc.ValidatePin(context.Background(), result.TokenRef, e.merchantID, e.pin(t, result.TokenID)); err != nil {
			t.Fatalf("validate: %v", err)
		}
		_, err := e.svc.Finalize(context.Background(), result.TokenRef, e.merchantID)
		return err
	}

	if err := verifyAndFinalize(); err != nil {
		t.Fatalf("first redemption: %v", err)
	}
	if err := verifyAndFinalize(); !errors.Is(err, ErrMonthlyLimitReached) {
		t.Fatalf("expected ErrMonthlyLimitReached in same period, got %v", err)
	}

	// Next calendar month starts a fresh bucket
	e.f.advance(30 * 24 * time.Hour)
	if err := verifyAndFinalize(); err != nil {
		t.Fatalf("redemption in next period: %v", err)
	}

	if got := e.f.balances[e.userID]; got != 500 {
		t.Fatalf("expected two debits total, balance %d", got)
	}
}

func TestExpiredTokenCannotFinalize(t *testing.T) {
	e := newEnv(t)
	result := e.generate(t)
	if _, err := e.svc.ValidatePin(context.Background(), result.TokenRef, e.merchantID, e.pin(t, result.TokenID)); err != nil {
		t.Fatalf("validate: %v", err)
	}

	e.f.advance(61 * time.Second)

	if _, err := e.svc.Finalize(context.Background(), result.TokenRef, e.merchantID); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
	if got := e.f.balances[e.userID]; got != 1000 {
		t.Fatalf("balance must be unchanged, got %d", got)
	}
}
