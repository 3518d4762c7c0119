package redemption

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/perkly/perkly-api/internal/pkg/push"
	"github.com/perkly/perkly-api/internal/pkg/ratelimit"
	"github.com/perkly/perkly-api/internal/pkg/tokencodec"
)

// OfferInfo is what the redemption flow needs to know about an offer
type OfferInfo struct {
	ID           uuid.UUID
	MerchantID   uuid.UUID
	PointsCost   int64
	MonthlyLimit int
	Active       bool
}

// CustomerAccount is what the redemption flow needs to know about a customer
type CustomerAccount struct {
	ID          uuid.UUID
	Active      bool
	DeviceToken string
}

// OfferProvider supplies offer state for generation checks
type OfferProvider interface {
	GetOffer(ctx context.Context, id uuid.UUID) (*OfferInfo, error)
}

// CustomerProvider supplies customer state and the transactional point debit
type CustomerProvider interface {
	GetCustomer(ctx context.Context, id uuid.UUID) (*CustomerAccount, error)
	DebitPointsTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, points int64) error
}

// MerchantChecker reports whether a merchant may accept redemptions
type MerchantChecker interface {
	InGoodStanding(ctx context.Context, id uuid.UUID) (bool, error)
}

// QuotaReserver enforces the per-user per-offer period cap inside the
// finalize transaction
type QuotaReserver interface {
	CheckAndReserve(ctx context.Context, tx *sqlx.Tx, userID, offerID uuid.UUID, periodKey string, limit int) error
	Cap(offerCap int) int
}

// Clock supplies wall time; injectable for expiry tests
type Clock func() time.Time

// Config holds redemption service configuration
type Config struct {
	TokenTTL       time.Duration
	MaxPinAttempts int
	PinLength      int
	MonthlyQuota   int
	OpTimeout      time.Duration
}

// Service owns the redemption token lifecycle: generation, PIN verification
// and the atomic finalize step. Correctness under concurrent requests comes
// entirely from conditional updates and transactions at the storage boundary;
// the service holds no per-token state in memory.
type Service struct {
	repo      Repository
	quota     QuotaReserver
	offers    OfferProvider
	customers CustomerProvider
	merchants MerchantChecker
	limiter   ratelimit.Limiter
	codec     *tokencodec.Codec
	pusher    push.Sender
	clock     Clock
	cfg       Config
}

// NewService creates redemption service
func NewService(
	repo Repository,
	quota QuotaReserver,
	offers OfferProvider,
	customers CustomerProvider,
	merchants MerchantChecker,
	limiter ratelimit.Limiter,
	codec *tokencodec.Codec,
	pusher push.Sender,
	clock Clock,
	cfg Config,
) *Service {
	if clock == nil {
		clock = time.Now
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 5 * time.Second
	}
	return &Service{
		repo:      repo,
		quota:     quota,
		offers:    offers,
		customers: customers,
		merchants: merchants,
		limiter:   limiter,
		codec:     codec,
		pusher:    pusher,
		clock:     clock,
		cfg:       cfg,
	}
}

// GenerateResult is returned to the customer. It never carries the PIN;
// that is delivered out-of-band to the customer's device only.
type GenerateResult struct {
	TokenID     uuid.UUID
	TokenRef    string
	DisplayCode string
	ExpiresAt   time.Time
}

// Generate mints a fresh single-use redemption token for (user, offer).
func (s *Service) Generate(ctx context.Context, userID, merchantID, offerID uuid.UUID, deviceHash string, partySize int) (*GenerateResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	defer cancel()

	offer, err := s.offers.GetOffer(ctx, offerID)
	if err != nil {
		return nil, s.mapErr(ctx, err)
	}
	if !offer.Active || offer.MerchantID != merchantID {
		return nil, ErrOfferInactive
	}

	ok, err := s.merchants.InGoodStanding(ctx, merchantID)
	if err != nil {
		return nil, s.mapErr(ctx, err)
	}
	if !ok {
		return nil, ErrSubscriptionRequired
	}

	cust, err := s.customers.GetCustomer(ctx, userID)
	if err != nil {
		return nil, s.mapErr(ctx, err)
	}
	if !cust.Active {
		return nil, ErrSubscriptionRequired
	}

	limit, err := s.limiter.Allow(ctx, userID.String()+":"+deviceHash)
	if err != nil {
		return nil, s.mapErr(ctx, err)
	}
	if !limit.Allowed {
		return nil, ErrRateLimited
	}

	if partySize < 1 {
		partySize = 1
	}

	now := s.clock()
	token := &Token{
		ID:          uuid.New(),
		UserID:      userID,
		MerchantID:  merchantID,
		OfferID:     offerID,
		DisplayCode: generateDisplayCode(DisplayCodeLength),
		Pin:         generateNumericPin(s.cfg.PinLength),
		PartySize:   partySize,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.cfg.TokenTTL),
	}

	if err := s.repo.Create(ctx, token); err != nil {
		return nil, s.mapErr(ctx, err)
	}

	signed := s.codec.Sign(tokencodec.Payload{
		TokenID:    token.ID,
		UserID:     token.UserID,
		MerchantID: token.MerchantID,
		OfferID:    token.OfferID,
		ExpiresAt:  token.ExpiresAt,
	})

	s.deliverPin(ctx, cust, token)

	return &GenerateResult{
		TokenID:     token.ID,
		TokenRef:    signed,
		DisplayCode: token.DisplayCode,
		ExpiresAt:   token.ExpiresAt,
	}, nil
}

// deliverPin pushes the one-time PIN to the customer's device. Delivery is
// best-effort: the token is already persisted and the customer app can
// re-read its own pending token, so a push failure must not fail Generate.
func (s *Service) deliverPin(ctx context.Context, cust *CustomerAccount, token *Token) {
	if s.pusher == nil || cust.DeviceToken == "" {
		return
	}
	if err := s.pusher.SendData(ctx, cust.DeviceToken, map[string]string{
		"type":     "redemption_pin",
		"token_id": token.ID.String(),
		"pin":      token.Pin,
	}); err != nil {
		log.Warn().Err(err).Str("token_id", token.ID.String()).Msg("PIN push delivery failed")
	}
}

// PinResult reports a successful PIN verification
type PinResult struct {
	TokenID           uuid.UUID
	AttemptsRemaining int
}

// ValidatePin checks the presented PIN against the token identified by a
// signed token ref or a display code. The compare-and-increment is a single
// conditional update in the repository, so two concurrent guesses can never
// both succeed or bypass the attempt cap.
//
// On ErrInvalidPin the result is still returned so the merchant UI can show
// attempts remaining.
func (s *Service) ValidatePin(ctx context.Context, tokenRef string, merchantID uuid.UUID, presentedPin string) (*PinResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	defer cancel()

	token, err := s.resolve(ctx, tokenRef)
	if err != nil {
		return nil, s.mapErr(ctx, err)
	}
	if token.MerchantID != merchantID {
		return nil, ErrMerchantMismatch
	}

	remaining, err := s.repo.VerifyPin(ctx, token.ID, presentedPin, s.cfg.MaxPinAttempts, s.clock())
	if err != nil {
		if errors.Is(err, ErrInvalidPin) {
			return &PinResult{TokenID: token.ID, AttemptsRemaining: remaining}, err
		}
		return nil, s.mapErr(ctx, err)
	}

	return &PinResult{TokenID: token.ID, AttemptsRemaining: remaining}, nil
}

// IsRedeemable reports whether Finalize could currently succeed for the
// token. Purely advisory: the finalize transaction re-checks everything.
func (s *Service) IsRedeemable(ctx context.Context, tokenRef string) (bool, error) {
	token, err := s.resolve(ctx, tokenRef)
	if err != nil {
		return false, s.mapErr(ctx, err)
	}
	return token.IsRedeemable(s.clock()), nil
}

// Finalize converts a verified token into a completed redemption: exactly
// one transaction re-checks the token, reserves quota, marks the token used,
// debits the points ledger and writes the redemption record. All-or-nothing.
func (s *Service) Finalize(ctx context.Context, tokenRef string, merchantID uuid.UUID) (uuid.UUID, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	defer cancel()

	token, err := s.resolve(ctx, tokenRef)
	if err != nil {
		return uuid.Nil, s.mapErr(ctx, err)
	}

	offer, err := s.offers.GetOffer(ctx, token.OfferID)
	if err != nil {
		return uuid.Nil, s.mapErr(ctx, err)
	}

	redemptionID := uuid.New()
	now := s.clock()

	err = s.repo.RunTx(ctx, func(tx *sqlx.Tx) error {
		// Re-read under lock; the snapshot from resolve is already stale.
		current, err := s.repo.GetForUpdateTx(ctx, tx, token.ID)
		if err != nil {
			return err
		}

		if current.Used {
			return ErrAlreadyUsed
		}
		if !current.PinVerified {
			return ErrPinNotVerified
		}
		if current.IsExpired(now) {
			return ErrTokenExpired
		}
		if current.MerchantID != merchantID {
			return ErrMerchantMismatch
		}

		if err := s.quota.CheckAndReserve(ctx, tx, current.UserID, current.OfferID, PeriodKey(now), s.quota.Cap(offer.MonthlyLimit)); err != nil {
			return err
		}

		if err := s.repo.MarkUsedTx(ctx, tx, current.ID); err != nil {
			return err
		}

		if err := s.customers.DebitPointsTx(ctx, tx, current.UserID, offer.PointsCost); err != nil {
			return err
		}

		return s.repo.InsertRedemptionTx(ctx, tx, &Redemption{
			ID:         redemptionID,
			TokenID:    current.ID,
			UserID:     current.UserID,
			MerchantID: current.MerchantID,
			OfferID:    current.OfferID,
			Points:     offer.PointsCost,
			RedeemedAt: now,
		})
	})
	if err != nil {
		return uuid.Nil, s.mapErr(ctx, err)
	}

	log.Info().
		Str("redemption_id", redemptionID.String()).
		Str("token_id", token.ID.String()).
		Int64("points", offer.PointsCost).
		Msg("Redemption finalized")

	return redemptionID, nil
}

// resolve loads a token from either a signed token ref (contains the MAC
// separator) or a bare display code.
func (s *Service) resolve(ctx context.Context, tokenRef string) (*Token, error) {
	if strings.ContainsRune(tokenRef, '.') {
		payload, err := s.codec.Verify(tokenRef)
		if err != nil {
			return nil, ErrTokenNotFound
		}
		return s.repo.GetByID(ctx, payload.TokenID)
	}
	return s.repo.GetByDisplayCode(ctx, strings.ToUpper(strings.TrimSpace(tokenRef)))
}

// mapErr translates context expiry into the typed Timeout error so callers
// know the operation's effect is unknown and a retry with the same inputs
// is safe.
func (s *Service) mapErr(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	return err
}
