package redemption

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// Repository defines redemption token data access. Every state transition
// that matters (pin match, used flag) is a conditional update under a row
// lock, never a plain read-then-write.
type Repository interface {
	Create(ctx context.Context, token *Token) error
	GetByID(ctx context.Context, id uuid.UUID) (*Token, error)
	GetByDisplayCode(ctx context.Context, code string) (*Token, error)

	// VerifyPin atomically compares the presented PIN and either flips
	// pin_verified or increments pin_attempts. Returns attempts remaining
	// alongside ErrInvalidPin; ErrPinLocked once the cap is reached.
	VerifyPin(ctx context.Context, tokenID uuid.UUID, presentedPin string, maxAttempts int, now time.Time) (int, error)

	// RunTx executes fn in a transaction, retrying bounded times on
	// serialization failure or deadlock before surfacing ErrConflict.
	RunTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error

	// Tx-scoped steps used by the redemption executor.
	GetForUpdateTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*Token, error)
	MarkUsedTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) error
	InsertRedemptionTx(ctx context.Context, tx *sqlx.Tx, rec *Redemption) error
}

const txMaxAttempts = 3

type repository struct {
	db *sqlx.DB
}

// NewRepository creates redemption repository
func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

const tokenColumns = `
	id, user_id, merchant_id, offer_id, display_code, pin,
	pin_verified, pin_attempts, used, party_size, created_at, expires_at
`

func (r *repository) Create(ctx context.Context, token *Token) error {
	query := `
		INSERT INTO redemption_tokens (
			id, user_id, merchant_id, offer_id, display_code, pin,
			pin_verified, pin_attempts, used, party_size, created_at, expires_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := r.db.ExecContext(ctx, query,
		token.ID,
		token.UserID,
		token.MerchantID,
		token.OfferID,
		token.DisplayCode,
		token.Pin,
		token.PinVerified,
		token.PinAttempts,
		token.Used,
		token.PartySize,
		token.CreatedAt,
		token.ExpiresAt,
	)
	return err
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*Token, error) {
	query := `SELECT ` + tokenColumns + ` FROM redemption_tokens WHERE id = $1`

	var token Token
	err := r.db.GetContext(ctx, &token, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}
	return &token, nil
}

func (r *repository) GetByDisplayCode(ctx context.Context, code string) (*Token, error) {
	// Display codes are reusable across time; only the live (unconsumed,
	// unexpired by index maintenance) most recent match is relevant.
	query := `
		SELECT ` + tokenColumns + `
		FROM redemption_tokens
		WHERE display_code = $1
		ORDER BY created_at DESC
		LIMIT 1
	`

	var token Token
	err := r.db.GetContext(ctx, &token, query, code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}
	return &token, nil
}

func (r *repository) VerifyPin(ctx context.Context, tokenID uuid.UUID, presentedPin string, maxAttempts int, now time.Time) (int, error) {
	var remaining int
	var outcome error

	// Business outcomes are carried out of the closure in `outcome`, not as
	// the closure's error: returning an error would roll back the attempt
	// increment, and a missed wrong-guess counter is exactly the race the
	// lockout exists to prevent.
	err := r.RunTx(ctx, func(tx *sqlx.Tx) error {
		outcome = nil

		token, err := r.GetForUpdateTx(ctx, tx, tokenID)
		if err != nil {
			return err
		}

		// Ordering matters for the caller-visible result: expiry wins over
		// a wrong PIN, a consumed token wins over lockout.
		switch {
		case token.IsExpired(now):
			outcome = ErrTokenExpired
			return nil
		case token.Used:
			outcome = ErrAlreadyUsed
			return nil
		case token.PinAttempts >= maxAttempts:
			outcome = ErrPinLocked
			return nil
		}

		if subtle.ConstantTimeCompare([]byte(token.Pin), []byte(presentedPin)) == 1 {
			remaining = maxAttempts - token.PinAttempts
			_, err := tx.ExecContext(ctx,
				`UPDATE redemption_tokens SET pin_verified = true WHERE id = $1`,
				tokenID,
			)
			return err
		}

		var attempts int
		err = tx.QueryRowContext(ctx,
			`UPDATE redemption_tokens SET pin_attempts = pin_attempts + 1 WHERE id = $1 RETURNING pin_attempts`,
			tokenID,
		).Scan(&attempts)
		if err != nil {
			return err
		}

		remaining = maxAttempts - attempts
		if remaining <= 0 {
			remaining = 0
			outcome = ErrPinLocked
		} else {
			outcome = ErrInvalidPin
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return remaining, outcome
}

func (r *repository) RunTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	var lastErr error

	for attempt := 1; attempt <= txMaxAttempts; attempt++ {
		err := r.runTxOnce(ctx, fn)
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}

		lastErr = err
		log.Warn().
			Err(err).
			Int("attempt", attempt).
			Msg("Transaction conflict, retrying")

		select {
		case <-ctx.Done():
			return ErrTimeout
		case <-time.After(time.Duration(attempt) * 25 * time.Millisecond):
		}
	}

	log.Error().Err(lastErr).Msg("Transaction retries exhausted")
	return ErrConflict
}

func (r *repository) runTxOnce(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// isRetryable reports whether err is a transient Postgres failure
// (serialization_failure or deadlock_detected).
func isRetryable(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "40001" || pqErr.Code == "40P01"
	}
	return false
}

func (r *repository) GetForUpdateTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*Token, error) {
	query := `SELECT ` + tokenColumns + ` FROM redemption_tokens WHERE id = $1 FOR UPDATE`

	var token Token
	err := tx.GetContext(ctx, &token, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}
	return &token, nil
}

func (r *repository) MarkUsedTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) error {
	// The used guard: the WHERE clause makes a double consume impossible
	// even if a caller slips past the in-transaction state checks.
	result, err := tx.ExecContext(ctx,
		`UPDATE redemption_tokens SET used = true WHERE id = $1 AND used = false`,
		id,
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrAlreadyUsed
	}
	return nil
}

func (r *repository) InsertRedemptionTx(ctx context.Context, tx *sqlx.Tx, rec *Redemption) error {
	query := `
		INSERT INTO redemptions (id, token_id, user_id, merchant_id, offer_id, points, redeemed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := tx.ExecContext(ctx, query,
		rec.ID,
		rec.TokenID,
		rec.UserID,
		rec.MerchantID,
		rec.OfferID,
		rec.Points,
		rec.RedeemedAt,
	)
	return err
}
