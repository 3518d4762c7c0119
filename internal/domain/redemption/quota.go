package redemption

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// QuotaEnforcer caps redemptions of one offer by one user per calendar
// month. Quota periods roll over at UTC month boundaries; account-local
// timezones are deliberately not consulted so the bucket key is stable no
// matter which node serves the request.
type QuotaEnforcer struct {
	defaultCap int
}

// NewQuotaEnforcer creates a quota enforcer with the given default cap.
func NewQuotaEnforcer(defaultCap int) *QuotaEnforcer {
	return &QuotaEnforcer{defaultCap: defaultCap}
}

// PeriodKey returns the calendar-month bucket for t, e.g. "2026-02".
func PeriodKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// Cap resolves the effective cap: an offer-specific limit when positive,
// otherwise the configured default.
func (q *QuotaEnforcer) Cap(offerCap int) int {
	if offerCap > 0 {
		return offerCap
	}
	return q.defaultCap
}

// CheckAndReserve increments the usage counter for (user, offer, period)
// inside the caller's transaction, failing with ErrMonthlyLimitReached when
// the cap is already met. The guarded upsert takes a row lock, so concurrent
// finalizations for the same key serialize here; the reservation commits or
// rolls back together with the redemption itself.
func (q *QuotaEnforcer) CheckAndReserve(ctx context.Context, tx *sqlx.Tx, userID, offerID uuid.UUID, periodKey string, limit int) error {
	query := `
		INSERT INTO monthly_usage (user_id, offer_id, period_key, count)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (user_id, offer_id, period_key)
		DO UPDATE SET count = monthly_usage.count + 1
		WHERE monthly_usage.count < $4
		RETURNING count
	`

	var count int
	err := tx.QueryRowContext(ctx, query, userID, offerID, periodKey, limit).Scan(&count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Upsert matched an existing row already at the cap.
			return ErrMonthlyLimitReached
		}
		return err
	}
	if count > limit {
		return ErrMonthlyLimitReached
	}
	return nil
}
