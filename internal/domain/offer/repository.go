package offer

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Repository defines offer data access
type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Offer, error)
	ListActive(ctx context.Context, limit, offset int) ([]*Offer, error)
	ListByMerchant(ctx context.Context, merchantID uuid.UUID) ([]*Offer, error)
}

type repository struct {
	db *sqlx.DB
}

// NewRepository creates offer repository
func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

const offerColumns = `
	id, merchant_id, title, description, points_cost, monthly_limit,
	status, starts_at, ends_at, created_at, updated_at
`

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*Offer, error) {
	query := `SELECT ` + offerColumns + ` FROM offers WHERE id = $1`

	var o Offer
	err := r.db.GetContext(ctx, &o, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOfferNotFound
		}
		return nil, err
	}
	return &o, nil
}

func (r *repository) ListActive(ctx context.Context, limit, offset int) ([]*Offer, error) {
	query := `
		SELECT ` + offerColumns + `
		FROM offers
		WHERE status = 'active'
		  AND (starts_at IS NULL OR starts_at <= NOW())
		  AND (ends_at IS NULL OR ends_at > NOW())
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`
	var offers []*Offer
	if err := r.db.SelectContext(ctx, &offers, query, limit, offset); err != nil {
		return nil, err
	}
	return offers, nil
}

func (r *repository) ListByMerchant(ctx context.Context, merchantID uuid.UUID) ([]*Offer, error) {
	query := `
		SELECT ` + offerColumns + `
		FROM offers
		WHERE merchant_id = $1
		ORDER BY created_at DESC
	`
	var offers []*Offer
	if err := r.db.SelectContext(ctx, &offers, query, merchantID); err != nil {
		return nil, err
	}
	return offers, nil
}
