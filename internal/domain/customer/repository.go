package customer

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Repository defines customer data access
type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Customer, error)

	// DebitPointsTx decrements the points balance inside the caller's
	// transaction. The conditional update fails with
	// ErrInsufficientBalance rather than ever driving the ledger negative.
	DebitPointsTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, points int64) error
}

type repository struct {
	db *sqlx.DB
}

// NewRepository creates customer repository
func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*Customer, error) {
	query := `
		SELECT id, display_name, active, device_token, points_balance, created_at, updated_at
		FROM customers
		WHERE id = $1
	`
	var c Customer
	err := r.db.GetContext(ctx, &c, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCustomerNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *repository) DebitPointsTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, points int64) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE customers
		SET points_balance = points_balance - $2, updated_at = NOW()
		WHERE id = $1 AND points_balance >= $2
	`, id, points)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrInsufficientBalance
	}
	return nil
}
