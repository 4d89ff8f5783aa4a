package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JPierreXiong/subtitleTK-final-backup-sub001/internal/domain"
)

// Ledger debits and refunds user credits.
//
// Refund is idempotent on the credit entry id: the first call returns the
// amount to the user's balance and reports refunded=true, every later call for
// the same entry is a no-op that reports refunded=false.
type Ledger interface {
	Consume(ctx context.Context, userID string, amount int, reason string) (creditID string, err error)
	Refund(ctx context.Context, creditID string) (refunded bool, err error)
	Balance(ctx context.Context, userID string) (int, error)
}

type ledger struct {
	pool *pgxpool.Pool
}

// NewLedger returns a Postgres-backed credit Ledger.
func NewLedger(pool *pgxpool.Pool) Ledger {
	return &ledger{pool: pool}
}

func (l *ledger) Consume(ctx context.Context, userID string, amount int, reason string) (string, error) {
	creditID := uuid.New().String()
	err := pgx.BeginFunc(ctx, l.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE credit_balances
			SET balance = balance - $2, updated_at = clock_timestamp()
			WHERE user_id = $1 AND balance >= $2
		`, userID, amount)
		if err != nil {
			return fmt.Errorf("debit balance: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return &domain.InsufficientCreditsError{UserID: userID, Required: amount}
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO credit_entries (id, user_id, amount, reason, created_at)
			VALUES ($1, $2, $3, $4, clock_timestamp())
		`, creditID, userID, amount, reason)
		if err != nil {
			return fmt.Errorf("insert credit entry: %w", err)
		}
		return nil
	})
	if err != nil {
		var insufficient *domain.InsufficientCreditsError
		if errors.As(err, &insufficient) {
			return "", err
		}
		return "", fmt.Errorf("consume %d credits for %s: %w", amount, userID, err)
	}
	return creditID, nil
}

func (l *ledger) Refund(ctx context.Context, creditID string) (bool, error) {
	refunded := false
	err := pgx.BeginFunc(ctx, l.pool, func(tx pgx.Tx) error {
		var userID string
		var amount int
		err := tx.QueryRow(ctx, `
			UPDATE credit_entries
			SET refunded_at = clock_timestamp()
			WHERE id = $1 AND refunded_at IS NULL
			RETURNING user_id, amount
		`, creditID).Scan(&userID, &amount)
		if errors.Is(err, pgx.ErrNoRows) {
			var exists bool
			if err := tx.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM credit_entries WHERE id = $1)`, creditID,
			).Scan(&exists); err != nil {
				return fmt.Errorf("lookup credit entry: %w", err)
			}
			if !exists {
				return &domain.CreditEntryNotFoundError{CreditID: creditID}
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("mark entry refunded: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE credit_balances
			SET balance = balance + $2, updated_at = clock_timestamp()
			WHERE user_id = $1
		`, userID, amount); err != nil {
			return fmt.Errorf("credit balance: %w", err)
		}
		refunded = true
		return nil
	})
	if err != nil {
		var notFound *domain.CreditEntryNotFoundError
		if errors.As(err, &notFound) {
			return false, err
		}
		return false, fmt.Errorf("refund %s: %w", creditID, err)
	}
	return refunded, nil
}

func (l *ledger) Balance(ctx context.Context, userID string) (int, error) {
	var balance int
	err := l.pool.QueryRow(ctx,
		`SELECT balance FROM credit_balances WHERE user_id = $1`, userID,
	).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("balance for %s: %w", userID, err)
	}
	return balance, nil
}
