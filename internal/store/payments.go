package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"contactbot/internal/domain"
)

// PutPayment records a confirmed payment. Re-inserting a known transaction
// is a no-op.
func (s *Store) PutPayment(ctx context.Context, p domain.Payment) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO payments (transaction_log_id, account_id, value_pmob, finalized_block_index, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		p.TransactionLogID, p.AccountID, p.ValuePicoMOB, p.FinalizedBlockIndex, p.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("put payment %s: %w", p.TransactionLogID, err)
	}
	return nil
}

// FindPayment returns the oldest payment of exactly valuePicoMOB that is not
// yet attributed to a user.
func (s *Store) FindPayment(ctx context.Context, valuePicoMOB int64) (domain.Payment, error) {
	var (
		p       domain.Payment
		created int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT p.transaction_log_id, p.account_id, p.value_pmob, p.finalized_block_index, p.created_at
		 FROM payments p
		 LEFT JOIN user_payments u ON u.transaction_log_id = p.transaction_log_id
		 WHERE p.value_pmob = ? AND u.user IS NULL
		 ORDER BY p.created_at LIMIT 1`,
		valuePicoMOB,
	).Scan(&p.TransactionLogID, &p.AccountID, &p.ValuePicoMOB, &p.FinalizedBlockIndex, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Payment{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Payment{}, fmt.Errorf("find payment: %w", err)
	}
	p.CreatedAt = time.Unix(created, 0)
	return p, nil
}

// HasPayment reports whether a transaction is already recorded.
func (s *Store) HasPayment(ctx context.Context, transactionLogID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM payments WHERE transaction_log_id = ?`, transactionLogID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("has payment: %w", err)
	}
	return true, nil
}

func (s *Store) RecordUserPayment(ctx context.Context, user, transactionLogID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_payments (user, transaction_log_id) VALUES (?, ?)
		 ON CONFLICT(user) DO UPDATE SET transaction_log_id = excluded.transaction_log_id, paid_at = CURRENT_TIMESTAMP`,
		user, transactionLogID,
	)
	if err != nil {
		return fmt.Errorf("record payment for %s: %w", user, err)
	}
	return nil
}

func (s *Store) UserPayment(ctx context.Context, user string) (string, error) {
	var tx string
	err := s.db.QueryRowContext(ctx,
		`SELECT transaction_log_id FROM user_payments WHERE user = ?`, user,
	).Scan(&tx)
	if errors.Is(err, sql.ErrNoRows) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("payment for %s: %w", user, err)
	}
	return tx, nil
}
