package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"contactbot/internal/domain"
	"contactbot/internal/snapshot"
)

func (s *Store) Claim(ctx context.Context, identity, owner string) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (identity, in_use, owner) VALUES (?, 1, ?)
		 ON CONFLICT(identity) DO UPDATE SET in_use = 1, owner = excluded.owner, updated_at = CURRENT_TIMESTAMP
		 WHERE accounts.in_use = 0`,
		identity, owner,
	)
	if err != nil {
		return fmt.Errorf("claim %s: %w", identity, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var holder string
		s.db.QueryRowContext(ctx, `SELECT owner FROM accounts WHERE identity = ?`, identity).Scan(&holder)
		return fmt.Errorf("claim %s (held by %q): %w", identity, holder, domain.ErrIdentityInUse)
	}
	return nil
}

// Download restores the stored account directory into dir. An identity
// with no stored state leaves dir untouched.
func (s *Store) Download(ctx context.Context, identity, dir string) error {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT datastore FROM accounts WHERE identity = ?`, identity).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && len(data) == 0) {
		s.logger.Info("no stored account state", "identity", identity)
		return nil
	}
	if err != nil {
		return fmt.Errorf("download %s: %w", identity, err)
	}
	if err := snapshot.Unpack(data, dir); err != nil {
		return fmt.Errorf("download %s: %w", identity, err)
	}
	s.logger.Info("account state downloaded", "identity", identity, "bytes", len(data))
	return nil
}

// Upload archives dir as the identity's stored state. Unchanged state is
// not rewritten.
func (s *Store) Upload(ctx context.Context, identity, dir string) error {
	data, err := snapshot.Pack(dir)
	if err != nil {
		return fmt.Errorf("upload %s: %w", identity, err)
	}
	sum := snapshot.Sum(data)

	var current string
	err = s.db.QueryRowContext(ctx, `SELECT checksum FROM accounts WHERE identity = ?`, identity).Scan(&current)
	if err == nil && current == sum {
		s.logger.Debug("account state unchanged", "identity", identity)
		return nil
	}
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("upload %s: %w", identity, err)
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (identity, datastore, checksum) VALUES (?, ?, ?)
		 ON CONFLICT(identity) DO UPDATE SET datastore = excluded.datastore, checksum = excluded.checksum,
		   updated_at = CURRENT_TIMESTAMP`,
		identity, data, sum,
	); err != nil {
		return fmt.Errorf("upload %s: %w", identity, err)
	}
	s.logger.Info("account state uploaded", "identity", identity, "bytes", len(data), "checksum", sum[:12])
	return nil
}

func (s *Store) MarkFreed(ctx context.Context, identity string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET in_use = 0, owner = '', updated_at = CURRENT_TIMESTAMP WHERE identity = ?`,
		identity,
	); err != nil {
		return fmt.Errorf("mark %s freed: %w", identity, err)
	}
	return nil
}
