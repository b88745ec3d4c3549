package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"contactbot/internal/domain"
)

// Routing record states.
const (
	StatusAvailable = "available"
	StatusIntent    = "intent"
	StatusBought    = "bought"
	StatusAssigned  = "assigned"
)

// NumberRecord is one row of the routing table.
type NumberRecord struct {
	ID          string
	Destination string
	Status      string
}

// AddAvailable puts an owned number into the available pool.
func (s *Store) AddAvailable(ctx context.Context, number string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO routing (id, status) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET status = excluded.status, destination = NULL, intent_at = NULL, updated_at = CURRENT_TIMESTAMP`,
		number, StatusAvailable,
	)
	if err != nil {
		return fmt.Errorf("add number %s: %w", number, err)
	}
	return nil
}

func (s *Store) Release(ctx context.Context, number string) error {
	return s.AddAvailable(ctx, number)
}

// ListNumbers returns every routing record ordered by number.
func (s *Store) ListNumbers(ctx context.Context) ([]NumberRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, COALESCE(destination, ''), status FROM routing ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list numbers: %w", err)
	}
	defer rows.Close()

	var records []NumberRecord
	for rows.Next() {
		var r NumberRecord
		if err := rows.Scan(&r.ID, &r.Destination, &r.Status); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *Store) NumbersFor(ctx context.Context, user string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM routing WHERE destination = ? ORDER BY updated_at, id`, user)
	if err != nil {
		return nil, fmt.Errorf("numbers for %s: %w", user, err)
	}
	defer rows.Close()

	var numbers []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		numbers = append(numbers, id)
	}
	return numbers, rows.Err()
}

func (s *Store) Destination(ctx context.Context, number string) (string, error) {
	var dest sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT destination FROM routing WHERE id = ?`, number).Scan(&dest)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !dest.Valid) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("destination for %s: %w", number, err)
	}
	return dest.String, nil
}

func (s *Store) SetDestination(ctx context.Context, number, user string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO routing (id, destination, status) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET destination = excluded.destination, status = excluded.status,
		   intent_at = NULL, updated_at = CURRENT_TIMESTAMP`,
		number, user, StatusAssigned,
	)
	if err != nil {
		return fmt.Errorf("set destination for %s: %w", number, err)
	}
	return nil
}

func (s *Store) SweepExpired(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.intentTTL).Unix()
	res, err := s.db.ExecContext(ctx,
		`UPDATE routing SET status = ?, intent_at = NULL, updated_at = CURRENT_TIMESTAMP
		 WHERE status = ? AND destination IS NULL AND intent_at < ?`,
		StatusAvailable, StatusIntent, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("sweep expired intents: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Info("swept expired purchase intents", "count", n)
	}
	return int(n), nil
}

func (s *Store) ClaimAvailable(ctx context.Context, prefix string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`UPDATE routing SET status = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = (
		   SELECT id FROM routing
		   WHERE status = ? AND destination IS NULL AND id LIKE ? || '%'
		   ORDER BY id LIMIT 1
		 )
		 RETURNING id`,
		StatusBought, StatusAvailable, prefix,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("claim available number: %w", err)
	}
	return id, nil
}

func (s *Store) IntendToBuy(ctx context.Context, number string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO routing (id, status, intent_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET status = excluded.status, intent_at = excluded.intent_at, updated_at = CURRENT_TIMESTAMP`,
		number, StatusIntent, s.now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("intend to buy %s: %w", number, err)
	}
	return nil
}

func (s *Store) MarkBought(ctx context.Context, number string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE routing SET status = ?, intent_at = NULL, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		StatusBought, number,
	)
	if err != nil {
		return fmt.Errorf("mark %s bought: %w", number, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("mark %s bought: %w", number, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, number string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM routing WHERE id = ?`, number); err != nil {
		return fmt.Errorf("delete %s: %w", number, err)
	}
	return nil
}

// NormalizeDestinations rewrites every stored destination through
// normalize, skipping values it rejects. It returns the number changed.
func (s *Store) NormalizeDestinations(ctx context.Context, normalize func(string) (string, error)) (int, error) {
	records, err := s.ListNumbers(ctx)
	if err != nil {
		return 0, err
	}
	changed := 0
	for _, r := range records {
		if r.Destination == "" {
			continue
		}
		normalized, err := normalize(r.Destination)
		if err != nil {
			s.logger.Warn("cannot normalize destination", "number", r.ID, "destination", r.Destination, "error", err)
			continue
		}
		if normalized == r.Destination {
			continue
		}
		if _, err := s.db.ExecContext(ctx,
			`UPDATE routing SET destination = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
			normalized, r.ID,
		); err != nil {
			return changed, fmt.Errorf("normalize destination for %s: %w", r.ID, err)
		}
		changed++
	}
	return changed, nil
}
