package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"contactbot/internal/domain"
)

func (s *Store) SetGroupRoute(ctx context.Context, route domain.GroupRoute) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// A pair maps to at most one group; the newest announcement wins.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM group_routes WHERE their = ? AND our = ? AND group_id != ?`,
		route.Their, route.Our, route.GroupID,
	); err != nil {
		return fmt.Errorf("set group route: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO group_routes (group_id, their, our) VALUES (?, ?, ?)
		 ON CONFLICT(group_id) DO UPDATE SET their = excluded.their, our = excluded.our`,
		route.GroupID, route.Their, route.Our,
	); err != nil {
		return fmt.Errorf("set group route: %w", err)
	}
	return tx.Commit()
}

func (s *Store) RouteForGroup(ctx context.Context, groupID string) (domain.GroupRoute, error) {
	route := domain.GroupRoute{GroupID: groupID}
	err := s.db.QueryRowContext(ctx,
		`SELECT their, our FROM group_routes WHERE group_id = ?`, groupID,
	).Scan(&route.Their, &route.Our)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.GroupRoute{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.GroupRoute{}, fmt.Errorf("route for group: %w", err)
	}
	return route, nil
}

func (s *Store) GroupForRoute(ctx context.Context, their, our string) (string, error) {
	var groupID string
	err := s.db.QueryRowContext(ctx,
		`SELECT group_id FROM group_routes WHERE their = ? AND our = ?`, their, our,
	).Scan(&groupID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("group for route: %w", err)
	}
	return groupID, nil
}
