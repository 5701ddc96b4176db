package postgres

import (
	"context"
	"fmt"
)

// TruncateForTest removes every row from the knowledge tables. It lives in a
// _test.go file of the postgres package so it can reach the unexported db
// field while remaining callable from the postgres_test package.
func (s *Store) TruncateForTest(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		"TRUNCATE TABLE relationships, usage_events, rating_observations, assets RESTART IDENTITY CASCADE")
	if err != nil {
		return fmt.Errorf("postgres: failed to truncate tables: %w", err)
	}
	return nil
}
