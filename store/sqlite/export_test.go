package sqlite

import (
	"context"
	"database/sql"
)

// ExecForTest runs a raw statement on the store's connection or transaction.
func (s *Store) ExecForTest(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.q.ExecContext(ctx, query, args...)
}
