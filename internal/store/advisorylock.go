package store

import "context"

// WithAdvisoryLock runs fn while holding a session-level Postgres advisory
// lock keyed by the hash of key, serializing fn across every process
// connected to the same database. The lock is released in all cases,
// including when fn panics or the connection is otherwise still usable.
func WithAdvisoryLock(ctx context.Context, db DBTX, key string, fn func(ctx context.Context) error) error {
	if _, err := db.Exec(ctx, "SELECT pg_advisory_lock(hashtext($1))", key); err != nil {
		return err
	}
	defer db.Exec(context.Background(), "SELECT pg_advisory_unlock(hashtext($1))", key)

	return fn(ctx)
}
