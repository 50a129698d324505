package session

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeDBTX is a minimal store.DBTX stub that records executed statements
// without touching a real database, used to exercise the mutating paths of
// ExpireIfNeeded in isolation.
type fakeDBTX struct {
	execs []string
}

func (f *fakeDBTX) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, sql)
	return pgconn.CommandTag{}, nil
}

func (f *fakeDBTX) Query(_ context.Context, _ string, _ ...any) (pgx.Rows, error) {
	return nil, nil
}

func (f *fakeDBTX) QueryRow(_ context.Context, _ string, _ ...any) pgx.Row {
	return nil
}

func TestExpireIfNeededFlipsPastDueActiveSession(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	sess := &Session{ID: "s1", Status: StatusActive, ExpiresAt: now.Add(-time.Second)}

	store := NewStore()
	if err := store.ExpireIfNeeded(context.Background(), &fakeDBTX{}, sess, now); err != nil {
		t.Fatalf("ExpireIfNeeded returned error for past-due session: %v", err)
	}
	if sess.Status != StatusExpired {
		t.Errorf("Status = %v, want %v", sess.Status, StatusExpired)
	}
}

func TestExpireIfNeededLeavesFreshActiveSessionAlone(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	sess := &Session{ID: "s1", Status: StatusActive, ExpiresAt: now.Add(time.Minute)}

	store := NewStore()
	if err := store.ExpireIfNeeded(context.Background(), nil, sess, now); err != nil {
		t.Fatalf("ExpireIfNeeded returned error: %v", err)
	}
	if sess.Status != StatusActive {
		t.Errorf("Status = %v, want %v", sess.Status, StatusActive)
	}
}

func TestExpireIfNeededIgnoresNonActiveSession(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	sess := &Session{ID: "s1", Status: StatusRevoked, ExpiresAt: now.Add(-time.Hour)}

	store := NewStore()
	if err := store.ExpireIfNeeded(context.Background(), nil, sess, now); err != nil {
		t.Fatalf("ExpireIfNeeded returned error: %v", err)
	}
	if sess.Status != StatusRevoked {
		t.Errorf("Status = %v, want %v (should not touch non-active sessions)", sess.Status, StatusRevoked)
	}
}

func TestExpireIfNeededBoundaryIsInclusive(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	sess := &Session{ID: "s1", Status: StatusActive, ExpiresAt: now}

	store := NewStore()
	if err := store.ExpireIfNeeded(context.Background(), &fakeDBTX{}, sess, now); err != nil {
		t.Fatalf("ExpireIfNeeded returned error: %v", err)
	}
	if sess.Status != StatusExpired {
		t.Errorf("Status = %v, want %v (now == expires_at should expire)", sess.Status, StatusExpired)
	}
}

func TestRenewalWindowMath(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	maxExpires := now.Add(2 * time.Hour)

	tests := []struct {
		name       string
		currentExp time.Time
		ttlStep    time.Duration
		wantExp    time.Time
		wantExtend bool
	}{
		{
			name:       "normal extension within cap",
			currentExp: now.Add(5 * time.Minute),
			ttlStep:    15 * time.Minute,
			wantExp:    now.Add(15 * time.Minute),
			wantExtend: true,
		},
		{
			name:       "extension capped at max_expires_at",
			currentExp: now.Add(5 * time.Minute),
			ttlStep:    3 * time.Hour,
			wantExp:    maxExpires,
			wantExtend: true,
		},
		{
			name:       "step shorter than remaining TTL yields no extension",
			currentExp: now.Add(time.Hour),
			ttlStep:    time.Minute,
			wantExtend: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			newExpires := now.Add(tt.ttlStep)
			if newExpires.After(maxExpires) {
				newExpires = maxExpires
			}
			extends := newExpires.After(tt.currentExp)

			if extends != tt.wantExtend {
				t.Fatalf("extends = %v, want %v", extends, tt.wantExtend)
			}
			if tt.wantExtend && !newExpires.Equal(tt.wantExp) {
				t.Errorf("newExpires = %v, want %v", newExpires, tt.wantExp)
			}
		})
	}
}
