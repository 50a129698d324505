package challenge

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestCheckUsable(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		c       *Challenge
		wantErr error
	}{
		{
			name:    "fresh challenge is usable",
			c:       &Challenge{ID: uuid.New(), ExpiresAt: now.Add(time.Minute)},
			wantErr: nil,
		},
		{
			name:    "consumed challenge is rejected",
			c:       &Challenge{ID: uuid.New(), Consumed: true, ExpiresAt: now.Add(time.Minute)},
			wantErr: ErrConsumed,
		},
		{
			name:    "expired challenge is rejected",
			c:       &Challenge{ID: uuid.New(), ExpiresAt: now.Add(-time.Second)},
			wantErr: ErrExpired,
		},
		{
			name:    "too many tries is rejected",
			c:       &Challenge{ID: uuid.New(), Tries: MaxTries, ExpiresAt: now.Add(time.Minute)},
			wantErr: ErrTooManyTries,
		},
		{
			name:    "consumed takes priority over expired",
			c:       &Challenge{ID: uuid.New(), Consumed: true, ExpiresAt: now.Add(-time.Minute)},
			wantErr: ErrConsumed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckUsable(tt.c, now)
			if err != tt.wantErr {
				t.Errorf("CheckUsable() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
