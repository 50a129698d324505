package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/latticevpn/sessiond/internal/apierr"
	"github.com/latticevpn/sessiond/pkg/challenge"
)

func TestCheckUsableMapsChallengeErrors(t *testing.T) {
	now := time.Now().UTC()

	tests := []struct {
		name     string
		c        *challenge.Challenge
		wantKind apierr.Kind
		wantNil  bool
	}{
		{
			name:    "usable challenge passes through",
			c:       &challenge.Challenge{ID: uuid.New(), ExpiresAt: now.Add(time.Minute)},
			wantNil: true,
		},
		{
			name:     "consumed maps to gone",
			c:        &challenge.Challenge{ID: uuid.New(), Consumed: true, ExpiresAt: now.Add(time.Minute)},
			wantKind: apierr.KindGone,
		},
		{
			name:     "expired maps to gone",
			c:        &challenge.Challenge{ID: uuid.New(), ExpiresAt: now.Add(-time.Second)},
			wantKind: apierr.KindGone,
		},
		{
			name:     "too many tries maps to too_many_attempts",
			c:        &challenge.Challenge{ID: uuid.New(), Tries: challenge.MaxTries, ExpiresAt: now.Add(time.Minute)},
			wantKind: apierr.KindTooManyAttempts,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkUsable(tt.c)
			if tt.wantNil {
				if err != nil {
					t.Fatalf("checkUsable() = %v, want nil", err)
				}
				return
			}

			var apiErr *apierr.Error
			if !errors.As(err, &apiErr) {
				t.Fatalf("checkUsable() = %v, want an *apierr.Error", err)
			}
			if apiErr.Kind != tt.wantKind {
				t.Errorf("Kind = %v, want %v", apiErr.Kind, tt.wantKind)
			}
		})
	}
}
