package admin

import (
	"context"
	"errors"
	"testing"

	"github.com/latticevpn/sessiond/internal/apierr"
	"github.com/latticevpn/sessiond/internal/httpserver"
)

func TestListSessionsRejectsInvalidStatus(t *testing.T) {
	svc := &Service{}
	_, err := svc.ListSessions(context.Background(), "BOGUS", httpserver.OffsetParams{Page: 1, PageSize: httpserver.DefaultPageSize})

	var apiErr *apierr.Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("ListSessions() error = %v, want *apierr.Error", err)
	}
	if apiErr.Kind != apierr.KindBadRequest {
		t.Errorf("Kind = %v, want %v", apiErr.Kind, apierr.KindBadRequest)
	}
}
