package peer

import (
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
)

func startTestDaemon(t *testing.T, handler http.HandlerFunc) string {
	t.Helper()

	dir := t.TempDir()
	sockPath := filepath.Join(dir, "wgctl.sock")

	l, err := net.Listen("unix", sockPath)
	if err != nil {
		t.Fatalf("listening on unix socket: %v", err)
	}

	srv := &http.Server{Handler: handler}
	go srv.Serve(l)
	t.Cleanup(func() {
		srv.Close()
		os.Remove(sockPath)
	})

	return sockPath
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAddPeerSuccess(t *testing.T) {
	sockPath := startTestDaemon(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-WGCTL-Token") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"action":"added"}`))
	})

	c := NewClient(sockPath, "secret", testLogger())
	action, err := c.AddPeer(t.Context(), "pubkey123", []string{"10.0.0.5/32"})
	if err != nil {
		t.Fatalf("AddPeer() error: %v", err)
	}
	if action != "added" {
		t.Errorf("action = %q, want added", action)
	}
}

func TestAddPeerFailure(t *testing.T) {
	sockPath := startTestDaemon(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	})

	c := NewClient(sockPath, "secret", testLogger())
	if _, err := c.AddPeer(t.Context(), "pubkey123", []string{"10.0.0.5/32"}); err == nil {
		t.Fatal("expected error from AddPeer when daemon returns 500")
	}
}

func TestRemovePeerTreats404AsSuccess(t *testing.T) {
	sockPath := startTestDaemon(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	c := NewClient(sockPath, "secret", testLogger())
	if err := c.RemovePeer(t.Context(), "pubkey123"); err != nil {
		t.Fatalf("RemovePeer() error: %v, want nil for 404", err)
	}
}

func TestRemovePeerPropagatesOtherErrors(t *testing.T) {
	sockPath := startTestDaemon(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	c := NewClient(sockPath, "secret", testLogger())
	if err := c.RemovePeer(t.Context(), "pubkey123"); err == nil {
		t.Fatal("expected error from RemovePeer on 500")
	}
}
