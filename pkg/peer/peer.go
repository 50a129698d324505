// Package peer is the RPC client for the local wgctl daemon, which owns the
// actual WireGuard interface. All calls are best-effort HTTP over a Unix
// domain socket; this package never touches WireGuard state directly.
package peer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// Client talks to wgctl over a Unix domain socket.
type Client struct {
	httpClient *http.Client
	token      string
	logger     *slog.Logger
}

// NewClient creates a Client that dials socketPath for every request.
func NewClient(socketPath, token string, logger *slog.Logger) *Client {
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socketPath)
		},
	}
	return &Client{
		httpClient: &http.Client{Transport: transport, Timeout: 5 * time.Second},
		token:      token,
		logger:     logger,
	}
}

type addPeerRequest struct {
	Pubkey     string   `json:"pubkey"`
	AllowedIPs []string `json:"allowed_ips"`
}

type addPeerResponse struct {
	Action string `json:"action"`
}

type removePeerRequest struct {
	Pubkey string `json:"pubkey"`
}

// AddPeer registers a client public key with the daemon, returning the
// action the daemon reports having taken (e.g. "added", "updated").
func (c *Client) AddPeer(ctx context.Context, pubkey string, allowedIPs []string) (string, error) {
	var out addPeerResponse
	if err := c.do(ctx, http.MethodPost, "/peer/add", addPeerRequest{
		Pubkey:     pubkey,
		AllowedIPs: allowedIPs,
	}, &out); err != nil {
		return "", fmt.Errorf("adding peer: %w", err)
	}

	c.logger.Info("peer added", "pubkey", pubkey, "action", out.Action)
	return out.Action, nil
}

// RemovePeer deregisters a client public key with the daemon. A 404 response
// is treated as success: the desired end state (peer absent) already holds,
// so a retry of a previously-successful remove is idempotent.
func (c *Client) RemovePeer(ctx context.Context, pubkey string) error {
	err := c.do(ctx, http.MethodPost, "/peer/remove", removePeerRequest{Pubkey: pubkey}, nil)
	if err == nil {
		c.logger.Info("peer removed", "pubkey", pubkey)
		return nil
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
		c.logger.Info("peer already absent", "pubkey", pubkey)
		return nil
	}

	return fmt.Errorf("removing peer: %w", err)
}

// StatusError is returned when wgctl responds with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("wgctl responded %d: %s", e.StatusCode, e.Body)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, "http://wgctl"+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-WGCTL-Token", c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling wgctl: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}

	return nil
}
