// Package client is the Go client for the emergency stop operator's HTTP API.
// The safety supervisor uses it to issue takeover requests; test rigs use it
// to feed driving commands.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/http2"

	"github.com/mrm/emergencystop/internal/control"
)

// Config holds client configuration.
type Config struct {
	BaseURL string        // e.g. "http://localhost:8080"
	Token   string        // Bearer token; empty when auth is disabled
	H2C     bool          // speak cleartext HTTP/2 with prior knowledge
	Timeout time.Duration // per-request timeout (default: 5s)
}

// Client talks to a running operator.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates a client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("BaseURL required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	hc := &http.Client{Timeout: cfg.Timeout}
	if cfg.H2C {
		hc.Transport = buildH2CTransport()
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http:    hc,
	}, nil
}

// buildH2CTransport returns an HTTP/2 transport that dials plain TCP, for
// servers started with MRM_HTTP_H2C=true.
func buildH2CTransport() *http2.Transport {
	return &http2.Transport{
		AllowHTTP: true,
		DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, addr)
		},
	}
}

// Operate sends a takeover request and returns the operator's success flag.
func (c *Client) Operate(ctx context.Context, activate bool) (bool, error) {
	var resp struct {
		Response struct {
			Success bool `json:"success"`
		} `json:"response"`
	}
	body := map[string]bool{"operate": activate}
	if err := c.do(ctx, http.MethodPost, "/api/v1/mrm/emergency_stop/operate", body, &resp); err != nil {
		return false, err
	}
	return resp.Response.Success, nil
}

// SendControlCommand feeds one upstream driving command. Returns whether the
// operator stored it (false while an emergency stop is in progress).
func (c *Client) SendControlCommand(ctx context.Context, cmd control.ControlCommand) (bool, error) {
	var resp struct {
		Stored bool `json:"stored"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/control/control_cmd", cmd, &resp); err != nil {
		return false, err
	}
	return resp.Stored, nil
}

// Status returns the latest published status report.
func (c *Client) Status(ctx context.Context) (control.StatusReport, error) {
	var status control.StatusReport
	err := c.do(ctx, http.MethodGet, "/api/v1/mrm/emergency_stop/status", nil, &status)
	return status, err
}

// ControlCommand returns the latest published control command.
func (c *Client) ControlCommand(ctx context.Context) (control.ControlCommand, error) {
	var cmd control.ControlCommand
	err := c.do(ctx, http.MethodGet, "/api/v1/mrm/emergency_stop/control_cmd", nil, &cmd)
	return cmd, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&apiErr)
		return &StatusError{Code: resp.StatusCode, Message: apiErr.Error}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Code)
	}
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Message)
}
