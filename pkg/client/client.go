// Package client talks to a running warden daemon over its HTTP API.
//
// The types here mirror the daemon's wire format so importers do not
// need warden's internal packages.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds client configuration.
type Config struct {
	BaseURL string        // daemon address, including any base path
	Token   string        // bearer token, empty when the daemon runs without auth
	Timeout time.Duration // per-request timeout
	TLS     *TLSConfig    // nil uses the system trust store for https URLs
	Logger  *slog.Logger
}

// TLSConfig controls how the client verifies an HTTPS daemon. Daemons
// using a generated self-signed certificate are verified by pointing
// CACert at the daemon's warden.crt.
type TLSConfig struct {
	CACert     string // PEM file holding the daemon certificate or its CA
	ServerName string // expected certificate name, when it differs from the URL host
	SkipVerify bool   // accept any certificate
}

// DefaultConfig returns the configuration matching a stock daemon.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:8420",
		Timeout: 10 * time.Second,
	}
}

// Client is a warden API client. Safe for concurrent use.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *slog.Logger
}

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultConfig().BaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	httpClient := &http.Client{Timeout: cfg.Timeout}
	if cfg.TLS != nil {
		tlsConf, err := cfg.TLS.build()
		if err != nil {
			cfg.Logger.Error("client tls setup failed, using system defaults", "error", err)
		} else {
			httpClient.Transport = &http.Transport{TLSClientConfig: tlsConf}
		}
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		client:  httpClient,
		logger:  cfg.Logger,
	}
}

func (t *TLSConfig) build() (*tls.Config, error) {
	conf := &tls.Config{MinVersion: tls.VersionTLS12}
	if t.SkipVerify {
		conf.InsecureSkipVerify = true // #nosec G402 -- explicit opt-in
		return conf, nil
	}
	if t.ServerName != "" {
		conf.ServerName = t.ServerName
	}
	if t.CACert != "" {
		pem, err := os.ReadFile(filepath.Clean(t.CACert))
		if err != nil {
			return nil, fmt.Errorf("read ca cert: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates in %s", t.CACert)
		}
		conf.RootCAs = pool
	}
	return conf, nil
}

// IsReachable reports whether a daemon answers the health probe.
func (c *Client) IsReachable(ctx context.Context) bool {
	err := c.do(ctx, http.MethodGet, "/healthz", nil, nil)
	if err != nil {
		c.logger.Debug("daemon unreachable", "url", c.baseURL, "error", err)
		return false
	}
	return true
}

// List returns a status snapshot for every known instance.
func (c *Client) List(ctx context.Context) ([]Status, error) {
	var out []Status
	if err := c.do(ctx, http.MethodGet, "/instances", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Register stores a launch definition on the daemon.
func (c *Client) Register(ctx context.Context, spec Spec) error {
	return c.do(ctx, http.MethodPost, "/instances", spec, nil)
}

// Unregister stops the named instance if it is live and forgets its
// definition.
func (c *Client) Unregister(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/instances/"+url.PathEscape(name), nil, nil)
}

// Status returns one instance snapshot.
func (c *Client) Status(ctx context.Context, name string) (Status, error) {
	var out Status
	err := c.do(ctx, http.MethodGet, "/instances/"+url.PathEscape(name), nil, &out)
	return out, err
}

// Start launches the named instance from its registered definition.
func (c *Client) Start(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodPost, "/instances/"+url.PathEscape(name)+"/start", nil, nil)
}

// StartSpec launches the named instance from an inline definition,
// which the daemon also records for later restarts.
func (c *Client) StartSpec(ctx context.Context, name string, spec Spec) error {
	return c.do(ctx, http.MethodPost, "/instances/"+url.PathEscape(name)+"/start", spec, nil)
}

// Stop runs the shutdown ladder. The returned flag is false when the
// instance was already stopped.
func (c *Client) Stop(ctx context.Context, name string) (bool, error) {
	var out struct {
		OK      bool `json:"ok"`
		Stopped bool `json:"stopped"`
	}
	err := c.do(ctx, http.MethodPost, "/instances/"+url.PathEscape(name)+"/stop", nil, &out)
	return out.Stopped, err
}

// Restart stops the instance if running and starts it from its
// definition.
func (c *Client) Restart(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodPost, "/instances/"+url.PathEscape(name)+"/restart", nil, nil)
}

// Send writes one command to the instance console.
func (c *Client) Send(ctx context.Context, name, command string) error {
	body := map[string]string{"command": command}
	return c.do(ctx, http.MethodPost, "/instances/"+url.PathEscape(name)+"/command", body, nil)
}

// Output drains and returns the instance's buffered console lines.
func (c *Client) Output(ctx context.Context, name string) ([]string, error) {
	var out struct {
		Name  string   `json:"name"`
		Lines []string `json:"lines"`
	}
	if err := c.do(ctx, http.MethodGet, "/instances/"+url.PathEscape(name)+"/output", nil, &out); err != nil {
		return nil, err
	}
	return out.Lines, nil
}

// History returns recent lifecycle events, newest first. An empty name
// queries across all instances; limit 0 uses the daemon default.
func (c *Client) History(ctx context.Context, name string, limit int) ([]Event, error) {
	path := "/history"
	if name != "" {
		path = "/instances/" + url.PathEscape(name) + "/history"
	}
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out []Event
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	var body struct {
		Error    string   `json:"error"`
		ExitCode *int     `json:"exit_code"`
		Output   []string `json:"output"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != "" {
		apiErr.Message = body.Error
		apiErr.ExitCode = body.ExitCode
		apiErr.Output = body.Output
	}
	return apiErr
}
