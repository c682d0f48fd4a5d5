// Package api is the single chokepoint for every network call made by datadash.
// It attaches the session credential, classifies HTTP outcomes into success,
// auth failure and generic failure, and drops the session on any 401.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/greg-hellings/datadash/pkg/session"
)

// DefaultBaseURL is used when no base URL is configured.
const DefaultBaseURL = "http://127.0.0.1:8000/api"

// maxErrorBody caps how much of a failed response body is kept as the error message.
const maxErrorBody = 64 << 10

// Credentials is the narrow view of the session store the gateway needs.
type Credentials interface {
	Credential() (string, bool)
	Clear() error
}

// SessionWriter persists a verified session.
type SessionWriter interface {
	Set(username, credential string) error
}

// Config holds gateway configuration.
type Config struct {
	// BaseURL of the backend API. Blank means DefaultBaseURL.
	BaseURL string

	// HTTPClient supplies the base transport and timeout. Nil uses http.DefaultTransport
	// and no timeout.
	HTTPClient *http.Client

	Logger *slog.Logger
}

// Request describes one call through the gateway.
type Request struct {
	Method      string // defaults to GET
	Path        string // relative to the base URL, e.g. "/datasets/"
	Query       url.Values
	Body        io.Reader
	ContentType string
}

// User is the identity returned by GET /me/.
type User struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
}

// Client performs authenticated requests against the backend.
type Client struct {
	baseURL string
	base    http.RoundTripper
	timeout time.Duration
	http    *http.Client
	session Credentials
	logger  *slog.Logger
}

// ResolveBaseURL trims raw and falls back to DefaultBaseURL when blank.
func ResolveBaseURL(raw string) string {
	v := strings.TrimSpace(raw)
	if v == "" {
		v = DefaultBaseURL
	}
	return strings.TrimRight(v, "/")
}

// NewClient creates a gateway bound to the given session.
func NewClient(cfg Config, sess Credentials) (*Client, error) {
	if sess == nil {
		return nil, errors.New("api: session is required")
	}
	baseURL := ResolveBaseURL(cfg.BaseURL)
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("api: invalid base URL %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("api: base URL %q must use http or https", baseURL)
	}

	base := http.DefaultTransport
	var timeout time.Duration
	if cfg.HTTPClient != nil {
		if cfg.HTTPClient.Transport != nil {
			base = cfg.HTTPClient.Transport
		}
		timeout = cfg.HTTPClient.Timeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		baseURL: baseURL,
		base:    base,
		timeout: timeout,
		session: sess,
		logger:  logger,
	}
	c.http = &http.Client{
		Transport: &oauth2.Transport{Source: sessionTokenSource{sess: sess}, Base: base},
		Timeout:   timeout,
	}
	return c, nil
}

// BaseURL returns the resolved base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// sessionTokenSource reads the session on every request so a cleared
// session is observed immediately.
type sessionTokenSource struct {
	sess Credentials
}

func (s sessionTokenSource) Token() (*oauth2.Token, error) {
	cred, ok := s.sess.Credential()
	if !ok {
		return nil, ErrNoSession
	}
	return basicToken(cred), nil
}

func basicToken(credential string) *oauth2.Token {
	return &oauth2.Token{AccessToken: credential, TokenType: "Basic"}
}

// Do performs r and decodes a 2xx JSON body into out (ignored when out is nil).
func (c *Client) Do(ctx context.Context, r Request, out any) error {
	resp, err := c.send(ctx, c.http, r)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.classify(resp); err != nil {
		return err
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("api: decode %s response: %w", r.Path, err)
	}
	return nil
}

// Download performs an authenticated GET and returns the raw body.
func (c *Client) Download(ctx context.Context, path string) ([]byte, error) {
	resp, err := c.send(ctx, c.http, Request{Method: http.MethodGet, Path: path})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := c.classify(resp); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("api: read %s: %w", path, err)
	}
	return data, nil
}

// Probe checks a candidate credential against GET /me/ without touching the
// session. Any 2xx means the credential is valid.
func (c *Client) Probe(ctx context.Context, credential string) error {
	probe := &http.Client{
		Transport: &oauth2.Transport{Source: oauth2.StaticTokenSource(basicToken(credential)), Base: c.base},
		Timeout:   c.timeout,
	}
	resp, err := c.send(ctx, probe, Request{Method: http.MethodGet, Path: "/me/"})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w (status %d)", ErrInvalidCredentials, resp.StatusCode)
	}
	return nil
}

// Login derives the credential, verifies it with Probe and only then
// persists it through store.
func (c *Client) Login(ctx context.Context, store SessionWriter, username, password string) error {
	cred := session.BuildCredential(username, password)
	if err := c.Probe(ctx, cred); err != nil {
		c.logger.Info("Login rejected", "username", username, "error", err)
		return err
	}
	if err := store.Set(username, cred); err != nil {
		return fmt.Errorf("api: persist session: %w", err)
	}
	return nil
}

// Me returns the identity behind the current session.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var u User
	if err := c.Do(ctx, Request{Path: "/me/"}, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *Client) send(ctx context.Context, hc *http.Client, r Request) (*http.Response, error) {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}
	target := c.baseURL + r.Path
	if len(r.Query) > 0 {
		target += "?" + r.Query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, r.Body)
	if err != nil {
		return nil, fmt.Errorf("api: build request: %w", err)
	}
	if r.ContentType != "" {
		req.Header.Set("Content-Type", r.ContentType)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := hc.Do(req)
	if err != nil {
		if errors.Is(err, ErrNoSession) {
			c.logger.Debug("Request refused locally, no session", "method", method, "path", r.Path)
			return nil, fmt.Errorf("%w: %w", ErrUnauthorized, ErrNoSession)
		}
		return nil, fmt.Errorf("api: %s %s: %w", method, r.Path, err)
	}
	c.logger.Debug("API request",
		"method", method,
		"path", r.Path,
		"status", resp.StatusCode,
		"duration", time.Since(start).String())
	return resp, nil
}

// classify maps non-2xx responses onto the gateway error taxonomy.
func (c *Client) classify(resp *http.Response) error {
	if resp.StatusCode == http.StatusUnauthorized {
		if err := c.session.Clear(); err != nil {
			c.logger.Warn("Failed to clear session after 401", "error", err)
		}
		c.logger.Info("Session cleared after 401", "path", resp.Request.URL.Path)
		return ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return newRequestFailed(resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
