// Package gateway is a REST client for the WhatsApp gateway used by the CRM:
// session lifecycle, QR retrieval, media download and audio transcription.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nahidhasan98/wacrm/internal/logger"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout       = 30 * time.Second
	defaultMaxMediaBytes = 16 << 20
	errorBodyLimit       = 4 << 10
)

// StatusError is returned for any non-2xx gateway response
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s returned status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s returned status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// IsStatus reports whether err is a StatusError with the given code
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}

// Client talks to the gateway over HTTP
type Client struct {
	baseURL       *url.URL
	creds         Credentials
	httpClient    *http.Client
	limiter       *rate.Limiter
	transcribeURL string
	maxMediaBytes int64
	mediaHosts    map[string]bool
	log           *logger.Logger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default http.Client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout of the default http.Client
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithRateLimit paces outgoing requests to rps with the given burst
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithTranscribeURL overrides the transcription endpoint
func WithTranscribeURL(u string) Option {
	return func(c *Client) { c.transcribeURL = u }
}

// WithMaxMediaBytes bounds media downloads
func WithMaxMediaBytes(n int64) Option {
	return func(c *Client) { c.maxMediaBytes = n }
}

// WithMediaHosts lists the foreign hosts media may be downloaded from over https.
// Entries match a host name or a host:port pair.
func WithMediaHosts(hosts ...string) Option {
	return func(c *Client) {
		for _, h := range hosts {
			if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
				c.mediaHosts[h] = true
			}
		}
	}
}

// WithLogger sets the client logger
func WithLogger(log *logger.Logger) Option {
	return func(c *Client) { c.log = log }
}

// New creates a gateway client rooted at baseURL
func New(baseURL string, creds Credentials, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid gateway base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("gateway base URL must be absolute: %q", baseURL)
	}
	if creds == nil {
		return nil, fmt.Errorf("gateway credentials are required")
	}

	c := &Client{
		baseURL: u,
		creds:   creds,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return errors.New("too many (>=10) redirects, cancelling request")
				}
				return nil
			},
		},
		limiter:       rate.NewLimiter(rate.Inf, 1),
		transcribeURL: u.String() + "/api/transcribe",
		maxMediaBytes: defaultMaxMediaBytes,
		mediaHosts:    make(map[string]bool),
		log:           logger.Nop(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// BaseURL returns the gateway root
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// resolve turns a gateway-relative path (with optional query) into an absolute URL
func (c *Client) resolve(path string) (string, error) {
	if strings.HasPrefix(path, "/") {
		return c.baseURL.String() + path, nil
	}
	u, err := url.Parse(path)
	if err != nil || !u.IsAbs() {
		return "", fmt.Errorf("invalid gateway path %q", path)
	}
	return u.String(), nil
}

// sameOrigin reports whether u points at the gateway host
func (c *Client) sameOrigin(u *url.URL) bool {
	return strings.EqualFold(u.Scheme, c.baseURL.Scheme) && strings.EqualFold(u.Host, c.baseURL.Host)
}

type request struct {
	method      string
	path        string
	body        io.Reader
	contentType string
	accept      string
	auth        bool
}

// do sends a request and returns the response when the status is 2xx.
// The caller must close the body.
func (c *Client) do(ctx context.Context, r request) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	target, err := c.resolve(r.path)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, r.method, target, r.body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if r.auth {
		token, err := c.creds.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read gateway token: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	if r.accept != "" {
		req.Header.Set("Accept", r.accept)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", r.method, r.path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		c.log.With("method", r.method).
			With("path", r.path).
			With("status", resp.StatusCode).
			Debug("Gateway returned non-2xx status")
		return nil, &StatusError{
			Method:     r.method,
			Path:       r.path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	return resp, nil
}

// doJSON sends an optional JSON body and decodes a JSON response into out when out is not nil
func (c *Client) doJSON(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}

	resp, err := c.do(ctx, request{
		method:      method,
		path:        path,
		body:        body,
		contentType: contentType,
		accept:      "application/json",
		auth:        true,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}
