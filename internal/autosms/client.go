// Package autosms is a client for the AutoSMS payment verification API. It
// issues bearer-authenticated JSON requests, checks the HMAC signature the
// service attaches to verification responses and exposes the order endpoints
// used by checkout flows.
package autosms

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/autosms-go/internal/resilience"
)

// DefaultTimeout applies when Config.Timeout is zero.
const DefaultTimeout = 30 * time.Second

const defaultUserAgent = "autosms-go/1.0"

// Config carries the connection settings of a Client. Only the timeout may be
// changed after construction, through SetTimeout.
type Config struct {
	BaseURL            string
	APIToken           string
	VerificationSecret string
	Timeout            time.Duration
	UserAgent          string
	// StrictStatus accepts only 200 responses. By default any 2xx succeeds.
	StrictStatus bool
	// AllowInsecureTLS skips certificate verification. Refused when Production is set.
	AllowInsecureTLS bool
	Production       bool
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client. Redirect following is
// always disabled on the copy the Client keeps.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLogger sets the logger used for request and signature events.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithBreaker guards outbound calls with the given circuit breaker.
func WithBreaker(b *resilience.Breaker) Option {
	return func(c *Client) { c.breaker = b }
}

// Client talks to the AutoSMS API. Calls on one Client are safe to make from
// several goroutines, but LastError only remembers the most recent failure.
type Client struct {
	baseURL      string
	token        string
	secret       string
	userAgent    string
	strictStatus bool

	httpClient *http.Client
	breaker    *resilience.Breaker
	validate   *validator.Validate
	logger     zerolog.Logger
	tracer     trace.Tracer

	mu      sync.Mutex
	timeout time.Duration
	lastErr string
}

// NewClient validates cfg and builds a Client.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("autosms: base url is required")
	}
	parsed, err := url.Parse(base)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, fmt.Errorf("autosms: invalid base url %q", cfg.BaseURL)
	}
	token := strings.TrimSpace(cfg.APIToken)
	if token == "" {
		return nil, errors.New("autosms: api token is required")
	}
	if cfg.AllowInsecureTLS && cfg.Production {
		return nil, errors.New("autosms: insecure tls is not allowed in production")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	c := &Client{
		baseURL:      base,
		token:        token,
		secret:       cfg.VerificationSecret,
		userAgent:    userAgent,
		strictStatus: cfg.StrictStatus,
		timeout:      timeout,
		logger:       zerolog.Nop(),
		tracer:       otel.Tracer("autosms.Client"),
		validate:     newValidator(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Transport: newTransport(cfg.AllowInsecureTLS)}
	} else if cfg.Production && skipsVerification(c.httpClient) {
		return nil, errors.New("autosms: http client skips tls verification in production")
	}
	hc := *c.httpClient
	hc.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	c.httpClient = &hc
	if c.breaker == nil {
		c.breaker = resilience.NewBreaker(5, 0.5, 30*time.Second).WithTarget("autosms-api").WithLogger(c.logger)
	}
	return c, nil
}

func newTransport(insecure bool) http.RoundTripper {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	if insecure {
		transport.TLSClientConfig.InsecureSkipVerify = true //nolint:gosec
	}
	return otelhttp.NewTransport(transport)
}

func skipsVerification(hc *http.Client) bool {
	t, ok := hc.Transport.(*http.Transport)
	return ok && t.TLSClientConfig != nil && t.TLSClientConfig.InsecureSkipVerify
}

// Timeout returns the per-request timeout.
func (c *Client) Timeout() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timeout
}

// SetTimeout changes the per-request timeout for subsequent calls.
func (c *Client) SetTimeout(d time.Duration) {
	if d <= 0 {
		d = DefaultTimeout
	}
	c.mu.Lock()
	c.timeout = d
	c.mu.Unlock()
}

// LastError returns the message of the most recent failed call, or "" when the
// latest call succeeded.
func (c *Client) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// HasSecret reports whether responses are signature checked.
func (c *Client) HasSecret() bool { return c.secret != "" }

func (c *Client) resetLastError() {
	c.mu.Lock()
	c.lastErr = ""
	c.mu.Unlock()
}

func (c *Client) fail(err error) error {
	if err == nil {
		return nil
	}
	c.mu.Lock()
	c.lastErr = err.Error()
	c.mu.Unlock()
	return err
}
