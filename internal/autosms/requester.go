package autosms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/autosms-go/internal/obs"
	"github.com/noah-isme/autosms-go/internal/resilience"
)

const maxResponseBytes = 4 << 20

// Result is the raw outcome of one API call.
type Result struct {
	Body []byte
	// Headers maps lowercased header names to their (comma-joined) values.
	Headers    map[string]string
	StatusCode int
}

// Header returns the value of name, matched case-insensitively.
func (r *Result) Header(name string) (string, bool) {
	if r == nil {
		return "", false
	}
	v, ok := r.Headers[strings.ToLower(name)]
	return v, ok
}

// Post sends body as JSON to endpoint.
func (c *Client) Post(ctx context.Context, endpoint string, body any) (*Result, error) {
	c.resetLastError()
	res, err := c.do(ctx, http.MethodPost, endpoint, body)
	return res, c.fail(err)
}

// Get fetches endpoint.
func (c *Client) Get(ctx context.Context, endpoint string) (*Result, error) {
	c.resetLastError()
	res, err := c.do(ctx, http.MethodGet, endpoint, nil)
	return res, c.fail(err)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any) (*Result, error) {
	ctx, span := c.tracer.Start(ctx, "AutoSMS "+method+" "+endpoint)
	defer span.End()
	span.SetAttributes(
		attribute.String("http.method", method),
		attribute.String("autosms.endpoint", endpoint),
	)

	start := time.Now()
	outcome := "transport_error"
	defer func() {
		label := endpointLabel(endpoint)
		if obs.APIRequestsTotal != nil {
			obs.APIRequestsTotal.WithLabelValues(label, outcome).Inc()
		}
		if obs.APIRequestLatency != nil {
			obs.APIRequestLatency.WithLabelValues(label).Observe(obs.DurationMillis(time.Since(start)))
		}
	}()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			outcome = "encode_error"
			return nil, fmt.Errorf("autosms: encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/"+strings.TrimLeft(endpoint, "/"), reader)
	if err != nil {
		return nil, &TransportError{Method: method, Endpoint: endpoint, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("User-Agent", c.userAgent)

	wrapped := resilience.HTTPClient{
		Client:  c.httpClient,
		Breaker: c.breaker,
		Timeout: c.Timeout(),
	}
	resp, err := wrapped.Do(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport")
		c.logger.Warn().Err(err).Str("method", method).Str("endpoint", endpoint).
			Dur("elapsed", time.Since(start)).Msg("autosms_request_failed")
		if errors.Is(err, resilience.ErrOpenCircuit) {
			outcome = "circuit_open"
		}
		return nil, &TransportError{Method: method, Endpoint: endpoint, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		span.RecordError(err)
		return nil, &TransportError{Method: method, Endpoint: endpoint, Err: fmt.Errorf("read body: %w", err)}
	}
	if len(data) > maxResponseBytes {
		span.RecordError(ErrResponseTooLarge)
		span.SetStatus(codes.Error, "response too large")
		return nil, &TransportError{Method: method, Endpoint: endpoint, Err: ErrResponseTooLarge}
	}
	headers := make(map[string]string, len(resp.Header))
	for name, values := range resp.Header {
		headers[strings.ToLower(name)] = strings.Join(values, ", ")
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	evt := c.logger.Debug().Str("method", method).Str("endpoint", endpoint).
		Int("status", resp.StatusCode).Dur("elapsed", time.Since(start))
	if !c.statusAccepted(resp.StatusCode) {
		outcome = "http_status"
		span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
		evt.Msg("autosms_request_rejected")
		return nil, &HTTPStatusError{Code: resp.StatusCode, Body: data}
	}
	outcome = "ok"
	evt.Msg("autosms_request")
	return &Result{Body: data, Headers: headers, StatusCode: resp.StatusCode}, nil
}

func (c *Client) statusAccepted(code int) bool {
	if c.strictStatus {
		return code == http.StatusOK
	}
	return code >= 200 && code < 300
}

// endpointLabel collapses order ids so metric cardinality stays bounded.
func endpointLabel(endpoint string) string {
	parts := strings.Split(strings.Trim(endpoint, "/"), "/")
	if len(parts) >= 4 && parts[2] == "orders" {
		switch parts[3] {
		case "create", "verify-payment":
		default:
			parts[3] = "{id}"
		}
	}
	return "/" + strings.Join(parts, "/")
}
