package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/northwind-energy/aigateway/pkg/config"
)

// Response is the raw outcome of one provider request.
type Response struct {
	StatusCode int
	Body       []byte
	// RetryAfter is the provider's Retry-After hint, zero when absent.
	RetryAfter time.Duration
}

// Transport sends one encoded chat completion payload to the provider.
// Implementations must honor ctx cancellation.
type Transport interface {
	Send(ctx context.Context, payload []byte) (*Response, error)
}

// HTTPTransport posts payloads to an OpenAI-compatible /chat/completions
// endpoint with a bearer credential.
type HTTPTransport struct {
	endpoint string
	apiKey   string
	referer  string
	title    string
	client   *http.Client
}

// NewHTTPTransport builds a transport from the provider configuration. The
// per-attempt timeout is enforced by the gateway through ctx.
func NewHTTPTransport(cfg config.ProviderConfig, client *http.Client) *HTTPTransport {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPTransport{
		endpoint: strings.TrimRight(cfg.URL, "/") + "/chat/completions",
		apiKey:   cfg.APIKey,
		referer:  cfg.Referer,
		title:    cfg.Title,
		client:   client,
	}
}

// Send implements Transport.
func (t *HTTPTransport) Send(ctx context.Context, payload []byte) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.apiKey)
	if t.referer != "" {
		req.Header.Set("HTTP-Referer", t.referer)
	}
	if t.title != "" {
		req.Header.Set("X-Title", t.title)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Body:       body,
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
	}, nil
}

// parseRetryAfter accepts either delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
