package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// SecondaryClient calls a public gtx-style translation endpoint, one text per
// request.
type SecondaryClient struct {
	endpoint string
	client   *http.Client
}

// NewSecondaryClient creates a SecondaryClient. A nil client gets one with
// the given timeout.
func NewSecondaryClient(endpoint string, timeout time.Duration, client *http.Client) *SecondaryClient {
	if client == nil {
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &SecondaryClient{endpoint: endpoint, client: client}
}

// Translate returns text translated from source to target.
func (s *SecondaryClient) Translate(ctx context.Context, text, source, target string) (string, error) {
	if s.endpoint == "" {
		return "", fmt.Errorf("secondary translation: no endpoint configured")
	}
	params := url.Values{
		"client": {"gtx"},
		"sl":     {source},
		"tl":     {target},
		"dt":     {"t"},
		"q":      {text},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("secondary translation: create request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("secondary translation: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("secondary translation: read: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("secondary translation: status %d", resp.StatusCode)
	}
	out, err := parseSegments(body)
	if err != nil {
		return "", fmt.Errorf("secondary translation: %w", err)
	}
	if strings.TrimSpace(out) == "" {
		return "", fmt.Errorf("secondary translation: empty result")
	}
	return out, nil
}

// parseSegments concatenates data[0][i][0] of the nested array reply.
func parseSegments(body []byte) (string, error) {
	var top []json.RawMessage
	if err := json.Unmarshal(body, &top); err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}
	if len(top) == 0 {
		return "", fmt.Errorf("decode: empty reply")
	}
	var segments []json.RawMessage
	if err := json.Unmarshal(top[0], &segments); err != nil {
		return "", fmt.Errorf("decode segments: %w", err)
	}

	var b strings.Builder
	for _, raw := range segments {
		var seg []json.RawMessage
		if err := json.Unmarshal(raw, &seg); err != nil || len(seg) == 0 {
			continue
		}
		var piece string
		if err := json.Unmarshal(seg[0], &piece); err != nil {
			continue
		}
		b.WriteString(piece)
	}
	return b.String(), nil
}
