package models

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// Format values for CallRequest.ResponseFormat.
const (
	FormatNone       = ""
	FormatJSONObject = "json_object"
)

// CallRequest is a single request to the chat completion gateway.
type CallRequest struct {
	Messages       []ChatMessage
	MaxTokens      int
	Temperature    *float64
	ResponseFormat string
	CacheKey       string
	CacheTTL       time.Duration
	// Model overrides the configured default model for this call.
	Model string
	// CandidateModels are tried after Model, in order.
	CandidateModels []string
	Metadata        map[string]any
}

// CallSuccess is the success variant of CallResult.
type CallSuccess struct {
	Message         string          `json:"message"`
	ModelUsed       string          `json:"model_used"`
	RawPayload      json.RawMessage `json:"raw_payload,omitempty"`
	ServedFromCache bool            `json:"served_from_cache"`
	// Stale is set when the value came from an expired cache entry after
	// every candidate model failed.
	Stale bool `json:"stale,omitempty"`
}

// CallFailure is the failure variant of CallResult.
type CallFailure struct {
	ErrorMessage string `json:"error_message"`
}

// CallResult carries exactly one of Success or Failure.
type CallResult struct {
	Success *CallSuccess
	Failure *CallFailure
}

// Succeeded wraps s in a CallResult.
func Succeeded(s CallSuccess) CallResult {
	return CallResult{Success: &s}
}

// Failed builds a failure CallResult.
func Failed(msg string) CallResult {
	return CallResult{Failure: &CallFailure{ErrorMessage: msg}}
}

// OK reports whether r is the success variant.
func (r CallResult) OK() bool {
	return r.Success != nil
}

// Err returns the failure message, or "" on success.
func (r CallResult) Err() string {
	if r.Failure == nil {
		return ""
	}
	return r.Failure.ErrorMessage
}

// SafetyVerdict is the classifier decision for one user message.
type SafetyVerdict struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// TranslationEntry is one keyed source string to translate.
type TranslationEntry struct {
	Key  string `json:"key"`
	Text string `json:"text"`
}

// Response sources reported to site clients.
const (
	SourceCache     = "cache"
	SourceFallback  = "fallback"
	SourceGuardrail = "guardrail"
)

// DecodeReply decodes a structured model reply into v. Code fences and prose
// around the outermost JSON object are ignored.
func DecodeReply(raw string, v any) error {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		raw = raw[start : end+1]
	}
	return json.Unmarshal([]byte(raw), v)
}

type requestIDKey struct{}

// WithRequestID attaches the inbound request ID to ctx so feature callers
// can forward it as call metadata.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the request ID attached to ctx, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
