// Package gateway mediates every call to the chat completion provider:
// response caching, credential gating, per-model retries with exponential
// backoff, fallback across candidate models, answering-model validation and
// stale-cache degradation.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/northwind-energy/aigateway/pkg/cache"
	"github.com/northwind-energy/aigateway/pkg/config"
	"github.com/northwind-energy/aigateway/pkg/models"
	"github.com/northwind-energy/aigateway/pkg/router"
)

var (
	// ErrMissingCredential means no usable provider key is configured.
	ErrMissingCredential = errors.New("Missing credential")
	// ErrEmptyResponse means a reachable provider returned no content.
	ErrEmptyResponse = errors.New("empty response")
	// ErrDisallowedModel means the answering model is outside the allowed namespaces.
	ErrDisallowedModel = errors.New("answering model not allowed")
	// ErrExhausted means every candidate model failed.
	ErrExhausted = errors.New("all candidate models failed")
	// ErrRetryTooLate means the provider asked for a wait beyond the retry policy.
	ErrRetryTooLate = errors.New("retry-after exceeds max backoff")
)

// UsageRecorder receives a record for every live success.
type UsageRecorder interface {
	Record(ctx context.Context, rec models.UsageRecord) error
}

// Options holds optional Gateway dependencies. All fields may be zero.
type Options struct {
	Logger   *slog.Logger
	Recorder UsageRecorder
	// Timer drives retry waits; tests inject one to avoid sleeping.
	Timer backoff.Timer
	// Async runs usage recording off the caller's path.
	Async func(func())
}

// Gateway is the single entry point for chat completion calls.
type Gateway struct {
	provider  string
	usable    bool
	timeout   time.Duration
	transport Transport
	cache     *cache.ResponseCache
	router    *router.Router
	policy    RetryPolicy
	recorder  UsageRecorder
	async     func(func())
	log       *slog.Logger
}

// New creates a Gateway. rc may be nil to disable response caching.
func New(cfg config.ProviderConfig, t Transport, rc *cache.ResponseCache, opts Options) *Gateway {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	async := opts.Async
	if async == nil {
		async = func(f func()) { go f() }
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	return &Gateway{
		provider:  cfg.Name,
		usable:    config.UsableKey(cfg.APIKey),
		timeout:   timeout,
		transport: t,
		cache:     rc,
		router:    router.New(cfg),
		policy: RetryPolicy{
			MaxAttempts: attempts,
			Base:        cfg.BackoffBase,
			MaxDelay:    cfg.MaxBackoff,
			Timer:       opts.Timer,
		},
		recorder: opts.Recorder,
		async:    async,
		log:      log.With("component", "gateway"),
	}
}

// Configured reports whether a usable provider credential is present.
func (g *Gateway) Configured() bool {
	return g.usable
}

// Provider returns the configured provider name.
func (g *Gateway) Provider() string {
	return g.provider
}

// Forget drops the cached reply stored under key.
func (g *Gateway) Forget(ctx context.Context, key string) {
	if g.cache != nil {
		g.cache.Delete(ctx, key)
	}
}

// Call runs req against the provider. It never returns an error value:
// every outcome is folded into the CallResult variants.
func (g *Gateway) Call(ctx context.Context, req models.CallRequest) models.CallResult {
	if req.CacheKey != "" && g.cache != nil {
		if hit, ok := g.cache.Read(ctx, req.CacheKey); ok {
			hit.ServedFromCache = true
			return models.Succeeded(hit)
		}
	}

	if !g.usable {
		return models.Failed(ErrMissingCredential.Error())
	}

	candidates, err := g.router.Resolve(req.Model, req.CandidateModels)
	if err != nil {
		return models.Failed(err.Error())
	}

	log := g.log.With("feature", metaString(req.Metadata, "feature"), "request_id", metaString(req.Metadata, "request_id"))
	start := time.Now()

	var lastErr error
	for _, model := range candidates {
		out := g.tryModel(ctx, log, model, req)
		switch out.state {
		case stateSucceeded:
			out.success.ServedFromCache = false
			if req.CacheKey != "" && g.cache != nil {
				g.cache.Write(ctx, req.CacheKey, req.CacheTTL, out.success)
			}
			g.recordUsage(req, out, time.Since(start))
			return models.Succeeded(out.success)
		case stateFailed:
			log.Error("gateway call failed", "model", model, "error", out.err)
			return models.Failed(out.err.Error())
		default:
			lastErr = out.err
			log.Warn("candidate model exhausted, advancing", "model", model, "error", out.err)
		}
		if ctx.Err() != nil {
			break
		}
	}

	if req.CacheKey != "" && g.cache != nil {
		if stale, ok := g.cache.ReadStale(ctx, req.CacheKey); ok {
			log.Warn("serving stale cache entry", "key", req.CacheKey, "error", lastErr)
			stale.ServedFromCache = true
			stale.Stale = true
			return models.Succeeded(stale)
		}
	}

	if lastErr == nil {
		lastErr = ErrExhausted
	}
	log.Error("all candidate models failed", "models", candidates, "error", lastErr)
	return models.Failed(lastErr.Error())
}

// modelOutcome is the terminal state of one candidate model.
type modelOutcome struct {
	state   attemptState
	success models.CallSuccess
	usage   *models.Usage
	err     error
}

func (g *Gateway) tryModel(ctx context.Context, log *slog.Logger, model string, req models.CallRequest) modelOutcome {
	payload, err := json.Marshal(buildPayload(model, req))
	if err != nil {
		return modelOutcome{state: stateFailed, err: fmt.Errorf("encode payload: %w", err)}
	}

	bo, hint := g.policy.newBackOff(ctx)
	state := statePending
	attempt := 0
	var out modelOutcome

	op := func() error {
		attempt++
		actx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()

		resp, err := g.transport.Send(actx, payload)
		if err != nil {
			if errors.Is(actx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
				return fmt.Errorf("%s: request timed out after %s", model, g.timeout)
			}
			return fmt.Errorf("%s: transport: %w", model, err)
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			err := fmt.Errorf("%s: provider status %d%s", model, resp.StatusCode, providerMessage(resp.Body))
			if classify(resp.StatusCode) == classTerminal {
				return backoff.Permanent(err)
			}
			if !g.policy.HonorsHint(resp.RetryAfter) {
				return backoff.Permanent(fmt.Errorf("%w (%s): %w", ErrRetryTooLate, resp.RetryAfter, err))
			}
			hint.hint = resp.RetryAfter
			return err
		}

		var parsed models.ChatCompletionResponse
		if err := json.Unmarshal(resp.Body, &parsed); err != nil {
			return fmt.Errorf("%s: malformed provider response: %w", model, err)
		}

		content := ""
		if len(parsed.Choices) > 0 {
			content = strings.TrimSpace(parsed.Choices[0].Message.Content)
		}
		if content == "" {
			return backoff.Permanent(fmt.Errorf("%s: %w", model, ErrEmptyResponse))
		}

		if !g.router.Allowed(parsed.Model, model) {
			return backoff.Permanent(fmt.Errorf("%s answered by %q: %w", model, parsed.Model, ErrDisallowedModel))
		}

		used := parsed.Model
		if used == "" {
			used = model
		}
		out.success = models.CallSuccess{
			Message:    content,
			ModelUsed:  used,
			RawPayload: json.RawMessage(resp.Body),
		}
		out.usage = parsed.Usage
		return nil
	}

	notify := func(err error, wait time.Duration) {
		state = stateRetrying
		log.Warn("provider attempt failed, retrying",
			"model", model, "attempt", attempt, "state", state.String(), "wait", wait, "error", err)
	}

	err = backoff.RetryNotifyWithTimer(op, bo, notify, g.policy.Timer)
	switch {
	case err == nil:
		out.state = stateSucceeded
	case errors.Is(err, ErrEmptyResponse):
		out.state = stateFailed
		out.err = ErrEmptyResponse
	case ctx.Err() != nil:
		out.state = stateModelExhausted
		out.err = fmt.Errorf("%s: %w", model, ctx.Err())
	default:
		out.state = stateModelExhausted
		out.err = err
	}
	return out
}

func buildPayload(model string, req models.CallRequest) models.ChatCompletionRequest {
	p := models.ChatCompletionRequest{
		Model:       model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		Metadata:    req.Metadata,
	}
	if req.MaxTokens > 0 {
		n := req.MaxTokens
		p.MaxTokens = &n
	}
	if req.ResponseFormat == models.FormatJSONObject {
		p.ResponseFormat = &models.ResponseFormat{Type: models.FormatJSONObject}
	}
	return p
}

func (g *Gateway) recordUsage(req models.CallRequest, out modelOutcome, latency time.Duration) {
	if g.recorder == nil {
		return
	}
	rec := models.UsageRecord{
		RequestID: metaString(req.Metadata, "request_id"),
		Feature:   metaString(req.Metadata, "feature"),
		Model:     out.success.ModelUsed,
		LatencyMs: latency.Milliseconds(),
		CreatedAt: time.Now().UTC(),
	}
	if out.usage != nil {
		rec.PromptTokens = out.usage.PromptTokens
		rec.CompletionTokens = out.usage.CompletionTokens
		rec.TotalTokens = out.usage.TotalTokens
	}
	g.async(func() {
		if err := g.recorder.Record(context.Background(), rec); err != nil {
			g.log.Warn("usage record failed", "error", err)
		}
	})
}

// providerMessage extracts the provider error message for logs and failures.
func providerMessage(body []byte) string {
	var pe models.ProviderError
	if err := json.Unmarshal(body, &pe); err == nil && pe.Error.Message != "" {
		return ": " + pe.Error.Message
	}
	return ""
}

func metaString(meta map[string]any, key string) string {
	if meta == nil {
		return ""
	}
	s, _ := meta[key].(string)
	return s
}
