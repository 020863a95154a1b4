// Package concierge answers site visitors' chat questions about the company.
package concierge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/northwind-energy/aigateway/pkg/cache"
	"github.com/northwind-energy/aigateway/pkg/config"
	"github.com/northwind-energy/aigateway/pkg/models"
)

// Gateway is the chat completion dependency.
type Gateway interface {
	Call(ctx context.Context, req models.CallRequest) models.CallResult
	Configured() bool
	Provider() string
}

// Checker screens the latest user message.
type Checker interface {
	Check(ctx context.Context, message string) models.SafetyVerdict
}

// Reply is the concierge response returned to the site.
type Reply struct {
	Reply       string   `json:"reply"`
	Insights    []string `json:"insights"`
	Suggestions []string `json:"suggestions"`
	Source      string   `json:"source"`
	Model       string   `json:"model,omitempty"`
}

// Concierge runs the chat state machine: fallback, cache, guardrail,
// credential check, then a live gateway call.
type Concierge struct {
	gw        Gateway
	safety    Checker
	knowledge string
	cfg       config.ConciergeConfig
	answers   *cache.TTLMap[Reply]
	log       *slog.Logger
}

// New creates a Concierge. knowledge is embedded in every system prompt and
// is built once by the caller. safety may be nil.
func New(gw Gateway, safety Checker, knowledge string, cfg config.ConciergeConfig, log *slog.Logger) *Concierge {
	if log == nil {
		log = slog.Default()
	}
	if cfg.HistoryTurns <= 0 {
		cfg.HistoryTurns = 12
	}
	if cfg.FallbackReply == "" {
		cfg.FallbackReply = config.Default().Concierge.FallbackReply
	}
	if cfg.DeclineReply == "" {
		cfg.DeclineReply = config.Default().Concierge.DeclineReply
	}
	return &Concierge{
		gw:        gw,
		safety:    safety,
		knowledge: knowledge,
		cfg:       cfg,
		answers:   cache.NewTTLMap[Reply](nil),
		log:       log.With("component", "concierge"),
	}
}

// Reply answers the conversation. It never fails; degraded paths are
// reported through Reply.Source.
func (c *Concierge) Reply(ctx context.Context, messages []models.ChatMessage) Reply {
	question := latestUserMessage(messages)
	if question == "" {
		return c.fallback()
	}

	key := questionKey(question)
	if r, ok := c.answers.Get(key); ok {
		r.Source = models.SourceCache
		return r
	}

	if c.safety != nil {
		if v := c.safety.Check(ctx, question); !v.Allowed {
			reason := v.Reason
			if reason == "" {
				reason = c.cfg.DeclineReply
			}
			return Reply{Reply: reason, Insights: []string{}, Suggestions: []string{}, Source: models.SourceGuardrail}
		}
	}

	if !c.gw.Configured() {
		return c.cachedOrFallback(key)
	}

	history := trimHistory(messages, c.cfg.HistoryTurns)
	temp := c.cfg.Temperature
	res := c.gw.Call(ctx, models.CallRequest{
		Messages:       append([]models.ChatMessage{{Role: models.RoleSystem, Content: c.systemPrompt()}}, history...),
		MaxTokens:      c.cfg.MaxTokens,
		Temperature:    &temp,
		ResponseFormat: models.FormatJSONObject,
		CacheKey:       "concierge:" + historyKey(history),
		CacheTTL:       c.cfg.CacheTTL,
		Metadata:       map[string]any{"feature": "concierge", "request_id": models.RequestID(ctx)},
	})
	if !res.OK() {
		c.log.Warn("concierge call failed", "error", res.Err())
		return c.cachedOrFallback(key)
	}

	reply := parseReply(res.Success.Message)
	reply.Model = res.Success.ModelUsed
	c.answers.Set(key, reply, c.cfg.CacheTTL)

	reply.Source = c.gw.Provider()
	if res.Success.ServedFromCache {
		reply.Source = models.SourceCache
	}
	return reply
}

func (c *Concierge) cachedOrFallback(key string) Reply {
	if r, ok := c.answers.Get(key); ok {
		r.Source = models.SourceCache
		return r
	}
	return c.fallback()
}

func (c *Concierge) fallback() Reply {
	return Reply{
		Reply:       c.cfg.FallbackReply,
		Insights:    []string{},
		Suggestions: []string{},
		Source:      models.SourceFallback,
	}
}

func (c *Concierge) systemPrompt() string {
	return fmt.Sprintf(`You are the website concierge for an energy consulting company.
Answer briefly and accurately using only the company facts below. If a question
is outside them, say so and suggest contacting the team.

%s

Respond with a JSON object: {"answer": string, "insights": [string], "suggestions": [string]}.
Suggestions are short follow-up questions the visitor might ask next.`, c.knowledge)
}

// parseReply reads the structured answer; a malformed reply becomes the
// answer text with no insights or suggestions.
func parseReply(raw string) Reply {
	var v struct {
		Answer      string   `json:"answer"`
		Insights    []string `json:"insights"`
		Suggestions []string `json:"suggestions"`
	}
	if err := models.DecodeReply(raw, &v); err != nil || strings.TrimSpace(v.Answer) == "" {
		return Reply{Reply: strings.TrimSpace(raw), Insights: []string{}, Suggestions: []string{}}
	}
	return Reply{
		Reply:       strings.TrimSpace(v.Answer),
		Insights:    nonEmpty(v.Insights),
		Suggestions: nonEmpty(v.Suggestions),
	}
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func latestUserMessage(messages []models.ChatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == models.RoleUser {
			return strings.TrimSpace(messages[i].Content)
		}
	}
	return ""
}

// trimHistory keeps the last n user and assistant turns. System messages
// never come from visitors and are dropped.
func trimHistory(messages []models.ChatMessage, n int) []models.ChatMessage {
	out := make([]models.ChatMessage, 0, len(messages))
	for _, m := range messages {
		if m.Role != models.RoleUser && m.Role != models.RoleAssistant {
			continue
		}
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		out = append(out, m)
	}
	if len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}

func questionKey(q string) string {
	return cache.Fingerprint(32, strings.ToLower(q))
}

func historyKey(history []models.ChatMessage) string {
	parts := make([]string, 0, 2*len(history))
	for _, m := range history {
		parts = append(parts, m.Role, m.Content)
	}
	return cache.Fingerprint(32, parts...)
}
