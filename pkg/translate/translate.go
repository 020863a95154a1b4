// Package translate localizes keyed site strings through the gateway, with a
// public translation endpoint as per-entry backup.
package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/northwind-energy/aigateway/pkg/cache"
	"github.com/northwind-energy/aigateway/pkg/config"
	"github.com/northwind-energy/aigateway/pkg/models"
)

const durablePrefix = "tr:"

// batchCacheTTL caps how long a whole batch reply stays in the gateway
// cache. Resolved entries are cached per text for the full CacheTTL.
const batchCacheTTL = time.Hour

// Gateway is the chat completion dependency.
type Gateway interface {
	Call(ctx context.Context, req models.CallRequest) models.CallResult
	Configured() bool
	Provider() string
}

// forgetter is implemented by gateways that can drop a cached reply.
type forgetter interface {
	Forget(ctx context.Context, key string)
}

// Secondary translates a single text.
type Secondary interface {
	Translate(ctx context.Context, text, source, target string) (string, error)
}

// Request asks for entries to be translated into TargetLanguage.
type Request struct {
	TargetLanguage string                    `json:"targetLanguage"`
	Entries        []models.TranslationEntry `json:"entries"`
}

// Response maps every requested key to a translation or its original text.
type Response struct {
	Language     string            `json:"language"`
	Translations map[string]string `json:"translations"`
	Source       string            `json:"source"`
	Stats        Stats             `json:"stats"`
}

// Stats counts how each distinct text was resolved.
type Stats struct {
	Cached       int `json:"cached"`
	Model        int `json:"model"`
	Secondary    int `json:"secondary"`
	Untranslated int `json:"untranslated"`
}

// Response sources specific to translation.
const (
	SourceIdentity  = "identity"
	SourceSecondary = "secondary"
)

type keyed struct {
	source     string
	translated string
}

// group is one distinct (language, text) pair and every key sharing it.
type group struct {
	hash string
	rep  string
	text string
	keys []string
}

// Translator runs the cache, batch, secondary, original-text pipeline.
type Translator struct {
	gw        Gateway
	secondary Secondary
	durable   *cache.Durable
	byKey     *cache.TTLMap[keyed]
	byText    *cache.TTLMap[string]
	cfg       config.TranslateConfig
	log       *slog.Logger
}

// New creates a Translator. secondary and durable may be nil.
func New(gw Gateway, secondary Secondary, durable *cache.Durable, cfg config.TranslateConfig, log *slog.Logger) *Translator {
	if log == nil {
		log = slog.Default()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 40
	}
	if cfg.SourceLanguage == "" {
		cfg.SourceLanguage = "en"
	}
	return &Translator{
		gw:        gw,
		secondary: secondary,
		durable:   durable,
		byKey:     cache.NewTTLMap[keyed](nil),
		byText:    cache.NewTTLMap[string](nil),
		cfg:       cfg,
		log:       log.With("component", "translate"),
	}
}

// ContentHash identifies a (language, text) pair.
func ContentHash(lang, text string) string {
	return cache.Fingerprint(32, lang, text)
}

// Translate never drops a key: unresolved entries keep their source text.
func (t *Translator) Translate(ctx context.Context, req Request) Response {
	lang := normalizeLang(req.TargetLanguage)
	out := Response{Language: lang, Translations: make(map[string]string, len(req.Entries))}

	if lang == "" || lang == normalizeLang(t.cfg.SourceLanguage) || len(req.Entries) == 0 {
		for _, e := range req.Entries {
			out.Translations[e.Key] = e.Text
		}
		out.Source = SourceIdentity
		return out
	}

	groups, order := t.lookup(ctx, lang, req.Entries, &out)
	if len(order) == 0 {
		out.Source = models.SourceCache
		return out
	}

	resolved := make(map[string]string, len(order))
	if t.gw.Configured() {
		for start := 0; start < len(order); start += t.cfg.BatchSize {
			end := min(start+t.cfg.BatchSize, len(order))
			t.translateBatch(ctx, lang, groups, order[start:end], resolved)
		}
	}
	out.Stats.Model = len(resolved)

	for _, h := range order {
		if _, ok := resolved[h]; ok {
			continue
		}
		g := groups[h]
		if text, ok := t.viaSecondary(ctx, lang, g.text); ok {
			resolved[h] = text
			out.Stats.Secondary++
		}
	}

	for _, h := range order {
		g := groups[h]
		text, ok := resolved[h]
		if !ok {
			out.Stats.Untranslated++
			text = g.text
		} else {
			t.remember(ctx, lang, g, text)
		}
		for _, k := range g.keys {
			out.Translations[k] = text
		}
	}

	switch {
	case out.Stats.Model > 0:
		out.Source = t.gw.Provider()
	case out.Stats.Secondary > 0:
		out.Source = SourceSecondary
	default:
		out.Source = models.SourceFallback
	}
	return out
}

// lookup fills cache hits into out and groups the rest by content hash, in
// first-seen order.
func (t *Translator) lookup(ctx context.Context, lang string, entries []models.TranslationEntry, out *Response) (map[string]*group, []string) {
	groups := make(map[string]*group)
	var order []string

	for _, e := range entries {
		if strings.TrimSpace(e.Text) == "" {
			out.Translations[e.Key] = e.Text
			continue
		}
		if v, ok := t.byKey.Get(lang + "\x00" + e.Key); ok && v.source == e.Text {
			out.Translations[e.Key] = v.translated
			out.Stats.Cached++
			continue
		}

		hash := ContentHash(lang, e.Text)
		if v, ok := t.byText.Get(hash); ok {
			out.Translations[e.Key] = v
			t.byKey.Set(lang+"\x00"+e.Key, keyed{source: e.Text, translated: v}, t.cfg.CacheTTL)
			out.Stats.Cached++
			continue
		}
		var durable string
		if t.durable.GetJSON(ctx, durablePrefix+hash, &durable) && durable != "" {
			out.Translations[e.Key] = durable
			t.byText.Set(hash, durable, t.cfg.CacheTTL)
			t.byKey.Set(lang+"\x00"+e.Key, keyed{source: e.Text, translated: durable}, t.cfg.CacheTTL)
			out.Stats.Cached++
			continue
		}

		g, ok := groups[hash]
		if !ok {
			g = &group{hash: hash, rep: e.Key, text: e.Text}
			groups[hash] = g
			order = append(order, hash)
		}
		g.keys = append(g.keys, e.Key)
	}
	return groups, order
}

func (t *Translator) translateBatch(ctx context.Context, lang string, groups map[string]*group, batch []string, resolved map[string]string) {
	payload := make(map[string]string, len(batch))
	byRep := make(map[string]*group, len(batch))
	for _, h := range batch {
		g := groups[h]
		payload[g.rep] = g.text
		byRep[g.rep] = g
	}
	encoded, err := json.Marshal(map[string]any{"translations": payload})
	if err != nil {
		t.log.Warn("encode translation batch", "error", err)
		return
	}

	hashes := append([]string(nil), batch...)
	sort.Strings(hashes)

	key := "translate:" + cache.Fingerprint(32, hashes...)
	temp := 0.2
	res := t.gw.Call(ctx, models.CallRequest{
		Messages: []models.ChatMessage{
			{Role: models.RoleSystem, Content: systemPrompt(t.cfg.SourceLanguage, lang)},
			{Role: models.RoleUser, Content: string(encoded)},
		},
		MaxTokens:      t.cfg.MaxTokens,
		Temperature:    &temp,
		ResponseFormat: models.FormatJSONObject,
		CacheKey:       key,
		CacheTTL:       min(t.cfg.CacheTTL, batchCacheTTL),
		Metadata:       map[string]any{"feature": "translate", "request_id": models.RequestID(ctx), "language": lang},
	})
	if !res.OK() {
		t.log.Warn("translation batch failed", "language", lang, "entries", len(batch), "error", res.Err())
		return
	}

	var reply struct {
		Translations map[string]string `json:"translations"`
	}
	if err := models.DecodeReply(res.Success.Message, &reply); err != nil {
		t.log.Warn("unparseable translation batch", "language", lang, "error", err)
		t.forget(ctx, key)
		return
	}
	before := len(resolved)
	defer func() {
		if len(resolved)-before < len(batch) {
			t.forget(ctx, key)
		}
	}()
	for rep, text := range reply.Translations {
		g, ok := byRep[rep]
		if !ok {
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if !PlaceholdersPreserved(g.text, text) {
			t.log.Info("translation dropped a placeholder", "key", rep, "language", lang)
			continue
		}
		resolved[g.hash] = text
	}
}

// forget drops a batch reply that did not resolve every entry, so the next
// request asks the model again instead of replaying the partial answer.
func (t *Translator) forget(ctx context.Context, key string) {
	if f, ok := t.gw.(forgetter); ok {
		f.Forget(ctx, key)
	}
}

func (t *Translator) viaSecondary(ctx context.Context, lang, text string) (string, bool) {
	if t.secondary == nil {
		return "", false
	}
	out, err := t.secondary.Translate(ctx, text, t.cfg.SourceLanguage, lang)
	if err != nil {
		t.log.Info("secondary translation failed", "language", lang, "error", err)
		return "", false
	}
	out = strings.TrimSpace(out)
	if out == "" || !PlaceholdersPreserved(text, out) {
		return "", false
	}
	return out, true
}

// remember writes a resolved translation to every cache tier.
func (t *Translator) remember(ctx context.Context, lang string, g *group, text string) {
	t.byText.Set(g.hash, text, t.cfg.CacheTTL)
	for _, k := range g.keys {
		t.byKey.Set(lang+"\x00"+k, keyed{source: g.text, translated: text}, t.cfg.CacheTTL)
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := t.durable.SetJSON(wctx, durablePrefix+g.hash, text, t.cfg.CacheTTL); err != nil {
		t.log.Warn("durable translation write failed", "error", err)
	}
}

var placeholderRE = regexp.MustCompile(`\{\{\s*[\w.]+\s*\}\}|\{[\w.]+\}|%[sdvf]`)

// PlaceholdersPreserved reports whether every interpolation placeholder in
// source also appears in translated.
func PlaceholdersPreserved(source, translated string) bool {
	for _, p := range placeholderRE.FindAllString(source, -1) {
		if !strings.Contains(translated, p) {
			return false
		}
	}
	return true
}

func normalizeLang(l string) string {
	return strings.ToLower(strings.TrimSpace(l))
}

func systemPrompt(source, target string) string {
	return fmt.Sprintf(`You translate website strings from %s to %s for an energy consulting company.
You receive a JSON object {"translations": {key: text}}. Return a JSON object with the same shape and
the same keys, each value translated. Keep interpolation placeholders such as {name}, {{count}} and
%%s exactly as they are. Keep HTML tags and product names unchanged. Do not add keys.`, source, target)
}
