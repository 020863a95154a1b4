// Package personalize tailors landing-page copy to a visitor's focus area and
// local weather.
package personalize

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/northwind-energy/aigateway/pkg/cache"
	"github.com/northwind-energy/aigateway/pkg/config"
	"github.com/northwind-energy/aigateway/pkg/models"
)

// Caller is the gateway dependency.
type Caller interface {
	Call(ctx context.Context, req models.CallRequest) models.CallResult
	Provider() string
}

// WeatherSource returns current conditions for a location.
type WeatherSource interface {
	Current(ctx context.Context, loc Location) (Reading, error)
}

// Request is a personalization request from the site.
type Request struct {
	Focus string   `json:"focus"`
	City  string   `json:"city"`
	Lat   *float64 `json:"lat,omitempty"`
	Lon   *float64 `json:"lon,omitempty"`
}

// Response is always complete and non-empty.
type Response struct {
	Summary         string   `json:"summary"`
	Suggestions     []string `json:"suggestions"`
	PersonaBriefing string   `json:"persona_briefing"`
	Weather         Reading  `json:"weather"`
	Source          string   `json:"source"`
	Model           string   `json:"model,omitempty"`
}

// Personalizer builds weather-aware copy through the gateway and falls back
// to templated text at any failure.
type Personalizer struct {
	gw       Caller
	weather  WeatherSource
	cfg      config.PersonalConfig
	services []string
	log      *slog.Logger
}

// New creates a Personalizer. services are offered in prompts and
// fallback suggestions.
func New(gw Caller, weather WeatherSource, services []string, cfg config.PersonalConfig, log *slog.Logger) *Personalizer {
	if log == nil {
		log = slog.Default()
	}
	return &Personalizer{
		gw:       gw,
		weather:  weather,
		cfg:      cfg,
		services: services,
		log:      log.With("component", "personalize"),
	}
}

// Personalize never fails.
func (p *Personalizer) Personalize(ctx context.Context, req Request) Response {
	req.Focus = strings.TrimSpace(req.Focus)
	if req.Focus == "" {
		req.Focus = "energy efficiency"
	}
	req.City = strings.TrimSpace(req.City)

	reading := p.reading(ctx, req)

	res := p.gw.Call(ctx, models.CallRequest{
		Messages: []models.ChatMessage{
			{Role: models.RoleSystem, Content: p.systemPrompt()},
			{Role: models.RoleUser, Content: userPrompt(req, reading)},
		},
		MaxTokens:      p.cfg.MaxTokens,
		ResponseFormat: models.FormatJSONObject,
		CacheKey:       Key(req, reading),
		CacheTTL:       p.cfg.CacheTTL,
		Metadata:       map[string]any{"feature": "personalize", "request_id": models.RequestID(ctx)},
	})
	if !res.OK() {
		p.log.Warn("personalization call failed, using template", "error", res.Err())
		return p.template(req, reading)
	}

	var v struct {
		Summary         string   `json:"summary"`
		Suggestions     []string `json:"suggestions"`
		PersonaBriefing string   `json:"persona_briefing"`
	}
	if err := models.DecodeReply(res.Success.Message, &v); err != nil || strings.TrimSpace(v.Summary) == "" {
		p.log.Warn("unparseable personalization reply, using template", "error", err)
		return p.template(req, reading)
	}

	fallback := p.template(req, reading)
	out := Response{
		Summary:         strings.TrimSpace(v.Summary),
		Suggestions:     cleanList(v.Suggestions),
		PersonaBriefing: strings.TrimSpace(v.PersonaBriefing),
		Weather:         reading,
		Source:          p.gw.Provider(),
		Model:           res.Success.ModelUsed,
	}
	if len(out.Suggestions) == 0 {
		out.Suggestions = fallback.Suggestions
	}
	if out.PersonaBriefing == "" {
		out.PersonaBriefing = fallback.PersonaBriefing
	}
	if res.Success.ServedFromCache {
		out.Source = models.SourceCache
	}
	return out
}

func (p *Personalizer) reading(ctx context.Context, req Request) Reading {
	if p.weather == nil {
		return FallbackReading
	}
	r, err := p.weather.Current(ctx, Location{City: req.City, Lat: req.Lat, Lon: req.Lon})
	if err != nil || r.Condition == "" {
		p.log.Info("weather unavailable, using static reading", "error", err)
		return FallbackReading
	}
	return r
}

// Key is the cache key for a request under the given weather.
func Key(req Request, r Reading) string {
	return "personalize:" + cache.Fingerprint(32,
		strings.ToLower(req.Focus),
		strings.ToLower(req.City),
		coord(req.Lat),
		coord(req.Lon),
		strings.ToLower(r.Condition),
	)
}

func coord(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', 2, 64)
}

func (p *Personalizer) systemPrompt() string {
	return fmt.Sprintf(`You write short, practical website copy for an energy consulting company.
Our services: %s.
Respond with a JSON object: {"summary": string, "suggestions": [string], "persona_briefing": string}.
The summary is two sentences at most. Give three suggestions. The persona briefing describes, in one
sentence, the visitor we are addressing.`, strings.Join(p.services, ", "))
}

func userPrompt(req Request, r Reading) string {
	place := req.City
	if place == "" {
		place = "the visitor's area"
	}
	return fmt.Sprintf("Focus: %s\nLocation: %s\nWeather: %s, %.0f°C (feels like %.0f°C), humidity %d%%",
		req.Focus, place, r.Condition, r.TempC, r.FeelsLikeC, r.Humidity)
}

// template builds deterministic copy from the same inputs as the prompt.
func (p *Personalizer) template(req Request, r Reading) Response {
	place := req.City
	if place == "" {
		place = "your area"
	}

	var angle string
	switch {
	case r.TempC <= 8:
		angle = "Cold weather drives heating demand, so insulation and heat pump upgrades pay back fastest right now."
	case r.TempC >= 24:
		angle = "Warm, bright conditions are ideal for solar generation and reviewing cooling loads."
	default:
		angle = "Mild conditions are a good time to plan efficiency work before peak seasons."
	}

	suggestions := []string{
		fmt.Sprintf("Book an energy audit focused on %s", req.Focus),
		"Compare fixed and flexible energy tariffs",
	}
	if len(p.services) > 0 {
		suggestions = append(suggestions, "Explore our "+strings.ToLower(p.services[0])+" service")
	} else {
		suggestions = append(suggestions, "Talk to an advisor about renewable supply")
	}

	return Response{
		Summary:         fmt.Sprintf("Currently %s and %.0f°C in %s. %s", strings.ToLower(r.Condition), r.TempC, place, angle),
		Suggestions:     suggestions,
		PersonaBriefing: fmt.Sprintf("A visitor in %s interested in %s.", place, req.Focus),
		Weather:         r,
		Source:          models.SourceFallback,
	}
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
