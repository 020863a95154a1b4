package router

import (
	"errors"
	"strings"

	"github.com/northwind-energy/aigateway/pkg/config"
)

// ErrNoModels is returned when neither the request nor the configuration
// names a model.
var ErrNoModels = errors.New("no candidate models configured")

// Router resolves the ranked candidate model list for a call and checks
// which provider namespaces may answer it.
type Router struct {
	defaultModel string
	fallbacks    []string
	namespaces   map[string]bool
}

// New creates a Router from the provider configuration.
func New(cfg config.ProviderConfig) *Router {
	ns := make(map[string]bool, len(cfg.AllowedNamespaces))
	for _, n := range cfg.AllowedNamespaces {
		n = strings.ToLower(strings.Trim(strings.TrimSpace(n), "/"))
		if n != "" {
			ns[n] = true
		}
	}
	return &Router{
		defaultModel: strings.TrimSpace(cfg.DefaultModel),
		fallbacks:    cfg.FallbackModels,
		namespaces:   ns,
	}
}

// Resolve returns the ordered candidate list: the explicit model (or the
// configured default), then the request's candidates, then the configured
// fallbacks. Duplicates and blanks are dropped, first occurrence wins.
func (r *Router) Resolve(model string, candidates []string) ([]string, error) {
	primary := strings.TrimSpace(model)
	if primary == "" {
		primary = r.defaultModel
	}

	seen := make(map[string]bool)
	var out []string
	add := func(m string) {
		m = strings.TrimSpace(m)
		if m == "" || seen[m] {
			return
		}
		seen[m] = true
		out = append(out, m)
	}

	add(primary)
	for _, m := range candidates {
		add(m)
	}
	for _, m := range r.fallbacks {
		add(m)
	}

	if len(out) == 0 {
		return nil, ErrNoModels
	}
	return out, nil
}

// Allowed reports whether the model that actually answered belongs to an
// allowed provider namespace ("openai/gpt-4o" -> "openai"). With no
// namespaces configured every model is allowed. A reply without a model
// identity is attributed to the requested model.
func (r *Router) Allowed(answered, requested string) bool {
	if len(r.namespaces) == 0 {
		return true
	}
	m := strings.TrimSpace(answered)
	if m == "" {
		m = requested
	}
	return r.namespaces[Namespace(m)]
}

// Namespace returns the provider namespace prefix of a model identifier.
func Namespace(model string) string {
	model = strings.ToLower(strings.TrimSpace(model))
	if i := strings.IndexByte(model, '/'); i > 0 {
		return model[:i]
	}
	return ""
}
