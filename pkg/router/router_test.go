package router

import (
	"errors"
	"testing"

	"github.com/northwind-energy/aigateway/pkg/config"
)

func TestResolveDefaultFirst(t *testing.T) {
	r := New(config.ProviderConfig{
		DefaultModel:   "openai/gpt-4o-mini",
		FallbackModels: []string{"anthropic/claude-3.5-haiku"},
	})
	models, err := r.Resolve("", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(models) != 2 {
		t.Fatalf("expected 2 models, got %v", models)
	}
	if models[0] != "openai/gpt-4o-mini" || models[1] != "anthropic/claude-3.5-haiku" {
		t.Errorf("unexpected order: %v", models)
	}
}

func TestResolveOverrideAndDedup(t *testing.T) {
	r := New(config.ProviderConfig{
		DefaultModel:   "openai/gpt-4o-mini",
		FallbackModels: []string{"anthropic/claude-3.5-haiku", "openai/gpt-4o", " "},
	})
	models, err := r.Resolve("openai/gpt-4o", []string{"google/gemini-2.0-flash-001", "openai/gpt-4o"})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"openai/gpt-4o", "google/gemini-2.0-flash-001", "anthropic/claude-3.5-haiku"}
	if len(models) != len(want) {
		t.Fatalf("expected %v, got %v", want, models)
	}
	for i := range want {
		if models[i] != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], models[i])
		}
	}
}

func TestResolveNoModels(t *testing.T) {
	r := New(config.ProviderConfig{})
	_, err := r.Resolve("", nil)
	if !errors.Is(err, ErrNoModels) {
		t.Fatalf("expected ErrNoModels, got %v", err)
	}
}

func TestAllowed(t *testing.T) {
	r := New(config.ProviderConfig{AllowedNamespaces: []string{"openai", "Anthropic/"}})

	tests := []struct {
		answered, requested string
		want                bool
	}{
		{"openai/gpt-4o-mini-2024-07-18", "openai/gpt-4o-mini", true},
		{"anthropic/claude-3.5-haiku", "openai/gpt-4o-mini", true},
		{"deepseek/deepseek-chat", "openai/gpt-4o-mini", false},
		{"gpt-4o", "openai/gpt-4o", false},
		{"", "openai/gpt-4o", true},
		{"", "mistralai/mistral-large", false},
	}
	for _, tt := range tests {
		if got := r.Allowed(tt.answered, tt.requested); got != tt.want {
			t.Errorf("Allowed(%q, %q) = %v, want %v", tt.answered, tt.requested, got, tt.want)
		}
	}
}

func TestAllowedWithoutNamespaces(t *testing.T) {
	r := New(config.ProviderConfig{})
	if !r.Allowed("anything", "x") {
		t.Error("expected all models allowed when no namespaces configured")
	}
}
