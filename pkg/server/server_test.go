package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/northwind-energy/aigateway/pkg/concierge"
	"github.com/northwind-energy/aigateway/pkg/config"
	"github.com/northwind-energy/aigateway/pkg/models"
	"github.com/northwind-energy/aigateway/pkg/personalize"
	"github.com/northwind-energy/aigateway/pkg/safety"
	"github.com/northwind-energy/aigateway/pkg/translate"
)

// offlineGateway behaves like a gateway without a usable credential.
type offlineGateway struct{ calls int }

func (g *offlineGateway) Call(context.Context, models.CallRequest) models.CallResult {
	g.calls++
	return models.Failed("Missing credential")
}
func (g *offlineGateway) Configured() bool { return false }
func (g *offlineGateway) Provider() string { return "openrouter" }

type downSecondary struct{ texts []string }

func (d *downSecondary) Translate(_ context.Context, text, _, _ string) (string, error) {
	d.texts = append(d.texts, text)
	return "", errors.New("unreachable")
}

type noWeather struct{}

func (noWeather) Current(context.Context, personalize.Location) (personalize.Reading, error) {
	return personalize.Reading{}, errors.New("missing credential")
}

func setupServer(t *testing.T) (*Server, *downSecondary) {
	t.Helper()
	cfg := config.Default()
	gw := &offlineGateway{}
	sec := &downSecondary{}
	classifier := safety.New(gw, cfg.Safety, nil)
	s := New(":0", Deps{
		Concierge:    concierge.New(gw, classifier, "facts", cfg.Concierge, nil),
		Personalizer: personalize.New(gw, noWeather{}, nil, cfg.Personal, nil),
		Translator:   translate.New(gw, sec, nil, cfg.Translate, nil),
		Safety:       classifier,
		Health: func() Health {
			return Health{Provider: "openrouter"}
		},
	}, nil)
	return s, sec
}

func post(t *testing.T, s *Server, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	return w
}

func TestEmptyChatFallback(t *testing.T) {
	s, _ := setupServer(t)
	w := post(t, s, "/api/chat", `{"messages":[]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp concierge.Reply
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Source != models.SourceFallback || resp.Reply != config.Default().Concierge.FallbackReply {
		t.Errorf("unexpected reply %+v", resp)
	}
}

func TestChatWithoutCredentialIsNotAnError(t *testing.T) {
	s, _ := setupServer(t)
	w := post(t, s, "/api/chat", `{"messages":[{"role":"user","content":"What do you do?"}]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("AI failures must not surface as HTTP errors, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"source":"fallback"`) {
		t.Errorf("expected fallback source, got %s", w.Body.String())
	}
}

func TestTranslateKeepsOriginalText(t *testing.T) {
	s, sec := setupServer(t)
	w := post(t, s, "/api/translate", `{"targetLanguage":"es","entries":[{"key":"a","text":"Hello"}]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp translate.Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Translations["a"] != "Hello" {
		t.Errorf("expected original text, got %v", resp.Translations)
	}
	if len(sec.texts) != 1 || sec.texts[0] != "Hello" {
		t.Errorf("expected one secondary request, got %v", sec.texts)
	}
}

func TestTranslateRejectsMissingKey(t *testing.T) {
	s, _ := setupServer(t)
	w := post(t, s, "/api/translate", `{"targetLanguage":"es","entries":[{"text":"Hello"}]}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestPersonalizeAlwaysComplete(t *testing.T) {
	s, _ := setupServer(t)
	w := post(t, s, "/api/personalize", `{"focus":"solar","city":"Bristol"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp personalize.Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Summary == "" || len(resp.Suggestions) == 0 || resp.Source != models.SourceFallback {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestSafetyFailsOpen(t *testing.T) {
	s, _ := setupServer(t)
	w := post(t, s, "/api/safety", `{"message":"hello"}`)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"allowed":true`) {
		t.Errorf("expected allowed verdict, got %d %s", w.Code, w.Body.String())
	}
}

func TestInvalidBody(t *testing.T) {
	s, _ := setupServer(t)
	for _, path := range []string{"/api/chat", "/api/translate", "/api/personalize", "/api/safety"} {
		w := post(t, s, path, `{not json`)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", path, w.Code)
		}
		if !strings.Contains(w.Body.String(), "invalid request body") {
			t.Errorf("%s: unexpected body %s", path, w.Body.String())
		}
	}
}

func TestMethodNotAllowed(t *testing.T) {
	s, _ := setupServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/chat", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", w.Code)
	}
}

func TestRequestID(t *testing.T) {
	s, _ := setupServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	if w.Header().Get("X-Request-ID") != "abc-123" {
		t.Errorf("expected supplied request id, got %q", w.Header().Get("X-Request-ID"))
	}

	w = httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if len(w.Header().Get("X-Request-ID")) != 36 {
		t.Errorf("expected generated uuid, got %q", w.Header().Get("X-Request-ID"))
	}
}

func TestHealth(t *testing.T) {
	s, _ := setupServer(t)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var h Health
	if err := json.Unmarshal(w.Body.Bytes(), &h); err != nil {
		t.Fatal(err)
	}
	if h.Status != "ok" || h.Provider != "openrouter" || h.Credential {
		t.Errorf("unexpected health %+v", h)
	}
}
