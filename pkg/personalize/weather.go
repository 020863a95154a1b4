package personalize

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/northwind-energy/aigateway/pkg/config"
)

// Reading is a current weather observation.
type Reading struct {
	Condition   string  `json:"condition"`
	TempC       float64 `json:"temp_c"`
	Humidity    int     `json:"humidity"`
	FeelsLikeC  float64 `json:"feelslike_c"`
	LastUpdated string  `json:"last_updated,omitempty"`
	// Fallback marks the static reading used when the provider is unavailable.
	Fallback bool `json:"fallback,omitempty"`
}

// FallbackReading is served when the weather provider cannot be used.
var FallbackReading = Reading{
	Condition:  "Partly cloudy",
	TempC:      14,
	Humidity:   72,
	FeelsLikeC: 13,
	Fallback:   true,
}

// Location selects the observation point. Coordinates win over City when
// both are set.
type Location struct {
	City string
	Lat  *float64
	Lon  *float64
}

func (l Location) query() string {
	if l.Lat != nil && l.Lon != nil {
		return strconv.FormatFloat(*l.Lat, 'f', 4, 64) + "," + strconv.FormatFloat(*l.Lon, 'f', 4, 64)
	}
	return strings.TrimSpace(l.City)
}

// WeatherClient reads current conditions from a weatherapi.com style API.
type WeatherClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewWeatherClient creates a WeatherClient. A nil client gets one with the
// configured timeout.
func NewWeatherClient(cfg config.WeatherConfig, client *http.Client) *WeatherClient {
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 8 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &WeatherClient{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		apiKey:  cfg.APIKey,
		client:  client,
	}
}

// Configured reports whether a usable API key is set.
func (w *WeatherClient) Configured() bool {
	return config.UsableKey(w.apiKey)
}

type currentResponse struct {
	Current struct {
		LastUpdated string  `json:"last_updated"`
		TempC       float64 `json:"temp_c"`
		Humidity    int     `json:"humidity"`
		FeelsLikeC  float64 `json:"feelslike_c"`
		Condition   struct {
			Text string `json:"text"`
		} `json:"condition"`
	} `json:"current"`
}

// Current fetches the current reading for loc.
func (w *WeatherClient) Current(ctx context.Context, loc Location) (Reading, error) {
	if !w.Configured() {
		return Reading{}, fmt.Errorf("weather: missing credential")
	}
	q := loc.query()
	if q == "" {
		return Reading{}, fmt.Errorf("weather: no location")
	}

	params := url.Values{"key": {w.apiKey}, "q": {q}, "aqi": {"no"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.baseURL+"/current.json?"+params.Encode(), nil)
	if err != nil {
		return Reading{}, fmt.Errorf("weather: create request: %w", err)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return Reading{}, fmt.Errorf("weather: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return Reading{}, fmt.Errorf("weather: status %d", resp.StatusCode)
	}

	var body currentResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Reading{}, fmt.Errorf("weather: decode: %w", err)
	}
	return Reading{
		Condition:   strings.TrimSpace(body.Current.Condition.Text),
		TempC:       body.Current.TempC,
		Humidity:    body.Current.Humidity,
		FeelsLikeC:  body.Current.FeelsLikeC,
		LastUpdated: body.Current.LastUpdated,
	}, nil
}
