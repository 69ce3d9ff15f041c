package provider

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/stratoquery/oracle/internal/domain"
)

// Weather serves current conditions from a wttr.in-compatible endpoint.
// Responses are structured records, not scalars; consensus treats them as
// non-numeric and resolves them by majority vote.
type Weather struct {
	httpBase
	defaultCity string
}

// wttrResponse mirrors the j1 JSON format (numbers arrive as strings)
type wttrResponse struct {
	CurrentCondition []struct {
		TempC       string `json:"temp_C"`
		Humidity    string `json:"humidity"`
		WindKmph    string `json:"windspeedKmph"`
		WeatherDesc []struct {
			Value string `json:"value"`
		} `json:"weatherDesc"`
	} `json:"current_condition"`
}

var weatherCities = []string{
	"london", "paris", "tokyo", "berlin", "madrid", "rome", "moscow",
	"sydney", "toronto", "chicago", "seattle", "amsterdam", "dublin",
	"singapore", "mumbai", "nairobi",
}

// NewWeather builds the provider; unlocated queries fall back to London
func NewWeather(cfg Config, log zerolog.Logger) *Weather {
	cfg = cfg.withDefaults("weather", "https://wttr.in", 0.7, 0.85, 800*time.Millisecond)
	return &Weather{httpBase: newHTTPBase(cfg, log), defaultCity: "london"}
}

// Fetch extracts the city from the query and returns current conditions
func (w *Weather) Fetch(ctx context.Context, query string) (domain.Value, error) {
	city := extractCity(query, w.defaultCity)

	endpoint := fmt.Sprintf("%s/%s?format=j1", w.cfg.BaseURL, url.PathEscape(city))

	var payload wttrResponse
	if err := w.getJSON(ctx, endpoint, &payload); err != nil {
		return domain.Value{}, err
	}

	if len(payload.CurrentCondition) == 0 {
		return domain.Value{}, NewMalformedError(w.cfg.Name, fmt.Errorf("no current conditions for %s", city))
	}
	cond := payload.CurrentCondition[0]

	record := map[string]interface{}{
		"city":          city,
		"temperature_c": parseNumeric(cond.TempC),
		"humidity":      parseNumeric(cond.Humidity),
		"wind_kmph":     parseNumeric(cond.WindKmph),
	}
	if len(cond.WeatherDesc) > 0 {
		record["condition"] = strings.TrimSpace(cond.WeatherDesc[0].Value)
	}

	return domain.ObjectValue(record), nil
}

// HealthCheck probes the service root
func (w *Weather) HealthCheck(ctx context.Context) error {
	return w.ping(ctx, w.cfg.BaseURL)
}

// CalculateConfidence scores record completeness and temperature sanity
func (w *Weather) CalculateConfidence(value domain.Value) float64 {
	record, ok := value.Object()
	if !ok {
		return 0
	}

	confidence := 0.55
	for _, field := range []string{"temperature_c", "condition", "humidity", "wind_kmph"} {
		if _, present := record[field]; present {
			confidence += 0.1
		}
	}

	if temp, ok := record["temperature_c"].(float64); ok {
		if temp < -90 || temp > 60 {
			return 0.3
		}
	}
	if confidence > 0.95 {
		confidence = 0.95
	}
	return confidence
}

// extractCity scans for a known city, then falls back to the "in X" form,
// then to the configured default
func extractCity(query, fallback string) string {
	lowered := strings.ToLower(query)

	for _, city := range weatherCities {
		if strings.Contains(lowered, city) {
			return city
		}
	}

	if idx := strings.LastIndex(lowered, " in "); idx >= 0 {
		rest := strings.TrimSpace(lowered[idx+4:])
		rest = strings.Trim(rest, "?.,!:;\"'")
		if rest != "" {
			return strings.Fields(rest)[0]
		}
	}

	return fallback
}

func parseNumeric(s string) float64 {
	n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return n
}
