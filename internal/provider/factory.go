package provider

import (
	"fmt"

	"github.com/rs/zerolog"
)

// Build constructs a built-in provider by name. Config fields left zero take
// the provider's own defaults.
func Build(name string, cfg Config, log zerolog.Logger) (Provider, error) {
	cfg.Name = name
	switch name {
	case "chainlink":
		return NewChainlink(cfg, log), nil
	case "coingecko":
		return NewCoinGecko(cfg, log), nil
	case "dia":
		return NewDIA(cfg, log), nil
	case "exchangerate":
		return NewExchangeRate(cfg, log), nil
	case "weather":
		return NewWeather(cfg, log), nil
	case "wikipedia":
		return NewWikipedia(cfg, log), nil
	case "duckduckgo":
		return NewDuckDuckGo(cfg, log), nil
	case "nasa":
		return NewNASA(cfg, log), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}

// BuiltinNames lists the providers Build understands
func BuiltinNames() []string {
	return []string{
		"chainlink", "coingecko", "dia", "exchangerate",
		"weather", "wikipedia", "duckduckgo", "nasa",
	}
}
