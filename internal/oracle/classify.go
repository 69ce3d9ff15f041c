package oracle

import (
	"strings"
	"unicode"

	"github.com/stratoquery/oracle/internal/domain"
)

// Keyword tables for the query-type heuristic. Matching is case-insensitive;
// single words match whole tokens, phrases match as substrings.
var (
	introspectionWords = []string{"status", "health", "provider", "providers", "balance"}

	priceWords = []string{"price", "cost", "value", "worth"}

	cryptoTickers = map[string]bool{
		"btc": true, "bitcoin": true,
		"eth": true, "ethereum": true,
		"sol": true, "solana": true,
		"ada": true, "cardano": true,
		"doge": true, "dogecoin": true,
		"xrp": true, "ripple": true,
		"bnb": true,
		"ltc": true, "litecoin": true,
		"dot": true, "polkadot": true,
		"avax": true, "matic": true,
	}

	fiatCodes = map[string]bool{
		"usd": true, "eur": true, "gbp": true, "jpy": true, "chf": true,
		"cad": true, "aud": true, "nzd": true, "cny": true, "inr": true,
		"krw": true, "brl": true, "mxn": true, "sek": true, "nok": true,
		"dkk": true, "pln": true, "zar": true, "sgd": true, "hkd": true,
	}

	fxWords = []string{"exchange", "convert", "conversion", "currency", "currencies", "forex"}

	weatherWords = []string{"weather", "temperature", "forecast", "humidity", "celsius", "fahrenheit"}

	newsWords   = []string{"news", "headline", "headlines", "breaking", "latest"}
	newsPhrases = []string{"search for", "look up"}

	spaceWords = []string{"nasa", "space", "astronomy", "astronomical", "asteroid", "apod", "planet", "mars", "galaxy", "telescope"}

	knowledgePhrases = []string{"what is", "what are", "who is", "who was", "explain", "define", "definition of", "tell me about"}
)

// Classify maps a natural-language query to a QueryType using an ordered
// rule list. Unrecognized inputs classify as Custom, which fans out to every
// registered provider rather than guessing a narrower set.
func Classify(text string) domain.QueryType {
	lower := strings.ToLower(text)
	tokens := tokenize(lower)

	switch {
	case hasToken(tokens, introspectionWords):
		return domain.QueryCustom
	case hasToken(tokens, priceWords) || hasAnyKey(tokens, cryptoTickers):
		return domain.QueryPriceFeed
	case hasToken(tokens, fxWords) || countKeys(tokens, fiatCodes) >= 2:
		return domain.QueryExchangeRate
	case hasToken(tokens, weatherWords):
		return domain.QueryWeather
	case hasToken(tokens, newsWords) || hasPhrase(lower, newsPhrases):
		return domain.QueryNewsSearch
	case hasToken(tokens, spaceWords):
		return domain.QuerySpaceData
	case hasPhrase(lower, knowledgePhrases):
		return domain.QueryKnowledge
	default:
		return domain.QueryCustom
	}
}

func tokenize(lower string) map[string]bool {
	fields := strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	tokens := make(map[string]bool, len(fields))
	for _, f := range fields {
		tokens[f] = true
	}
	return tokens
}

func hasToken(tokens map[string]bool, words []string) bool {
	for _, w := range words {
		if tokens[w] {
			return true
		}
	}
	return false
}

func hasAnyKey(tokens, keys map[string]bool) bool {
	for t := range tokens {
		if keys[t] {
			return true
		}
	}
	return false
}

func countKeys(tokens, keys map[string]bool) int {
	n := 0
	for t := range tokens {
		if keys[t] {
			n++
		}
	}
	return n
}

func hasPhrase(lower string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
