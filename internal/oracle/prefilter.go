package oracle

import (
	"strings"

	"github.com/stratoquery/oracle/internal/domain"
)

// Prefilter decides whether a query is pure conversation with no data
// intent. Conversational queries short-circuit the pipeline: no fanout, no
// consensus, no audit record.
type Prefilter interface {
	// Conversational returns a canned reply and true when the text is
	// chitchat; data queries return ("", false).
	Conversational(text string) (string, bool)
}

// keywordPrefilter is the built-in heuristic prefilter. It only claims a
// query when the whole input looks like a greeting or pleasantry; anything
// mentioning data words falls through to the pipeline.
type keywordPrefilter struct{}

// NewKeywordPrefilter returns the default conversational detector.
func NewKeywordPrefilter() Prefilter {
	return keywordPrefilter{}
}

var conversationalReplies = map[string]string{
	"hello":        "Hello! Ask me about prices, weather, or anything factual.",
	"hi":           "Hi there! Ask me about prices, weather, or anything factual.",
	"hey":          "Hey! Ask me about prices, weather, or anything factual.",
	"good morning": "Good morning! What would you like to know?",
	"good evening": "Good evening! What would you like to know?",
	"thanks":       "You're welcome!",
	"thank you":    "You're welcome!",
	"how are you":  "Doing well and ready to answer data queries.",
	"bye":          "Goodbye!",
	"goodbye":      "Goodbye!",
}

func (keywordPrefilter) Conversational(text string) (string, bool) {
	normalized := strings.ToLower(strings.TrimSpace(text))
	normalized = strings.TrimRight(normalized, "!?. ")
	if normalized == "" {
		return "", false
	}

	if reply, ok := conversationalReplies[normalized]; ok {
		return reply, true
	}

	// Greetings with trailing words ("hi there") still count as long as
	// no data-query marker appears anywhere in the text.
	for phrase, reply := range conversationalReplies {
		if strings.HasPrefix(normalized, phrase+" ") && Classify(normalized) == domain.QueryCustom {
			return reply, true
		}
	}
	return "", false
}
