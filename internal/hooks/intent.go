package hooks

import (
	"context"
	"regexp"
	"strings"

	"github.com/earchibald/home-brain-sub000/pkg/models"
)

var greetingWords = map[string]bool{
	"hello": true, "hi": true, "hey": true, "yo": true, "morning": true,
	"afternoon": true, "evening": true, "howdy": true, "sup": true,
	"good": true, "greetings": true, "hiya": true,
}

var researchKeywords = []string{
	"search", "find", "lookup", "look up", "current", "latest", "news",
	"today", "recent",
}

var personalPronounPattern = regexp.MustCompile(`\b(my|me|mine|i|i'm)\b`)

var personalKeywords = []string{
	"preference", "favorite", "favourite", "health", "medication", "family",
	"kid", "kids", "wife", "husband", "partner", "goal", "goals", "allergy",
	"allergies", "birthday", "doctor", "remember",
}

// personalReferencePattern catches possessive-question shapes ("what do you
// know about my coffee") that name no explicit personal keyword.
var personalReferencePattern = regexp.MustCompile(`\b(about|know|remember)\s+(my|me)\b`)

var questionWords = []string{
	"what", "how", "why", "when", "where", "who", "which", "explain",
	"tell me", "describe",
}

var taskVerbs = []string{
	"create", "make", "write", "update", "delete", "add", "remove",
	"schedule", "send", "draft", "generate",
}

var yearPattern = regexp.MustCompile(`\b(19|20)\d{2}\b`)

// ClassifyIntent labels a message with one of the six intents and the
// context flags that follow from it. Rules run in precedence order; the
// first match wins.
func ClassifyIntent(text string) models.IntentClassification {
	lower := strings.ToLower(strings.TrimSpace(text))
	words := strings.Fields(lower)

	if len(words) > 0 && len(words) <= 3 {
		for _, w := range words {
			if greetingWords[strings.Trim(w, "!,.?")] {
				return models.IntentClassification{
					Intent:     models.IntentGreeting,
					Confidence: 0.9,
				}
			}
		}
	}

	if containsAny(lower, researchKeywords) || yearPattern.MatchString(lower) {
		return models.IntentClassification{
			Intent:     models.IntentResearch,
			Confidence: 0.85,
			EnableWeb:  true,
		}
	}

	if personalPronounPattern.MatchString(lower) &&
		(containsAny(lower, personalKeywords) || personalReferencePattern.MatchString(lower)) {
		return models.IntentClassification{
			Intent:      models.IntentPersonal,
			Confidence:  0.8,
			EnableFacts: true,
		}
	}

	if containsAny(lower, questionWords) || strings.HasSuffix(lower, "?") {
		return models.IntentClassification{
			Intent:      models.IntentKnowledge,
			Confidence:  0.7,
			EnableBrain: true,
		}
	}

	for _, verb := range taskVerbs {
		if strings.HasPrefix(lower, verb+" ") || lower == verb {
			return models.IntentClassification{
				Intent:     models.IntentTask,
				Confidence: 0.7,
			}
		}
	}

	return models.IntentClassification{
		Intent:      models.IntentGeneral,
		Confidence:  0.3,
		EnableBrain: true,
		EnableFacts: true,
	}
}

func containsAny(text string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(text, n) {
			return true
		}
	}
	return false
}

// IntentClassifier is the standard pre-hook storing the classification on
// the event.
func IntentClassifier() PreFunc {
	return func(ctx context.Context, ev *Event) error {
		cls := ClassifyIntent(ev.Text)
		ev.Intent = &cls
		return nil
	}
}

// MentionsPersonalContext reports whether the text references the user's own
// situation; the composer uses it to gate fact injection.
func MentionsPersonalContext(text string) bool {
	lower := strings.ToLower(text)
	return personalPronounPattern.MatchString(lower) || containsAny(lower, personalKeywords)
}
