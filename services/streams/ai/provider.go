package ai

import (
	"context"
	"strings"

	"github.com/deskhive/deskhive/pkg/events"
)

// Analysis is the result of analyzing one piece of text.
type Analysis struct {
	Intent         string
	SentimentScore float64 // -1.0 … 1.0
	SentimentLabel string
	Emotions       []string
	Entities       []events.Entity
	Language       string
	UrgencyScore   float64 // 0.0 … 1.0
	UrgencyLevel   string
	Category       string
}

// AnalysisProvider produces an Analysis for a piece of text. Implementations
// must be safe for concurrent use; a real model can replace the heuristic
// default without touching bus or consumer logic.
type AnalysisProvider interface {
	Analyze(ctx context.Context, text string) (Analysis, error)
}

// HeuristicProvider is the deterministic keyword-based default. The same text
// always yields the same analysis.
type HeuristicProvider struct{}

var _ AnalysisProvider = (*HeuristicProvider)(nil)

func NewHeuristicProvider() *HeuristicProvider {
	return &HeuristicProvider{}
}

var intentKeywords = map[string][]string{
	"complaint":       {"unacceptable", "terrible", "awful", "worst", "complaint", "disappointed"},
	"refund_request":  {"refund", "money back", "chargeback", "reimburse"},
	"cancellation":    {"cancel", "unsubscribe", "close my account", "terminate"},
	"billing_inquiry": {"invoice", "billing", "charged", "payment", "subscription"},
	"technical_issue": {"error", "bug", "crash", "broken", "not working", "fails"},
	"question":        {"how do i", "how can i", "what is", "where can", "?"},
}

var negativeWords = []string{
	"angry", "terrible", "awful", "worst", "unacceptable", "disappointed",
	"frustrated", "broken", "useless", "hate", "never", "refund", "cancel",
}

var positiveWords = []string{
	"thanks", "thank you", "great", "awesome", "love", "perfect",
	"excellent", "appreciate", "helpful", "resolved",
}

var urgentWords = []string{
	"urgent", "immediately", "asap", "right now", "emergency", "critical",
	"production down", "outage",
}

// Analyze scores the text against fixed keyword tables. Never returns an
// error; the error slot exists for real providers.
func (p *HeuristicProvider) Analyze(_ context.Context, text string) (Analysis, error) {
	lower := strings.ToLower(text)

	a := Analysis{
		Intent:   classifyIntent(lower),
		Language: detectLanguage(lower),
		Entities: extractEntities(text),
	}
	a.SentimentScore = sentimentScore(lower)
	a.SentimentLabel = sentimentLabel(a.SentimentScore)
	a.Emotions = detectEmotions(lower, a.SentimentScore)
	a.UrgencyScore = urgencyScore(lower)
	a.UrgencyLevel = urgencyLevel(a.UrgencyScore)
	a.Category = categoryForIntent(a.Intent)
	return a, nil
}

func classifyIntent(lower string) string {
	// First matching intent wins, checked in a fixed order so the result is
	// stable across runs.
	for _, intent := range []string{
		"refund_request", "cancellation", "complaint",
		"billing_inquiry", "technical_issue", "question",
	} {
		for _, kw := range intentKeywords[intent] {
			if strings.Contains(lower, kw) {
				return intent
			}
		}
	}
	return "general_inquiry"
}

func sentimentScore(lower string) float64 {
	score := 0.0
	for _, w := range negativeWords {
		if strings.Contains(lower, w) {
			score -= 0.2
		}
	}
	for _, w := range positiveWords {
		if strings.Contains(lower, w) {
			score += 0.2
		}
	}
	if score > 1 {
		return 1
	}
	if score < -1 {
		return -1
	}
	return score
}

func sentimentLabel(score float64) string {
	switch {
	case score <= -0.3:
		return "negative"
	case score >= 0.3:
		return "positive"
	default:
		return "neutral"
	}
}

func detectEmotions(lower string, sentiment float64) []string {
	var emotions []string
	if strings.Contains(lower, "angry") || strings.Contains(lower, "furious") {
		emotions = append(emotions, "anger")
	}
	if strings.Contains(lower, "disappointed") || sentiment <= -0.5 {
		emotions = append(emotions, "frustration")
	}
	if strings.Contains(lower, "thank") || strings.Contains(lower, "appreciate") {
		emotions = append(emotions, "gratitude")
	}
	return emotions
}

func urgencyScore(lower string) float64 {
	score := 0.0
	for _, w := range urgentWords {
		if strings.Contains(lower, w) {
			score += 0.4
		}
	}
	if score > 1 {
		return 1
	}
	return score
}

func urgencyLevel(score float64) string {
	switch {
	case score >= 0.8:
		return "critical"
	case score >= 0.4:
		return "high"
	case score > 0:
		return "medium"
	default:
		return "low"
	}
}

func categoryForIntent(intent string) string {
	switch intent {
	case "refund_request", "billing_inquiry":
		return "billing"
	case "technical_issue":
		return "technical"
	case "cancellation", "complaint":
		return "retention"
	default:
		return "general"
	}
}

// extractEntities picks out order references and email addresses. Works on
// the original casing so values round-trip verbatim.
func extractEntities(text string) []events.Entity {
	var entities []events.Entity
	for _, word := range strings.Fields(text) {
		trimmed := strings.Trim(word, ".,;:!?()[]")
		switch {
		case strings.Contains(trimmed, "@") && strings.Contains(trimmed, "."):
			entities = append(entities, events.Entity{Type: "email", Value: trimmed})
		case strings.HasPrefix(strings.ToUpper(trimmed), "ORD-"):
			entities = append(entities, events.Entity{Type: "order_id", Value: trimmed})
		case strings.HasPrefix(strings.ToUpper(trimmed), "INV-"):
			entities = append(entities, events.Entity{Type: "invoice_id", Value: trimmed})
		}
	}
	return entities
}

// detectLanguage is a coarse stopword check; everything else reads as English.
func detectLanguage(lower string) string {
	spanish := 0
	for _, w := range []string{" el ", " la ", " por ", " gracias", " hola", " necesito"} {
		if strings.Contains(" "+lower+" ", w) {
			spanish++
		}
	}
	if spanish >= 2 {
		return "es"
	}
	return "en"
}
