// Package ai enriches conversation and ticket events with intent, sentiment,
// urgency, and entity analysis.
package ai

import (
	"context"

	"github.com/deskhive/deskhive/pkg/events"
	"github.com/deskhive/deskhive/pkg/logger"
)

// churnSentimentThreshold is the customer-message sentiment score below which
// a conversation-level sentiment event is emitted.
const churnSentimentThreshold = -0.3

// Processor analyzes message and ticket events through an AnalysisProvider.
// Provider failures are logged and skipped: one unanalyzable event must not
// block the stream or dead-letter the input.
type Processor struct {
	provider AnalysisProvider
	log      logger.Logger
}

var _ events.StreamProcessor = (*Processor)(nil)

func NewProcessor(provider AnalysisProvider, log logger.Logger) *Processor {
	return &Processor{provider: provider, log: log}
}

func (p *Processor) Process(ctx context.Context, event events.DomainEvent) ([]events.DomainEvent, error) {
	switch event.EventType {
	case events.EventMessageReceived:
		return p.processMessage(ctx, event)
	case events.EventTicketCreated:
		return p.processTicket(ctx, event)
	default:
		return nil, nil
	}
}

func (p *Processor) processMessage(ctx context.Context, event events.DomainEvent) ([]events.DomainEvent, error) {
	payload, err := events.Payload[events.MessageReceivedPayload](event)
	if err != nil {
		p.log.WarnContext(ctx, "ai: skipping message with undecodable payload",
			"event_id", event.EventID, "error", err)
		return nil, nil
	}

	analysis, err := p.provider.Analyze(ctx, payload.Content)
	if err != nil {
		p.log.ErrorContext(ctx, "ai: analysis failed, skipping event",
			"event_id", event.EventID, "conversation_id", payload.ConversationID, "error", err)
		return nil, nil
	}

	analyzed, err := p.analyzedEvent(event, payload.ConversationID, analysis)
	if err != nil {
		p.log.ErrorContext(ctx, "ai: building analyzed event failed",
			"event_id", event.EventID, "error", err)
		return nil, nil
	}
	out := []events.DomainEvent{analyzed}

	if payload.SenderRole == "customer" && analysis.SentimentScore < churnSentimentThreshold {
		sentiment, err := p.sentimentEvent(event, payload.ConversationID, analysis)
		if err != nil {
			p.log.ErrorContext(ctx, "ai: building sentiment event failed",
				"event_id", event.EventID, "error", err)
			return out, nil
		}
		out = append(out, sentiment)
	}
	return out, nil
}

// processTicket runs the same classification against the ticket's subject and
// description.
func (p *Processor) processTicket(ctx context.Context, event events.DomainEvent) ([]events.DomainEvent, error) {
	payload, err := events.Payload[events.TicketCreatedPayload](event)
	if err != nil {
		p.log.WarnContext(ctx, "ai: skipping ticket with undecodable payload",
			"event_id", event.EventID, "error", err)
		return nil, nil
	}

	analysis, err := p.provider.Analyze(ctx, payload.Subject+" "+payload.Description)
	if err != nil {
		p.log.ErrorContext(ctx, "ai: ticket analysis failed, skipping event",
			"event_id", event.EventID, "error", err)
		return nil, nil
	}

	analyzed, err := p.analyzedEvent(event, "", analysis)
	if err != nil {
		p.log.ErrorContext(ctx, "ai: building analyzed event failed",
			"event_id", event.EventID, "error", err)
		return nil, nil
	}
	return []events.DomainEvent{analyzed}, nil
}

func (p *Processor) analyzedEvent(src events.DomainEvent, conversationID string, a Analysis) (events.DomainEvent, error) {
	derived, err := events.NewEvent(
		events.EventMessageAnalyzed,
		events.AggregateAIAnalysis,
		src.AggregateID,
		src.TenantID,
		"ai-stream",
		events.MessageAnalyzedPayload{
			ConversationID: conversationID,
			Intent:         a.Intent,
			SentimentScore: a.SentimentScore,
			SentimentLabel: a.SentimentLabel,
			Emotions:       a.Emotions,
			Entities:       a.Entities,
			Language:       a.Language,
			UrgencyScore:   a.UrgencyScore,
			UrgencyLevel:   a.UrgencyLevel,
			Category:       a.Category,
		},
	)
	if err != nil {
		return events.DomainEvent{}, err
	}
	derived.CorrelationID = src.CorrelationID
	derived.CausationID = src.EventID
	return derived, nil
}

func (p *Processor) sentimentEvent(src events.DomainEvent, conversationID string, a Analysis) (events.DomainEvent, error) {
	derived, err := events.NewEvent(
		events.EventSentimentAnalyzed,
		events.AggregateAIAnalysis,
		src.AggregateID,
		src.TenantID,
		"ai-stream",
		events.SentimentAnalyzedPayload{
			ConversationID: conversationID,
			SentimentScore: a.SentimentScore,
			Trend:          "declining",
			ChurnRisk:      churnRisk(a),
			RiskFactors:    riskFactors(a),
		},
	)
	if err != nil {
		return events.DomainEvent{}, err
	}
	derived.CorrelationID = src.CorrelationID
	derived.CausationID = src.EventID
	return derived, nil
}

// churnRisk folds sentiment, urgency, and retention intent into one score.
// Deterministic: derived only from the analysis.
func churnRisk(a Analysis) float64 {
	risk := -a.SentimentScore * 0.6
	risk += a.UrgencyScore * 0.2
	if a.Intent == "cancellation" || a.Intent == "refund_request" {
		risk += 0.3
	}
	if risk > 1 {
		return 1
	}
	if risk < 0 {
		return 0
	}
	return risk
}

func riskFactors(a Analysis) []string {
	var factors []string
	if a.SentimentScore < churnSentimentThreshold {
		factors = append(factors, "negative_sentiment")
	}
	if a.Intent == "cancellation" {
		factors = append(factors, "cancellation_intent")
	}
	if a.Intent == "refund_request" {
		factors = append(factors, "refund_request")
	}
	if a.UrgencyScore >= 0.4 {
		factors = append(factors, "high_urgency")
	}
	return factors
}
