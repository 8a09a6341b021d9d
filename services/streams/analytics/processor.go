// Package analytics derives metric events from domain events. The mapping is
// deterministic: the same input event always yields metric events with the
// same names, types, values, and dimensions.
package analytics

import (
	"context"
	"fmt"
	"strconv"

	"github.com/deskhive/deskhive/pkg/events"
	"github.com/deskhive/deskhive/pkg/logger"
)

// Processor maps domain events to analytics.metric.calculated events.
type Processor struct {
	log logger.Logger
}

var _ events.StreamProcessor = (*Processor)(nil)

func NewProcessor(log logger.Logger) *Processor {
	return &Processor{log: log}
}

// Process returns the metric events derived from one input event. Unknown
// event types still count: they yield a single events_processed_total
// counter dimensioned by event type.
func (p *Processor) Process(ctx context.Context, event events.DomainEvent) ([]events.DomainEvent, error) {
	var metrics []metric
	var err error

	switch event.EventType {
	case events.EventMessageReceived:
		metrics, err = messageReceivedMetrics(event)
	case events.EventTicketCreated:
		metrics, err = ticketCreatedMetrics(event)
	case events.EventTicketResolved:
		metrics, err = ticketResolvedMetrics(event)
	case events.EventTicketStatus:
		metrics, err = ticketStatusMetrics(event)
	case events.EventMessageAnalyzed:
		metrics, err = messageAnalyzedMetrics(event)
	default:
		metrics = []metric{{
			name:       "events_processed_total",
			metricType: events.MetricCounter,
			value:      1,
			dimensions: map[string]string{"event_type": event.EventType},
		}}
	}
	if err != nil {
		return nil, fmt.Errorf("analytics: derive metrics for %s: %w", event.EventID, err)
	}

	out := make([]events.DomainEvent, 0, len(metrics))
	for _, m := range metrics {
		derived, err := m.toEvent(event)
		if err != nil {
			return nil, fmt.Errorf("analytics: build metric event: %w", err)
		}
		out = append(out, derived)
	}
	return out, nil
}

type metric struct {
	name       string
	metricType events.MetricType
	value      float64
	dimensions map[string]string
}

// toEvent wraps one metric into a metric-calculated event on the analytics
// aggregate, inheriting the source event's tenant and causal lineage.
func (m metric) toEvent(src events.DomainEvent) (events.DomainEvent, error) {
	derived, err := events.NewEvent(
		events.EventMetricCalculated,
		events.AggregateAnalytics,
		m.name,
		src.TenantID,
		"analytics-stream",
		events.MetricPayload{
			Name:       m.name,
			Type:       m.metricType,
			Value:      m.value,
			Dimensions: m.dimensions,
		},
	)
	if err != nil {
		return events.DomainEvent{}, err
	}
	derived.CorrelationID = src.CorrelationID
	derived.CausationID = src.EventID
	return derived, nil
}

func messageReceivedMetrics(event events.DomainEvent) ([]metric, error) {
	payload, err := events.Payload[events.MessageReceivedPayload](event)
	if err != nil {
		return nil, err
	}
	return []metric{{
		name:       "messages_received_total",
		metricType: events.MetricCounter,
		value:      1,
		dimensions: map[string]string{
			"channel":     payload.Channel,
			"sender_role": payload.SenderRole,
		},
	}}, nil
}

func ticketCreatedMetrics(event events.DomainEvent) ([]metric, error) {
	payload, err := events.Payload[events.TicketCreatedPayload](event)
	if err != nil {
		return nil, err
	}
	return []metric{{
		name:       "tickets_created_total",
		metricType: events.MetricCounter,
		value:      1,
		dimensions: map[string]string{
			"priority": payload.Priority,
			"channel":  payload.Channel,
		},
	}}, nil
}

func ticketResolvedMetrics(event events.DomainEvent) ([]metric, error) {
	payload, err := events.Payload[events.TicketResolvedPayload](event)
	if err != nil {
		return nil, err
	}
	return []metric{
		{
			name:       "tickets_resolved_total",
			metricType: events.MetricCounter,
			value:      1,
			dimensions: map[string]string{
				"first_contact_resolution": strconv.FormatBool(payload.FirstContactResolution),
			},
		},
		{
			name:       "ticket_resolution_time",
			metricType: events.MetricHistogram,
			value:      float64(payload.ResolutionTime),
			dimensions: map[string]string{},
		},
	}, nil
}

func ticketStatusMetrics(event events.DomainEvent) ([]metric, error) {
	payload, err := events.Payload[events.TicketStatusChangedPayload](event)
	if err != nil {
		return nil, err
	}
	return []metric{{
		name:       "ticket_status_changes_total",
		metricType: events.MetricCounter,
		value:      1,
		dimensions: map[string]string{
			"from_status": payload.FromStatus,
			"to_status":   payload.ToStatus,
		},
	}}, nil
}

func messageAnalyzedMetrics(event events.DomainEvent) ([]metric, error) {
	payload, err := events.Payload[events.MessageAnalyzedPayload](event)
	if err != nil {
		return nil, err
	}
	return []metric{
		{
			name:       "messages_analyzed_total",
			metricType: events.MetricCounter,
			value:      1,
			dimensions: map[string]string{
				"intent":          payload.Intent,
				"sentiment_label": payload.SentimentLabel,
			},
		},
		{
			name:       "message_sentiment_score",
			metricType: events.MetricGauge,
			value:      payload.SentimentScore,
			dimensions: map[string]string{"language": payload.Language},
		},
	}, nil
}
