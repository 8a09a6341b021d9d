// Package outbound forwards dispatch requests to the integration topic.
package outbound

import (
	"context"

	"github.com/deskhive/deskhive/pkg/events"
	"github.com/deskhive/deskhive/pkg/logger"
)

// Processor is a narrow filter: it acts only on outbound dispatch requests
// and returns nothing for every other event.
type Processor struct {
	log logger.Logger
}

var _ events.StreamProcessor = (*Processor)(nil)

func NewProcessor(log logger.Logger) *Processor {
	return &Processor{log: log}
}

func (p *Processor) Process(ctx context.Context, event events.DomainEvent) ([]events.DomainEvent, error) {
	if event.AggregateType != events.AggregateOutbound || event.EventType != events.EventOutboundRequested {
		return nil, nil
	}

	dispatch, err := events.NewEvent(
		events.EventOutboundDispatch,
		events.AggregateOutbound,
		event.AggregateID,
		event.TenantID,
		"outbound-stream",
		event.EventData,
	)
	if err != nil {
		p.log.WarnContext(ctx, "outbound: building dispatch event failed",
			"event_id", event.EventID, "error", err)
		return nil, nil
	}
	dispatch.CorrelationID = event.CorrelationID
	dispatch.CausationID = event.EventID

	p.log.InfoContext(ctx, "outbound: dispatch requested",
		"event_id", event.EventID, "aggregate_id", event.AggregateID, "tenant_id", event.TenantID)
	return []events.DomainEvent{dispatch}, nil
}
