package events

// Typed payloads for the event types the backbone derives events from or
// produces. EventData on the wire stays JSON; these are the decoded shapes
// keyed by EventType.

// MessageReceivedPayload is the body of conversation.message.received.
type MessageReceivedPayload struct {
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
	SenderRole     string `json:"senderRole"` // "customer" or "agent"
	Channel        string `json:"channel"`
}

// TicketCreatedPayload is the body of ticket.created.
type TicketCreatedPayload struct {
	Subject     string `json:"subject"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
	Channel     string `json:"channel"`
	CustomerID  string `json:"customerId"`
}

// TicketResolvedPayload is the body of ticket.resolved.
type TicketResolvedPayload struct {
	ResolutionTime         int64  `json:"resolutionTime"` // seconds from open to resolve
	FirstContactResolution bool   `json:"firstContactResolution"`
	ResolvedBy             string `json:"resolvedBy"`
}

// TicketStatusChangedPayload is the body of ticket.status.changed.
type TicketStatusChangedPayload struct {
	FromStatus string `json:"fromStatus"`
	ToStatus   string `json:"toStatus"`
	ChangedBy  string `json:"changedBy"`
}

// Entity is a span of text recognized by analysis (order id, product, email…).
type Entity struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// MessageAnalyzedPayload is the body of ai.message.analyzed.
type MessageAnalyzedPayload struct {
	ConversationID string   `json:"conversationId,omitempty"`
	Intent         string   `json:"intent"`
	SentimentScore float64  `json:"sentimentScore"` // -1.0 … 1.0
	SentimentLabel string   `json:"sentimentLabel"`
	Emotions       []string `json:"emotions,omitempty"`
	Entities       []Entity `json:"entities,omitempty"`
	Language       string   `json:"language"`
	UrgencyScore   float64  `json:"urgencyScore"` // 0.0 … 1.0
	UrgencyLevel   string   `json:"urgencyLevel"`
	Category       string   `json:"category"`
}

// SentimentAnalyzedPayload is the body of ai.customer.sentiment.analyzed,
// emitted when a customer message trips the negative-sentiment threshold.
type SentimentAnalyzedPayload struct {
	ConversationID string   `json:"conversationId"`
	SentimentScore float64  `json:"sentimentScore"`
	Trend          string   `json:"trend"`
	ChurnRisk      float64  `json:"churnRisk"` // 0.0 … 1.0
	RiskFactors    []string `json:"riskFactors,omitempty"`
}

// MetricType enumerates the metric kinds analytics events may carry.
type MetricType string

const (
	MetricCounter   MetricType = "counter"
	MetricGauge     MetricType = "gauge"
	MetricHistogram MetricType = "histogram"
	MetricSummary   MetricType = "summary"
)

// MetricPayload is the body of analytics.metric.calculated.
type MetricPayload struct {
	Name       string            `json:"name" validate:"required"`
	Type       MetricType        `json:"type" validate:"required,oneof=counter gauge histogram summary"`
	Value      float64           `json:"value"`
	Dimensions map[string]string `json:"dimensions,omitempty"`
}

// OutboundDispatchPayload is the body of outbound.message.requested and
// outbound.message.dispatched.
type OutboundDispatchPayload struct {
	Channel    string            `json:"channel"` // email, sms, webhook…
	Recipient  string            `json:"recipient"`
	TemplateID string            `json:"templateId,omitempty"`
	Variables  map[string]string `json:"variables,omitempty"`
}
