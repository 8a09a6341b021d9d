package events

// Logical topic names for the backbone. One topic per aggregate family plus
// the shared dead-letter topic.
const (
	TopicConversation = "conversation-events"
	TopicTicket       = "ticket-events"
	TopicCustomer     = "customer-events"
	TopicAIAnalysis   = "ai-analysis-events"
	TopicWorkflow     = "workflow-events"
	TopicSLA          = "sla-events"
	TopicAnalytics    = "analytics-events"
	TopicIntegration  = "integration-events"
	TopicDeadLetter   = "dead-letter-events"
)

// TopicConfig is a static catalog entry. Partitions and ReplicationFactor are
// the per-topic defaults; the provisioner applies environment overrides and
// cluster-size caps on top of them at creation time.
type TopicConfig struct {
	Name              string
	Partitions        int32
	ReplicationFactor int32
	// Configs holds broker-level topic configs (retention.ms,
	// compression.type, cleanup.policy).
	Configs map[string]string
}

const (
	retentionWeek    = "604800000"   // 7 days
	retentionMonth   = "2592000000"  // 30 days
	retentionQuarter = "7776000000"  // 90 days
	retentionYear    = "31536000000" // 365 days
)

// Catalog returns the static topic table. Provisioned idempotently on every
// startup; editing an entry here only affects topics not yet created.
func Catalog() []TopicConfig {
	return []TopicConfig{
		{
			Name:              TopicConversation,
			Partitions:        3,
			ReplicationFactor: 2,
			Configs: map[string]string{
				"retention.ms":     retentionMonth,
				"compression.type": "snappy",
				"cleanup.policy":   "delete",
			},
		},
		{
			Name:              TopicTicket,
			Partitions:        3,
			ReplicationFactor: 2,
			Configs: map[string]string{
				"retention.ms":     retentionQuarter,
				"compression.type": "snappy",
				"cleanup.policy":   "delete",
			},
		},
		{
			Name:              TopicCustomer,
			Partitions:        3,
			ReplicationFactor: 2,
			Configs: map[string]string{
				"retention.ms":     retentionQuarter,
				"compression.type": "snappy",
				"cleanup.policy":   "compact,delete",
			},
		},
		{
			Name:              TopicAIAnalysis,
			Partitions:        3,
			ReplicationFactor: 2,
			Configs: map[string]string{
				"retention.ms":     retentionMonth,
				"compression.type": "snappy",
				"cleanup.policy":   "delete",
			},
		},
		{
			Name:              TopicWorkflow,
			Partitions:        3,
			ReplicationFactor: 2,
			Configs: map[string]string{
				"retention.ms":     retentionMonth,
				"compression.type": "snappy",
				"cleanup.policy":   "delete",
			},
		},
		{
			Name:              TopicSLA,
			Partitions:        3,
			ReplicationFactor: 2,
			Configs: map[string]string{
				"retention.ms":     retentionQuarter,
				"compression.type": "snappy",
				"cleanup.policy":   "delete",
			},
		},
		{
			Name:              TopicAnalytics,
			Partitions:        3,
			ReplicationFactor: 2,
			Configs: map[string]string{
				"retention.ms":     retentionWeek,
				"compression.type": "lz4",
				"cleanup.policy":   "delete",
			},
		},
		{
			Name:              TopicIntegration,
			Partitions:        3,
			ReplicationFactor: 2,
			Configs: map[string]string{
				"retention.ms":     retentionWeek,
				"compression.type": "snappy",
				"cleanup.policy":   "delete",
			},
		},
		{
			// Failed messages are kept long for debugging and replay.
			Name:              TopicDeadLetter,
			Partitions:        1,
			ReplicationFactor: 2,
			Configs: map[string]string{
				"retention.ms":     retentionYear,
				"compression.type": "snappy",
				"cleanup.policy":   "delete",
			},
		},
	}
}

// TopicNames returns every topic name in the catalog, dead-letter included.
func TopicNames() []string {
	catalog := Catalog()
	names := make([]string, len(catalog))
	for i, tc := range catalog {
		names[i] = tc.Name
	}
	return names
}
