package events

import (
	"testing"

	"github.com/deskhive/deskhive/pkg/config"
	"github.com/deskhive/deskhive/pkg/logger"
)

func testProvisioner(cfg *config.Config) *TopicProvisioner {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "error"
	}
	return NewTopicProvisioner(nil, cfg, logger.New(cfg))
}

func TestEffectiveNumbers_CatalogDefaults(t *testing.T) {
	p := testProvisioner(&config.Config{Environment: config.EnvDevelopment})
	tc := TopicConfig{Name: "ticket-events", Partitions: 3, ReplicationFactor: 2}

	partitions, rf := p.effectiveNumbers(tc, 3)
	if partitions != 3 {
		t.Errorf("partitions: got %d, want 3", partitions)
	}
	if rf != 2 {
		t.Errorf("replication: got %d, want 2", rf)
	}
}

func TestEffectiveNumbers_ReplicationCappedByBrokerCount(t *testing.T) {
	p := testProvisioner(&config.Config{Environment: config.EnvDevelopment})
	tc := TopicConfig{Name: "ticket-events", Partitions: 3, ReplicationFactor: 3}

	_, rf := p.effectiveNumbers(tc, 1)
	if rf != 1 {
		t.Errorf("replication on single-broker cluster: got %d, want 1", rf)
	}
}

func TestEffectiveNumbers_GlobalEnvBeatsCatalog(t *testing.T) {
	p := testProvisioner(&config.Config{
		Environment:            config.EnvDevelopment,
		KafkaPartitions:        6,
		KafkaReplicationFactor: 3,
	})
	tc := TopicConfig{Name: "ticket-events", Partitions: 3, ReplicationFactor: 2}

	partitions, rf := p.effectiveNumbers(tc, 5)
	if partitions != 6 {
		t.Errorf("partitions: got %d, want 6", partitions)
	}
	if rf != 3 {
		t.Errorf("replication: got %d, want 3", rf)
	}
}

func TestEffectiveNumbers_PerTopicEnvBeatsEverything(t *testing.T) {
	t.Setenv("KAFKA_PARTITIONS_TICKET_EVENTS", "9")
	t.Setenv("KAFKA_RF_TICKET_EVENTS", "4")
	p := testProvisioner(&config.Config{
		Environment:     config.EnvProduction,
		KafkaPartitions: 6,
	})
	tc := TopicConfig{Name: "ticket-events", Partitions: 3, ReplicationFactor: 2}

	partitions, rf := p.effectiveNumbers(tc, 5)
	if partitions != 9 {
		t.Errorf("partitions: got %d, want 9", partitions)
	}
	if rf != 4 {
		t.Errorf("replication: got %d, want 4", rf)
	}
}

func TestEffectiveNumbers_ProductionFallback(t *testing.T) {
	p := testProvisioner(&config.Config{Environment: config.EnvProduction})
	tc := TopicConfig{Name: "new-topic"} // no catalog numbers

	partitions, rf := p.effectiveNumbers(tc, 5)
	if partitions != 3 {
		t.Errorf("production default partitions: got %d, want 3", partitions)
	}
	if rf != 2 {
		t.Errorf("production default replication: got %d, want 2", rf)
	}
}

func TestEffectiveNumbers_DevelopmentFallback(t *testing.T) {
	p := testProvisioner(&config.Config{Environment: config.EnvDevelopment})
	tc := TopicConfig{Name: "new-topic"}

	partitions, rf := p.effectiveNumbers(tc, 3)
	if partitions != 1 || rf != 1 {
		t.Errorf("development defaults: got (%d, %d), want (1, 1)", partitions, rf)
	}
}

func TestEnsureTopics_NoAdminClient(t *testing.T) {
	p := testProvisioner(&config.Config{Environment: config.EnvDevelopment})
	// Must be a no-op, not a panic, when the bus is degraded.
	p.EnsureTopics()
}

func TestCatalog_CoversAllMappedTopics(t *testing.T) {
	names := make(map[string]bool)
	for _, tc := range Catalog() {
		names[tc.Name] = true
	}
	for at, topic := range topicByAggregate {
		if !names[topic] {
			t.Errorf("aggregate %q routes to topic %q missing from catalog", at, topic)
		}
	}
	if !names[TopicDeadLetter] {
		t.Error("dead-letter topic missing from catalog")
	}
}
