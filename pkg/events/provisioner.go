package events

import (
	"github.com/IBM/sarama"

	"github.com/deskhive/deskhive/pkg/config"
	"github.com/deskhive/deskhive/pkg/logger"
)

// TopicProvisioner reconciles the static topic catalog against the live
// cluster. Safe to call on every process start: it only creates topics that
// are missing, and every failure is logged and swallowed — another instance
// racing the same creation, or a broker hiccup, must never crash the host.
type TopicProvisioner struct {
	admin sarama.ClusterAdmin
	cfg   *config.Config
	log   logger.Logger
}

// NewTopicProvisioner returns a provisioner bound to an existing admin client.
func NewTopicProvisioner(admin sarama.ClusterAdmin, cfg *config.Config, log logger.Logger) *TopicProvisioner {
	return &TopicProvisioner{admin: admin, cfg: cfg, log: log}
}

// EnsureTopics creates any catalog topics missing from the cluster in a
// single batched pass. Effective partition/replication numbers per topic:
// env override > catalog default > cluster-size-capped global default.
// Catalog numbers apply in every environment, so a single-broker development
// cluster still gets a catalog topic's full partition count unless a
// KAFKA_PARTITIONS_<TOPIC> override dials it down.
func (p *TopicProvisioner) EnsureTopics() {
	if p.admin == nil {
		p.log.Warn("events: topic provisioning skipped, no admin client")
		return
	}

	brokers, _, err := p.admin.DescribeCluster()
	if err != nil {
		p.log.Error("events: describe cluster failed, skipping topic provisioning", "error", err)
		return
	}
	brokerCount := int32(len(brokers))

	existing, err := p.admin.ListTopics()
	if err != nil {
		p.log.Error("events: list topics failed, skipping topic provisioning", "error", err)
		return
	}

	created := 0
	for _, tc := range Catalog() {
		if _, ok := existing[tc.Name]; ok {
			continue
		}

		partitions, rf := p.effectiveNumbers(tc, brokerCount)
		detail := &sarama.TopicDetail{
			NumPartitions:     partitions,
			ReplicationFactor: int16(rf),
			ConfigEntries:     configEntries(tc.Configs),
		}
		if err := p.admin.CreateTopic(tc.Name, detail, false); err != nil {
			// Likely a create-topic race with another instance.
			p.log.Warn("events: create topic failed",
				"topic", tc.Name, "error", err)
			continue
		}
		created++
		p.log.Info("events: topic created",
			"topic", tc.Name, "partitions", partitions, "replication_factor", rf)
	}

	p.log.Info("events: topic provisioning complete",
		"brokers", brokerCount, "created", created, "existing", len(existing))
}

// effectiveNumbers computes the partition count and replication factor for a
// topic. Overrides win over catalog defaults, which win over the global
// defaults; replication is always capped at the broker count.
func (p *TopicProvisioner) effectiveNumbers(tc TopicConfig, brokerCount int32) (partitions, rf int32) {
	partitions = p.defaultPartitions(tc)
	rf = p.defaultReplication(tc)

	if brokerCount > 0 && rf > brokerCount {
		rf = brokerCount
	}
	if partitions < 1 {
		partitions = 1
	}
	if rf < 1 {
		rf = 1
	}
	return partitions, rf
}

func (p *TopicProvisioner) defaultPartitions(tc TopicConfig) int32 {
	if n, ok := p.cfg.TopicPartitionsOverride(tc.Name); ok {
		return n
	}
	if p.cfg.KafkaPartitions > 0 {
		return int32(p.cfg.KafkaPartitions)
	}
	if tc.Partitions > 0 {
		return tc.Partitions
	}
	if p.cfg.IsProduction() {
		return 3
	}
	return 1
}

func (p *TopicProvisioner) defaultReplication(tc TopicConfig) int32 {
	if n, ok := p.cfg.TopicReplicationOverride(tc.Name); ok {
		return n
	}
	if p.cfg.KafkaReplicationFactor > 0 {
		return int32(p.cfg.KafkaReplicationFactor)
	}
	if tc.ReplicationFactor > 0 {
		return tc.ReplicationFactor
	}
	if p.cfg.IsProduction() {
		return 2
	}
	return 1
}

func configEntries(m map[string]string) map[string]*string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]*string, len(m))
	for k, v := range m {
		out[k] = &v
	}
	return out
}
