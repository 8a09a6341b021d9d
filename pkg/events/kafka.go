package events

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/IBM/sarama"

	"github.com/deskhive/deskhive/pkg/config"
	"github.com/deskhive/deskhive/pkg/logger"
)

const (
	producerRetryMax    = 3
	producerRetryDelay  = time.Second
	sessionTimeout      = 30 * time.Second
	heartbeatInterval   = 3 * time.Second
	maxProcessingTime   = 5 * time.Minute
	producerMaxBytes    = 1 << 20 // 1 MB
	consumerFetchMax    = 1 << 20 // 1 MB
	defaultPartitionCap = 3
)

// newSaramaConfig builds the shared sarama configuration for producers,
// consumers, and the admin client.
//
// The producer side is configured for idempotent, ordered delivery: acks from
// all in-sync replicas, a single in-flight request, and the hash partitioner
// so equal keys always land on the same partition. The consumer side starts
// at the newest offset — subscriptions receive new messages only, never a
// replay of the log.
func newSaramaConfig(cfg *config.Config) (*sarama.Config, error) {
	sc := sarama.NewConfig()
	sc.ClientID = cfg.ServiceName
	sc.Version = sarama.V3_6_0_0

	// Producer: idempotent + ordered per key.
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Idempotent = true
	sc.Net.MaxOpenRequests = 1
	sc.Producer.Partitioner = sarama.NewHashPartitioner
	sc.Producer.Compression = sarama.CompressionSnappy
	sc.Producer.MaxMessageBytes = producerMaxBytes
	sc.Producer.Retry.Max = producerRetryMax
	sc.Producer.Retry.Backoff = producerRetryDelay
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true

	// Consumer groups: new messages only, round-robin assignment, generous
	// processing window so slow handlers are not evicted mid-message.
	sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	sc.Consumer.Group.Session.Timeout = sessionTimeout
	sc.Consumer.Group.Heartbeat.Interval = heartbeatInterval
	sc.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	sc.Consumer.MaxProcessingTime = maxProcessingTime
	sc.Consumer.Fetch.Max = consumerFetchMax
	sc.Consumer.Return.Errors = true

	if err := applySecurity(sc, cfg); err != nil {
		return nil, err
	}
	return sc, nil
}

// applySecurity wires TLS and SASL from the environment-driven config.
func applySecurity(sc *sarama.Config, cfg *config.Config) error {
	if cfg.KafkaSSL {
		tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}
		if cfg.KafkaSSLCAFile != "" {
			pem, err := os.ReadFile(cfg.KafkaSSLCAFile)
			if err != nil {
				return fmt.Errorf("events: read kafka CA bundle: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(pem) {
				return fmt.Errorf("events: kafka CA bundle %s contains no certificates", cfg.KafkaSSLCAFile)
			}
			tlsCfg.RootCAs = pool
		}
		sc.Net.TLS.Enable = true
		sc.Net.TLS.Config = tlsCfg
	}

	if cfg.KafkaSASLMechanism == "" {
		return nil
	}

	sc.Net.SASL.Enable = true
	sc.Net.SASL.User = cfg.KafkaSASLUsername
	sc.Net.SASL.Password = cfg.KafkaSASLPassword
	switch cfg.KafkaSASLMechanism {
	case "PLAIN":
		sc.Net.SASL.Mechanism = sarama.SASLTypePlaintext
	case "SCRAM-SHA-256":
		sc.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
	case "SCRAM-SHA-512":
		sc.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
	default:
		return fmt.Errorf("events: unsupported SASL mechanism %q", cfg.KafkaSASLMechanism)
	}
	return nil
}

// redirectSaramaLogs points sarama's package-level logger at our slog handler
// so broker chatter lands in the same JSON stream as everything else.
func redirectSaramaLogs(log logger.Logger) {
	sarama.Logger = slog.NewLogLogger(log.ToSlog().Handler(), slog.LevelDebug)
}
