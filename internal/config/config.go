// Package config loads the daemon configuration from the environment and,
// for secrets, optionally from HashiCorp Vault.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config is the full set of options the core reads. Every field has a
// default; only the store URL is mandatory.
type Config struct {
	// Paths.
	BindEtc      string // resolver configuration root
	BackupRoot   string
	QueryLogPath string

	// Secrets / endpoints.
	PostgresURL  string
	NATSURL      string // empty disables the JetStream event mirror
	OTLPEndpoint string

	// Resolver control.
	RNDCPath              string
	CheckConfPath         string
	ResolverTimeout       time.Duration
	ProjectionLockTimeout time.Duration

	// Health tracker.
	HealthProbeInterval  time.Duration
	DNSProbeTimeout      time.Duration
	DNSProbeTotalTimeout time.Duration
	HealthWorkerCount    int
	HealthRetainDays     int

	// Threat feeds.
	FeedRefreshInterval time.Duration
	FeedFetchTimeout    time.Duration

	// Query-log ingestor.
	LogFlushInterval time.Duration
	LogFlushBatch    int
	LogSampleN       int // publish 1-in-N query events under overload
	LogRetainDays    int

	// Event bus.
	EventMaxBatchItems       int
	EventMaxBatchBytes       int
	EventBatchTimeout        time.Duration
	EventCompressionMinBytes int
	EventQueueCapacity       int
	EventPersistDefault      bool
	EventDeliveryRetries     int
	EventRecoveryTimeout     time.Duration // stuck-subscriber close deadline
	WSMessageRateLimit       int // inbound messages per minute per connection
	WSSubscribeRateLimit     int // subscription changes per minute

	// Backups.
	BackupRetainPerType int
	BackupRetainDays    int
}

// FromEnv builds a Config from environment variables, falling back to the
// documented defaults.
func FromEnv() Config {
	return Config{
		BindEtc:      envStr("BIND_ETC", "/etc/bind"),
		BackupRoot:   envStr("BACKUP_ROOT", "/var/lib/dnsweaver/backups"),
		QueryLogPath: envStr("QUERY_LOG_PATH", "/var/log/named/query.log"),

		PostgresURL:  os.Getenv("PG_URL"),
		NATSURL:      os.Getenv("NATS_URL"),
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),

		RNDCPath:              envStr("RNDC_PATH", "rndc"),
		CheckConfPath:         envStr("NAMED_CHECKCONF_PATH", "named-checkconf"),
		ResolverTimeout:       envDur("RESOLVER_TIMEOUT_S", 30*time.Second),
		ProjectionLockTimeout: envDur("PROJECTION_LOCK_TIMEOUT_S", 120*time.Second),

		HealthProbeInterval:  envDur("HEALTH_PROBE_INTERVAL_S", 300*time.Second),
		DNSProbeTimeout:      envDurMs("DNS_PROBE_TIMEOUT_MS", 5*time.Second),
		DNSProbeTotalTimeout: envDurMs("DNS_PROBE_TOTAL_TIMEOUT_MS", 10*time.Second),
		HealthWorkerCount:    envInt("HEALTH_WORKER_COUNT", 8),
		HealthRetainDays:     envInt("HEALTH_RETAIN_DAYS", 30),

		FeedRefreshInterval: envDur("FEED_REFRESH_INTERVAL_S", 3600*time.Second),
		FeedFetchTimeout:    envDur("FEED_FETCH_TIMEOUT_S", 60*time.Second),

		LogFlushInterval: envDur("LOG_FLUSH_INTERVAL_S", 5*time.Second),
		LogFlushBatch:    envInt("LOG_FLUSH_BATCH", 100),
		LogSampleN:       envInt("LOG_SAMPLE_N", 10),
		LogRetainDays:    envInt("LOG_RETAIN_DAYS", 30),

		EventMaxBatchItems:       envInt("EVENT_MAX_BATCH_ITEMS", 50),
		EventMaxBatchBytes:       envInt("EVENT_MAX_BATCH_BYTES", 64*1024),
		EventBatchTimeout:        envDurMs("EVENT_BATCH_TIMEOUT_MS", 250*time.Millisecond),
		EventCompressionMinBytes: envInt("EVENT_COMPRESSION_MIN_BYTES", 4*1024),
		EventQueueCapacity:       envInt("EVENT_QUEUE_CAPACITY", 1024),
		EventPersistDefault:      envBool("EVENT_PERSIST_DEFAULT", false),
		EventDeliveryRetries:     envInt("EVENT_DELIVERY_RETRIES", 3),
		EventRecoveryTimeout:     envDur("EVENT_RECOVERY_TIMEOUT_S", 30*time.Second),
		WSMessageRateLimit:       envInt("WS_MESSAGE_RATE_LIMIT", 100),
		WSSubscribeRateLimit:     envInt("WS_SUBSCRIBE_RATE_LIMIT", 10),

		BackupRetainPerType: envInt("BACKUP_RETAIN_PER_TYPE", 10),
		BackupRetainDays:    envInt("BACKUP_RETAIN_DAYS", 90),
	}
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envDur(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return def
}

func envDurMs(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Millisecond
		}
	}
	return def
}
