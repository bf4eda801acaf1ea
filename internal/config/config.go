package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	BatchSize          int
	BatchFlushInterval time.Duration

	DBPath              string
	WebhookMaxBodyBytes int64
	DefaultTimezone     string
	TimezoneCacheSize   int

	// Kafka is optional: no brokers disables the consumer, no sink topic
	// disables publishing.
	KafkaBrokers     []string
	KafkaSourceTopic string
	KafkaSinkTopic   string
	KafkaGroupID     string

	// MQTT is optional: no broker disables the subscriber.
	MQTTBroker   string
	MQTTClientID string
	MQTTUsername string
	MQTTPassword string
	MQTTTopics   []string
	MQTTQoS      byte
}

// KafkaEnabled reports whether the Kafka consumer should run.
func (c *Config) KafkaEnabled() bool { return len(c.KafkaBrokers) > 0 }

// PublishEnabled reports whether stored uplinks are published to Kafka.
func (c *Config) PublishEnabled() bool { return c.KafkaEnabled() && c.KafkaSinkTopic != "" }

// MQTTEnabled reports whether the MQTT subscriber should run.
func (c *Config) MQTTEnabled() bool { return c.MQTTBroker != "" }

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	batchSize, err := sharedcfg.ParseBatchSize()
	if err != nil {
		return nil, err
	}

	flushInterval, err := sharedcfg.ParseBatchFlushInterval()
	if err != nil {
		return nil, err
	}

	maxBody, err := parsePositiveInt("WEBHOOK_MAX_BODY_BYTES", 1<<20)
	if err != nil {
		return nil, err
	}

	tzCacheSize, err := parsePositiveInt("TIMEZONE_CACHE_SIZE", 64)
	if err != nil {
		return nil, err
	}

	qos, err := parseQoS()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPAddr:           sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:           strings.ToLower(sharedcfg.EnvOrDefault("LOG_LEVEL", "info")),
		LogFormat:          strings.ToLower(sharedcfg.EnvOrDefault("LOG_FORMAT", "json")),
		ShutdownTimeout:    shutdownTimeout,
		BatchSize:          batchSize,
		BatchFlushInterval: flushInterval,

		DBPath:              sharedcfg.EnvOrDefault("DB_PATH", "data/uplinks.db"),
		WebhookMaxBodyBytes: int64(maxBody),
		DefaultTimezone:     sharedcfg.EnvOrDefault("DEFAULT_TIMEZONE", "UTC"),
		TimezoneCacheSize:   tzCacheSize,

		KafkaBrokers:     parseList(os.Getenv("KAFKA_BROKERS"), sharedcfg.ParseBrokers),
		KafkaSourceTopic: sharedcfg.EnvOrDefault("KAFKA_SOURCE_TOPIC", "lorawan-uplinks"),
		KafkaSinkTopic:   os.Getenv("KAFKA_SINK_TOPIC"),
		KafkaGroupID:     sharedcfg.EnvOrDefault("KAFKA_GROUP_ID", "uplink-ingest"),

		MQTTBroker:   os.Getenv("MQTT_BROKER"),
		MQTTClientID: sharedcfg.EnvOrDefault("MQTT_CLIENT_ID", "uplink-ingest"),
		MQTTUsername: os.Getenv("MQTT_USERNAME"),
		MQTTPassword: os.Getenv("MQTT_PASSWORD"),
		MQTTTopics: parseList(
			sharedcfg.EnvOrDefault("MQTT_TOPICS", "application/+/device/+/event/up,v3/+/devices/+/up"),
			splitComma,
		),
		MQTTQoS: qos,
	}

	switch cfg.LogFormat {
	case "json", "text":
	default:
		return nil, fmt.Errorf("invalid LOG_FORMAT %q: want json or text", cfg.LogFormat)
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("invalid LOG_LEVEL %q", cfg.LogLevel)
	}
	if cfg.DBPath == "" {
		return nil, errors.New("DB_PATH is required")
	}
	if cfg.KafkaEnabled() && cfg.KafkaSourceTopic == "" {
		return nil, errors.New("KAFKA_SOURCE_TOPIC is required when KAFKA_BROKERS is set")
	}
	if cfg.KafkaSinkTopic != "" && !cfg.KafkaEnabled() {
		return nil, errors.New("KAFKA_SINK_TOPIC requires KAFKA_BROKERS")
	}
	if cfg.MQTTEnabled() && len(cfg.MQTTTopics) == 0 {
		return nil, errors.New("MQTT_TOPICS is required when MQTT_BROKER is set")
	}

	return cfg, nil
}

func parsePositiveInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be a positive integer", key, s)
	}
	return n, nil
}

func parseQoS() (byte, error) {
	s := sharedcfg.EnvOrDefault("MQTT_QOS", "1")
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n > 2 {
		return 0, fmt.Errorf("invalid MQTT_QOS %q: must be 0, 1 or 2", s)
	}
	return byte(n), nil
}

// parseList returns nil for an empty value so that unset lists disable
// their feature.
func parseList(raw string, split func(string) []string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []string
	for _, item := range split(raw) {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func splitComma(s string) []string { return strings.Split(s, ",") }
