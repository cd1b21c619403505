package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Trigger sources the serve command can attach the reactive handler to.
const (
	TriggerDynamoStreams = "dynamodb"
	TriggerKafka         = "kafka"
	TriggerNone          = "none"
)

// Config holds all runtime configuration loaded from environment variables.
// Delivery credentials are not part of it; Resolver reads them per invocation.
type Config struct {
	AppPort  string
	AppEnv   string
	LogLevel string

	AWSRegion      string
	AWSEndpointURL string // empty in prod, set to LocalStack URL in dev
	AWSAccessKeyID string
	AWSSecretKey   string
	DynamoTables   DynamoTables
	AutoBootstrap  bool

	RecordPath          string // templated document path, e.g. verification_codes/{email}
	TriggerSource       string
	StreamARN           string // empty: looked up from the table description
	StreamIteratorType  string // used only when StreamCheckpointing is off
	StreamPollInterval  time.Duration
	StreamCheckpointing bool

	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroupID string

	LegacyConfigPath string
	ConfigCacheTTL   time.Duration
	SendGridHost     string

	SNSRegion     string
	AlertTopicARN string // empty disables operator alerts

	RateLimitRPS          int
	RateLimitBurst        int
	TrustForwardedHeaders bool     // only behind an edge proxy that sets X-Forwarded-For
	AllowedOrigins        []string // CORS allowed origins
}

// DynamoTables holds the DynamoDB table name for each entity.
type DynamoTables struct {
	VerificationCodes string
	StreamCheckpoints string
}

// Load reads all configuration from environment variables.
func Load() *Config {
	table := getEnv("DYNAMO_TABLE_VERIFICATION_CODES", "verification_codes")
	return &Config{
		AppPort:  getEnv("APP_PORT", "3000"),
		AppEnv:   getEnv("APP_ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
		AWSEndpointURL: getEnv("AWS_ENDPOINT_URL", ""),
		AWSAccessKeyID: getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretKey:   getEnv("AWS_SECRET_ACCESS_KEY", ""),
		DynamoTables: DynamoTables{
			VerificationCodes: table,
			StreamCheckpoints: getEnv("DYNAMO_TABLE_STREAM_CHECKPOINTS", "verifymail_stream_checkpoints"),
		},
		AutoBootstrap: getEnvBool("DYNAMO_AUTO_BOOTSTRAP", true),

		RecordPath:          getEnv("RECORD_PATH", table+"/{email}"),
		TriggerSource:       strings.ToLower(getEnv("TRIGGER_SOURCE", TriggerDynamoStreams)),
		StreamARN:           getEnv("STREAM_ARN", ""),
		StreamIteratorType:  strings.ToUpper(getEnv("STREAM_ITERATOR_TYPE", "LATEST")),
		StreamPollInterval:  getEnvDuration("STREAM_POLL_INTERVAL", time.Second),
		StreamCheckpointing: getEnvBool("STREAM_CHECKPOINTING", true),

		KafkaBrokers: splitList(getEnv("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "verification-codes.changes"),
		KafkaGroupID: getEnv("KAFKA_GROUP_ID", "verifymail"),

		LegacyConfigPath: getEnv("LEGACY_CONFIG_PATH", "./runtimeconfig.yaml"),
		ConfigCacheTTL:   getEnvDuration("CONFIG_CACHE_TTL", 5*time.Minute),
		SendGridHost:     getEnv("SENDGRID_HOST", "https://api.sendgrid.com"),

		SNSRegion:     getEnv("SNS_REGION", "us-east-1"),
		AlertTopicARN: getEnv("ALERT_TOPIC_ARN", ""),

		RateLimitRPS:          getEnvInt("RATE_LIMIT_RPS", 5),
		RateLimitBurst:        getEnvInt("RATE_LIMIT_BURST", 10),
		TrustForwardedHeaders: getEnvBool("TRUST_FORWARDED_HEADERS", false),
		AllowedOrigins:        splitList(getEnv("ALLOWED_ORIGINS", "*")),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
