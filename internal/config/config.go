package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds runtime configuration for the monitor. Loaded once at process
// start and immutable afterwards.
type Config struct {
	// Server
	ServerAddr string
	LogLevel   string
	// JWTSecret enables bearer-token auth on mutating API routes when
	// non-empty.
	JWTSecret string

	// MySQL
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Redis
	RedisAddr string
	RedisDB   int

	// MQTT telemetry transport
	MQTTBroker   string
	MQTTClientID string
	MQTTTopic    string
	MQTTQoS      byte

	// Kafka event backbone
	KafkaBrokers      []string
	ReadingsTopic     string
	AlertsTopic       string
	DeadLetterTopic   string
	KafkaMaxRetries   int
	KafkaRetryBackoff time.Duration
	KafkaWriteTimeout time.Duration

	// Ingest pipeline
	IngestShards    int
	IngestQueueSize int

	// Retention
	ReadingRetention time.Duration
	PurgeInterval    time.Duration
}

// Load reads configuration from the environment, with .env support for local
// development. Missing variables fall back to safe defaults.
func Load() *Config {
	// Best effort; environment variables may be set some other way.
	_ = godotenv.Load()

	qos := getEnvAsInt("MQTT_QOS", 1)
	if qos < 0 || qos > 2 {
		qos = 1
	}

	return &Config{
		ServerAddr: getEnv("SERVER_ADDR", ":8080"),
		LogLevel:   getEnv("LOG_LEVEL", "info"),
		JWTSecret:  getEnv("JWT_SECRET", ""),

		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", "drainwatch"),

		RedisAddr: getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:   getEnvAsInt("REDIS_DB", 0),

		MQTTBroker:   getEnv("MQTT_BROKER", "tcp://localhost:1883"),
		MQTTClientID: getEnv("MQTT_CLIENT_ID", "drainwatch-monitor"),
		MQTTTopic:    getEnv("MQTT_TOPIC", "drainage/sensor-data"),
		MQTTQoS:      byte(qos),

		KafkaBrokers:      splitCSV(getEnv("KAFKA_BROKERS", "localhost:9092")),
		ReadingsTopic:     getEnv("KAFKA_READINGS_TOPIC", "drainwatch.readings"),
		AlertsTopic:       getEnv("KAFKA_ALERTS_TOPIC", "drainwatch.alerts"),
		DeadLetterTopic:   getEnv("KAFKA_DEAD_LETTER_TOPIC", "drainwatch.dead-letter"),
		KafkaMaxRetries:   getEnvAsInt("KAFKA_MAX_RETRIES", 3),
		KafkaRetryBackoff: getEnvAsDuration("KAFKA_RETRY_BACKOFF", 100*time.Millisecond),
		KafkaWriteTimeout: getEnvAsDuration("KAFKA_WRITE_TIMEOUT", 10*time.Second),

		IngestShards:    getEnvAsInt("INGEST_SHARDS", 4),
		IngestQueueSize: getEnvAsInt("INGEST_QUEUE_SIZE", 256),

		ReadingRetention: getEnvAsDuration("READING_RETENTION", 30*24*time.Hour),
		PurgeInterval:    getEnvAsDuration("PURGE_INTERVAL", 24*time.Hour),
	}
}

// GetDSN returns the MySQL connection string.
func (c *Config) GetDSN() string {
	return c.DBUser + ":" + c.DBPassword + "@tcp(" + c.DBHost + ":" + c.DBPort + ")/" +
		c.DBName + "?charset=utf8mb4&parseTime=True&loc=Local"
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
