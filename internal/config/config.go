package config

import (
	"os"
	"strconv"
)

// Config carries the process settings. Empty MySQLDSN or RedisAddr selects
// the in-memory adapters (dev mode); empty KafkaBroker disables the audit
// stream.
type Config struct {
	HTTPAddr    string
	MySQLDSN    string
	RedisAddr   string
	KafkaBroker string
	WorkerCount int
	QueueSize   int
}

func Load() Config {
	return Config{
		HTTPAddr:    getEnv("HTTP_ADDR", ":8080"),
		MySQLDSN:    os.Getenv("MYSQL_DSN"),
		RedisAddr:   os.Getenv("REDIS_ADDR"),
		KafkaBroker: os.Getenv("KAFKA_BROKER"),
		WorkerCount: getEnvInt("WORKER_COUNT", 10),
		QueueSize:   getEnvInt("QUEUE_SIZE", 10000),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
