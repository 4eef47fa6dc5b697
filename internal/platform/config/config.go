package config

import (
	"os"
	"strings"
	"time"
)

// Server captures process-level configuration so main stays lean.
type Server struct {
	Addr         string
	AdminToken   string
	ReceiptKey   string
	PostgresDSN  string
	RedisURL     string
	KafkaBrokers []string
}

// EntryCacheTTL bounds retention of content-addressed entry cache rows. The
// cached content is immutable, so the TTL only limits memory, not staleness.
var EntryCacheTTL = 24 * time.Hour

// FromEnv builds a Server config from environment variables.
func FromEnv() Server {
	addr := os.Getenv("COVENANT_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	receiptKey := os.Getenv("RECEIPT_SIGNING_KEY")
	if receiptKey == "" {
		// Use a default for development - should be overridden in production
		receiptKey = "dev-secret-key-change-in-production"
	}

	var brokers []string
	if raw := os.Getenv("KAFKA_BROKERS"); raw != "" {
		for _, b := range strings.Split(raw, ",") {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
	}

	return Server{
		Addr:         addr,
		AdminToken:   os.Getenv("ADMIN_TOKEN"),
		ReceiptKey:   receiptKey,
		PostgresDSN:  os.Getenv("POSTGRES_DSN"),
		RedisURL:     os.Getenv("REDIS_URL"),
		KafkaBrokers: brokers,
	}
}
