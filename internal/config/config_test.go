package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GATEWAY_TIMEOUT", "")
	t.Setenv("KAFKA_BROKERS", "")
	cfg := Load()
	assert.Equal(t, ":8081", cfg.HTTPAddr)
	assert.Equal(t, 10*time.Second, cfg.GatewayTimeout)
	assert.Equal(t, []string{"kafka:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "NGN", cfg.Currency)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("GATEWAY_TIMEOUT", "1500ms")
	t.Setenv("KAFKA_BROKERS", " a:1, ,b:2 ")
	t.Setenv("PAYMENT_CURRENCY", "usd")
	t.Setenv("RECONCILER_WORKERS", "nope")
	cfg := Load()
	assert.Equal(t, 1500*time.Millisecond, cfg.GatewayTimeout)
	assert.Equal(t, []string{"a:1", "b:2"}, cfg.KafkaBrokers)
	assert.Equal(t, "USD", cfg.Currency)
	assert.Equal(t, 4, cfg.ReconcilerWorkers)
}
