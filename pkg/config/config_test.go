package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad log level", func(c *Config) { c.LogLevel = "trace" }, "LogLevel"},
		{"bad event bus", func(c *Config) { c.EventBus = "nats" }, "EventBus"},
		{"kafka without brokers", func(c *Config) { c.EventBus = "kafka" }, "KafkaBrokers"},
		{"zero run timeout", func(c *Config) { c.RunTimeout = 0 }, "RunTimeout"},
		{"missing addr", func(c *Config) { c.Addr = "" }, "Addr"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_KafkaWithBrokers(t *testing.T) {
	cfg := Default()
	cfg.EventBus = "kafka"
	cfg.KafkaBrokers = []string{"localhost:9092"}
	assert.NoError(t, cfg.Validate())
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a:1", "b:2"}, SplitList(" a:1, ,b:2 "))
	assert.Nil(t, SplitList(""))
}
