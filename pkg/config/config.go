// Package config holds the service configuration assembled from flags and environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the full runtime configuration of the service.
type Config struct {
	Addr        string `validate:"required"`
	DatabaseURL string
	LogLevel    string `validate:"oneof=debug info warn error"`
	CORSOrigins []string

	EventBus     string   `validate:"oneof=gochannel kafka"`
	KafkaBrokers []string `validate:"required_if=EventBus kafka"`
	RedisURL     string

	RunTimeout      time.Duration `validate:"gt=0"`
	NodeTimeout     time.Duration `validate:"gt=0"`
	OrphanThreshold time.Duration `validate:"gt=0"`
	SweepSchedule   string        `validate:"required"`
	MarkOrphans     bool

	ExecuteRate float64 `validate:"gte=0"`
	Tracing     bool
	Seed        bool
}

// Default returns a configuration with the documented defaults.
func Default() Config {
	return Config{
		Addr:            ":8080",
		LogLevel:        "info",
		CORSOrigins:     []string{"http://localhost:3003"},
		EventBus:        "gochannel",
		RunTimeout:      5 * time.Minute,
		NodeTimeout:     time.Minute,
		OrphanThreshold: 30 * time.Minute,
		SweepSchedule:   "@every 5m",
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration and reports every invalid field at once.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// SplitList splits a comma separated flag value, dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
