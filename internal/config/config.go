package config

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/pkgtravel/service-booking/internal/domain/booking"
	"github.com/pkgtravel/service-booking/pkg/config"
)

// ServiceConfig holds all configuration for the booking service.
type ServiceConfig struct {
	Port        string
	AppEnv      string
	DBConfig    config.DatabaseConfig
	JWTConfig   config.JWTConfig
	KafkaConfig config.KafkaConfig
	RedisConfig config.RedisConfig

	MarkupCacheTTL  time.Duration
	GatewayTimeout  time.Duration
	GatewayLatency  time.Duration
	GatewayName     string
	DefaultCurrency string
	ReferencePrefix string
	GuestSessionTTL time.Duration

	// InstanceID identifies this process in markup events so it can skip its own.
	InstanceID string

	PaymentSweepInterval time.Duration
	PaymentStaleAfter    time.Duration
}

// Load reads configuration from environment variables.
func Load() (*ServiceConfig, error) {
	v, err := config.Load("BOOKING")
	if err != nil {
		return nil, err
	}

	v.SetDefault("GATEWAY_NAME", "authorize_net")
	v.SetDefault("DEFAULT_CURRENCY", "USD")
	v.SetDefault("REFERENCE_PREFIX", "PKG")

	prefix := v.GetString("REFERENCE_PREFIX")
	if err := booking.ValidateReferencePrefix(prefix); err != nil {
		return nil, fmt.Errorf("invalid REFERENCE_PREFIX: %w", err)
	}

	instanceID := v.GetString("INSTANCE_ID")
	if instanceID == "" {
		host, _ := os.Hostname()
		instanceID = host + "-" + uuid.NewString()[:8]
	}

	return &ServiceConfig{
		Port:        config.GetServicePort(v, "SERVICE_PORT"),
		AppEnv:      config.GetAppEnv(v),
		DBConfig:    config.LoadDatabaseConfig(v, "DB_NAME"),
		JWTConfig:   config.LoadJWTConfig(v),
		KafkaConfig: config.LoadKafkaConfig(v),
		RedisConfig: config.LoadRedisConfig(v),

		MarkupCacheTTL:  config.GetDuration(v, "MARKUP_CACHE_TTL", 30*time.Minute),
		GatewayTimeout:  config.GetDuration(v, "GATEWAY_TIMEOUT", 15*time.Second),
		GatewayLatency:  config.GetDuration(v, "GATEWAY_LATENCY", 0),
		GatewayName:     v.GetString("GATEWAY_NAME"),
		DefaultCurrency: v.GetString("DEFAULT_CURRENCY"),
		ReferencePrefix: prefix,
		GuestSessionTTL: config.GetDuration(v, "GUEST_SESSION_TTL", 30*24*time.Hour),
		InstanceID:      instanceID,

		PaymentSweepInterval: config.GetDuration(v, "PAYMENT_SWEEP_INTERVAL", time.Minute),
		PaymentStaleAfter:    config.GetDuration(v, "PAYMENT_STALE_AFTER", 30*time.Minute),
	}, nil
}
