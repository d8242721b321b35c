// Package config provides unified configuration for the document
// authentication service.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. YAML config file (discovered or explicitly specified)
//  3. Environment variable overrides (CARPETA_ prefix)
//  4. File reference resolution (_file suffix fields)
//  5. Validation
package config

import "time"

// Config holds all configuration for the service.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Broker        BrokerConfig        `yaml:"broker"`
	Services      ServicesConfig      `yaml:"services"`
	JWT           JWTConfig           `yaml:"jwt"`
	Breaker       BreakerConfig       `yaml:"breaker"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds intake HTTP server settings.
type ServerConfig struct {
	Port         int           `yaml:"port"`          // default: 8080
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // default: 30s
	WriteTimeout time.Duration `yaml:"write_timeout"` // default: 30s
}

// BrokerConfig holds message broker settings.
type BrokerConfig struct {
	URL          string `yaml:"url"`           // required, amqp://... connection string
	URLFile      string `yaml:"url_file"`      // _file variant for url
	RequestQueue string `yaml:"request_queue"` // default: "document.authentication.request.queue"
	OutcomeQueue string `yaml:"outcome_queue"` // default: "document.authenticated.response.queue"
	Prefetch     int    `yaml:"prefetch"`      // default: 10
}

// ServicesConfig holds the external service endpoints.
type ServicesConfig struct {
	FolderServiceURL string        `yaml:"folder_service_url"` // required
	AuthorityURL     string        `yaml:"authority_url"`      // required
	HealthTimeout    time.Duration `yaml:"health_timeout"`     // default: 5s
	CallTimeout      time.Duration `yaml:"call_timeout"`       // default: 30s
}

// JWTConfig holds bearer token verification settings.
type JWTConfig struct {
	Secret     string `yaml:"secret"`      // HMAC signing secret
	SecretFile string `yaml:"secret_file"` // _file variant for secret
}

// BreakerConfig holds circuit breaker tuning.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"` // default: 5
	Timeout          time.Duration `yaml:"timeout"`           // default: 60s
}

// ObservabilityConfig holds monitoring and instrumentation settings.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: "/metrics"
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Broker: BrokerConfig{
			RequestQueue: "document.authentication.request.queue",
			OutcomeQueue: "document.authenticated.response.queue",
			Prefetch:     10,
		},
		Services: ServicesConfig{
			HealthTimeout: 5 * time.Second,
			CallTimeout:   30 * time.Second,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			Timeout:          60 * time.Second,
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}
