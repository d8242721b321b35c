package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks the configuration for required fields and valid values.
// Returns an error with a descriptive field path on failure.
func (c *Config) Validate() error {
	var errs []error

	// server.port must be positive.
	if c.Server.Port <= 0 {
		errs = append(errs, fmt.Errorf("server.port must be > 0, got %d", c.Server.Port))
	}

	// broker.url is required.
	if c.Broker.URL == "" {
		errs = append(errs, fmt.Errorf("broker.url is required"))
	} else if !strings.HasPrefix(c.Broker.URL, "amqp://") && !strings.HasPrefix(c.Broker.URL, "amqps://") {
		errs = append(errs, fmt.Errorf("broker.url must be an amqp:// or amqps:// URL, got %q", c.Broker.URL))
	}

	if c.Broker.RequestQueue == "" {
		errs = append(errs, fmt.Errorf("broker.request_queue is required"))
	}
	if c.Broker.OutcomeQueue == "" {
		errs = append(errs, fmt.Errorf("broker.outcome_queue is required"))
	}
	if c.Broker.Prefetch <= 0 {
		errs = append(errs, fmt.Errorf("broker.prefetch must be > 0, got %d", c.Broker.Prefetch))
	}

	// Both external endpoints are required.
	if c.Services.FolderServiceURL == "" {
		errs = append(errs, fmt.Errorf("services.folder_service_url is required"))
	}
	if c.Services.AuthorityURL == "" {
		errs = append(errs, fmt.Errorf("services.authority_url is required"))
	}

	if c.Breaker.FailureThreshold <= 0 {
		errs = append(errs, fmt.Errorf("breaker.failure_threshold must be > 0, got %d", c.Breaker.FailureThreshold))
	}
	if c.Breaker.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("breaker.timeout must be > 0, got %v", c.Breaker.Timeout))
	}

	return errors.Join(errs...)
}
