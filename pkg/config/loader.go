package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from a layered set of sources.
//
// The loading order is:
//  1. Built-in defaults
//  2. YAML config file (explicit path, CARPETA_CONFIG env, ./config.yaml, /etc/carpeta/config.yaml)
//  3. Environment variable overrides
//  4. File reference resolution (_file suffix)
//  5. Validation
func Load(configPath string) (*Config, error) {
	// Start with defaults.
	cfg := Defaults()

	// Discover and load YAML config file.
	filePath := discoverConfigFile(configPath)
	if filePath != "" {
		if err := loadYAMLFile(filePath, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", filePath, err)
		}
	}

	// Apply environment variable overrides.
	applyEnvOverrides(&cfg)

	// Resolve _file references.
	if err := resolveFileReferences(&cfg); err != nil {
		return nil, fmt.Errorf("resolving file references: %w", err)
	}

	// Validate.
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

// discoverConfigFile finds the config file path using the discovery order:
// 1. Explicit configPath argument
// 2. CARPETA_CONFIG environment variable
// 3. ./config.yaml in the current directory
// 4. /etc/carpeta/config.yaml
//
// Returns empty string if no config file is found.
func discoverConfigFile(configPath string) string {
	// Explicit path takes priority.
	if configPath != "" {
		return configPath
	}

	// Check CARPETA_CONFIG env var.
	if envPath := os.Getenv("CARPETA_CONFIG"); envPath != "" {
		return envPath
	}

	// Check common locations.
	candidates := []string{
		"config.yaml",
		"/etc/carpeta/config.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// loadYAMLFile reads and parses a YAML file into the Config struct.
// Fields not present in the YAML retain their current (default) values.
func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// applyEnvOverrides maps CARPETA_* environment variables to config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CARPETA_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("CARPETA_BROKER_URL"); v != "" {
		cfg.Broker.URL = v
	}
	if v := os.Getenv("CARPETA_REQUEST_QUEUE"); v != "" {
		cfg.Broker.RequestQueue = v
	}
	if v := os.Getenv("CARPETA_OUTCOME_QUEUE"); v != "" {
		cfg.Broker.OutcomeQueue = v
	}
	if v := os.Getenv("CARPETA_PREFETCH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Broker.Prefetch = n
		}
	}
	if v := os.Getenv("CARPETA_FOLDER_SERVICE_URL"); v != "" {
		cfg.Services.FolderServiceURL = v
	}
	if v := os.Getenv("CARPETA_AUTHORITY_URL"); v != "" {
		cfg.Services.AuthorityURL = v
	}
	if v := os.Getenv("CARPETA_JWT_SECRET"); v != "" {
		cfg.JWT.Secret = v
	}
	if v := os.Getenv("CARPETA_BREAKER_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Breaker.FailureThreshold = n
		}
	}
	if v := os.Getenv("CARPETA_BREAKER_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Breaker.Timeout = d
		}
	}
}

// resolveFileReferences reads _file fields and populates the corresponding
// value fields. For each field ending in _file, if the value field is empty
// and the file field is set, the file is read, whitespace is trimmed, and
// the value field is populated.
func resolveFileReferences(cfg *Config) error {
	// broker.url_file -> broker.url
	if cfg.Broker.URLFile != "" && cfg.Broker.URL == "" {
		val, err := readSecretFile(cfg.Broker.URLFile)
		if err != nil {
			return fmt.Errorf("broker.url_file: %w", err)
		}
		cfg.Broker.URL = val
	}

	// jwt.secret_file -> jwt.secret
	if cfg.JWT.SecretFile != "" && cfg.JWT.Secret == "" {
		val, err := readSecretFile(cfg.JWT.SecretFile)
		if err != nil {
			return fmt.Errorf("jwt.secret_file: %w", err)
		}
		cfg.JWT.Secret = val
	}

	return nil
}

// readSecretFile reads a file and returns its content with surrounding whitespace trimmed.
func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
