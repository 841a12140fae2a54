package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Config represents the complete application configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Webhook WebhookConfig `yaml:"webhook"`
	Crypto  CryptoConfig  `yaml:"crypto"`
	Graph   GraphConfig   `yaml:"graph"`
	Relay   RelayConfig   `yaml:"relay"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Addr         string `yaml:"addr"`
	ReadTimeout  int    `yaml:"read_timeout"`
	WriteTimeout int    `yaml:"write_timeout"`
	IdleTimeout  int    `yaml:"idle_timeout"`
}

// StorageConfig contains subscription store settings
type StorageConfig struct {
	DataDir               string `yaml:"data_dir"`
	CacheEnabled          bool   `yaml:"cache_enabled"`
	SubscriptionCacheSize int    `yaml:"subscription_cache_size"`
}

// WebhookConfig contains inbound notification validation settings.
// ClientState is the shared secret echoed by the provider in every
// notification; AppID and TenantID are checked against the claims of
// provider-signed validation tokens.
type WebhookConfig struct {
	ClientState string `yaml:"client_state"`
	AppID       string `yaml:"app_id"`
	TenantID    string `yaml:"tenant_id"`
}

// CryptoConfig contains the key material used to decrypt notifications
// that carry resource data. The certificate is registered with the
// provider at subscription-creation time and referenced by ID.
type CryptoConfig struct {
	PrivateKeyPath     string `yaml:"private_key_path"`
	PrivateKeyPassword string `yaml:"private_key_password"`
	CertificatePath    string `yaml:"certificate_path"`
	CertificateID      string `yaml:"certificate_id"`
}

// GraphConfig contains settings for the Microsoft Graph API client
type GraphConfig struct {
	BaseURL string `yaml:"base_url"`

	// Bearer token used for outbound Graph calls. Expected to arrive via
	// SUBWATCH_GRAPH_TOKEN in production.
	AccessToken string `yaml:"access_token"`

	// Public host the provider delivers notifications to, used when
	// creating subscriptions (listen/lifecycle URLs are derived from it)
	NotificationHost string `yaml:"notification_host"`
}

// RelayConfig contains fan-out relay settings
type RelayConfig struct {
	MaxBufferSize int `yaml:"max_buffer_size"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level             string            `yaml:"level"`
	Format            string            `yaml:"format"`
	IncludeCaller     bool              `yaml:"include_caller"`
	IncludeStacktrace bool              `yaml:"include_stacktrace"`
	GlobalFields      map[string]string `yaml:"global_fields"`
}

// MetricsConfig contains metrics settings
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  5,
			WriteTimeout: 10,
			IdleTimeout:  120,
		},
		Storage: StorageConfig{
			DataDir:               "./data",
			CacheEnabled:          true,
			SubscriptionCacheSize: 1000,
		},
		Graph: GraphConfig{
			BaseURL: "https://graph.microsoft.com/v1.0",
		},
		Relay: RelayConfig{
			MaxBufferSize: 100,
		},
		Logging: LoggingConfig{
			Level:             "info",
			Format:            "json",
			IncludeCaller:     true,
			IncludeStacktrace: true,
			GlobalFields:      map[string]string{},
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
	}
}

// LoadConfigFromFile loads configuration from a YAML file
func LoadConfigFromFile(filePath string) (*Config, error) {
	// Start with default configuration
	config := DefaultConfig()

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn().Str("file", filePath).Msg("Configuration file not found, using defaults")
			return config, nil
		}
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return config, nil
}

// LoadConfig loads configuration from file, environment variables, and flags
func LoadConfig(configFile string, dataDir string, serverAddr string, logLevel string) (*Config, error) {
	var config *Config
	var err error

	if configFile != "" {
		config, err = LoadConfigFromFile(configFile)
		if err != nil {
			return nil, err
		}
	} else {
		config = DefaultConfig()
	}

	// Override with environment variables
	applyEnvOverrides(config)

	// Override with command line flags (highest priority)
	if dataDir != "" {
		absDataDir, err := filepath.Abs(dataDir)
		if err != nil {
			return nil, fmt.Errorf("failed to get absolute path for data directory: %w", err)
		}
		config.Storage.DataDir = absDataDir
	}

	if serverAddr != "" {
		config.Server.Addr = serverAddr
	}

	if logLevel != "" {
		config.Logging.Level = logLevel
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to the
// configuration. Secrets are expected to arrive this way in production
// rather than living in the config file.
func applyEnvOverrides(config *Config) {
	if addr := os.Getenv("SUBWATCH_SERVER_ADDR"); addr != "" {
		config.Server.Addr = addr
	}
	if dataDir := os.Getenv("SUBWATCH_STORAGE_DATA_DIR"); dataDir != "" {
		config.Storage.DataDir = dataDir
	}

	if state := os.Getenv("SUBWATCH_CLIENT_STATE"); state != "" {
		config.Webhook.ClientState = state
	}
	if appID := os.Getenv("SUBWATCH_APP_ID"); appID != "" {
		config.Webhook.AppID = appID
	}
	if tenantID := os.Getenv("SUBWATCH_TENANT_ID"); tenantID != "" {
		config.Webhook.TenantID = tenantID
	}

	if keyPath := os.Getenv("SUBWATCH_PRIVATE_KEY_PATH"); keyPath != "" {
		config.Crypto.PrivateKeyPath = keyPath
	}
	if keyPass := os.Getenv("SUBWATCH_PRIVATE_KEY_PASSWORD"); keyPass != "" {
		config.Crypto.PrivateKeyPassword = keyPass
	}
	if certPath := os.Getenv("SUBWATCH_CERTIFICATE_PATH"); certPath != "" {
		config.Crypto.CertificatePath = certPath
	}
	if certID := os.Getenv("SUBWATCH_CERTIFICATE_ID"); certID != "" {
		config.Crypto.CertificateID = certID
	}

	if baseURL := os.Getenv("SUBWATCH_GRAPH_BASE_URL"); baseURL != "" {
		config.Graph.BaseURL = baseURL
	}
	if token := os.Getenv("SUBWATCH_GRAPH_TOKEN"); token != "" {
		config.Graph.AccessToken = token
	}
	if host := os.Getenv("SUBWATCH_NOTIFICATION_HOST"); host != "" {
		config.Graph.NotificationHost = host
	}

	if level := os.Getenv("SUBWATCH_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("SUBWATCH_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
}

// Validate checks that settings required at runtime are present
func (c *Config) Validate() error {
	if c.Webhook.ClientState == "" {
		return fmt.Errorf("webhook client_state is required")
	}
	if c.Webhook.AppID == "" || c.Webhook.TenantID == "" {
		return fmt.Errorf("webhook app_id and tenant_id are required")
	}
	return nil
}
