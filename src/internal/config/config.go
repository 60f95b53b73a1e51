package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server" json:"server"`
	StorageDir string           `mapstructure:"storage_dir" json:"storage_dir"`
	Models     ModelsConfig     `mapstructure:"models" json:"models"`
	Automation AutomationConfig `mapstructure:"automation" json:"automation"`
	Embeddings EmbeddingsConfig `mapstructure:"embeddings" json:"embeddings"`
}

type ServerConfig struct {
	Addr          string `mapstructure:"addr" json:"addr"`
	Key           string `mapstructure:"key" json:"key,omitempty"`
	EffectiveHost string `mapstructure:"-" json:"effectiveHost"`
	Port          int    `mapstructure:"-" json:"port"`
}

type ModelsConfig struct {
	// Primary is "provider/model", e.g. "openai/gpt-4o".
	Primary   string                    `mapstructure:"primary" json:"primary"`
	Providers map[string]ProviderConfig `mapstructure:"providers" json:"providers"`
}

type ProviderConfig struct {
	BaseURL string `mapstructure:"baseUrl" json:"baseUrl"`
	APIKey  string `mapstructure:"apiKey" json:"apiKey,omitempty"`
	API     string `mapstructure:"api" json:"api"`
}

type AutomationConfig struct {
	// Schedule is a robfig/cron spec for the periodic automation cycle.
	Schedule        string `mapstructure:"schedule" json:"schedule"`
	BatchSize       int    `mapstructure:"batch_size" json:"batch_size"`
	MaxRounds       int    `mapstructure:"max_rounds" json:"max_rounds"`
	CycleTimeout    string `mapstructure:"cycle_timeout" json:"cycle_timeout"`
	DefaultTimeZone string `mapstructure:"default_timezone" json:"default_timezone"`
}

type EmbeddingsConfig struct {
	// Type selects the embedding backend for semantic knowledge search:
	// "openai", "openai-compatible", or "local" (deterministic, offline).
	Type   string `mapstructure:"type" json:"type"`
	APIKey string `mapstructure:"api_key" json:"api_key,omitempty"`
	Model  string `mapstructure:"model" json:"model"`
	URL    string `mapstructure:"url" json:"url"`
}

// CycleTimeoutDuration parses automation.cycle_timeout, defaulting to 10m.
func (c *Config) CycleTimeoutDuration() time.Duration {
	if c.Automation.CycleTimeout == "" {
		return 10 * time.Minute
	}
	d, err := time.ParseDuration(c.Automation.CycleTimeout)
	if err != nil || d <= 0 {
		return 10 * time.Minute
	}
	return d
}

// PrimaryProvider resolves models.primary into its provider config and
// bare model name.
func (c *Config) PrimaryProvider() (ProviderConfig, string, error) {
	parts := strings.SplitN(c.Models.Primary, "/", 2)
	if len(parts) != 2 {
		return ProviderConfig{}, "", fmt.Errorf("invalid models.primary %q, expected provider/model", c.Models.Primary)
	}
	prov, ok := c.Models.Providers[parts[0]]
	if !ok {
		return ProviderConfig{}, "", fmt.Errorf("provider %q not configured", parts[0])
	}
	return prov, parts[1], nil
}

func Load(override string) (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	appDir := filepath.Join(home, ".aria")
	if _, err := os.Stat(appDir); os.IsNotExist(err) {
		_ = os.MkdirAll(appDir, 0755)
	}

	// Environment overrides
	if envDir := os.Getenv("ARIA_STORAGE_DIR"); envDir != "" {
		appDir = envDir
		_ = os.MkdirAll(appDir, 0755)
	}

	if override != "" {
		viper.AddConfigPath(".")
		viper.SetConfigFile(override)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(appDir)
	}

	viper.SetDefault("server.addr", "0.0.0.0:8125")
	viper.SetDefault("automation.schedule", "@every 5m")
	viper.SetDefault("automation.batch_size", 5)
	viper.SetDefault("automation.max_rounds", 6)
	viper.SetDefault("automation.default_timezone", "UTC")
	viper.SetDefault("embeddings.type", "local")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Compute effective host/port from addr
	host, portStr, err := net.SplitHostPort(cfg.Server.Addr)
	if err != nil {
		return nil, fmt.Errorf("invalid server.addr %q: %w", cfg.Server.Addr, err)
	}
	cfg.Server.EffectiveHost = host
	if cfg.Server.EffectiveHost == "" {
		cfg.Server.EffectiveHost = "0.0.0.0"
	}
	p, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid port %q in server.addr %q: %w", portStr, cfg.Server.Addr, err)
	}
	cfg.Server.Port = p

	if cfg.StorageDir == "" {
		cfg.StorageDir = appDir
	}
	if strings.HasPrefix(cfg.StorageDir, "~/") {
		cfg.StorageDir = filepath.Join(home, cfg.StorageDir[2:])
	}

	// Override API keys from inline placeholders ($VAR) or default
	// environment variables.
	for p, prov := range cfg.Models.Providers {
		prov.APIKey = resolveKey(prov.APIKey, strings.ToUpper(p)+"_API_KEY")
		cfg.Models.Providers[p] = prov
	}
	cfg.Embeddings.APIKey = resolveKey(cfg.Embeddings.APIKey, "ARIA_EMBEDDINGS_API_KEY")

	return &cfg, nil
}

func resolveKey(apiKey, fallbackVar string) string {
	if strings.HasPrefix(apiKey, "$") {
		if envVal := os.Getenv(strings.TrimPrefix(apiKey, "$")); envVal != "" {
			return envVal
		}
		return ""
	}
	if apiKey == "" {
		if envVal := os.Getenv(fallbackVar); envVal != "" {
			return envVal
		}
	}
	return apiKey
}
