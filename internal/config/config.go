// Package config loads askdb settings from the environment and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Supported LLM providers.
const (
	ProviderGoogleAI  = "googleai"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
	ProviderBedrock   = "bedrock"
)

// Config holds all configuration values.
type Config struct {
	// Database
	DatabaseURL string `yaml:"database_url"`
	DBReadOnly  bool   `yaml:"db_read_only"`
	DBMaxConns  int32  `yaml:"db_max_conns"`

	// LLM
	LLMProvider     string `yaml:"llm_provider"`
	LLMModel        string `yaml:"llm_model"`
	GoogleAPIKey    string `yaml:"google_api_key"`
	OpenAIAPIKey    string `yaml:"openai_api_key"`
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	OllamaHost      string `yaml:"ollama_host"`
	AWSRegion       string `yaml:"aws_region"`

	// Pipeline
	StageTimeout   time.Duration `yaml:"-"`
	ValidateTables bool          `yaml:"validate_tables"`

	// Server
	ServerPort string `yaml:"server_port"`

	// CLI client
	ServerURL     string        `yaml:"server_url"`
	ClientTimeout time.Duration `yaml:"-"`

	// Logging
	LogFile  string     `yaml:"log_file"`
	LogLevel slog.Level `yaml:"-"`
}

// Load reads configuration from environment variables.
func Load() Config {
	return Config{
		DatabaseURL: getEnv("DATABASE_URL", ""),
		DBReadOnly:  getEnv("DB_READ_ONLY", "false") == "true",
		DBMaxConns:  int32(getInt("DB_MAX_CONNS", 10)),

		LLMProvider:     strings.ToLower(getEnv("LLM_PROVIDER", ProviderGoogleAI)),
		LLMModel:        getEnv("LLM_MODEL", "gemini-2.0-flash"),
		GoogleAPIKey:    getEnv("GOOGLE_API_KEY", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		OllamaHost:      getEnv("OLLAMA_HOST", "http://localhost:11434"),
		AWSRegion:       getEnv("AWS_REGION", "us-east-1"),

		StageTimeout:   getDuration("ASKDB_STAGE_TIMEOUT", 60*time.Second),
		ValidateTables: getEnv("ASKDB_VALIDATE_TABLES", "false") == "true",

		ServerPort: getEnv("ASKDB_SERVER_PORT", "8000"),

		ServerURL:     getEnv("ASKDB_SERVER_URL", "http://localhost:8000"),
		ClientTimeout: getDuration("ASKDB_CLIENT_TIMEOUT", 5*time.Minute),

		LogFile:  getEnv("ASKDB_LOG_FILE", "/tmp/askdb.log"),
		LogLevel: parseLogLevel(getEnv("ASKDB_LOG_LEVEL", "INFO")),
	}
}

// fileConfig mirrors Config for YAML decoding. Durations and the log level
// are strings in the file.
type fileConfig struct {
	Config        `yaml:",inline"`
	StageTimeout  string `yaml:"stage_timeout"`
	ClientTimeout string `yaml:"client_timeout"`
	LogLevel      string `yaml:"log_level"`
}

// LoadFile overlays the YAML file at path onto base. Keys absent from the
// file keep their value from base.
func LoadFile(base Config, path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("read config file: %w", err)
	}

	fc := fileConfig{Config: base}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return base, fmt.Errorf("parse config file: %w", err)
	}

	cfg := fc.Config
	if fc.StageTimeout != "" {
		d, err := time.ParseDuration(fc.StageTimeout)
		if err != nil {
			return base, fmt.Errorf("stage_timeout: %w", err)
		}
		cfg.StageTimeout = d
	}
	if fc.ClientTimeout != "" {
		d, err := time.ParseDuration(fc.ClientTimeout)
		if err != nil {
			return base, fmt.Errorf("client_timeout: %w", err)
		}
		cfg.ClientTimeout = d
	}
	if fc.LogLevel != "" {
		cfg.LogLevel = parseLogLevel(fc.LogLevel)
	}
	cfg.LLMProvider = strings.ToLower(cfg.LLMProvider)
	return cfg, nil
}

// Resolve loads the environment and overlays the YAML file at path.
// An empty path falls back to $ASKDB_CONFIG; no file at all is fine.
func Resolve(path string) (Config, error) {
	cfg := Load()
	if path == "" {
		path = os.Getenv("ASKDB_CONFIG")
	}
	if path == "" {
		return cfg, nil
	}
	return LoadFile(cfg, path)
}

// Validate reports every missing required setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is not set"))
	}

	switch c.LLMProvider {
	case ProviderGoogleAI:
		if c.GoogleAPIKey == "" {
			errs = append(errs, errors.New("GOOGLE_API_KEY is not set"))
		}
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY is not set"))
		}
	case ProviderAnthropic:
		if c.AnthropicAPIKey == "" {
			errs = append(errs, errors.New("ANTHROPIC_API_KEY is not set"))
		}
	case ProviderOllama, ProviderBedrock:
	default:
		errs = append(errs, fmt.Errorf("unsupported LLM provider: %q", c.LLMProvider))
	}

	if c.LLMModel == "" {
		errs = append(errs, errors.New("LLM_MODEL is empty"))
	}
	if c.StageTimeout < 0 {
		errs = append(errs, errors.New("stage timeout must not be negative"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return d
	}
	return defaultVal
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
