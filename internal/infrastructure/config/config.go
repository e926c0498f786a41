package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix         = "DNC_"
	DefaultConfigPath = "configs/config.yaml"
)

type Config struct {
	Version     string `koanf:"version"`
	Environment string `koanf:"environment" validate:"required"`
	LogLevel    string `koanf:"log_level" validate:"oneof=debug info warn error"`

	Server      ServerConfig      `koanf:"server"`
	Database    DatabaseConfig    `koanf:"database"`
	Redis       RedisConfig       `koanf:"redis"`
	Auth        AuthConfig        `koanf:"auth"`
	Enforcement EnforcementConfig `koanf:"enforcement"`
	Registry    RegistryConfig    `koanf:"registry"`
	Channels    ChannelsConfig    `koanf:"channels"`
	Telemetry   TelemetryConfig   `koanf:"telemetry"`
}

type ServerConfig struct {
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	EvaluateRPS     float64       `koanf:"evaluate_rps" validate:"gte=0"`
	EvaluateBurst   int           `koanf:"evaluate_burst" validate:"gte=0"`
	MaxUploadBytes  int64         `koanf:"max_upload_bytes" validate:"gt=0"`
	// ValidateContract checks API requests against the OpenAPI document.
	ValidateContract bool `koanf:"validate_contract"`
}

type DatabaseConfig struct {
	Driver          string        `koanf:"driver" validate:"oneof=postgres memory"`
	URL             string        `koanf:"url" validate:"required_if=Driver postgres"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

type RedisConfig struct {
	URL       string        `koanf:"url"`
	Password  string        `koanf:"password"`
	DB        int           `koanf:"db"`
	PolicyTTL time.Duration `koanf:"policy_ttl"`
}

// Enabled reports whether a Redis server is configured.
func (r RedisConfig) Enabled() bool {
	return r.URL != ""
}

type AuthConfig struct {
	JWTSecret string `koanf:"jwt_secret" validate:"required,min=16"`
	Issuer    string `koanf:"issuer"`
}

type EnforcementConfig struct {
	FailClosed     bool     `koanf:"fail_closed"`
	BypassKeywords []string `koanf:"bypass_keywords"`
}

type RegistryConfig struct {
	AssignFallbackClient bool          `koanf:"assign_fallback_client"`
	SweepInterval        time.Duration `koanf:"sweep_interval"`
}

type ChannelsConfig struct {
	SESRegion       string        `koanf:"ses_region"`
	SESFrom         string        `koanf:"ses_from"`
	SESAccessKey    string        `koanf:"ses_access_key"`
	SESSecretKey    string        `koanf:"ses_secret_key"`
	SMSGatewayURL   string        `koanf:"sms_gateway_url" validate:"omitempty,url"`
	WhatsAppURL     string        `koanf:"whatsapp_gateway_url" validate:"omitempty,url"`
	VoiceGatewayURL string        `koanf:"voice_gateway_url" validate:"omitempty,url"`
	GatewayToken    string        `koanf:"gateway_token"`
	GatewayTimeout  time.Duration `koanf:"gateway_timeout"`
}

type TelemetryConfig struct {
	Enabled       bool    `koanf:"enabled"`
	ServiceName   string  `koanf:"service_name"`
	OTLPEndpoint  string  `koanf:"otlp_endpoint"`
	Insecure      bool    `koanf:"insecure"`
	SamplingRatio float64 `koanf:"sampling_ratio" validate:"gte=0,lte=1"`
}

// Defaults returns the configuration used when nothing overrides it.
func Defaults() *Config {
	return &Config{
		Version:     "dev",
		Environment: "development",
		LogLevel:    "info",
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			EvaluateRPS:     50,
			EvaluateBurst:   100,
			MaxUploadBytes:  10 << 20,
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			DB:        0,
			PolicyTTL: time.Minute,
		},
		Auth: AuthConfig{
			Issuer: "dnc-guard",
		},
		Registry: RegistryConfig{
			SweepInterval: time.Hour,
		},
		Channels: ChannelsConfig{
			SESRegion:      "us-east-1",
			GatewayTimeout: 10 * time.Second,
		},
		Telemetry: TelemetryConfig{
			ServiceName:   "dnc-guard",
			SamplingRatio: 1.0,
		},
	}
}

// Load reads defaults, then the YAML file at path if it exists, then DNC_*
// environment variables. DNC_DATABASE_MAX_OPEN_CONNS maps to
// database.max_open_conns: the first underscore after the prefix separates
// the section from the key. List values are comma separated.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.ProviderWithValue(envPrefix, ".", envValue), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// topLevelKeys are scalar keys outside any section.
var topLevelKeys = map[string]bool{"version": true, "environment": true, "log_level": true}

func envValue(name, value string) (string, interface{}) {
	key := strings.ToLower(strings.TrimPrefix(name, envPrefix))
	if !topLevelKeys[key] {
		key = strings.Replace(key, "_", ".", 1)
	}
	if key == "enforcement.bypass_keywords" {
		return key, strings.Split(value, ",")
	}
	return key, value
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
