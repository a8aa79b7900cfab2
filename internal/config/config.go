// Package config loads service configuration from defaults, an optional YAML
// file and SENTINEL_* environment overrides, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Server struct {
	Host           string
	Port           int
	AllowedOrigins []string
}

func (s Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type Model struct {
	BaseURL       string
	APIKey        string
	Name          string
	Timeout       time.Duration
	MaxConcurrent int
	MaxTokens     int
}

type Video struct {
	Dir          string
	FFmpegBinary string
	FrameWidth   int
}

type Pipeline struct {
	SampleInterval      time.Duration
	ConfidenceThreshold float64
}

type Database struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

// DSN renders the postgres connection string.
func (d Database) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

type Auth struct {
	JWTSecret string
	TokenTTL  time.Duration
}

type Log struct {
	Level  string
	Pretty bool
}

type Config struct {
	Server   Server
	Model    Model
	Video    Video
	Pipeline Pipeline
	Database Database
	Auth     Auth
	Log      Log
}

// Load reads configuration. path may be empty, in which case only an optional
// ./config.yaml is considered and a missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("model.base_url", "https://integrate.api.nvidia.com/v1")
	v.SetDefault("model.api_key", "")
	v.SetDefault("model.name", "nvidia/nemotron-nano-12b-v2-vl")
	v.SetDefault("model.timeout", "30s")
	v.SetDefault("model.max_concurrent", 4)
	v.SetDefault("model.max_tokens", 512)

	v.SetDefault("video.dir", "./videos")
	v.SetDefault("video.ffmpeg_binary", "ffmpeg")
	v.SetDefault("video.frame_width", 640)

	v.SetDefault("pipeline.sample_interval", "2s")
	v.SetDefault("pipeline.confidence_threshold", 0.6)

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "sentinel")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "sentinel")
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", "24h")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetEnvPrefix("SENTINEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/sentinel")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := &Config{
		Server: Server{
			Host:           v.GetString("server.host"),
			Port:           v.GetInt("server.port"),
			AllowedOrigins: v.GetStringSlice("server.allowed_origins"),
		},
		Model: Model{
			BaseURL:       v.GetString("model.base_url"),
			APIKey:        v.GetString("model.api_key"),
			Name:          v.GetString("model.name"),
			Timeout:       v.GetDuration("model.timeout"),
			MaxConcurrent: v.GetInt("model.max_concurrent"),
			MaxTokens:     v.GetInt("model.max_tokens"),
		},
		Video: Video{
			Dir:          v.GetString("video.dir"),
			FFmpegBinary: v.GetString("video.ffmpeg_binary"),
			FrameWidth:   v.GetInt("video.frame_width"),
		},
		Pipeline: Pipeline{
			SampleInterval:      v.GetDuration("pipeline.sample_interval"),
			ConfidenceThreshold: v.GetFloat64("pipeline.confidence_threshold"),
		},
		Database: Database{
			Enabled:  v.GetBool("database.enabled"),
			Host:     v.GetString("database.host"),
			Port:     v.GetInt("database.port"),
			User:     v.GetString("database.user"),
			Password: v.GetString("database.password"),
			Name:     v.GetString("database.name"),
			SSLMode:  v.GetString("database.sslmode"),
		},
		Auth: Auth{
			JWTSecret: v.GetString("auth.jwt_secret"),
			TokenTTL:  v.GetDuration("auth.token_ttl"),
		},
		Log: Log{
			Level:  v.GetString("log.level"),
			Pretty: v.GetBool("log.pretty"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Pipeline.SampleInterval <= 0 {
		return fmt.Errorf("sample interval must be positive, got %s", c.Pipeline.SampleInterval)
	}
	if c.Pipeline.ConfidenceThreshold <= 0 || c.Pipeline.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence threshold must be in (0, 1], got %g", c.Pipeline.ConfidenceThreshold)
	}
	if c.Database.Enabled && c.Database.Host == "" {
		return fmt.Errorf("database enabled without a host")
	}
	return nil
}
