package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"parole/history"
	"parole/recorder"
	"parole/transcriber"
)

// DotEnvFile is loaded by Load when present. Variables already set in the
// environment win over the file.
var DotEnvFile = ".env"

type TranscriptionConfig struct {
	Provider      string   `yaml:"provider"` // voxtral, proxy
	APIKey        string   `yaml:"api_key"`
	BaseURL       string   `yaml:"base_url"`
	ProxyEndpoint string   `yaml:"proxy_endpoint"`
	Models        []string `yaml:"models"`
	Language      string   `yaml:"language"`
	MaxRetries    int      `yaml:"max_retries"`
	BackoffMS     int      `yaml:"backoff_ms"`
	TimeoutMS     int      `yaml:"timeout_ms"`
}

type RecorderConfig struct {
	Device          string  `yaml:"device"`
	Segmented       bool    `yaml:"segmented"`
	SegmentMS       int     `yaml:"segment_ms"`
	MinSegmentBytes int     `yaml:"min_segment_bytes"`
	MaxConcurrency  int     `yaml:"max_concurrency"`
	DrainTimeoutMS  int     `yaml:"drain_timeout_ms"`
	SilenceRMS      float64 `yaml:"silence_rms"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	Path  string `yaml:"path"`
}

type ServerConfig struct {
	Bind        string `yaml:"bind"`
	Language    string `yaml:"language"`
	DevFallback bool   `yaml:"dev_fallback"`
}

type HistoryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"` // default: history.db in the log directory
	MaxSessions int    `yaml:"max_sessions"`
}

type TelemetryConfig struct {
	MetricsBind string `yaml:"metrics_bind"`
}

type Config struct {
	Transcription TranscriptionConfig `yaml:"transcription"`
	Recorder      RecorderConfig      `yaml:"recorder"`
	Logging       LoggingConfig       `yaml:"logging"`
	Server        ServerConfig        `yaml:"server"`
	History       HistoryConfig       `yaml:"history"`
	Telemetry     TelemetryConfig     `yaml:"telemetry"`
}

func Default() Config {
	rec := recorder.DefaultOptions()
	retry := transcriber.DefaultRetryPolicy()
	return Config{
		Transcription: TranscriptionConfig{
			Provider:   "voxtral",
			BaseURL:    transcriber.DefaultBaseURL,
			Models:     append([]string(nil), transcriber.DefaultModels...),
			MaxRetries: retry.MaxRetries,
			BackoffMS:  int(retry.Backoff / time.Millisecond),
			TimeoutMS:  int(transcriber.DefaultTimeout / time.Millisecond),
		},
		Recorder: RecorderConfig{
			SegmentMS:       int(rec.Every / time.Millisecond),
			MinSegmentBytes: rec.MinSegmentBytes,
			MaxConcurrency:  rec.MaxConcurrency,
			DrainTimeoutMS:  int(rec.DrainTimeout / time.Millisecond),
			SilenceRMS:      rec.SilenceRMS,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Server: ServerConfig{
			Bind:     ":3000",
			Language: "fr",
		},
		History: HistoryConfig{
			Enabled:     true,
			MaxSessions: history.DefaultMaxSessions,
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// any), DotEnvFile and the environment, in that order of precedence.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := loadDotEnv(DotEnvFile); err != nil {
		return cfg, err
	}
	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadDotEnv(file string) error {
	if file == "" {
		return nil
	}
	if _, err := os.Stat(file); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(file); err != nil {
		return fmt.Errorf("failed to load %s: %w", file, err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.Transcription.APIKey, "MISTRAL_API_KEY")
	overrideString(&cfg.Transcription.BaseURL, "VOXTRAL_BASE_URL")
	overrideString(&cfg.Transcription.Provider, "PAROLE_PROVIDER")
	overrideString(&cfg.Transcription.ProxyEndpoint, "PAROLE_PROXY_ENDPOINT")
	overrideStringSlice(&cfg.Transcription.Models, "PAROLE_MODELS")
	overrideString(&cfg.Transcription.Language, "PAROLE_LANG")
	overrideInt(&cfg.Transcription.MaxRetries, "PAROLE_MAX_RETRIES")
	overrideString(&cfg.Recorder.Device, "PAROLE_DEVICE")
	overrideBool(&cfg.Recorder.Segmented, "PAROLE_SEGMENTED")
	overrideInt(&cfg.Recorder.SegmentMS, "PAROLE_SEGMENT_MS")
	overrideInt(&cfg.Recorder.MaxConcurrency, "PAROLE_MAX_CONCURRENCY")
	overrideString(&cfg.Logging.Level, "PAROLE_LOG_LEVEL")
	overrideString(&cfg.Telemetry.MetricsBind, "PAROLE_METRICS_BIND")
	overrideString(&cfg.Server.Bind, "PAROLE_SERVER_BIND")
	overrideBool(&cfg.Server.DevFallback, "PAROLE_DEV_FALLBACK")
	overrideBool(&cfg.History.Enabled, "PAROLE_HISTORY")
	overrideString(&cfg.History.Path, "PAROLE_HISTORY_PATH")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = strings.TrimSpace(value)
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		var trimmed []string
		for _, p := range strings.Split(value, ",") {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func (c Config) Validate() error {
	t := c.Transcription
	switch t.Provider {
	case "voxtral":
		if len(t.Models) == 0 {
			return errors.New("transcription.models must not be empty")
		}
	case "proxy":
		if t.ProxyEndpoint == "" {
			return errors.New("transcription.proxy_endpoint must be set when provider=proxy")
		}
	default:
		return fmt.Errorf("transcription.provider must be one of voxtral|proxy, got %q", t.Provider)
	}
	if t.MaxRetries < 0 {
		return errors.New("transcription.max_retries must be >= 0")
	}
	if t.BackoffMS < 0 || t.TimeoutMS < 0 {
		return errors.New("transcription backoff and timeout must be >= 0")
	}

	r := c.Recorder
	if r.SegmentMS <= 0 {
		return errors.New("recorder.segment_ms must be positive")
	}
	if r.MaxConcurrency < 1 {
		return errors.New("recorder.max_concurrency must be >= 1")
	}
	if r.DrainTimeoutMS <= 0 {
		return errors.New("recorder.drain_timeout_ms must be positive")
	}
	if r.MinSegmentBytes < 0 || r.SilenceRMS < 0 || r.SilenceRMS >= 1 {
		return errors.New("recorder.min_segment_bytes and recorder.silence_rms out of range")
	}

	if _, err := zerolog.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if c.Server.Bind == "" {
		return errors.New("server.bind must not be empty")
	}
	if c.History.MaxSessions < 0 {
		return errors.New("history.max_sessions must be >= 0")
	}
	return nil
}

// TranscriberConfig converts the transcription section for transcriber.New.
func (c Config) TranscriberConfig() transcriber.Config {
	t := c.Transcription
	return transcriber.Config{
		Provider: t.Provider,
		APIKey:   t.APIKey,
		BaseURL:  t.BaseURL,
		Endpoint: t.ProxyEndpoint,
		Models:   t.Models,
		Language: t.Language,
		Retry: transcriber.RetryPolicy{
			MaxRetries: t.MaxRetries,
			Backoff:    time.Duration(t.BackoffMS) * time.Millisecond,
		},
		Timeout: time.Duration(t.TimeoutMS) * time.Millisecond,
	}
}

// RecorderOptions converts the recorder section for recorder.NewSegmenter.
func (c Config) RecorderOptions() recorder.Options {
	r := c.Recorder
	return recorder.Options{
		Every:           time.Duration(r.SegmentMS) * time.Millisecond,
		MinSegmentBytes: r.MinSegmentBytes,
		MaxConcurrency:  r.MaxConcurrency,
		DrainTimeout:    time.Duration(r.DrainTimeoutMS) * time.Millisecond,
		SilenceRMS:      r.SilenceRMS,
	}
}
