// Package config loads tutorcore configuration.
// Source priority (highest to lowest):
// 1. Environment variables (TUTOR_*, GEMINI_API_KEY)
// 2. Config file path specified via --config flag
// 3. ~/.config/tutorcore/config.yaml
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "30s" or "2m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// BackendConfig points at the hosted tutoring backend.
type BackendConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

// VoiceConfig holds speech service settings.
type VoiceConfig struct {
	// STTBaseURL and STTAPIKey point at the transcription service.
	STTBaseURL string `yaml:"stt_base_url"`
	STTAPIKey  string `yaml:"stt_api_key"`

	// TTSBaseURL and TTSAPIKey point at the synthesis service.
	TTSBaseURL string `yaml:"tts_base_url"`
	TTSAPIKey  string `yaml:"tts_api_key"`

	// Voice selects the synthesis voice.
	Voice string `yaml:"voice"`

	// UseWebsocket streams synthesis over a websocket instead of REST.
	UseWebsocket bool `yaml:"use_websocket"`

	// MaxClipDuration bounds one recording. Default 2m.
	MaxClipDuration Duration `yaml:"max_clip_duration"`
}

// StoreConfig selects the persistence backend. When PostgresDSN is set
// the shared server store is used; otherwise the embedded SQLite file.
type StoreConfig struct {
	PostgresDSN string `yaml:"postgres_dsn"`
	SQLitePath  string `yaml:"sqlite_path"`
}

// ChatConfig holds per-turn behavior.
type ChatConfig struct {
	UseDocuments      bool     `yaml:"use_documents"`
	AutoPlaySynthesis bool     `yaml:"auto_play_synthesis"`
	GenerationTimeout Duration `yaml:"generation_timeout"`
}

// Config is the complete tutorcore configuration.
type Config struct {
	// OwnerID and OrganizationID identify the student.
	OwnerID        string `yaml:"owner_id"`
	OrganizationID string `yaml:"organization_id"`

	// GeminiAPIKey enables the direct Gemini generator when no backend
	// is configured.
	GeminiAPIKey string `yaml:"gemini_api_key"`

	Backend BackendConfig `yaml:"backend"`
	Voice   VoiceConfig   `yaml:"voice"`
	Store   StoreConfig   `yaml:"store"`
	Chat    ChatConfig    `yaml:"chat"`

	// MetricsAddr exposes Prometheus metrics when set, e.g. ":9090".
	MetricsAddr string `yaml:"metrics_addr"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Voice: VoiceConfig{
			MaxClipDuration: Duration(2 * time.Minute),
		},
		Store: StoreConfig{
			SQLitePath: defaultSQLitePath(),
		},
		Chat: ChatConfig{
			UseDocuments:      true,
			GenerationTimeout: Duration(30 * time.Second),
		},
	}
}

func defaultSQLitePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "tutorcore.db"
	}
	return filepath.Join(home, ".local", "share", "tutorcore", "tutorcore.db")
}

// Load reads .env, the config file, and environment overrides.
func Load(configPath string) (*Config, error) {
	// .env values never override real environment variables.
	_ = godotenv.Load()

	cfg := DefaultConfig()

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			configPath = filepath.Join(home, ".config", "tutorcore", "config.yaml")
		}
	}

	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TUTOR_OWNER_ID"); v != "" {
		cfg.OwnerID = v
	}
	if v := os.Getenv("TUTOR_ORG_ID"); v != "" {
		cfg.OrganizationID = v
	}
	if v := os.Getenv("TUTOR_BACKEND_URL"); v != "" {
		cfg.Backend.BaseURL = v
	}
	if v := os.Getenv("TUTOR_BACKEND_API_KEY"); v != "" {
		cfg.Backend.APIKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.GeminiAPIKey = v
	}
	if v := os.Getenv("TUTOR_STT_URL"); v != "" {
		cfg.Voice.STTBaseURL = v
	}
	if v := os.Getenv("TUTOR_STT_API_KEY"); v != "" {
		cfg.Voice.STTAPIKey = v
	}
	if v := os.Getenv("TUTOR_TTS_URL"); v != "" {
		cfg.Voice.TTSBaseURL = v
	}
	if v := os.Getenv("TUTOR_TTS_API_KEY"); v != "" {
		cfg.Voice.TTSAPIKey = v
	}
	if v := os.Getenv("TUTOR_POSTGRES_DSN"); v != "" {
		cfg.Store.PostgresDSN = v
	}
	if v := os.Getenv("TUTOR_SQLITE_PATH"); v != "" {
		cfg.Store.SQLitePath = v
	}
	if v := os.Getenv("TUTOR_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
}
