package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// QueueConfig bounds the in-memory bus queues (C2). All three queues
// share one capacity, matching bus.NewBus.
type QueueConfig struct {
	Capacity int `mapstructure:"capacity"`
}

// FileQueueConfig points at the two durable JSON-array queues (C3).
type FileQueueConfig struct {
	DetectionsPath   string `mapstructure:"detections_path"`
	ExplanationsPath string `mapstructure:"explanations_path"`
}

// LLMConfig configures the detector/explainer LLM transport.
type LLMConfig struct {
	Endpoint      string   `mapstructure:"endpoint"`
	Model         string   `mapstructure:"model"`
	TimeoutS      int      `mapstructure:"timeout_s"`
	OllamaServers []string `mapstructure:"ollama_servers"`
	OpenAIAPIKey  string   `mapstructure:"openai_api_key"`
	GeminiAPIKey  string   `mapstructure:"gemini_api_key"`
}

// RedisConfig configures the optional session mirror.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	Enabled  bool   `mapstructure:"enabled"`
}

// LedgerConfig configures the optional MySQL delivery ledger.
type LedgerConfig struct {
	DSN     string `mapstructure:"dsn"`
	Enabled bool   `mapstructure:"enabled"`
}

// RetentionConfig configures the scheduled sweep over terminal records.
type RetentionConfig struct {
	WindowHours int    `mapstructure:"window_hours"`
	Schedule    string `mapstructure:"schedule"`
}

// GatewayConfig configures the WebSocket gateway's HTTP listener.
type GatewayConfig struct {
	Port int `mapstructure:"port"`
}

// Settings is the process-wide static configuration, distinct from
// internal/settings.Store which holds the mutable runtime settings a
// client can change via settings.save.
type Settings struct {
	Env       string          `mapstructure:"env"`
	Debug     bool            `mapstructure:"debug"`
	Queues    QueueConfig     `mapstructure:"queues"`
	FileQueue FileQueueConfig `mapstructure:"file_queue"`
	Detector  LLMConfig       `mapstructure:"detector_llm"`
	Explainer LLMConfig       `mapstructure:"explainer_llm"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Retention RetentionConfig `mapstructure:"retention"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`

	// SettingsStorePath is where internal/settings.Store persists
	// process-wide runtime settings (domain, explanation_style, ...).
	SettingsStorePath string `mapstructure:"settings_store_path"`
}

// Defaults returns the settings a fresh checkout can run with, absent
// any config file — every external dependency defaults to localhost or
// is simply disabled.
func Defaults() *Settings {
	return &Settings{
		Env:   "dev",
		Debug: true,
		Queues: QueueConfig{Capacity: 200},
		FileQueue: FileQueueConfig{
			DetectionsPath:   "data/detections_queue.json",
			ExplanationsPath: "data/explanations_queue.json",
		},
		Detector: LLMConfig{
			Endpoint: "http://localhost:11434/api/chat",
			Model:    "llama3",
			TimeoutS: 10,
		},
		Explainer: LLMConfig{
			Endpoint: "http://localhost:11434/api/chat",
			Model:    "llama3",
			TimeoutS: 15,
		},
		Redis: RedisConfig{Addr: "localhost:6379", Enabled: false},
		Ledger: LedgerConfig{
			Enabled: false,
		},
		Retention: RetentionConfig{
			WindowHours: 72,
			Schedule:    "@every 1h",
		},
		Gateway:           GatewayConfig{Port: 8088},
		SettingsStorePath: "data/settings.json",
	}
}

// Load reads configuration from the conventional locations, falling
// back to Defaults() for anything unset. CTXLENS_CONFIG overrides the
// search entirely with an explicit file path.
func Load() (*Settings, error) {
	settings := Defaults()

	if cfgPath := os.Getenv("CTXLENS_CONFIG"); cfgPath != "" {
		viper.SetConfigFile(cfgPath)
	} else {
		viper.SetConfigName("config_" + genEnv())
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.AddConfigPath("/etc/ctxlens")
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); notFound {
			return settings, nil
		}
		return nil, fmt.Errorf("config: read: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return settings, nil
}

func genEnv() string {
	env := os.Getenv("ENV")
	if env == "" {
		return "dev"
	}
	return env
}
