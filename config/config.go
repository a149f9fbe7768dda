// Package config loads and persists MARK's settings under $MARK_HOME
// (default ~/.mark). API keys are never written to disk; they come from
// the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvHome overrides the settings directory.
const EnvHome = "MARK_HOME"

// MemoryConfig tunes the memory subsystem.
type MemoryConfig struct {
	Enabled       bool    `mapstructure:"enabled" yaml:"enabled"`
	TopK          int     `mapstructure:"top_k" yaml:"top_k"`
	MinSimilarity float64 `mapstructure:"min_similarity" yaml:"min_similarity"`
	Heuristic     bool    `mapstructure:"heuristic" yaml:"heuristic"`
	Embedder      string  `mapstructure:"embedder" yaml:"embedder"` // mock, onnx, gemini, ollama
	Index         string  `mapstructure:"index" yaml:"index"`       // linear, chromem
	// Dimensions overrides the embedder's vector size. 0 keeps the
	// embedder's own default (384 for mock/onnx, 768 for gemini/ollama).
	Dimensions int `mapstructure:"dimensions" yaml:"dimensions"`

	// Only used with the onnx embedder.
	OnnxModel     string `mapstructure:"onnx_model" yaml:"onnx_model,omitempty"`
	OnnxTokenizer string `mapstructure:"onnx_tokenizer" yaml:"onnx_tokenizer,omitempty"`
}

// PromptsConfig overrides the built-in prompts. Empty fields keep the
// defaults.
type PromptsConfig struct {
	System  string `mapstructure:"system" yaml:"system,omitempty"`
	Analyst string `mapstructure:"analyst" yaml:"analyst,omitempty"`
	Refiner string `mapstructure:"refiner" yaml:"refiner,omitempty"`
	Thinker string `mapstructure:"thinker" yaml:"thinker,omitempty"`
}

// ProviderConfig holds per-backend settings.
type ProviderConfig struct {
	Model string `mapstructure:"model" yaml:"model"`
	Host  string `mapstructure:"host" yaml:"host,omitempty"`
}

// Config is the persisted application configuration.
type Config struct {
	Provider      string `mapstructure:"provider" yaml:"provider"`
	UserName      string `mapstructure:"user_name" yaml:"user_name"`
	SubjectLabel  string `mapstructure:"subject_label" yaml:"subject_label"`
	MaxHistory    int    `mapstructure:"max_history" yaml:"max_history"`
	MaxTokens     int64  `mapstructure:"max_tokens" yaml:"max_tokens"`
	Stream        bool   `mapstructure:"stream" yaml:"stream"`
	SaveHistory   bool   `mapstructure:"save_history" yaml:"save_history"`
	ShowUsage     bool   `mapstructure:"show_usage" yaml:"show_usage"`

	Memory    MemoryConfig   `mapstructure:"memory" yaml:"memory"`
	Prompts   PromptsConfig  `mapstructure:"prompts" yaml:"prompts,omitempty"`
	Anthropic ProviderConfig `mapstructure:"anthropic" yaml:"anthropic"`
	Gemini    ProviderConfig `mapstructure:"gemini" yaml:"gemini"`
	Ollama    ProviderConfig `mapstructure:"ollama" yaml:"ollama"`
}

// Default returns the first-run configuration.
func Default() *Config {
	return &Config{
		Provider:     "anthropic",
		UserName:     "",
		SubjectLabel: "the user",
		MaxHistory:   20,
		MaxTokens:    4096,
		Stream:       true,
		SaveHistory:  true,
		ShowUsage:    false,
		Memory: MemoryConfig{
			Enabled:       true,
			TopK:          5,
			MinSimilarity: 0.25,
			Heuristic:     true,
			Embedder:      "mock",
			Index:         "linear",
			Dimensions:    0,
		},
		Anthropic: ProviderConfig{Model: ""},
		Gemini:    ProviderConfig{Model: ""},
		Ollama:    ProviderConfig{Model: "", Host: ""},
	}
}

// Dir returns the settings directory, creating it if needed.
func Dir() (string, error) {
	dir := os.Getenv(EnvHome)
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		dir = filepath.Join(home, ".mark")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create settings directory: %w", err)
	}
	return dir, nil
}

// DefaultPath returns the config file location.
func DefaultPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// DatabasePath returns the SQLite database location.
func DatabasePath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "memory.db"), nil
}

// Load reads the config at path, writing defaults first if it does not
// exist. An empty path means the default location.
func Load(path string) (*Config, error) {
	if path == "" {
		var err error
		path, err = DefaultPath()
		if err != nil {
			return nil, err
		}
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		if err := cfg.Save(path); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the config to path as YAML. An empty path means the
// default location.
func (c *Config) Save(path string) error {
	if path == "" {
		var err error
		path, err = DefaultPath()
		if err != nil {
			return err
		}
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

// APIKey returns the environment API key for the named provider.
func APIKey(provider string) string {
	switch provider {
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	case "gemini":
		return os.Getenv("GEMINI_API_KEY")
	}
	return ""
}
