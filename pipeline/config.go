package pipeline

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full pipeline configuration.
type Config struct {
	InputDir  string `yaml:"input_dir"`
	Stage1Dir string `yaml:"stage1_dir"`
	Stage2Dir string `yaml:"stage2_dir"`
	ExportDir string `yaml:"export_dir"`
	DBPath    string `yaml:"db_path"`

	OCR OCRConfig `yaml:"ocr"`
	LLM LLMConfig `yaml:"llm"`

	// Concurrency bounds simultaneous extraction calls.
	Concurrency int `yaml:"concurrency"`
	// RequestDelayMS spaces out extraction request starts, for
	// rate-limited endpoints.
	RequestDelayMS int `yaml:"request_delay_ms"`
}

// OCRConfig configures the OCR engine tier.
type OCRConfig struct {
	PrimaryURL          string  `yaml:"primary_url"`
	FallbackURL         string  `yaml:"fallback_url"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	TimeoutSeconds      int     `yaml:"timeout_seconds"`
}

// LLMConfig configures the extraction endpoint.
type LLMConfig struct {
	BaseURL        string `yaml:"base_url"`
	Model          string `yaml:"model"`
	APIKeyEnv      string `yaml:"api_key_env"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// DefaultConfig returns sane defaults for a local run.
func DefaultConfig() *Config {
	return &Config{
		InputDir:  "invoices",
		Stage1Dir: "out/stage1",
		Stage2Dir: "out/stage2",
		ExportDir: "out/export",
		DBPath:    "out/invoices.db",
		OCR: OCRConfig{
			PrimaryURL:          "http://localhost:8601",
			FallbackURL:         "http://localhost:8602",
			ConfidenceThreshold: 0.70,
			TimeoutSeconds:      120,
		},
		LLM: LLMConfig{
			BaseURL:        "https://api.groq.com/openai",
			Model:          "llama-3.3-70b-versatile",
			APIKeyEnv:      "GROQ_API_KEY",
			TimeoutSeconds: 120,
		},
		Concurrency:    4,
		RequestDelayMS: 250,
	}
}

// LoadConfig reads and parses a YAML config file. Returns DefaultConfig
// merged with the file.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks that required fields are present and values are sane.
func (c *Config) Validate() error {
	if c.InputDir == "" {
		return fmt.Errorf("input_dir is required")
	}
	if c.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	if c.OCR.PrimaryURL == "" {
		return fmt.Errorf("ocr.primary_url is required")
	}
	if c.OCR.ConfidenceThreshold < 0 || c.OCR.ConfidenceThreshold > 1 {
		return fmt.Errorf("ocr.confidence_threshold must be in [0,1]")
	}
	if c.LLM.BaseURL == "" {
		return fmt.Errorf("llm.base_url is required")
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("llm.model is required")
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be > 0")
	}
	return nil
}

// OCRTimeout returns the per-call OCR timeout as a duration.
func (c *Config) OCRTimeout() time.Duration {
	return time.Duration(c.OCR.TimeoutSeconds) * time.Second
}

// LLMTimeout returns the per-call extraction timeout as a duration.
func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLM.TimeoutSeconds) * time.Second
}

// RequestDelay returns the pause inserted between extraction request
// starts.
func (c *Config) RequestDelay() time.Duration {
	return time.Duration(c.RequestDelayMS) * time.Millisecond
}
