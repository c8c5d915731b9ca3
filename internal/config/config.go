// Package config loads the process configuration, the task store and each
// task's rubric. Everything here is read once at startup and then passed
// explicitly to the components that need it.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"xianyuwatch/internal/browser"
	"xianyuwatch/internal/pacing"
	"xianyuwatch/internal/search"

	"gopkg.in/yaml.v3"
)

// Config holds all xianyuwatch configuration.
type Config struct {
	// TasksFile is the JSON task store.
	TasksFile string `yaml:"tasks_file"`
	// DataDir holds one record store per task.
	DataDir string `yaml:"data_dir"`

	Browser  browser.Config                 `yaml:"browser"`
	Search   SearchConfig                   `yaml:"search"`
	AI       AIConfig                       `yaml:"ai"`
	Notify   NotifyConfig                   `yaml:"notify"`
	Pacing   map[pacing.Class]pacing.Bounds `yaml:"pacing"`
	Pipeline PipelineConfig                 `yaml:"pipeline"`
	Logging  LoggingConfig                  `yaml:"logging"`
}

// SearchConfig overrides search page selectors and block widgets.
type SearchConfig struct {
	Selectors      search.Selectors `yaml:"selectors"`
	BlockSelectors []string         `yaml:"block_selectors"`
}

// AIConfig configures the reasoning backend.
type AIConfig struct {
	Provider   string `yaml:"provider"` // openai, gemini
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"` // empty selects the provider default
	Timeout    string `yaml:"timeout"`
	Attempts   int    `yaml:"attempts"`
	RetryDelay string `yaml:"retry_delay"`
	Debug      bool   `yaml:"debug"`
}

// NotifyConfig configures alert channels. Empty URLs disable a channel.
type NotifyConfig struct {
	NtfyTopicURL string `yaml:"ntfy_topic_url"`
	WeComURL     string `yaml:"wecom_url"`
	MobileLinks  bool   `yaml:"pc_link_to_mobile"`
	Timeout      string `yaml:"timeout"`
}

// PipelineConfig tunes the per-task pipeline.
type PipelineConfig struct {
	MaxConcurrentTasks int    `yaml:"max_concurrent_tasks"`
	ImageDir           string `yaml:"image_dir"`
	MaxImages          int    `yaml:"max_images"`
	MaxProfilePages    int    `yaml:"max_profile_pages"`
	ScrollIdle         string `yaml:"scroll_idle"`
	DetailAttempts     int    `yaml:"detail_attempts"`
	DetailRetryDelay   string `yaml:"detail_retry_delay"`
}

// LoggingConfig configures the root logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Dir    string `yaml:"dir"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		TasksFile: "config.json",
		DataDir:   ".",
		Browser:   browser.DefaultConfig(),
		Search: SearchConfig{
			Selectors:      search.DefaultSelectors(),
			BlockSelectors: pacing.DefaultDetector().PageSelectors,
		},
		AI: AIConfig{
			Provider:   "openai",
			Timeout:    "2m",
			Attempts:   5,
			RetryDelay: "10s",
		},
		Notify: NotifyConfig{Timeout: "10s"},
		Pipeline: PipelineConfig{
			ImageDir:         "images",
			MaxProfilePages:  50,
			ScrollIdle:       "8s",
			DetailAttempts:   2,
			DetailRetryDelay: "5s",
		},
		Logging: LoggingConfig{Level: "info", Format: "console", Dir: "logs"},
	}
}

// Load reads path over the defaults and applies environment overrides. A
// missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies the deployment's environment variables.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" && c.AI.Provider == "gemini" {
		c.AI.APIKey = key
	}
	if c.AI.Provider == "openai" {
		if key := os.Getenv("OPENAI_API_KEY"); key != "" {
			c.AI.APIKey = key
		}
		if url := os.Getenv("OPENAI_BASE_URL"); url != "" {
			c.AI.BaseURL = url
		}
		if model := os.Getenv("OPENAI_MODEL_NAME"); model != "" {
			c.AI.Model = model
		}
	}
	if v, ok := envBool("AI_DEBUG_MODE"); ok {
		c.AI.Debug = v
	}

	if url := os.Getenv("NTFY_TOPIC_URL"); url != "" {
		c.Notify.NtfyTopicURL = url
	}
	if url := os.Getenv("WX_BOT_URL"); url != "" {
		c.Notify.WeComURL = url
	}
	if v, ok := envBool("PCURL_TO_MOBILE"); ok {
		c.Notify.MobileLinks = v
	}

	if v, ok := envBool("RUN_HEADLESS"); ok {
		c.Browser.Headless = v
	}
	if path := os.Getenv("XIANYU_STATE_FILE"); path != "" {
		c.Browser.StateFile = path
	}
}

func envBool(name string) (bool, bool) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(strings.ToLower(raw))
	if err != nil {
		return false, false
	}
	return v, true
}

func parseDuration(raw string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// GetAITimeout returns the per-call AI timeout.
func (c *Config) GetAITimeout() time.Duration { return parseDuration(c.AI.Timeout, 2*time.Minute) }

// GetAIRetryDelay returns the pause between verdict attempts.
func (c *Config) GetAIRetryDelay() time.Duration {
	return parseDuration(c.AI.RetryDelay, 10*time.Second)
}

// GetNotifyTimeout returns the per-channel delivery timeout.
func (c *Config) GetNotifyTimeout() time.Duration {
	return parseDuration(c.Notify.Timeout, 10*time.Second)
}

// GetScrollIdle returns the profile list idle window.
func (c *Config) GetScrollIdle() time.Duration {
	return parseDuration(c.Pipeline.ScrollIdle, 8*time.Second)
}

// GetDetailRetryDelay returns the pause between detail fetch attempts.
func (c *Config) GetDetailRetryDelay() time.Duration {
	return parseDuration(c.Pipeline.DetailRetryDelay, 5*time.Second)
}

// DefaultModels maps each AI provider to the model used when none is set.
var DefaultModels = map[string]string{
	"openai": "gpt-4o",
	"gemini": "gemini-2.5-flash",
}

// GetAIModel returns the configured model or the provider's default.
func (c *Config) GetAIModel() string {
	if c.AI.Model != "" {
		return c.AI.Model
	}
	return DefaultModels[c.AI.Provider]
}

// ValidProviders lists the supported AI providers.
var ValidProviders = []string{"openai", "gemini"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validProvider := false
	for _, p := range ValidProviders {
		if c.AI.Provider == p {
			validProvider = true
			break
		}
	}
	if !validProvider {
		return fmt.Errorf("invalid AI provider: %s (valid: %v)", c.AI.Provider, ValidProviders)
	}
	if c.AI.APIKey == "" {
		return fmt.Errorf("AI API key not configured (set OPENAI_API_KEY or GEMINI_API_KEY)")
	}
	if c.AI.Attempts < 1 {
		return fmt.Errorf("ai.attempts must be at least 1, got %d", c.AI.Attempts)
	}

	classes := make([]string, 0, len(c.Pacing))
	for class := range c.Pacing {
		classes = append(classes, string(class))
	}
	sort.Strings(classes)
	known := pacing.DefaultBounds()
	for _, class := range classes {
		if _, ok := known[pacing.Class(class)]; !ok {
			return fmt.Errorf("unknown pacing class %q", class)
		}
		b := c.Pacing[pacing.Class(class)].Over(known[pacing.Class(class)])
		if err := b.Validate(); err != nil {
			return fmt.Errorf("pacing class %s: %w", class, err)
		}
	}

	if c.Pipeline.MaxConcurrentTasks < 0 {
		return fmt.Errorf("pipeline.max_concurrent_tasks must not be negative")
	}
	if c.Pipeline.MaxImages < 0 {
		return fmt.Errorf("pipeline.max_images must not be negative")
	}
	return nil
}
