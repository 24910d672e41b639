// File: internal/config/config.go
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config is the resolved, immutable configuration record for one process.
// It is built once at startup and handed to constructors; no component reads
// ambient configuration after that point.
type Config struct {
	Logger        LoggerConfig        `mapstructure:"logger" yaml:"logger"`
	LLM           LLMConfig           `mapstructure:"llm" yaml:"llm"`
	Browser       BrowserConfig       `mapstructure:"browser" yaml:"browser"`
	Engine        EngineConfig        `mapstructure:"engine" yaml:"engine"`
	Portal        PortalConfig        `mapstructure:"portal" yaml:"portal"`
	Notifications NotificationConfig  `mapstructure:"notifications" yaml:"notifications"`
	Executor      ExecutorConfig      `mapstructure:"executor" yaml:"executor"`
	Admin         AdminConfig         `mapstructure:"admin" yaml:"admin"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// LLMProvider names a supported LLM backend.
type LLMProvider string

const (
	ProviderGemini   LLMProvider = "gemini"
	ProviderOpenAI   LLMProvider = "openai"
	ProviderScripted LLMProvider = "scripted"
)

// LLMConfig configures the planner model.
type LLMConfig struct {
	Provider    LLMProvider   `mapstructure:"provider" yaml:"provider"`
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"-"`
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float32       `mapstructure:"temperature" yaml:"temperature"`
	// ScriptedReplies feeds the scripted provider, used for offline runs and tests.
	ScriptedReplies []string `mapstructure:"scripted_replies" yaml:"scripted_replies"`
}

// BrowserConfig holds settings for the driven browser instance.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	WindowWidth       int           `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight      int           `mapstructure:"window_height" yaml:"window_height"`
	Args              []string      `mapstructure:"args" yaml:"args"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	ActionTimeout     time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
	PageTextLimit     int           `mapstructure:"page_text_limit" yaml:"page_text_limit"`
	// VNC is advertised to humans during hand-offs; it has no effect on the engine.
	VNCHost string `mapstructure:"vnc_host" yaml:"vnc_host"`
	VNCPort int    `mapstructure:"vnc_port" yaml:"vnc_port"`
}

// EngineConfig carries the already-resolved values the task loop consumes.
type EngineConfig struct {
	MemoryMaxEntries int `mapstructure:"memory_max_entries" yaml:"memory_max_entries"`
	// LLMRetryLimit bounds retries of transport failures per step.
	LLMRetryLimit int `mapstructure:"llm_retry_limit" yaml:"llm_retry_limit"`
	// ParseRetryLimit bounds reformat retries for unparseable replies per step.
	ParseRetryLimit int           `mapstructure:"parse_retry_limit" yaml:"parse_retry_limit"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff" yaml:"retry_backoff"`
	// MaxSteps caps loop iterations; zero means unlimited.
	MaxSteps int `mapstructure:"max_steps" yaml:"max_steps"`
	// MaxActionFailures caps consecutive failed action batches; zero means unbounded.
	MaxActionFailures int `mapstructure:"max_action_failures" yaml:"max_action_failures"`
	// WaitForUserTimeout bounds a hand-off wait; zero means wait indefinitely.
	WaitForUserTimeout time.Duration `mapstructure:"wait_for_user_timeout" yaml:"wait_for_user_timeout"`
}

// PortalConfig addresses the human-facing hand-off page.
type PortalConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
	// AdvertiseHost is the hostname placed in notifications; defaults to Host.
	AdvertiseHost string `mapstructure:"advertise_host" yaml:"advertise_host"`
}

// NotificationConfig selects the notification channel.
type NotificationConfig struct {
	Channel string `mapstructure:"channel" yaml:"channel"`
}

// ExecutorConfig configures the executor HTTP service.
type ExecutorConfig struct {
	Host         string        `mapstructure:"host" yaml:"host"`
	Port         int           `mapstructure:"port" yaml:"port"`
	ArtifactsDir string        `mapstructure:"artifacts_dir" yaml:"artifacts_dir"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
}

// AdminConfig configures the supervising poller.
type AdminConfig struct {
	Executors    []string      `mapstructure:"executors" yaml:"executors"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	// RequestsPerSecond paces status queries across all executors.
	RequestsPerSecond float64       `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "navigator")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- LLM --
	v.SetDefault("llm.provider", "gemini")
	v.SetDefault("llm.model", "gemini-2.5-flash")
	v.SetDefault("llm.api_timeout", "90s")
	v.SetDefault("llm.temperature", 0.0)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.window_width", 1280)
	v.SetDefault("browser.window_height", 720)
	v.SetDefault("browser.navigation_timeout", "90s")
	v.SetDefault("browser.action_timeout", "30s")
	v.SetDefault("browser.page_text_limit", 4000)
	v.SetDefault("browser.vnc_host", "")
	v.SetDefault("browser.vnc_port", 0)

	// -- Engine --
	v.SetDefault("engine.memory_max_entries", 50)
	v.SetDefault("engine.llm_retry_limit", 3)
	v.SetDefault("engine.parse_retry_limit", 2)
	v.SetDefault("engine.retry_backoff", "2s")
	v.SetDefault("engine.max_steps", 0)
	v.SetDefault("engine.max_action_failures", 0)
	v.SetDefault("engine.wait_for_user_timeout", "0s")

	// -- Portal --
	v.SetDefault("portal.host", "0.0.0.0")
	v.SetDefault("portal.port", 8765)
	v.SetDefault("portal.advertise_host", "")

	// -- Notifications --
	v.SetDefault("notifications.channel", "console")

	// -- Executor --
	v.SetDefault("executor.host", "0.0.0.0")
	v.SetDefault("executor.port", 8700)
	v.SetDefault("executor.artifacts_dir", "./executor_artifacts")
	v.SetDefault("executor.read_timeout", "30s")
	v.SetDefault("executor.write_timeout", "30s")

	// -- Admin --
	v.SetDefault("admin.executors", []string{"http://127.0.0.1:8700"})
	v.SetDefault("admin.poll_interval", "3s")
	v.SetDefault("admin.requests_per_second", 5.0)
	v.SetDefault("admin.request_timeout", "15s")
}

// NewDefaultConfig returns a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Cannot happen with defaults only.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper builds and validates a configuration from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	v.BindEnv("llm.api_key", "NAVIGATOR_LLM_API_KEY")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// DefaultConfigDir resolves the per-user configuration directory.
func DefaultConfigDir() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".navigator"), nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case ProviderGemini, ProviderOpenAI:
		if c.LLM.Model == "" {
			return fmt.Errorf("llm.model is required for provider %q", c.LLM.Provider)
		}
	case ProviderScripted:
		// Scripted replies may also be injected programmatically.
	default:
		return fmt.Errorf("unsupported llm.provider: %q", c.LLM.Provider)
	}
	if c.Engine.MemoryMaxEntries <= 0 {
		return fmt.Errorf("engine.memory_max_entries must be a positive integer")
	}
	if c.Engine.LLMRetryLimit < 0 || c.Engine.ParseRetryLimit < 0 {
		return fmt.Errorf("engine retry limits must not be negative")
	}
	if c.Engine.MaxSteps < 0 || c.Engine.MaxActionFailures < 0 {
		return fmt.Errorf("engine step and failure caps must not be negative")
	}
	if c.Portal.Port <= 0 || c.Portal.Port > 65535 {
		return fmt.Errorf("portal.port must be a valid TCP port")
	}
	if c.Executor.Port <= 0 || c.Executor.Port > 65535 {
		return fmt.Errorf("executor.port must be a valid TCP port")
	}
	switch strings.ToLower(c.Notifications.Channel) {
	case "console", "log", "composite":
	default:
		return fmt.Errorf("unsupported notifications.channel: %q", c.Notifications.Channel)
	}
	if c.Admin.PollInterval <= 0 {
		return fmt.Errorf("admin.poll_interval must be a positive duration")
	}
	if c.Admin.RequestsPerSecond <= 0 {
		return fmt.Errorf("admin.requests_per_second must be positive")
	}
	return nil
}
