package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Config is the root configuration for lumos.
type Config struct {
	General   GeneralConfig   `json:"general"`
	Assistant AssistantConfig `json:"assistant"`
	Voice     VoiceConfig     `json:"voice"`
	Channels  ChannelsConfig  `json:"channels"`
	Metrics   MetricsConfig   `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel"`
	LogFile  string `json:"logFile,omitempty"` // optional log file path
}

// AssistantConfig shapes the conversation itself.
type AssistantConfig struct {
	Name               string `json:"name"`
	Greeting           string `json:"greeting,omitempty"` // "-" disables the greeting
	ThinkingDelayMs    int    `json:"thinkingDelayMs"`
	RulesFile          string `json:"rulesFile,omitempty"` // YAML intent table; built-in rules when empty
	WatchRules         bool   `json:"watchRules"`
	SessionIdleMinutes int    `json:"sessionIdleMinutes"`
}

// ThinkingDelay returns the configured delay; zero means the default.
func (a AssistantConfig) ThinkingDelay() time.Duration {
	return time.Duration(a.ThinkingDelayMs) * time.Millisecond
}

func (a AssistantConfig) SessionIdle() time.Duration {
	return time.Duration(a.SessionIdleMinutes) * time.Minute
}

type VoiceConfig struct {
	Input  VoiceInputConfig  `json:"input"`
	Output VoiceOutputConfig `json:"output"`
}

// VoiceInputConfig selects the local speech-to-text backend. Browser
// sessions always use the browser's own recognizer.
type VoiceInputConfig struct {
	Provider string `json:"provider"` // "none" | "whisper"
	APIBase  string `json:"apiBase,omitempty"`
	APIKey   string `json:"apiKey,omitempty"`
	Model    string `json:"model,omitempty"`
	Language string `json:"language,omitempty"` // ISO-639-1
	Source   string `json:"source,omitempty"`   // recording to transcribe
}

type VoiceOutputConfig struct {
	Enabled       bool    `json:"enabled"`
	Provider      string  `json:"provider"` // "none" | "openai" | "elevenlabs"
	APIBase       string  `json:"apiBase,omitempty"`
	APIKey        string  `json:"apiKey,omitempty"`
	Model         string  `json:"model,omitempty"`
	Voice         string  `json:"voice,omitempty"`
	PreferredLang string  `json:"preferredLang"`
	PreferredName string  `json:"preferredName,omitempty"` // space-separated name hints, e.g. "Google Female"
	Rate          float64 `json:"rate"`
	Pitch         float64 `json:"pitch"`
	Volume        float64 `json:"volume"`
	Player        string  `json:"player,omitempty"`   // command fed the audio on stdin, e.g. "mpv --really-quiet -"
	SpoolDir      string  `json:"spoolDir,omitempty"` // write audio files here when no player is set
}

type ChannelsConfig struct {
	CLI      CLIConfig      `json:"cli"`
	Web      WebConfig      `json:"web"`
	Telegram TelegramConfig `json:"telegram"`
}

type CLIConfig struct {
	Color bool `json:"color"`
}

type WebConfig struct {
	Enabled           bool     `json:"enabled"`
	Host              string   `json:"host"`
	Port              int      `json:"port"`
	Path              string   `json:"path"`
	AllowedOrigins    []string `json:"allowedOrigins,omitempty"`
	MessagesPerMinute float64  `json:"messagesPerMinute"`
	Burst             int      `json:"burst"`
}

func (w WebConfig) Addr() string {
	return fmt.Sprintf("%s:%d", w.Host, w.Port)
}

type TelegramConfig struct {
	Enabled           bool           `json:"enabled"`
	Token             string         `json:"token"`
	AllowFrom         FlexStringList `json:"allowFrom"`
	SiteURL           string         `json:"siteUrl,omitempty"` // base URL section links point at
	MessagesPerMinute float64        `json:"messagesPerMinute"`
	Burst             int            `json:"burst"`
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

// MetricsConfig configures the Prometheus endpoint served next to the web channel.
type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// DefaultConfigDir returns the default config directory (~/.lumos).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".lumos"
	}
	return filepath.Join(home, ".lumos")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Assistant.RulesFile = ExpandPath(cfg.Assistant.RulesFile)
	cfg.Voice.Input.Source = ExpandPath(cfg.Voice.Input.Source)
	cfg.Voice.Output.SpoolDir = ExpandPath(cfg.Voice.Output.SpoolDir)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if cfg.Assistant.ThinkingDelayMs < 0 || cfg.Assistant.ThinkingDelayMs > 60000 {
		errs = append(errs, "assistant.thinkingDelayMs must be between 0 and 60000")
	}
	if cfg.Assistant.SessionIdleMinutes < 1 {
		errs = append(errs, "assistant.sessionIdleMinutes must be >= 1")
	}
	if cfg.Assistant.WatchRules && cfg.Assistant.RulesFile == "" {
		errs = append(errs, "assistant.watchRules requires assistant.rulesFile")
	}

	in := cfg.Voice.Input
	switch in.Provider {
	case "", "none":
	case "whisper":
		if in.Source == "" {
			errs = append(errs, "voice.input.source is required for the whisper provider")
		}
	default:
		errs = append(errs, "voice.input.provider must be one of: none, whisper")
	}

	out := cfg.Voice.Output
	switch out.Provider {
	case "", "none", "openai", "elevenlabs":
	default:
		errs = append(errs, "voice.output.provider must be one of: none, openai, elevenlabs")
	}
	if out.Rate < 0.1 || out.Rate > 10 {
		errs = append(errs, "voice.output.rate must be between 0.1 and 10")
	}
	if out.Pitch < 0 || out.Pitch > 2 {
		errs = append(errs, "voice.output.pitch must be between 0 and 2")
	}
	if out.Volume < 0 || out.Volume > 1 {
		errs = append(errs, "voice.output.volume must be between 0 and 1")
	}

	if cfg.Channels.Web.Port < 0 || cfg.Channels.Web.Port > 65535 {
		errs = append(errs, "channels.web.port must be between 0 and 65535")
	}
	if !strings.HasPrefix(cfg.Channels.Web.Path, "/") {
		errs = append(errs, "channels.web.path must start with /")
	}
	if cfg.Channels.Web.MessagesPerMinute < 0 || cfg.Channels.Telegram.MessagesPerMinute < 0 {
		errs = append(errs, "messagesPerMinute must be >= 0")
	}
	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token == "" {
		errs = append(errs, "channels.telegram.token is required when telegram is enabled")
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Endpoint, "/") {
		errs = append(errs, "metrics.endpoint must start with /")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
