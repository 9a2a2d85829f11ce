package fleetvoice

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/spf13/viper"

	"github.com/harunnryd/fleetvoice/pkg/command"
	"github.com/harunnryd/fleetvoice/pkg/errorsx"
)

type Config struct {
	Voice         VoiceConfig         `mapstructure:"voice"`
	Backend       BackendConfig       `mapstructure:"backend"`
	Capture       ProviderConfig      `mapstructure:"capture"`
	Server        ServerConfig        `mapstructure:"server"`
	Notify        ProviderConfig      `mapstructure:"notify"`
	Chat          ChatConfig          `mapstructure:"chat"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Privacy       PrivacyConfig       `mapstructure:"privacy"`
	Environment   string              `mapstructure:"environment"`
	LogLevel      string              `mapstructure:"log_level"`
	LogFormat     string              `mapstructure:"log_format"`
}

type ProviderConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type VoiceConfig struct {
	DebounceMS        int               `mapstructure:"debounce_ms"`
	IdleMS            int               `mapstructure:"idle_ms"`
	FallbackUtterance string            `mapstructure:"fallback_utterance"`
	Continuous        bool              `mapstructure:"continuous"`
	AutoStart         bool              `mapstructure:"auto_start"`
	Commands          []command.Command `mapstructure:"commands"`
	// WakePhrases replaces the phrases of the default wake command when
	// Commands is empty.
	WakePhrases []string `mapstructure:"wake_phrases"`
}

type BackendConfig struct {
	BaseURL           string `mapstructure:"base_url"`
	Path              string `mapstructure:"path"`
	TimeoutMS         int    `mapstructure:"timeout_ms"`
	CircuitThreshold  int    `mapstructure:"circuit_threshold"`
	CircuitCooldownMS int    `mapstructure:"circuit_cooldown_ms"`
}

type ServerConfig struct {
	Addr           string   `mapstructure:"addr"`
	WSPath         string   `mapstructure:"ws_path"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type ChatConfig struct {
	Enabled      bool           `mapstructure:"enabled"`
	Provider     string         `mapstructure:"provider"`
	Settings     map[string]any `mapstructure:"settings"`
	SystemPrompt string         `mapstructure:"system_prompt"`
	TimeoutMS    int            `mapstructure:"timeout_ms"`
	Retries      int            `mapstructure:"retries"`
}

type ObservabilityConfig struct {
	EventsPath string `mapstructure:"events_path"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return decodeConfig(v)
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() (Config, error) {
	v := viper.New()
	setDefaults(v)
	return decodeConfig(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("voice.debounce_ms", 2200)
	v.SetDefault("voice.idle_ms", 5000)
	v.SetDefault("voice.fallback_utterance", "Error connecting to server.")
	v.SetDefault("voice.continuous", true)
	v.SetDefault("voice.auto_start", false)
	v.SetDefault("backend.base_url", "http://localhost:8080")
	v.SetDefault("backend.path", "/api/chat")
	v.SetDefault("backend.timeout_ms", 30000)
	v.SetDefault("backend.circuit_threshold", 3)
	v.SetDefault("backend.circuit_cooldown_ms", 30000)
	v.SetDefault("capture.provider", "browser")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.ws_path", "/voice/ws")
	v.SetDefault("notify.provider", "log")
	v.SetDefault("chat.enabled", true)
	v.SetDefault("chat.provider", "mock")
	v.SetDefault("chat.timeout_ms", 20000)
	v.SetDefault("chat.retries", 2)
	v.SetDefault("observability.events_path", "")
	v.SetDefault("privacy.redact_pii", true)
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
}

func decodeConfig(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	expandEnvStrings(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Capture.Provider) == "" {
		return errorsx.New(errorsx.ReasonConfigInvalid, "capture.provider is required")
	}
	if strings.TrimSpace(c.Notify.Provider) == "" {
		return errorsx.New(errorsx.ReasonConfigInvalid, "notify.provider is required")
	}
	if strings.TrimSpace(c.Backend.BaseURL) == "" {
		return errorsx.New(errorsx.ReasonConfigInvalid, "backend.base_url is required")
	}
	if c.Chat.Enabled && strings.TrimSpace(c.Chat.Provider) == "" {
		return errorsx.New(errorsx.ReasonConfigInvalid, "chat.provider is required when chat is enabled")
	}
	if c.Voice.DebounceMS < 0 || c.Voice.IdleMS < 0 {
		return errorsx.New(errorsx.ReasonConfigInvalid, "voice timers must not be negative")
	}
	if ws := strings.TrimSpace(c.Server.WSPath); ws != "" && !strings.HasPrefix(ws, "/") {
		return errorsx.New(errorsx.ReasonConfigInvalid, "server.ws_path must start with /")
	}
	for i, cmd := range c.Voice.Commands {
		if err := cmd.Validate(); err != nil {
			return errorsx.Wrap(fmt.Errorf("voice.commands[%d]: %w", i, err), errorsx.ReasonConfigInvalid)
		}
	}
	return nil
}

// CommandSet resolves the command list for the controller.
func (c *Config) CommandSet() []command.Command {
	if len(c.Voice.Commands) > 0 {
		return c.Voice.Commands
	}
	cmds := command.DefaultCommands()
	if len(c.Voice.WakePhrases) == 0 {
		return cmds
	}
	for i := range cmds {
		if cmds[i].Kind == command.KindWake {
			cmds[i].Phrases = append([]string(nil), c.Voice.WakePhrases...)
		}
	}
	return cmds
}

func expandEnvStrings(cfg *Config) {
	expandValue(reflect.ValueOf(cfg))
	cfg.Capture.Settings = expandSettings(cfg.Capture.Settings)
	cfg.Notify.Settings = expandSettings(cfg.Notify.Settings)
	cfg.Chat.Settings = expandSettings(cfg.Chat.Settings)
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			ks, ok := k.(string)
			if !ok {
				continue
			}
			out[ks] = expandAny(v)
		}
		return out
	default:
		return v
	}
}

func expandValue(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return
		}
		expandValue(v.Elem())
		return
	}
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandValue(v.Field(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			expandValue(v.Index(i))
		}
	}
}
