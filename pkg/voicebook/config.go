package voicebook

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/That909kk/femobile-sub005/pkg/recorder"
	"github.com/That909kk/femobile-sub005/pkg/session"
)

type Config struct {
	Environment string          `mapstructure:"environment"`
	LogLevel    string          `mapstructure:"log_level"`
	Greeting    string          `mapstructure:"greeting"`
	Session     SessionConfig   `mapstructure:"session"`
	Recording   RecordingConfig `mapstructure:"recording"`
	Transports  ProviderConfig  `mapstructure:"transports"`
	Devices     ProviderConfig  `mapstructure:"devices"`
	STT         STTConfig       `mapstructure:"stt"`
	Notify      NotifyConfig    `mapstructure:"notify"`
	Privacy     PrivacyConfig   `mapstructure:"privacy"`
	Metrics     MetricsConfig   `mapstructure:"metrics"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

// MetricsConfig controls the JSONL metrics sink. Disabled keeps a no-op
// observer in place.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type ProviderConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type SessionConfig struct {
	SettleMS          int `mapstructure:"settle_ms"`
	AutoStopNoticeMS  int `mapstructure:"auto_stop_notice_ms"`
	SubmitTimeoutMS   int `mapstructure:"submit_timeout_ms"`
}

type RecordingConfig struct {
	MinDurationMS    int    `mapstructure:"min_duration_ms"`
	MaxDurationMS    int    `mapstructure:"max_duration_ms"`
	StopPolicy       string `mapstructure:"stop_policy"`
	SilenceTimeoutMS int    `mapstructure:"silence_timeout_ms"`
}

// STTConfig enables local transcription in front of the transport for
// backends that only accept text turns.
type STTConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Settings map[string]any `mapstructure:"settings"`
}

type NotifyConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Settings map[string]any `mapstructure:"settings"`
}

func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("greeting", "Hi! Tell me what you would like to book.")
	v.SetDefault("session.settle_ms", 300)
	v.SetDefault("session.auto_stop_notice_ms", 3000)
	v.SetDefault("session.submit_timeout_ms", 0)
	v.SetDefault("recording.min_duration_ms", 2000)
	v.SetDefault("recording.max_duration_ms", 60000)
	v.SetDefault("recording.stop_policy", string(recorder.PolicyPushToStop))
	v.SetDefault("recording.silence_timeout_ms", 8000)
	v.SetDefault("transports.provider", "httpapi")
	v.SetDefault("devices.provider", "mock")
	v.SetDefault("stt.enabled", false)
	v.SetDefault("notify.enabled", false)
	v.SetDefault("privacy.redact_pii", true)
	v.SetDefault("metrics.enabled", false)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

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
	if strings.TrimSpace(c.Transports.Provider) == "" {
		return fmt.Errorf("transports.provider is required")
	}
	if strings.TrimSpace(c.Devices.Provider) == "" {
		return fmt.Errorf("devices.provider is required")
	}
	switch recorder.Policy(c.Recording.StopPolicy) {
	case recorder.PolicyPushToStop, recorder.PolicySilenceTimeout, "":
	default:
		return fmt.Errorf("recording.stop_policy must be %s or %s",
			recorder.PolicyPushToStop, recorder.PolicySilenceTimeout)
	}
	return nil
}

// SessionConfig converts the loaded values into a coordinator config.
func (c Config) CoordinatorConfig() session.Config {
	return session.Config{
		Greeting:          c.Greeting,
		SettleDelay:       time.Duration(c.Session.SettleMS) * time.Millisecond,
		AutoStopNoticeTTL: time.Duration(c.Session.AutoStopNoticeMS) * time.Millisecond,
		SubmitTimeout:     time.Duration(c.Session.SubmitTimeoutMS) * time.Millisecond,
		Recorder: recorder.Config{
			MinDuration:    time.Duration(c.Recording.MinDurationMS) * time.Millisecond,
			MaxDuration:    time.Duration(c.Recording.MaxDurationMS) * time.Millisecond,
			StopPolicy:     recorder.Policy(c.Recording.StopPolicy),
			SilenceTimeout: time.Duration(c.Recording.SilenceTimeoutMS) * time.Millisecond,
		},
	}
}

func expandEnvStrings(cfg *Config) {
	expandValue(reflect.ValueOf(cfg))
	cfg.Transports.Settings = expandSettings(cfg.Transports.Settings)
	cfg.Devices.Settings = expandSettings(cfg.Devices.Settings)
	cfg.STT.Settings = expandSettings(cfg.STT.Settings)
	cfg.Notify.Settings = expandSettings(cfg.Notify.Settings)
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
	}
}
