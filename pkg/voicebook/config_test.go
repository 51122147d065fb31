package voicebook

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/That909kk/femobile-sub005/pkg/recorder"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "environment: test\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Environment != "test" || cfg.LogLevel != "info" {
		t.Fatalf("head wrong: %+v", cfg)
	}
	if cfg.Session.SettleMS != 300 || cfg.Session.AutoStopNoticeMS != 3000 || cfg.Session.SubmitTimeoutMS != 0 {
		t.Fatalf("session defaults wrong: %+v", cfg.Session)
	}
	if cfg.Recording.MinDurationMS != 2000 || cfg.Recording.MaxDurationMS != 60000 {
		t.Fatalf("recording defaults wrong: %+v", cfg.Recording)
	}
	if cfg.Recording.StopPolicy != string(recorder.PolicyPushToStop) {
		t.Fatalf("stop policy default wrong: %q", cfg.Recording.StopPolicy)
	}
	if cfg.Transports.Provider != "httpapi" || cfg.Devices.Provider != "mock" {
		t.Fatalf("provider defaults wrong: %+v / %+v", cfg.Transports, cfg.Devices)
	}
	if cfg.STT.Enabled || cfg.Notify.Enabled {
		t.Fatalf("optional features on by default")
	}
}

func TestLoadConfigOverridesAndSettings(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `
greeting: "welcome back"
session:
  settle_ms: 150
  submit_timeout_ms: 10000
recording:
  min_duration_ms: 1000
  stop_policy: silence_timeout
  silence_timeout_ms: 5000
transports:
  provider: httpapi
  settings:
    base_url: https://api.example.com
    api_key: k1
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Greeting != "welcome back" {
		t.Fatalf("greeting: %q", cfg.Greeting)
	}
	if cfg.Recording.StopPolicy != string(recorder.PolicySilenceTimeout) {
		t.Fatalf("stop policy: %q", cfg.Recording.StopPolicy)
	}
	if cfg.Transports.Settings["base_url"] != "https://api.example.com" {
		t.Fatalf("settings lost: %+v", cfg.Transports.Settings)
	}

	sc := cfg.CoordinatorConfig()
	if sc.SettleDelay != 150*time.Millisecond || sc.SubmitTimeout != 10*time.Second {
		t.Fatalf("coordinator config wrong: %+v", sc)
	}
	if sc.Recorder.MinDuration != time.Second || sc.Recorder.SilenceTimeout != 5*time.Second {
		t.Fatalf("recorder config wrong: %+v", sc.Recorder)
	}
	if sc.Recorder.StopPolicy != recorder.PolicySilenceTimeout {
		t.Fatalf("stop policy not carried: %q", sc.Recorder.StopPolicy)
	}
}

func TestLoadConfigExpandsEnv(t *testing.T) {
	t.Setenv("BOOKING_API_KEY", "secret-key")
	cfg, err := LoadConfig(writeConfig(t, `
transports:
  provider: httpapi
  settings:
    api_key: ${BOOKING_API_KEY}
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Transports.Settings["api_key"] != "secret-key" {
		t.Fatalf("env not expanded: %v", cfg.Transports.Settings["api_key"])
	}
}

func TestLoadConfigRejectsBadStopPolicy(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, `
recording:
  stop_policy: shout_to_stop
`))
	if err == nil {
		t.Fatalf("bad stop policy accepted")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yml"))
	if err == nil {
		t.Fatalf("missing file accepted")
	}
}
