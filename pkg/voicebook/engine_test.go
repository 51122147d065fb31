package voicebook

import (
	"testing"
)

func baseEngineConfig() Config {
	return Config{
		LogLevel:   "error",
		Transports: ProviderConfig{Provider: "mock"},
		Devices:    ProviderConfig{Provider: "mock"},
	}
}

func TestNewEngineBuildsSessions(t *testing.T) {
	engine, err := NewEngine(EngineOptions{Config: baseEngineConfig()})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	defer engine.Close()

	first, err := engine.NewSession()
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	defer first.Exit()
	second, err := engine.NewSession()
	if err != nil {
		t.Fatalf("second session: %v", err)
	}
	defer second.Exit()
	if first == second {
		t.Fatalf("sessions not independent")
	}
}

func TestNewEngineRejectsUnknownProviders(t *testing.T) {
	cfg := baseEngineConfig()
	cfg.Devices.Provider = "carrier_pigeon"
	if _, err := NewEngine(EngineOptions{Config: cfg}); err == nil {
		t.Fatalf("unknown device provider accepted")
	}

	cfg = baseEngineConfig()
	cfg.Transports.Provider = "carrier_pigeon"
	engine, err := NewEngine(EngineOptions{Config: cfg})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	defer engine.Close()
	if _, err := engine.NewSession(); err == nil {
		t.Fatalf("unknown transport provider accepted")
	}
}

func TestNewEngineValidatesSTTSettings(t *testing.T) {
	cfg := baseEngineConfig()
	cfg.STT.Enabled = true
	cfg.STT.Settings = map[string]any{"model": "nova-2"} // no api_key
	engine, err := NewEngine(EngineOptions{Config: cfg})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	defer engine.Close()
	if _, err := engine.NewSession(); err == nil {
		t.Fatalf("stt without api key accepted")
	}
}

func TestNewEngineValidatesNotifySettings(t *testing.T) {
	cfg := baseEngineConfig()
	cfg.Notify.Enabled = true
	cfg.Notify.Settings = map[string]any{"account_sid": "AC1"} // incomplete
	if _, err := NewEngine(EngineOptions{Config: cfg}); err == nil {
		t.Fatalf("incomplete notify settings accepted")
	}
}
