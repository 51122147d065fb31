package voicebook

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/dimiro1/banner"

	"github.com/That909kk/femobile-sub005/pkg/configutil"
	"github.com/That909kk/femobile-sub005/pkg/devices"
	"github.com/That909kk/femobile-sub005/pkg/logging"
	"github.com/That909kk/femobile-sub005/pkg/metrics"
	"github.com/That909kk/femobile-sub005/pkg/notify"
	"github.com/That909kk/femobile-sub005/pkg/redact"
	"github.com/That909kk/femobile-sub005/pkg/session"
	"github.com/That909kk/femobile-sub005/pkg/transports"
	dgtransport "github.com/That909kk/femobile-sub005/pkg/transports/deepgram"
)

const EngineVersion = "dev"

// PrintBanner writes the startup banner.
func PrintBanner() {
	tpl := "{{ .Title \"VOICEBOOK\" \"\" 0 }}\nVersion: " + EngineVersion + "\n"
	banner.Init(os.Stdout, true, true, bytes.NewBufferString(tpl))
}

// Engine builds ready-to-use conversation sessions from configuration. One
// engine serves many screen visits; each NewSession returns an independent
// coordinator.
type Engine struct {
	cfg      Config
	registry *Registry
	device   devices.AudioDevice
	logger   *slog.Logger
	notifier session.Notifier

	observer    metrics.Observer
	asyncObs    *metrics.AsyncObserver
	metricsFile *os.File
}

type EngineOptions struct {
	Config   Config
	Registry *Registry
	// Device overrides the configured device provider, for embedding a
	// platform-specific adapter.
	Device devices.AudioDevice
	// Notifier overrides the configured completion notifier.
	Notifier session.Notifier
}

func NewEngine(opts EngineOptions) (*Engine, error) {
	cfg := opts.Config
	registry := opts.Registry
	if registry == nil {
		registry = DefaultRegistry()
	}

	base := logging.InitLogger(parseLogLevel(cfg.LogLevel))
	slog.SetDefault(base)
	logger := logging.NewComponentLogger(base, "voicebook_engine")

	device := opts.Device
	if device == nil {
		var err error
		device, err = registry.BuildDevice(cfg.Devices.Provider, cfg.Devices.Settings)
		if err != nil {
			return nil, fmt.Errorf("build device: %w", err)
		}
	}

	redact.SetEnabled(cfg.Privacy.RedactPII)

	notifier := opts.Notifier
	if notifier == nil && cfg.Notify.Enabled {
		if err := configutil.ValidateSettings(cfg.Notify.Settings, configutil.Schema{
			Required: []string{"account_sid", "auth_token", "from", "to"},
		}); err != nil {
			return nil, fmt.Errorf("notify settings: %w", err)
		}
		var ncfg notify.Config
		if err := configutil.DecodeSettings(cfg.Notify.Settings, &ncfg); err != nil {
			return nil, fmt.Errorf("decode notify settings: %w", err)
		}
		notifier = notify.NewSMSNotifier(ncfg)
	}

	e := &Engine{
		cfg:      cfg,
		registry: registry,
		device:   device,
		logger:   logger,
		notifier: notifier,
		observer: metrics.NoopObserver{},
	}
	if cfg.Metrics.Enabled {
		if err := e.openMetricsSink(); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func (e *Engine) openMetricsSink() error {
	var sink *metrics.JSONLObserver
	if path := e.cfg.Metrics.Path; path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open metrics sink: %w", err)
		}
		e.metricsFile = f
		sink = metrics.NewJSONLObserver(f)
	} else {
		sink = metrics.NewJSONLObserver(os.Stdout)
	}
	e.asyncObs = metrics.NewAsyncObserver(sink, 256)
	e.observer = e.asyncObs
	return nil
}

// Close flushes and releases the metrics sink. Safe when metrics are off.
func (e *Engine) Close() error {
	if e.asyncObs != nil {
		e.asyncObs.Close()
	}
	if e.metricsFile != nil {
		return e.metricsFile.Close()
	}
	return nil
}

// NewSession builds a coordinator over a fresh transport for one screen
// visit.
func (e *Engine) NewSession() (*session.Coordinator, error) {
	transport, err := e.buildTransport()
	if err != nil {
		return nil, err
	}
	coord := session.NewCoordinator(e.device, transport, e.cfg.CoordinatorConfig(), e.logger)
	if e.notifier != nil {
		coord.SetNotifier(e.notifier)
	}
	coord.SetObserver(e.observer)
	return coord, nil
}

func (e *Engine) buildTransport() (transports.Transport, error) {
	transport, err := e.registry.BuildTransport(e.cfg.Transports.Provider, e.cfg.Transports.Settings)
	if err != nil {
		return nil, fmt.Errorf("build transport: %w", err)
	}
	if e.cfg.STT.Enabled {
		if err := configutil.ValidateSettings(e.cfg.STT.Settings, configutil.Schema{
			Required: []string{"api_key"},
			Optional: []string{"model", "language", "sample_rate", "encoding", "quiet_ms"},
		}); err != nil {
			return nil, fmt.Errorf("stt settings: %w", err)
		}
		var scfg dgtransport.Config
		if err := configutil.DecodeSettings(e.cfg.STT.Settings, &scfg); err != nil {
			return nil, fmt.Errorf("decode stt settings: %w", err)
		}
		if err := configutil.RequireString(scfg.APIKey, "stt.settings.api_key"); err != nil {
			return nil, err
		}
		transport = dgtransport.New(scfg, transport)
	}
	return transport, nil
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
