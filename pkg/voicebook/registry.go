package voicebook

import (
	"fmt"
	"strings"

	"github.com/That909kk/femobile-sub005/pkg/configutil"
	"github.com/That909kk/femobile-sub005/pkg/devices"
	devmock "github.com/That909kk/femobile-sub005/pkg/devices/mock"
	"github.com/That909kk/femobile-sub005/pkg/transports"
	"github.com/That909kk/femobile-sub005/pkg/transports/httpapi"
	transportmock "github.com/That909kk/femobile-sub005/pkg/transports/mock"
)

type TransportFactory func(settings map[string]any) (transports.Transport, error)
type DeviceFactory func(settings map[string]any) (devices.AudioDevice, error)

// Registry maps provider names from config onto concrete transports and
// audio devices.
type Registry struct {
	transports map[string]TransportFactory
	devices    map[string]DeviceFactory
}

func NewRegistry() *Registry {
	return &Registry{
		transports: make(map[string]TransportFactory),
		devices:    make(map[string]DeviceFactory),
	}
}

// DefaultRegistry returns a registry with the built-in providers.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.RegisterTransport("httpapi", func(settings map[string]any) (transports.Transport, error) {
		if err := configutil.ValidateSettings(settings, configutil.Schema{
			Required: []string{"base_url"},
			Optional: []string{"ws_url", "api_key", "timeout_ms", "breaker_threshold", "breaker_cooldown_ms"},
		}); err != nil {
			return nil, err
		}
		var cfg httpapi.Config
		if err := configutil.DecodeSettings(settings, &cfg); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(cfg.BaseURL, "transports.settings.base_url"); err != nil {
			return nil, err
		}
		return httpapi.New(cfg), nil
	})
	r.RegisterTransport("mock", func(settings map[string]any) (transports.Transport, error) {
		return transportmock.New(), nil
	})
	r.RegisterDevice("mock", func(settings map[string]any) (devices.AudioDevice, error) {
		var cfg devmock.Config
		if err := configutil.DecodeSettings(settings, &cfg); err != nil {
			return nil, err
		}
		return devmock.New(cfg), nil
	})
	return r
}

func (r *Registry) RegisterTransport(name string, factory TransportFactory) {
	r.transports[strings.ToLower(strings.TrimSpace(name))] = factory
}

func (r *Registry) RegisterDevice(name string, factory DeviceFactory) {
	r.devices[strings.ToLower(strings.TrimSpace(name))] = factory
}

func (r *Registry) BuildTransport(provider string, settings map[string]any) (transports.Transport, error) {
	fn := r.transports[strings.ToLower(strings.TrimSpace(provider))]
	if fn == nil {
		return nil, fmt.Errorf("transport provider not registered: %s", provider)
	}
	return fn(settings)
}

func (r *Registry) BuildDevice(provider string, settings map[string]any) (devices.AudioDevice, error) {
	fn := r.devices[strings.ToLower(strings.TrimSpace(provider))]
	if fn == nil {
		return nil, fmt.Errorf("device provider not registered: %s", provider)
	}
	return fn(settings)
}
