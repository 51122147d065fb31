package httpapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/That909kk/femobile-sub005/pkg/booking"
	"github.com/That909kk/femobile-sub005/pkg/errorsx"
	"github.com/That909kk/femobile-sub005/pkg/logging"
	"github.com/That909kk/femobile-sub005/pkg/resilience"
	"github.com/That909kk/femobile-sub005/pkg/transports"
)

type Config struct {
	BaseURL   string `mapstructure:"base_url"`
	WSURL     string `mapstructure:"ws_url"`
	APIKey    string `mapstructure:"api_key"`
	TimeoutMS int    `mapstructure:"timeout_ms"`
	// BreakerThreshold is how many consecutive rate-limit responses open the
	// breaker; BreakerCooldownMS is how long it stays open.
	BreakerThreshold  int `mapstructure:"breaker_threshold"`
	BreakerCooldownMS int `mapstructure:"breaker_cooldown_ms"`
}

func (c Config) withDefaults() Config {
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.TimeoutMS <= 0 {
		c.TimeoutMS = 30000
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = 3
	}
	if c.BreakerCooldownMS <= 0 {
		c.BreakerCooldownMS = 30000
	}
	return c
}

// Transport talks to the booking backend over JSON/HTTP, with an optional
// websocket push channel for mid-turn updates.
type Transport struct {
	cfg     Config
	client  *http.Client
	logger  *slog.Logger
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryPolicy

	mu     sync.Mutex
	conn   *websocket.Conn
	closed atomic.Bool
}

func New(cfg Config) *Transport {
	cfg = cfg.withDefaults()
	return &Transport{
		cfg:     cfg,
		client:  &http.Client{Timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond},
		logger:  logging.NewComponentLogger(slog.Default(), "httpapi_transport"),
		breaker: resilience.NewCircuitBreaker(cfg.BreakerThreshold, time.Duration(cfg.BreakerCooldownMS)*time.Millisecond),
		retry:   resilience.NewRetryPolicy(2, 200*time.Millisecond),
	}
}

func (t *Transport) Name() string { return "httpapi" }

type turnRequestDTO struct {
	RequestID string    `json:"request_id,omitempty"`
	Text      string    `json:"text,omitempty"`
	Confirm   bool      `json:"confirm,omitempty"`
	Audio     *audioDTO `json:"audio,omitempty"`
}

type audioDTO struct {
	Data       string `json:"data"`
	MIME       string `json:"mime,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
}

type messageDTO struct {
	ID       string `json:"id"`
	Origin   string `json:"origin"`
	Text     string `json:"text"`
	AudioURL string `json:"audio_url,omitempty"`
}

type previewDTO struct {
	Services []struct {
		Service  string  `json:"service"`
		Quantity int     `json:"quantity"`
		Price    float64 `json:"price"`
	} `json:"services"`
	Time    string  `json:"time"`
	Address string  `json:"address"`
	Total   float64 `json:"total"`
}

type turnResultDTO struct {
	RequestID     string      `json:"request_id"`
	Status        string      `json:"status"`
	Messages      []messageDTO `json:"messages"`
	MissingFields []string    `json:"missing_fields,omitempty"`
	Preview       *previewDTO `json:"preview,omitempty"`
	BookingID     string      `json:"booking_id,omitempty"`
	Error         string      `json:"error,omitempty"`
}

func (t *Transport) SubmitTurn(ctx context.Context, req booking.TurnRequest) (booking.TurnResult, error) {
	if !t.breaker.Allow() {
		return booking.TurnResult{}, errorsx.Wrap(
			errors.New("booking service is rate limiting, backing off"), errorsx.ReasonTransportSubmit)
	}
	res, err := t.submitTurn(ctx, req)
	if err != nil {
		t.breaker.OnError(err)
	} else {
		t.breaker.OnSuccess()
	}
	return res, err
}

func (t *Transport) submitTurn(ctx context.Context, req booking.TurnRequest) (booking.TurnResult, error) {
	dto := turnRequestDTO{RequestID: req.RequestID, Text: req.Text, Confirm: req.Confirm}
	if req.Audio != nil && !req.Audio.Empty() {
		dto.Audio = &audioDTO{
			Data:       base64.StdEncoding.EncodeToString(req.Audio.Payload),
			MIME:       req.Audio.MIME,
			DurationMs: req.Audio.DurationMs,
		}
	}
	body, err := json.Marshal(dto)
	if err != nil {
		return booking.TurnResult{}, errorsx.Wrap(err, errorsx.ReasonTransportSubmit)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		t.cfg.BaseURL+"/v1/voice-bookings/turns", bytes.NewReader(body))
	if err != nil {
		return booking.TurnResult{}, errorsx.Wrap(err, errorsx.ReasonTransportSubmit)
	}
	t.decorate(httpReq)

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return booking.TurnResult{}, errorsx.Wrap(errors.Wrap(err, "submit turn"), errorsx.ReasonTransportSubmit)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests {
		return booking.TurnResult{}, errorsx.Wrap(
			resilience.RateLimitError{Backend: "booking", Message: "booking service rate limited the turn"},
			errorsx.ReasonTransportSubmit)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return booking.TurnResult{}, errorsx.Wrap(
			errors.Errorf("submit turn: backend returned %d: %s", resp.StatusCode, strings.TrimSpace(string(payload))),
			errorsx.ReasonTransportSubmit)
	}

	var out turnResultDTO
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return booking.TurnResult{}, errorsx.Wrap(errors.Wrap(err, "decode turn result"), errorsx.ReasonProtocol)
	}
	return out.toResult(), nil
}

func (t *Transport) Cancel(ctx context.Context, requestID string) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		t.cfg.BaseURL+"/v1/voice-bookings/"+requestID+"/cancel", nil)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonTransportCancel)
	}
	t.decorate(httpReq)
	resp, err := t.client.Do(httpReq)
	if err != nil {
		return errorsx.Wrap(errors.Wrap(err, "cancel"), errorsx.ReasonTransportCancel)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errorsx.Wrap(errors.Errorf("cancel: backend returned %d", resp.StatusCode), errorsx.ReasonTransportCancel)
	}
	return nil
}

// Subscribe opens the websocket push channel, when configured. Updates are
// forwarded in receipt order until the context ends or the transport closes.
func (t *Transport) Subscribe(ctx context.Context, requestID string, onUpdate func(booking.TurnResult)) error {
	if t.cfg.WSURL == "" {
		return errorsx.Wrap(errors.New("no push endpoint configured"), errorsx.ReasonTransportSubscribe)
	}
	header := http.Header{}
	if t.cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+t.cfg.APIKey)
	}
	var conn *websocket.Conn
	err := t.retry.Do(ctx, func() error {
		var dialErr error
		conn, _, dialErr = websocket.DefaultDialer.DialContext(ctx, t.cfg.WSURL+"?request_id="+requestID, header)
		return dialErr
	})
	if err != nil {
		return errorsx.Wrap(errors.Wrap(err, "dial push channel"), errorsx.ReasonTransportSubscribe)
	}
	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()

	go func() {
		defer conn.Close()
		for {
			var dto turnResultDTO
			if err := conn.ReadJSON(&dto); err != nil {
				if !t.closed.Load() && ctx.Err() == nil {
					t.logger.Debug("push_channel_closed", slog.String("error", err.Error()))
				}
				return
			}
			onUpdate(dto.toResult())
		}
	}()
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	return nil
}

func (t *Transport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	t.client.CloseIdleConnections()
	return nil
}

func (t *Transport) decorate(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if t.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.cfg.APIKey)
	}
}

func (d turnResultDTO) toResult() booking.TurnResult {
	out := booking.TurnResult{
		RequestID: d.RequestID,
		Status:    d.Status,
		BookingID: d.BookingID,
		Err:       d.Error,
	}
	for _, m := range d.Messages {
		out.Messages = append(out.Messages, booking.Message{
			ID:       m.ID,
			Origin:   booking.Origin(m.Origin),
			Text:     m.Text,
			AudioURL: m.AudioURL,
			At:       time.Now(),
		})
	}
	for _, f := range d.MissingFields {
		out.MissingFields = append(out.MissingFields, booking.FieldTag(f))
	}
	if d.Preview != nil {
		p := &booking.Preview{Time: d.Preview.Time, Address: d.Preview.Address, Total: d.Preview.Total}
		for _, s := range d.Preview.Services {
			p.Services = append(p.Services, booking.PreviewItem{Service: s.Service, Quantity: s.Quantity, Price: s.Price})
		}
		out.Preview = p
	}
	return out
}

var _ transports.Transport = (*Transport)(nil)
var _ transports.Subscriber = (*Transport)(nil)
