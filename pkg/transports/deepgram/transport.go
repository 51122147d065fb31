package deepgram

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"

	"github.com/That909kk/femobile-sub005/pkg/booking"
	"github.com/That909kk/femobile-sub005/pkg/errorsx"
	"github.com/That909kk/femobile-sub005/pkg/logging"
	"github.com/That909kk/femobile-sub005/pkg/redact"
	"github.com/That909kk/femobile-sub005/pkg/transports"
)

type Config struct {
	APIKey     string `mapstructure:"api_key"`
	Model      string `mapstructure:"model"`
	Language   string `mapstructure:"language"`
	SampleRate int    `mapstructure:"sample_rate"`
	Encoding   string `mapstructure:"encoding"`
	// QuietMS is how long to wait for further finals after the clip has been
	// fully streamed.
	QuietMS int `mapstructure:"quiet_ms"`
}

func (c Config) withDefaults() Config {
	if c.SampleRate == 0 {
		c.SampleRate = 16000
	}
	if c.QuietMS <= 0 {
		c.QuietMS = 1500
	}
	return c
}

// Transport transcribes audio turns locally before handing them to the
// wrapped transport. Used when the booking backend only accepts text turns.
type Transport struct {
	cfg    Config
	inner  transports.Transport
	logger *slog.Logger
}

func New(cfg Config, inner transports.Transport) *Transport {
	return &Transport{
		cfg:    cfg.withDefaults(),
		inner:  inner,
		logger: logging.NewComponentLogger(slog.Default(), "deepgram_transport"),
	}
}

func (t *Transport) Name() string { return "deepgram+" + t.inner.Name() }

func (t *Transport) SubmitTurn(ctx context.Context, req booking.TurnRequest) (booking.TurnResult, error) {
	if req.Audio == nil || req.Audio.Empty() {
		return t.inner.SubmitTurn(ctx, req)
	}
	text, err := t.transcribe(ctx, *req.Audio)
	if err != nil {
		return booking.TurnResult{}, errorsx.Wrap(err, errorsx.ReasonSTTTranscribe)
	}
	if text == "" {
		return booking.TurnResult{}, errorsx.Wrap(errors.New("clip produced no transcript"), errorsx.ReasonSTTTranscribe)
	}
	t.logger.Debug("clip_transcribed", slog.Int("chars", len(text)), redact.String("text", text))
	req.Audio = nil
	req.Text = text
	return t.inner.SubmitTurn(ctx, req)
}

func (t *Transport) Cancel(ctx context.Context, requestID string) error {
	return t.inner.Cancel(ctx, requestID)
}

func (t *Transport) Close() error { return t.inner.Close() }

// Subscribe forwards to the wrapped transport when it supports push.
func (t *Transport) Subscribe(ctx context.Context, requestID string, onUpdate func(booking.TurnResult)) error {
	if sub, ok := t.inner.(transports.Subscriber); ok {
		return sub.Subscribe(ctx, requestID, onUpdate)
	}
	return errorsx.Wrap(errors.New("inner transport has no push channel"), errorsx.ReasonTransportSubscribe)
}

// transcribe streams one finite clip through the live transcription API and
// joins the final segments.
func (t *Transport) transcribe(ctx context.Context, clip booking.Clip) (string, error) {
	cctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pr, pw := io.Pipe()
	cb := &collector{quiet: time.Duration(t.cfg.QuietMS) * time.Millisecond}
	cb.reset()

	clientOptions := &interfaces.ClientOptions{}
	transcriptOptions := &interfaces.LiveTranscriptionOptions{
		Model:       t.cfg.Model,
		Language:    t.cfg.Language,
		Encoding:    t.cfg.Encoding,
		SampleRate:  t.cfg.SampleRate,
		SmartFormat: true,
	}

	dgClient, err := client.NewWSUsingCallback(cctx, t.cfg.APIKey, clientOptions, transcriptOptions, cb)
	if err != nil {
		return "", err
	}
	if connected := dgClient.Connect(); !connected {
		return "", errors.New("transcription connection failed")
	}
	defer dgClient.Stop()

	go func() {
		if err := dgClient.Stream(pr); err != nil && cctx.Err() == nil {
			t.logger.Debug("transcription_stream_ended", slog.String("error", err.Error()))
		}
	}()

	if _, err := pw.Write(clip.Payload); err != nil {
		_ = pw.Close()
		return "", err
	}
	_ = pw.Close()

	select {
	case <-cb.quietCh():
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return cb.transcript(), nil
}

// collector accumulates final transcript segments and reports quiescence
// once no new final has arrived within the quiet window.
type collector struct {
	mu     sync.Mutex
	finals []string
	quiet  time.Duration
	timer  *time.Timer
	done   chan struct{}
	closed bool
}

func (c *collector) reset() {
	c.done = make(chan struct{})
	c.timer = time.AfterFunc(c.quiet, c.finish)
}

func (c *collector) finish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
}

func (c *collector) quietCh() <-chan struct{} { return c.done }

func (c *collector) transcript() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return strings.TrimSpace(strings.Join(c.finals, " "))
}

func (c *collector) Open(or *msginterfaces.OpenResponse) error { return nil }

func (c *collector) Message(mr *msginterfaces.MessageResponse) error {
	if len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	text := mr.Channel.Alternatives[0].Transcript
	if text == "" {
		return nil
	}
	if mr.IsFinal || mr.SpeechFinal {
		c.mu.Lock()
		c.finals = append(c.finals, text)
		if !c.closed {
			c.timer.Reset(c.quiet)
		}
		c.mu.Unlock()
	}
	return nil
}

func (c *collector) Metadata(md *msginterfaces.MetadataResponse) error { return nil }

func (c *collector) SpeechStarted(ssr *msginterfaces.SpeechStartedResponse) error { return nil }

func (c *collector) UtteranceEnd(ur *msginterfaces.UtteranceEndResponse) error {
	c.finish()
	return nil
}

func (c *collector) Close(cr *msginterfaces.CloseResponse) error {
	c.finish()
	return nil
}

func (c *collector) Error(er *msginterfaces.ErrorResponse) error {
	c.finish()
	return nil
}

func (c *collector) UnhandledEvent(byData []byte) error { return nil }

var _ transports.Transport = (*Transport)(nil)
