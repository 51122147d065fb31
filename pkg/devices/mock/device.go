package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/That909kk/femobile-sub005/pkg/booking"
	"github.com/That909kk/femobile-sub005/pkg/devices"
)

// Config controls the scripted device behavior.
type Config struct {
	// StartErr makes StartRecording fail.
	StartErr error
	// StopErr makes StopRecording fail after releasing the handle.
	StopErr error
	// PlayErr makes Play fail.
	PlayErr error
	// AutoFinishAfter closes playback with a Finished event after the given
	// delay. Zero leaves playback open until FinishPlayback or Release.
	AutoFinishAfter time.Duration
	// ClipPayload is returned inside stopped clips.
	ClipPayload []byte
}

type recordingHandle struct {
	id        string
	startedAt time.Time
}

func (h *recordingHandle) ID() string { return h.id }

type playbackHandle struct {
	id     string
	events chan devices.PlaybackEvent
	once   sync.Once
}

func (h *playbackHandle) ID() string                            { return h.id }
func (h *playbackHandle) Events() <-chan devices.PlaybackEvent { return h.events }

func (h *playbackHandle) finish(ev devices.PlaybackEvent) {
	h.once.Do(func() {
		h.events <- ev
		close(h.events)
	})
}

// Device is an in-memory audio device for local testing and integration.
// It implements devices.AudioDevice without any platform dependency.
type Device struct {
	cfg Config

	mu        sync.Mutex
	recording *recordingHandle
	playing   *playbackHandle
	released  map[string]bool

	startCount   int
	releaseCount int
	playCount    int
}

func New(cfg Config) *Device {
	return &Device{cfg: cfg, released: make(map[string]bool)}
}

func (d *Device) Name() string { return "mock" }

func (d *Device) StartRecording(ctx context.Context) (devices.RecordingHandle, error) {
	if ctx != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cfg.StartErr != nil {
		return nil, d.cfg.StartErr
	}
	if d.recording != nil {
		return nil, errors.New("recording already in progress")
	}
	h := &recordingHandle{id: uuid.NewString(), startedAt: time.Now()}
	d.recording = h
	d.startCount++
	return h, nil
}

func (d *Device) StopRecording(handle devices.RecordingHandle) (booking.Clip, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h, ok := handle.(*recordingHandle)
	if !ok || h == nil || d.released[h.id] {
		return booking.Clip{}, nil
	}
	if d.recording == h {
		d.recording = nil
	}
	d.released[h.id] = true
	d.releaseCount++
	if d.cfg.StopErr != nil {
		return booking.Clip{}, d.cfg.StopErr
	}
	return booking.Clip{
		URI:        "mock://clips/" + h.id,
		DurationMs: time.Since(h.startedAt).Milliseconds(),
		Payload:    d.cfg.ClipPayload,
		MIME:       "audio/m4a",
	}, nil
}

func (d *Device) Play(ctx context.Context, url string) (devices.PlaybackHandle, error) {
	if ctx != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	d.mu.Lock()
	if d.cfg.PlayErr != nil {
		d.mu.Unlock()
		return nil, d.cfg.PlayErr
	}
	h := &playbackHandle{id: uuid.NewString(), events: make(chan devices.PlaybackEvent, 4)}
	d.playing = h
	d.playCount++
	after := d.cfg.AutoFinishAfter
	d.mu.Unlock()

	if after > 0 {
		time.AfterFunc(after, func() {
			h.finish(devices.PlaybackEvent{Finished: true})
		})
	}
	return h, nil
}

func (d *Device) Release(handle any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch h := handle.(type) {
	case *recordingHandle:
		if h == nil || d.released[h.id] {
			return nil
		}
		d.released[h.id] = true
		if d.recording == h {
			d.recording = nil
		}
		d.releaseCount++
	case *playbackHandle:
		if h == nil || d.released[h.id] {
			return nil
		}
		d.released[h.id] = true
		if d.playing == h {
			d.playing = nil
		}
		h.finish(devices.PlaybackEvent{Finished: true})
		d.releaseCount++
	}
	return nil
}

// FinishPlayback completes the current playback with the given event.
func (d *Device) FinishPlayback(ev devices.PlaybackEvent) {
	d.mu.Lock()
	h := d.playing
	d.playing = nil
	d.mu.Unlock()
	if h != nil {
		h.finish(ev)
	}
}

// RecordingLive reports whether a recording handle is currently held.
func (d *Device) RecordingLive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.recording != nil
}

// Counts exposes start/release/play counters for leak assertions.
func (d *Device) Counts() (starts, releases, plays int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.startCount, d.releaseCount, d.playCount
}
