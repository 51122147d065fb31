package devices

import (
	"context"

	"github.com/That909kk/femobile-sub005/pkg/booking"
)

// RecordingHandle is the ownership token for one device-level recording.
// Exactly one controller may hold a live handle at a time.
type RecordingHandle interface {
	ID() string
}

// PlaybackEvent is emitted by a playback handle while a clip plays.
type PlaybackEvent struct {
	ProgressMs int64
	Finished   bool
	Err        error
}

// PlaybackHandle is the ownership token for one device-level playback.
type PlaybackHandle interface {
	ID() string
	// Events delivers progress and completion. The channel is closed after a
	// Finished or errored event, or after the handle is released.
	Events() <-chan PlaybackEvent
}

// AudioDevice wraps the platform microphone and speaker primitives behind two
// narrow capabilities. All calls must be safe on an already-released handle:
// they no-op or return an error that callers are expected to swallow.
type AudioDevice interface {
	// Name returns the adapter name for logging.
	Name() string
	// StartRecording acquires the microphone and begins capture.
	StartRecording(ctx context.Context) (RecordingHandle, error)
	// StopRecording ends capture and returns the captured clip.
	StopRecording(handle RecordingHandle) (booking.Clip, error)
	// Play begins playback of a clip by URL.
	Play(ctx context.Context, url string) (PlaybackHandle, error)
	// Release frees a recording or playback handle unconditionally.
	Release(handle any) error
}
