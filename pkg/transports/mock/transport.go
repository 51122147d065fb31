package mock

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/That909kk/femobile-sub005/pkg/booking"
)

// Transport is an in-memory scripted backend for local testing and
// integration. It implements transports.Transport without any network
// dependency: each SubmitTurn pops the next scripted TurnResult.
type Transport struct {
	mu      sync.Mutex
	script  []Step
	submits []booking.TurnRequest
	cancels []string
	closed  atomic.Bool

	// Delay hooks let tests hold a submission open until released.
	gate chan struct{}
}

// Step is one scripted backend reply.
type Step struct {
	Result booking.TurnResult
	Err    error
}

func New(script ...Step) *Transport {
	return &Transport{script: script}
}

func (t *Transport) Name() string { return "mock" }

// HoldSubmissions makes every SubmitTurn block until ReleaseSubmissions.
func (t *Transport) HoldSubmissions() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gate = make(chan struct{})
}

// ReleaseSubmissions unblocks held submissions.
func (t *Transport) ReleaseSubmissions() {
	t.mu.Lock()
	gate := t.gate
	t.gate = nil
	t.mu.Unlock()
	if gate != nil {
		close(gate)
	}
}

func (t *Transport) SubmitTurn(ctx context.Context, req booking.TurnRequest) (booking.TurnResult, error) {
	t.mu.Lock()
	t.submits = append(t.submits, req)
	gate := t.gate
	var step Step
	if len(t.script) > 0 {
		step = t.script[0]
		t.script = t.script[1:]
	}
	t.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return booking.TurnResult{}, ctx.Err()
		}
	}
	if step.Err != nil {
		return booking.TurnResult{}, step.Err
	}
	res := step.Result
	if res.RequestID == "" {
		if req.RequestID != "" {
			res.RequestID = req.RequestID
		} else {
			res.RequestID = uuid.NewString()
		}
	}
	return res, nil
}

func (t *Transport) Cancel(ctx context.Context, requestID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancels = append(t.cancels, requestID)
	return nil
}

func (t *Transport) Close() error {
	t.closed.Store(true)
	return nil
}

// Submits exposes recorded turn requests for inspection.
func (t *Transport) Submits() []booking.TurnRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]booking.TurnRequest, len(t.submits))
	copy(out, t.submits)
	return out
}

// Cancels exposes recorded cancellation request ids.
func (t *Transport) Cancels() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.cancels))
	copy(out, t.cancels)
	return out
}

// Closed reports whether Close was called.
func (t *Transport) Closed() bool { return t.closed.Load() }
