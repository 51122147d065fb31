package transports

import (
	"context"

	"github.com/That909kk/femobile-sub005/pkg/booking"
)

// Transport defines the backend boundary for conversation turns.
// Implementations are responsible for their own network lifecycle.
type Transport interface {
	Name() string
	// SubmitTurn sends one user contribution and blocks until the backend's
	// reply for that turn arrives.
	SubmitTurn(ctx context.Context, req booking.TurnRequest) (booking.TurnResult, error)
	// Cancel abandons a server-side conversation. Callers treat it as
	// fire-and-forget and never retry.
	Cancel(ctx context.Context, requestID string) error
	Close() error
}

// Subscriber is an optional push channel for mid-turn updates. A transport
// without it, or one whose subscription silently never fires, is still fully
// functional via SubmitTurn.
type Subscriber interface {
	Subscribe(ctx context.Context, requestID string, onUpdate func(booking.TurnResult)) error
}
