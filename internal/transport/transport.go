// Package transport defines what the relay needs from a messaging backend.
package transport

import (
	"context"

	"vidrelay.app/relay/internal/model"
)

// Handler receives new-item notifications from the subscribed source. It is
// called from the transport's update goroutine and must not block for long.
type Handler func(ctx context.Context, item model.ForwardableItem)

// Client is an authenticated connection to the messaging backend.
type Client interface {
	// Connect opens the connection and authenticates. Failures are *AuthError.
	Connect(ctx context.Context) error

	// Resolve turns a configured reference (@name, t.me link, numeric ID) into a
	// channel handle. Failures are *ResolveError.
	Resolve(ctx context.Context, ref string) (model.Channel, error)

	// Subscribe delivers new items posted to source to h.
	Subscribe(source model.Channel, h Handler) error

	// Forward copies item into destination. Failures are *ForwardError.
	Forward(ctx context.Context, item model.ForwardableItem, source, destination model.Channel) error

	// Done is closed when the connection ends, either via Close or because the
	// backend dropped it for good. Err reports why.
	Done() <-chan struct{}
	Err() error

	Close() error
}
