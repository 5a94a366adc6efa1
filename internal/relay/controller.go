// Package relay wires the transport, classifier and delivery engine together
// and owns the relay lifecycle.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"vidrelay.app/relay/common/id"
	"vidrelay.app/relay/common/logger"
	"vidrelay.app/relay/internal/claim"
	"vidrelay.app/relay/internal/classifier"
	"vidrelay.app/relay/internal/delivery"
	"vidrelay.app/relay/internal/model"
	"vidrelay.app/relay/internal/transport"
)

var (
	ErrAuthentication    = errors.New("authentication failed")
	ErrChannelResolution = errors.New("channel verification failed")
	ErrDisconnected      = errors.New("transport disconnected")
)

// Deliverer runs one delivery sequence. Satisfied by *delivery.Engine.
type Deliverer interface {
	Deliver(ctx context.Context, item model.ForwardableItem, source, destination model.Channel) delivery.Result
}

type Config struct {
	Source               string
	Destination          string
	Concurrency          int
	QueueSize            int
	VerifyPostPermission bool
}

// Status is a point-in-time view for the HTTP surface.
type Status struct {
	State       string   `json:"state"`
	Source      string   `json:"source"`
	Destination string   `json:"destination"`
	Stats       Snapshot `json:"stats"`
}

type Controller struct {
	transport transport.Client
	engine    Deliverer
	claimer   claim.Claimer
	cfg       Config
	stats     *Stats
	state     atomic.Int32

	source      model.Channel
	destination model.Channel

	mu        sync.RWMutex
	accepting bool
	intake    chan model.ForwardableItem
	stopping  chan struct{}
	stopOnce  sync.Once
}

type Option func(*Controller)

// WithClaimer makes the controller claim each video before delivering it.
func WithClaimer(c claim.Claimer) Option {
	return func(ctrl *Controller) {
		ctrl.claimer = c
	}
}

func withClock(now func() time.Time) Option {
	return func(ctrl *Controller) {
		ctrl.stats = newStats(now)
	}
}

func New(t transport.Client, engine Deliverer, cfg Config, opts ...Option) *Controller {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}

	c := &Controller{
		transport: t,
		engine:    engine,
		cfg:       cfg,
		stats:     newStats(time.Now),
		intake:    make(chan model.ForwardableItem, cfg.QueueSize),
		stopping:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run drives the controller through its whole lifecycle and blocks until
// ctx is cancelled or the transport disconnects. It returns nil on an
// operator-requested shutdown and a wrapped ErrAuthentication,
// ErrChannelResolution or ErrDisconnected otherwise.
func (c *Controller) Run(ctx context.Context) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "relay.controller"})

	slog.InfoContext(ctx, "starting video relay",
		"source", c.cfg.Source,
		"destination", c.cfg.Destination)

	c.setState(StateVerifying)

	if err := c.transport.Connect(ctx); err != nil {
		c.setState(StateStopped)
		if ctx.Err() != nil {
			slog.InfoContext(ctx, "interrupted while connecting")
			return nil
		}
		if errors.Is(err, transport.ErrSecondFactorRequired) {
			slog.ErrorContext(ctx, "two-factor authentication is enabled, set TELEGRAM_2FA_PASSWORD")
		}
		return fmt.Errorf("%w: %w", ErrAuthentication, err)
	}
	slog.InfoContext(ctx, "connected to telegram")

	if err := c.verify(ctx); err != nil {
		c.closeTransport(ctx)
		c.setState(StateStopped)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("%w: %w", ErrChannelResolution, err)
	}

	c.mu.Lock()
	c.accepting = true
	c.mu.Unlock()

	if err := c.transport.Subscribe(c.source, c.enqueue); err != nil {
		c.stopAccepting()
		c.closeTransport(ctx)
		c.setState(StateStopped)
		return fmt.Errorf("%w: subscribing to %s: %w", ErrChannelResolution, c.source, err)
	}

	workCtx, cancelWork := context.WithCancel(ctx)
	defer cancelWork()

	var wg sync.WaitGroup
	for i := 0; i < c.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.work(workCtx)
		}()
	}

	c.setState(StateRunning)
	slog.InfoContext(ctx, "relay is running and monitoring for videos",
		"source", c.source.String(),
		"destination", c.destination.String(),
		"workers", c.cfg.Concurrency)

	var runErr error
	select {
	case <-ctx.Done():
		slog.InfoContext(ctx, "received interrupt signal")
	case <-c.transport.Done():
		runErr = fmt.Errorf("%w: %w", ErrDisconnected, c.transport.Err())
		slog.ErrorContext(ctx, "transport disconnected", "error", c.transport.Err())
	}

	c.setState(StateStopping)
	c.stopAccepting()
	cancelWork()
	wg.Wait()

	c.logSummary(ctx)
	c.closeTransport(ctx)
	c.setState(StateStopped)
	slog.InfoContext(ctx, "relay stopped")

	return runErr
}

func (c *Controller) State() State {
	return State(c.state.Load())
}

func (c *Controller) Stats() Snapshot {
	return c.stats.Snapshot()
}

func (c *Controller) Status() Status {
	c.mu.RLock()
	source, destination := c.source, c.destination
	c.mu.RUnlock()

	return Status{
		State:       c.State().String(),
		Source:      source.String(),
		Destination: destination.String(),
		Stats:       c.stats.Snapshot(),
	}
}

func (c *Controller) setState(s State) {
	prev := State(c.state.Swap(int32(s)))
	if prev != s {
		slog.Debug("relay state changed", "from", prev.String(), "to", s.String())
	}
}

func (c *Controller) verify(ctx context.Context) error {
	source, err := c.transport.Resolve(ctx, c.cfg.Source)
	if err != nil {
		slog.ErrorContext(ctx, "cannot access source channel, check the ID and that this account is a member",
			"ref", c.cfg.Source, "error", err)
		return fmt.Errorf("source: %w", err)
	}
	slog.InfoContext(ctx, "source channel verified", "title", source.Title, "id", source.ID)

	destination, err := c.transport.Resolve(ctx, c.cfg.Destination)
	if err != nil {
		slog.ErrorContext(ctx, "cannot access destination channel, check the ID and that this account is a member",
			"ref", c.cfg.Destination, "error", err)
		return fmt.Errorf("destination: %w", err)
	}
	slog.InfoContext(ctx, "destination channel verified", "title", destination.Title, "id", destination.ID)

	if c.cfg.VerifyPostPermission {
		switch destination.PostPermission {
		case model.PostPermissionDenied:
			slog.WarnContext(ctx, "may not have permission to post in destination channel",
				"destination", destination.String())
		case model.PostPermissionUnknown, "":
			slog.WarnContext(ctx, "could not determine posting permission in destination channel",
				"destination", destination.String())
		case model.PostPermissionAllowed:
		}
	}

	c.mu.Lock()
	c.source = source
	c.destination = destination
	c.mu.Unlock()
	return nil
}

// enqueue is the transport notification handler. It never classifies or
// delivers itself so the transport's update loop is not held up by retries.
func (c *Controller) enqueue(ctx context.Context, item model.ForwardableItem) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.accepting {
		slog.InfoContext(ctx, "relay stopping, ignoring notification", "message_id", item.MessageID)
		return
	}

	select {
	case c.intake <- item:
		return
	default:
	}

	slog.WarnContext(ctx, "intake queue full, waiting for a worker",
		"message_id", item.MessageID,
		"queue_size", cap(c.intake))

	select {
	case c.intake <- item:
	case <-c.stopping:
		slog.InfoContext(ctx, "relay stopping, ignoring notification", "message_id", item.MessageID)
	}
}

func (c *Controller) stopAccepting() {
	c.stopOnce.Do(func() {
		close(c.stopping)
		c.mu.Lock()
		c.accepting = false
		close(c.intake)
		c.mu.Unlock()
	})
}

func (c *Controller) work(ctx context.Context) {
	for item := range c.intake {
		c.handleSafe(ctx, item)
	}
}

func (c *Controller) handleSafe(ctx context.Context, item model.ForwardableItem) {
	defer func() {
		if r := recover(); r != nil {
			snap := c.stats.recordError()
			slog.ErrorContext(ctx, "panic recovered in message handler",
				"panic", r,
				"message_id", item.MessageID,
				"total_errors", snap.Errors)
		}
	}()
	c.handle(ctx, item)
}

func (c *Controller) handle(ctx context.Context, item model.ForwardableItem) {
	ok, label := classifier.Classify(item.Media)
	if !ok {
		slog.DebugContext(ctx, "ignoring message without video",
			"message_id", item.MessageID,
			"media_kind", string(item.Media.Kind))
		return
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		DeliveryID: logger.Ptr(id.New()),
		MessageID:  logger.Ptr(item.MessageID),
		SourceID:   logger.Ptr(item.SourceID),
		MediaKind:  logger.Ptr(label),
	})

	slog.InfoContext(ctx, "new video detected", "source", c.source.String())

	if ctx.Err() != nil {
		snap := c.stats.recordError()
		slog.ErrorContext(ctx, "relay stopping, video abandoned before delivery",
			"total_errors", snap.Errors)
		return
	}

	if c.claimer != nil {
		owned, err := c.claimer.Claim(ctx, item)
		switch {
		case err != nil:
			slog.WarnContext(ctx, "claim check failed, forwarding anyway", "error", err)
		case !owned:
			slog.InfoContext(ctx, "video claimed by another relay instance, skipping")
			return
		}
	}

	res := c.engine.Deliver(ctx, item, c.source, c.destination)
	c.record(ctx, res)
}

func (c *Controller) record(ctx context.Context, res delivery.Result) {
	switch res.Outcome {
	case delivery.Delivered:
		snap := c.stats.recordForwarded()
		slog.InfoContext(ctx, "video delivered",
			"attempts", res.Attempts,
			"destination", c.destination.String(),
			"total_forwarded", snap.Forwarded,
			"total_errors", snap.Errors)

	case delivery.FatalPermission:
		snap := c.stats.recordError()
		slog.ErrorContext(ctx, "no permission to post in destination channel",
			"failure", string(res.LastFailure),
			"attempts", res.Attempts,
			"error", res.Err,
			"total_errors", snap.Errors)

	default:
		snap := c.stats.recordError()
		slog.ErrorContext(ctx, "failed to forward video",
			"outcome", res.Outcome.String(),
			"failure", string(res.LastFailure),
			"attempts", res.Attempts,
			"server_wait", res.ServerWait,
			"interrupted", res.Interrupted,
			"error", res.Err,
			"total_errors", snap.Errors)
	}
}

func (c *Controller) logSummary(ctx context.Context) {
	snap := c.stats.Snapshot()
	slog.InfoContext(ctx, "relay statistics",
		"uptime", snap.Uptime.Round(time.Second).String(),
		"videos_forwarded", snap.Forwarded,
		"errors", snap.Errors)
}

func (c *Controller) closeTransport(ctx context.Context) {
	if err := c.transport.Close(); err != nil {
		slog.WarnContext(ctx, "error closing transport", "error", err)
	}
}
