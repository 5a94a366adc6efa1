package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"vidrelay.app/relay/common/logger"
	"vidrelay.app/relay/internal/model"
	"vidrelay.app/relay/internal/transport"
)

// Server-specified waits below this are rounded up so a zero wait cannot spin.
const minServerWait = time.Second

// Forwarder is the transport primitive the engine drives.
type Forwarder interface {
	Forward(ctx context.Context, item model.ForwardableItem, source, destination model.Channel) error
}

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration

	// ServerWaitsConsumeAttempts charges rate-limit and slow-mode failures
	// against MaxAttempts. When false only MaxServerWait bounds them.
	ServerWaitsConsumeAttempts bool

	// MaxServerWait caps the cumulative server-imposed wait per item. Zero disables the cap.
	MaxServerWait time.Duration

	// RequestTimeout bounds a single forward call. Zero means no timeout.
	RequestTimeout time.Duration

	// RatePerMinute paces forward calls across all items. Zero disables pacing.
	RatePerMinute int
}

// Engine delivers one item at a time with failure-specific retry policy.
// It keeps no per-item state between calls, so one Engine can serve
// concurrent Deliver calls.
type Engine struct {
	forwarder Forwarder
	cfg       Config
	limiter   *rate.Limiter
	sleep     SleepFunc
}

type Option func(*Engine)

// WithSleep replaces the timer-based sleep, mainly for tests.
func WithSleep(fn SleepFunc) Option {
	return func(e *Engine) {
		e.sleep = fn
	}
}

func New(forwarder Forwarder, cfg Config, opts ...Option) *Engine {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	e := &Engine{
		forwarder: forwarder,
		cfg:       cfg,
		sleep:     sleepContext,
	}
	if cfg.RatePerMinute > 0 {
		e.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RatePerMinute)), 1)
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Deliver forwards item to destination, retrying per the failure taxonomy:
//   - rate limit / slow mode: sleep the server-specified wait, then retry
//   - write forbidden / user banned: FatalPermission, no retry
//   - media empty: Abandoned, no retry
//   - protocol and unknown failures: exponential backoff, BaseDelay * 2^(n-1)
//
// Cancelling ctx interrupts waits only; a forward call already in flight runs
// to completion (bounded by RequestTimeout).
func (e *Engine) Deliver(ctx context.Context, item model.ForwardableItem, source, destination model.Channel) Result {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "relay.delivery.engine"})

	sc := logger.StartSpan(ctx, "delivery.deliver",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.Int64("relay.source_id", item.SourceID),
			attribute.Int("relay.message_id", item.MessageID),
			attribute.String("relay.destination", destination.String()),
		))
	defer sc.End()
	ctx = sc.Context()

	res := e.run(ctx, item, source, destination)

	sc.SetAttributes(
		attribute.String("relay.outcome", res.Outcome.String()),
		attribute.Int("relay.attempts", res.Attempts),
	)
	if res.Outcome != Delivered {
		sc.RecordError(res.Err)
	}
	return res
}

func (e *Engine) run(ctx context.Context, item model.ForwardableItem, source, destination model.Channel) Result {
	var (
		charged    int
		serverWait time.Duration
	)

	for attempt := 1; ; attempt++ {
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return Result{
					Outcome:     Abandoned,
					Attempts:    attempt - 1,
					Err:         fmt.Errorf("waiting for send slot: %w", err),
					ServerWait:  serverWait,
					Interrupted: true,
				}
			}
		}

		err := e.forward(ctx, item, source, destination)
		if err == nil {
			return Result{Outcome: Delivered, Attempts: attempt, ServerWait: serverWait}
		}

		kind, wait := transport.KindOf(err)
		res := Result{Attempts: attempt, LastFailure: kind, Err: err, ServerWait: serverWait}

		switch kind {
		case transport.FailureWriteForbidden, transport.FailureUserBanned:
			res.Outcome = FatalPermission
			return res

		case transport.FailureMediaEmpty:
			res.Outcome = Abandoned
			return res

		case transport.FailureRateLimit, transport.FailureSlowMode:
			if e.cfg.ServerWaitsConsumeAttempts {
				charged++
				if charged >= e.cfg.MaxAttempts {
					res.Outcome = Abandoned
					return res
				}
			}

			wait = max(wait, minServerWait)
			if e.cfg.MaxServerWait > 0 && serverWait+wait > e.cfg.MaxServerWait {
				slog.WarnContext(ctx, "server wait exceeds cap, giving up",
					"failure", kind,
					"wait", wait,
					"waited", serverWait,
					"cap", e.cfg.MaxServerWait,
					"attempt", attempt)
				res.Outcome = Abandoned
				return res
			}

			slog.WarnContext(ctx, "destination asked to wait before retrying",
				"failure", kind,
				"wait", wait,
				"attempt", attempt,
				"max_attempts", e.cfg.MaxAttempts)

			if err := e.sleep(ctx, wait); err != nil {
				res.Outcome = Abandoned
				res.Interrupted = true
				return res
			}
			serverWait += wait

		default:
			if kind == transport.FailureUnknown {
				slog.ErrorContext(ctx, "unexpected error during forwarding",
					"error", err,
					"error_type", fmt.Sprintf("%T", err),
					"attempt", attempt)
			} else {
				slog.WarnContext(ctx, "forward failed",
					"failure", kind,
					"error", err,
					"attempt", attempt)
			}

			charged++
			if charged >= e.cfg.MaxAttempts {
				res.Outcome = Abandoned
				return res
			}

			delay := e.backoff(charged)
			slog.InfoContext(ctx, "retrying after backoff",
				"delay", delay,
				"attempt", attempt,
				"max_attempts", e.cfg.MaxAttempts)

			if err := e.sleep(ctx, delay); err != nil {
				res.Outcome = Abandoned
				res.Interrupted = true
				return res
			}
		}
	}
}

func (e *Engine) forward(ctx context.Context, item model.ForwardableItem, source, destination model.Channel) error {
	// An attempt that has started is allowed to finish during shutdown.
	callCtx := context.WithoutCancel(ctx)
	if e.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(callCtx, e.cfg.RequestTimeout)
		defer cancel()
	}
	return e.forwarder.Forward(callCtx, item, source, destination)
}

// backoff returns BaseDelay * 2^(n-1) for the n-th charged failure.
func (e *Engine) backoff(n int) time.Duration {
	shift := n - 1
	if shift > 30 {
		shift = 30
	}
	d := e.cfg.BaseDelay * time.Duration(1<<shift)
	if d < 0 || d > math.MaxInt64/2 {
		return math.MaxInt64 / 2
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
