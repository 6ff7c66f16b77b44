// README: In-process publish/subscribe bus with per-listener failure policy.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"fooddash/internal/errs"
	"fooddash/internal/telemetry"
)

var tracer = otel.Tracer("fooddash/events")

type Policy uint8

const (
	// Fatal listener failures are returned from Publish as saga step errors.
	Fatal Policy = iota
	// BestEffort listener failures are logged and swallowed.
	BestEffort
)

func (p Policy) String() string {
	if p == Fatal {
		return "fatal"
	}
	return "best_effort"
}

type HandlerFunc func(ctx context.Context, e Event) error

type Listener struct {
	Name   string
	Policy Policy
	Handle HandlerFunc
}

// Bus delivers each published event to its listeners. Listeners of one event
// run concurrently; Publish returns after all of them finished.
type Bus struct {
	logger *slog.Logger

	mu        sync.RWMutex
	listeners map[Name][]Listener
	wildcard  []Listener
}

func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		logger:    logger.With("component", "event_bus"),
		listeners: make(map[Name][]Listener),
	}
}

func (b *Bus) Subscribe(name Name, l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners[name] = append(b.listeners[name], l)
}

// SubscribeAll registers a listener for every event name.
func (b *Bus) SubscribeAll(l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.wildcard = append(b.wildcard, l)
}

// On registers a typed handler; the event name comes from E.
func On[E Event](b *Bus, listener string, policy Policy, fn func(ctx context.Context, e E) error) {
	var zero E
	b.Subscribe(zero.EventName(), Listener{
		Name:   listener,
		Policy: policy,
		Handle: func(ctx context.Context, e Event) error {
			typed, ok := e.(E)
			if !ok {
				return fmt.Errorf("listener %s: unexpected event type %T", listener, e)
			}
			return fn(ctx, typed)
		},
	})
}

// Publish runs every listener for e. Cancellation of ctx is not propagated to
// listeners. The first fatal failure is returned as a saga step error.
func (b *Bus) Publish(ctx context.Context, e Event) error {
	ctx = context.WithoutCancel(ctx)

	b.mu.RLock()
	ls := make([]Listener, 0, len(b.listeners[e.EventName()])+len(b.wildcard))
	ls = append(ls, b.listeners[e.EventName()]...)
	ls = append(ls, b.wildcard...)
	b.mu.RUnlock()

	var g errgroup.Group
	for _, l := range ls {
		g.Go(func() error {
			return b.deliver(ctx, l, e)
		})
	}
	return g.Wait()
}

func (b *Bus) deliver(ctx context.Context, l Listener, e Event) (err error) {
	name := string(e.EventName())
	ctx, span := tracer.Start(ctx, name+" "+l.Name,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("event.name", name),
			attribute.String("event.listener", l.Name),
			attribute.String("order.id", string(e.AggregateID())),
		),
	)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err = b.fail(ctx, span, l, e, fmt.Errorf("panic: %v", r))
		}
	}()

	if hErr := l.Handle(ctx, e); hErr != nil {
		return b.fail(ctx, span, l, e, hErr)
	}
	return nil
}

func (b *Bus) fail(ctx context.Context, span trace.Span, l Listener, e Event, cause error) error {
	name := string(e.EventName())
	span.RecordError(cause)
	span.SetStatus(codes.Error, cause.Error())
	telemetry.SagaStepFailed(ctx, name, l.Name)

	attrs := []any{"event", name, "listener", l.Name, "order_id", e.AggregateID(), "error", cause}
	if l.Policy == BestEffort {
		b.logger.WarnContext(ctx, "best-effort listener failed", attrs...)
		return nil
	}
	b.logger.ErrorContext(ctx, "saga step failed", attrs...)
	return errs.SagaStep(name, l.Name, cause)
}
