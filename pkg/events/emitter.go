package events

import (
	"context"
	"sync"

	"github.com/Gobusters/ectologger"

	"github.com/jnarwell/trellis-sub000/pkg/metrics"
	"github.com/jnarwell/trellis-sub000/pkg/models"
	"github.com/jnarwell/trellis-sub000/pkg/tracing"
)

// Handler consumes one event. Handlers run synchronously on the emitting
// goroutine; a failing or panicking handler is logged and never blocks the
// write path or the remaining handlers.
type Handler func(ctx context.Context, event *models.Event) error

// Store persists events. Satisfied by the event repository.
type Store interface {
	SaveMany(ctx context.Context, events []*models.Event) error
}

// EmitOptions tune a single emit call.
type EmitOptions struct {
	// SkipPersist dispatches to handlers without appending to the log.
	SkipPersist bool
	// SkipHandlers appends to the log without dispatching.
	SkipHandlers bool
}

type registration struct {
	eventType models.EventType // empty means all types
	handler   Handler
}

// Emitter is the in-process event bus. Emit appends events to the store and
// then fans them out to subscribed handlers in registration order.
type Emitter struct {
	store  Store
	logger ectologger.Logger

	mu       sync.RWMutex
	handlers []registration
}

// NewEmitter creates an emitter backed by the given store.
func NewEmitter(store Store, logger ectologger.Logger) *Emitter {
	return &Emitter{
		store:  store,
		logger: logger,
	}
}

// Subscribe registers a handler for one event type.
func (e *Emitter) Subscribe(eventType models.EventType, handler Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = append(e.handlers, registration{eventType: eventType, handler: handler})
}

// SubscribeAll registers a handler for every event type.
func (e *Emitter) SubscribeAll(handler Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = append(e.handlers, registration{handler: handler})
}

// Emit persists the events as one batch and dispatches each to matching
// handlers. The returned error covers persistence only.
func (e *Emitter) Emit(ctx context.Context, opts EmitOptions, events ...*models.Event) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.Emit")
	defer span.End()

	if len(events) == 0 {
		return nil
	}

	if !opts.SkipPersist {
		if err := e.store.SaveMany(ctx, events); err != nil {
			return err
		}
		for _, event := range events {
			metrics.EventsEmittedTotal.WithLabelValues(string(event.EventType)).Inc()
		}
	}

	if opts.SkipHandlers {
		return nil
	}

	e.mu.RLock()
	handlers := make([]registration, len(e.handlers))
	copy(handlers, e.handlers)
	e.mu.RUnlock()

	for _, event := range events {
		for _, reg := range handlers {
			if reg.eventType != "" && reg.eventType != event.EventType {
				continue
			}
			e.dispatch(ctx, reg.handler, event)
		}
	}

	return nil
}

func (e *Emitter) dispatch(ctx context.Context, handler Handler, event *models.Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.WithContext(ctx).WithFields(map[string]any{
				"event_id":   event.ID,
				"event_type": event.EventType,
				"panic":      r,
			}).Error("Event handler panicked")
		}
	}()

	if err := handler(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"event_id":   event.ID,
			"event_type": event.EventType,
		}).Error("Event handler failed")
	}
}
