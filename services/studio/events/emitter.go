// Copyright (C) 2025 Zachary Marion
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Handler receives events synchronously on the emitting goroutine.
// Handlers must be fast; anything slow should hand off to a channel.
type Handler func(Event)

const defaultBufferSize = 256

// Emitter is a typed pub/sub hub with a bounded replay buffer.
//
// # Thread Safety
//
// Safe for concurrent use. Handlers run synchronously on the emitting
// goroutine but outside the emitter's lock, so a handler may subscribe,
// unsubscribe, or emit.
type Emitter struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription
	buffer        []Event
	bufferSize    int
	logger        *slog.Logger
}

type subscription struct {
	handler Handler
	types   map[Type]bool // empty means all types
}

// Option configures an Emitter.
type Option func(*Emitter)

// WithBufferSize sets how many recent events are retained for Replay.
func WithBufferSize(n int) Option {
	return func(e *Emitter) {
		if n > 0 {
			e.bufferSize = n
		}
	}
}

// NewEmitter builds an Emitter. A nil logger falls back to slog.Default.
func NewEmitter(logger *slog.Logger, opts ...Option) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Emitter{
		subscriptions: make(map[string]*subscription),
		bufferSize:    defaultBufferSize,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Subscribe registers a handler and returns its subscription id. With no
// types listed the handler receives every event.
func (e *Emitter) Subscribe(handler Handler, types ...Type) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	sub := &subscription{handler: handler, types: make(map[Type]bool, len(types))}
	for _, t := range types {
		sub.types[t] = true
	}
	id := uuid.NewString()
	e.subscriptions[id] = sub
	return id
}

// Unsubscribe removes a subscription. Unknown ids are ignored.
func (e *Emitter) Unsubscribe(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.subscriptions, id)
}

// Emit publishes an event of the given type.
func (e *Emitter) Emit(t Type, data any) Event {
	ev := Event{
		ID:        uuid.NewString(),
		Type:      t,
		Timestamp: time.Now().UnixMilli(),
		Data:      data,
	}

	type target struct {
		id string
		h  Handler
	}

	e.mu.Lock()
	e.buffer = append(e.buffer, ev)
	if len(e.buffer) > e.bufferSize {
		e.buffer = e.buffer[len(e.buffer)-e.bufferSize:]
	}
	var targets []target
	for id, sub := range e.subscriptions {
		if len(sub.types) > 0 && !sub.types[t] {
			continue
		}
		targets = append(targets, target{id: id, h: sub.handler})
	}
	e.mu.Unlock()

	// Handlers run outside the lock so they may subscribe or emit.
	for _, tg := range targets {
		e.invoke(tg.id, tg.h, ev)
	}
	return ev
}

// invoke shields the emitter from panicking handlers.
func (e *Emitter) invoke(id string, h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("event handler panicked",
				"subscription_id", id,
				"event_type", ev.Type,
				"panic", r)
		}
	}()
	h(ev)
}

// Replay returns the buffered events of the given types, oldest first.
// With no types listed, every buffered event is returned.
func (e *Emitter) Replay(types ...Type) []Event {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if len(types) == 0 {
		return append([]Event(nil), e.buffer...)
	}
	want := make(map[Type]bool, len(types))
	for _, t := range types {
		want[t] = true
	}
	var out []Event
	for _, ev := range e.buffer {
		if want[ev.Type] {
			out = append(out, ev)
		}
	}
	return out
}

// SubscriberCount returns the number of live subscriptions.
func (e *Emitter) SubscriberCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subscriptions)
}
