package utils

import (
	"context"
	"sync"
	"sync/atomic"
)

type Event struct {
	Event     string      `json:"event"`
	StreamKey string      `json:"stream_key,omitempty"`
	Data      interface{} `json:"data"`
}

type Handler func(event Event)

type EventBus struct {
	subscribers map[string][]Handler
	wildcard    []Handler
	events      chan Event
	dropped     atomic.Uint64
	mu          sync.RWMutex
}

func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[string][]Handler),
		events:      make(chan Event, 100),
	}
}

// Publish never blocks; events are dropped when the queue is full.
func (eb *EventBus) Publish(event, streamKey string, data interface{}) {
	e := Event{Event: event, StreamKey: streamKey, Data: data}
	select {
	case eb.events <- e:
	default:
		eb.dropped.Add(1)
	}
}

// Subscribe registers handler for event; "*" receives every event.
func (eb *EventBus) Subscribe(event string, handler Handler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if event == "*" {
		eb.wildcard = append(eb.wildcard, handler)
		return
	}
	eb.subscribers[event] = append(eb.subscribers[event], handler)
}

func (eb *EventBus) Dropped() uint64 {
	return eb.dropped.Load()
}

func (eb *EventBus) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-eb.events:
			eb.dispatch(e)
		}
	}
}

func (eb *EventBus) dispatch(e Event) {
	eb.mu.RLock()
	handlers := make([]Handler, 0, len(eb.subscribers[e.Event])+len(eb.wildcard))
	handlers = append(handlers, eb.subscribers[e.Event]...)
	handlers = append(handlers, eb.wildcard...)
	eb.mu.RUnlock()

	for _, h := range handlers {
		h(e)
	}
}
