// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 IOTech Ltd
//
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"sync"
	"time"
)

// Event is the envelope every publication carries: a code, a
// monotonic id, and a publication timestamp.
type Event struct {
	Code      string
	ID        uint64
	Timestamp time.Time
	Payload   interface{}
}

// Subscriber receives events on a buffered channel. A slow subscriber
// that fills its buffer has events dropped for it rather than
// blocking the producer: delivery is in order per publisher, but a
// subscriber that falls behind is not guaranteed to see every event.
type Subscriber struct {
	ch chan Event
}

func (s *Subscriber) Events() <-chan Event { return s.ch }

// Producer is the single-producer, many-subscriber broadcaster.
// Encode-and-broadcast is serialized under one mutex so
// event ordering within a publisher is deterministic.
type Producer struct {
	mu          sync.Mutex
	nextID      uint64
	subscribers map[*Subscriber]struct{}
	now         func() time.Time
}

func NewProducer() *Producer {
	return &Producer{
		subscribers: make(map[*Subscriber]struct{}),
		now:         time.Now,
	}
}

// Subscribe registers a new subscriber with the given channel buffer
// size.
func (p *Producer) Subscribe(buffer int) *Subscriber {
	if buffer < 1 {
		buffer = 1
	}
	sub := &Subscriber{ch: make(chan Event, buffer)}
	p.mu.Lock()
	p.subscribers[sub] = struct{}{}
	p.mu.Unlock()
	return sub
}

func (p *Producer) Unsubscribe(sub *Subscriber) {
	p.mu.Lock()
	if _, ok := p.subscribers[sub]; ok {
		delete(p.subscribers, sub)
		close(sub.ch)
	}
	p.mu.Unlock()
}

// Publish encodes code/payload into an Event with the next monotonic
// id and the current wall-clock timestamp, then broadcasts it to
// every subscriber without blocking on any one of them.
func (p *Producer) Publish(code string, payload interface{}) Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.nextID++
	ev := Event{Code: code, ID: p.nextID, Timestamp: p.now(), Payload: payload}

	for sub := range p.subscribers {
		select {
		case sub.ch <- ev:
		default:
			// Subscriber's buffer is full; drop rather than block the
			// publisher, preserving the producer's own ordering
			// guarantee.
		}
	}
	return ev
}
