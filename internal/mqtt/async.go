package mqtt

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/sweeney/cvt-actuator/internal/telemetry"
)

// ErrQueueFull is returned when the publish queue cannot take a message.
// The message is dropped.
var ErrQueueFull = errors.New("mqtt: publish queue full")

// ErrClosed is returned after Close.
var ErrClosed = errors.New("mqtt: publisher closed")

type queued struct {
	at    time.Time
	rec   telemetry.Record
	event *SystemEvent
}

// Async hands messages to a goroutine that publishes them through next, so
// callers on the control goroutine never wait on the broker.
type Async struct {
	next  Publisher
	queue chan queued
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewAsync starts the publishing goroutine. depth bounds how many messages
// may wait for it.
func NewAsync(next Publisher, depth int) *Async {
	if depth < 1 {
		depth = 1
	}
	a := &Async{
		next:  next,
		queue: make(chan queued, depth),
		done:  make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) run() {
	defer close(a.done)
	failing := false
	for m := range a.queue {
		var err error
		if m.event != nil {
			err = a.next.PublishSystem(*m.event)
		} else {
			err = a.next.PublishRecord(m.at, m.rec)
		}
		switch {
		case err != nil && !failing:
			log.Printf("mqtt: publish error: %v", err)
			failing = true
		case err == nil && failing:
			log.Printf("mqtt: publish recovered")
			failing = false
		}
	}
}

func (a *Async) enqueue(m queued) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}
	select {
	case a.queue <- m:
		return nil
	default:
		return ErrQueueFull
	}
}

// PublishRecord queues rec without blocking.
func (a *Async) PublishRecord(at time.Time, rec telemetry.Record) error {
	return a.enqueue(queued{at: at, rec: rec})
}

// PublishSystem queues event without blocking.
func (a *Async) PublishSystem(event SystemEvent) error {
	return a.enqueue(queued{event: &event})
}

// Close publishes what is queued, then closes next.
func (a *Async) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	<-a.done
	return a.next.Close()
}
