package webui

import (
	"sync"
)

// EventLoop delivers backend events to the observer in order on its own goroutine, so
// observers may call back into the backend and the goroutine that produced an event
// never runs observer code.
type EventLoop struct {
	mu       sync.Mutex
	queue    []func(Observer)
	observer Observer
	stopped  bool

	wake chan struct{}
	done chan struct{}
}

// NewEventLoop starts an event loop
func NewEventLoop() *EventLoop {
	l := &EventLoop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *EventLoop) SetObserver(obs Observer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.observer = obs
}

// Post queues ev; it never blocks. Events posted after Stop are dropped.
func (l *EventLoop) Post(ev func(Observer)) {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, ev)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *EventLoop) run() {
	for {
		select {
		case <-l.done:
			return
		case <-l.wake:
		}

		for {
			l.mu.Lock()
			if l.stopped || len(l.queue) == 0 {
				l.mu.Unlock()
				break
			}
			ev := l.queue[0]
			l.queue = l.queue[1:]
			obs := l.observer
			l.mu.Unlock()

			if obs != nil {
				ev(obs)
			}
		}
	}
}

// Stop drops undelivered events. It is idempotent.
func (l *EventLoop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return
	}
	l.stopped = true
	l.queue = nil
	close(l.done)
}
