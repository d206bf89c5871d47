package queue

import (
	"context"
	"sync"
)

// EventName names a job lifecycle event.
type EventName string

const (
	// EventCompleted triggers when a job handler returned without error.
	EventCompleted EventName = "completed"
	// EventRetrying triggers when a failed job is going to be retried.
	// Note: if retry attempts are exhausted, this event won't be triggered.
	EventRetrying EventName = "retrying"
	// EventFailed triggers when a job failed and has no attempts left. The
	// fallback backend never emits it.
	EventFailed EventName = "failed"
	// EventStalled triggers when stalled jobs were recovered by the broker.
	EventStalled EventName = "stalled"
)

// Event is the payload handed to listeners.
type Event struct {
	Name  EventName
	Queue string
	Job   *Job
	Err   error
	// Count is the number of recovered jobs for EventStalled.
	Count int64
}

// Listener receives lifecycle events of a queue.
type Listener func(ctx context.Context, event Event)

// listeners is the event registry shared by both backends. It is safe for
// concurrent use.
type listeners struct {
	rwLock   sync.RWMutex
	registry map[EventName][]Listener
}

func (l *listeners) on(name EventName, listener Listener) {
	l.rwLock.Lock()
	defer l.rwLock.Unlock()

	if l.registry == nil {
		l.registry = make(map[EventName][]Listener)
	}
	l.registry[name] = append(l.registry[name], listener)
}

func (l *listeners) emit(ctx context.Context, event Event) {
	l.rwLock.RLock()
	subscribed := l.registry[event.Name]
	l.rwLock.RUnlock()

	for _, listener := range subscribed {
		listener(ctx, event)
	}
}
