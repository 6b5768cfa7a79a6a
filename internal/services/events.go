package services

import (
	"sync"
	"time"

	"github.com/soochol/nodeflow/internal/flow"
)

// EventRecord is a workflow event stored in the per-execution buffer.
type EventRecord struct {
	Seq   int        `json:"seq"`
	Event flow.Event `json:"event"`
}

// bufferEntry holds buffered events of one execution, its completion state
// and subscriber notification channels.
type bufferEntry struct {
	mu          sync.Mutex
	events      []EventRecord
	done        bool
	subs        []chan struct{} // closed-and-replaced on each new event
	completedAt time.Time
}

func (e *bufferEntry) snapshot(startSeq int) (events []EventRecord, notify <-chan struct{}, done bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if startSeq < 0 {
		startSeq = 0
	}
	if startSeq < len(e.events) {
		events = make([]EventRecord, len(e.events)-startSeq)
		copy(events, e.events[startSeq:])
	}
	ch := make(chan struct{})
	e.subs = append(e.subs, ch)
	return events, ch, e.done
}

// EventBuffer keeps the events of running and recently finished executions
// so that late subscribers can replay them. Finished buffers are dropped
// after ttl.
type EventBuffer struct {
	mu      sync.RWMutex
	entries map[string]*bufferEntry
	ttl     time.Duration
	stop    chan struct{}
	once    sync.Once
}

// NewEventBuffer creates a buffer and starts its garbage collector.
func NewEventBuffer(ttl time.Duration) *EventBuffer {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	b := &EventBuffer{
		entries: make(map[string]*bufferEntry),
		ttl:     ttl,
		stop:    make(chan struct{}),
	}
	go b.gc()
	return b
}

// Stop terminates the garbage collector.
func (b *EventBuffer) Stop() {
	b.once.Do(func() { close(b.stop) })
}

// Register starts a buffer for executionID.
func (b *EventBuffer) Register(executionID string) {
	b.mu.Lock()
	if _, ok := b.entries[executionID]; !ok {
		b.entries[executionID] = &bufferEntry{}
	}
	b.mu.Unlock()
}

// Append buffers ev and wakes subscribers. Events for unknown executions
// are dropped.
func (b *EventBuffer) Append(executionID string, ev flow.Event) {
	b.mu.RLock()
	entry, ok := b.entries[executionID]
	b.mu.RUnlock()
	if !ok {
		return
	}

	entry.mu.Lock()
	entry.events = append(entry.events, EventRecord{Seq: len(entry.events), Event: ev})
	subs := entry.subs
	entry.subs = nil
	entry.mu.Unlock()

	for _, ch := range subs {
		close(ch)
	}
}

// Complete marks the execution as finished and wakes subscribers.
func (b *EventBuffer) Complete(executionID string) {
	b.mu.RLock()
	entry, ok := b.entries[executionID]
	b.mu.RUnlock()
	if !ok {
		return
	}

	entry.mu.Lock()
	entry.done = true
	entry.completedAt = time.Now()
	subs := entry.subs
	entry.subs = nil
	entry.mu.Unlock()

	for _, ch := range subs {
		close(ch)
	}
}

// Subscribe returns the buffered events from startSeq on, a channel closed
// when more arrive, and whether the execution has finished. found is false
// for unknown executions.
func (b *EventBuffer) Subscribe(executionID string, startSeq int) (events []EventRecord, notify <-chan struct{}, done, found bool) {
	b.mu.RLock()
	entry, ok := b.entries[executionID]
	b.mu.RUnlock()
	if !ok {
		return nil, nil, false, false
	}
	events, notify, done = entry.snapshot(startSeq)
	return events, notify, done, true
}

func (b *EventBuffer) gc() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			b.collectExpired(time.Now())
		}
	}
}

func (b *EventBuffer) collectExpired(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, entry := range b.entries {
		entry.mu.Lock()
		expired := entry.done && now.Sub(entry.completedAt) > b.ttl
		entry.mu.Unlock()
		if expired {
			delete(b.entries, id)
		}
	}
}
