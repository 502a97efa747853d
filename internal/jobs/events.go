package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"friday/internal/domain"
)

// ErrStreamEnded is returned by Next after the terminal event was delivered.
var ErrStreamEnded = errors.New("progress stream ended")

// ErrSubscriptionClosed is returned by Next after Close.
var ErrSubscriptionClosed = errors.New("subscription closed")

// Bus fans progress events out to per-job subscribers. Publish never
// blocks: a full subscriber loses its oldest non-terminal event, and the
// terminal event is always delivered.
type Bus struct {
	mu         sync.Mutex
	topics     map[string]*topic
	bufferSize int
	now        func() time.Time
}

type topic struct {
	seq      int64
	subs     map[*Subscription]struct{}
	last     *domain.ProgressEvent
	terminal *domain.ProgressEvent
}

// NewBus creates a bus whose subscribers buffer up to bufferSize events.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Bus{
		topics:     make(map[string]*topic),
		bufferSize: bufferSize,
		now:        time.Now,
	}
}

// Open registers a job so it can be subscribed to.
func (b *Bus) Open(jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.topics[jobID]; !ok {
		b.topics[jobID] = &topic{subs: make(map[*Subscription]struct{})}
	}
}

// Forget drops a retired job. Open subscriptions keep whatever they buffered.
func (b *Bus) Forget(jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.topics, jobID)
}

// Publish assigns sequence and timestamp and delivers ev to every
// subscriber. Events after the terminal one are dropped.
func (b *Bus) Publish(jobID string, ev domain.ProgressEvent) (domain.ProgressEvent, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[jobID]
	if !ok || t.terminal != nil {
		return ev, false
	}
	t.seq++
	ev.Seq = t.seq
	ev.JobID = jobID
	if ev.Timestamp.IsZero() {
		ev.Timestamp = b.now().UTC()
	}

	stored := ev
	if ev.Terminal {
		t.terminal = &stored
	} else {
		t.last = &stored
	}
	for sub := range t.subs {
		sub.push(ev, b.bufferSize)
	}
	return ev, true
}

// Subscribe starts a stream for jobID. A subscriber that arrives after the
// job finished receives the terminal event immediately; one that arrives
// mid-run first receives the latest event.
func (b *Bus) Subscribe(jobID string) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[jobID]
	if !ok {
		return nil, domain.NotFoundf("job %s not found", jobID)
	}
	sub := &Subscription{
		bus:    b,
		jobID:  jobID,
		notify: make(chan struct{}, 1),
	}
	switch {
	case t.terminal != nil:
		sub.push(*t.terminal, b.bufferSize)
	default:
		if t.last != nil {
			sub.push(*t.last, b.bufferSize)
		}
		t.subs[sub] = struct{}{}
	}
	return sub, nil
}

// Subscribers reports how many live subscriptions jobID has.
func (b *Bus) Subscribers(jobID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.topics[jobID]; ok {
		return len(t.subs)
	}
	return 0
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.topics[sub.jobID]; ok {
		delete(t.subs, sub)
	}
}

// Subscription is a lazy, finite sequence of one job's events.
type Subscription struct {
	bus    *Bus
	jobID  string
	notify chan struct{}

	mu      sync.Mutex
	queue   []domain.ProgressEvent
	dropped int
	ended   bool
	closed  bool
}

// JobID returns the job this subscription follows.
func (s *Subscription) JobID() string { return s.jobID }

// Dropped reports how many events were discarded because the reader lagged.
func (s *Subscription) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *Subscription) push(ev domain.ProgressEvent, limit int) {
	s.mu.Lock()
	if s.closed || s.ended {
		s.mu.Unlock()
		return
	}
	if !ev.Terminal && len(s.queue) >= limit {
		// Only the newest slot may hold the terminal event, and it is the
		// last event ever pushed, so the head is always non-terminal here.
		s.queue = append(s.queue[:0], s.queue[1:]...)
		s.dropped++
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Next blocks until an event is available, the stream ended or ctx is done.
func (s *Subscription) Next(ctx context.Context) (domain.ProgressEvent, error) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			ev := s.queue[0]
			s.queue = s.queue[1:]
			if ev.Terminal {
				s.ended = true
				s.queue = nil
			}
			s.mu.Unlock()
			if ev.Terminal {
				s.bus.remove(s)
			}
			return ev, nil
		}
		ended, closed := s.ended, s.closed
		s.mu.Unlock()

		switch {
		case closed:
			return domain.ProgressEvent{}, ErrSubscriptionClosed
		case ended:
			return domain.ProgressEvent{}, ErrStreamEnded
		}

		select {
		case <-ctx.Done():
			return domain.ProgressEvent{}, ctx.Err()
		case <-s.notify:
		}
	}
}

// Events adapts the subscription to a channel that closes after the
// terminal event, on Close or when ctx is done.
func (s *Subscription) Events(ctx context.Context) <-chan domain.ProgressEvent {
	out := make(chan domain.ProgressEvent)
	go func() {
		defer close(out)
		for {
			ev, err := s.Next(ctx)
			if err != nil {
				return
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
			if ev.Terminal {
				return
			}
		}
	}()
	return out
}

// Close detaches the subscription. Pending Next calls return
// ErrSubscriptionClosed.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.queue = nil
	s.mu.Unlock()

	s.bus.remove(s)
	select {
	case s.notify <- struct{}{}:
	default:
	}
}
