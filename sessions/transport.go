package sessions

import (
	"context"
	"errors"
	"strconv"
	"sync"
)

// DefaultReplayLimit bounds the number of events kept for resumption.
const DefaultReplayLimit = 256

var (
	// ErrTransportClosed is returned when sending on or reading from a closed
	// transport.
	ErrTransportClosed = errors.New("transport closed")
	// ErrStreamActive is returned when a second stream is opened on a
	// transport that already has a live reader.
	ErrStreamActive = errors.New("stream already active for session")
)

// Event is one outbound message queued on a transport.
type Event struct {
	ID   string
	Data []byte

	seq int64
}

// Transport is the outbound half of a session: a queue of events with
// increasing ids, a single reader at a time and an idempotent close.
type Transport struct {
	mu       sync.Mutex
	seq      int64
	events   []Event
	limit    int
	notify   chan struct{}
	reading  bool
	closed   bool
	onClose  []func()
	done     chan struct{}
	closeOne sync.Once
}

// NewTransport returns an open transport retaining up to limit events for
// replay. A non-positive limit selects DefaultReplayLimit.
func NewTransport(limit int) *Transport {
	if limit <= 0 {
		limit = DefaultReplayLimit
	}
	return &Transport{
		limit:  limit,
		notify: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Send queues data and returns the assigned event id.
func (t *Transport) Send(data []byte) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return "", ErrTransportClosed
	}
	t.seq++
	ev := Event{ID: strconv.FormatInt(t.seq, 10), Data: append([]byte(nil), data...), seq: t.seq}
	t.events = append(t.events, ev)
	if over := len(t.events) - t.limit; over > 0 {
		t.events = append(t.events[:0:0], t.events[over:]...)
	}
	close(t.notify)
	t.notify = make(chan struct{})
	return ev.ID, nil
}

// Subscribe opens the single reader. Delivery starts after lastEventID when
// it names a retained event, otherwise with the next event sent.
func (t *Transport) Subscribe(lastEventID string) (*Stream, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrTransportClosed
	}
	if t.reading {
		return nil, ErrStreamActive
	}
	cursor := t.seq
	if lastEventID != "" {
		if n, err := strconv.ParseInt(lastEventID, 10, 64); err == nil && n >= 0 && n <= t.seq {
			cursor = n
		}
	}
	t.reading = true
	return &Stream{t: t, cursor: cursor}, nil
}

// OnClose registers fn to run once when the transport closes. If the
// transport is already closed fn runs immediately.
func (t *Transport) OnClose(fn func()) {
	t.mu.Lock()
	if !t.closed {
		t.onClose = append(t.onClose, fn)
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()
	fn()
}

// Close closes the transport and runs the close callbacks. It is safe to call
// any number of times from any goroutine.
func (t *Transport) Close() {
	t.closeOne.Do(func() {
		t.mu.Lock()
		t.closed = true
		cbs := t.onClose
		t.onClose = nil
		close(t.done)
		t.mu.Unlock()

		for _, fn := range cbs {
			fn()
		}
	})
}

// Streaming reports whether a reader is currently attached.
func (t *Transport) Streaming() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reading
}

// Done is closed when the transport closes.
func (t *Transport) Done() <-chan struct{} { return t.done }

// Closed reports whether Close has been called.
func (t *Transport) Closed() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Stream reads events from a transport in order.
type Stream struct {
	t      *Transport
	cursor int64
	once   sync.Once
}

// Next blocks until the next event is available. Events queued before close
// are still delivered; after that Next returns ErrTransportClosed.
func (s *Stream) Next(ctx context.Context) (Event, error) {
	for {
		s.t.mu.Lock()
		if ev, ok := s.t.afterLocked(s.cursor); ok {
			s.cursor = ev.seq
			s.t.mu.Unlock()
			return ev, nil
		}
		if s.t.closed {
			s.t.mu.Unlock()
			return Event{}, ErrTransportClosed
		}
		wait := s.t.notify
		s.t.mu.Unlock()

		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-wait:
		case <-s.t.done:
		}
	}
}

// Close releases the reader slot so a later Subscribe may succeed.
func (s *Stream) Close() {
	s.once.Do(func() {
		s.t.mu.Lock()
		s.t.reading = false
		s.t.mu.Unlock()
	})
}

func (t *Transport) afterLocked(cursor int64) (Event, bool) {
	if len(t.events) == 0 {
		return Event{}, false
	}
	idx := int(cursor - t.events[0].seq + 1)
	if idx < 0 {
		idx = 0
	}
	if idx >= len(t.events) {
		return Event{}, false
	}
	return t.events[idx], true
}
