package sessions

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNoValidSessionID is returned for a non-initialize request that
	// carries no session id.
	ErrNoValidSessionID = errors.New("Bad Request: no valid session id")
	// ErrSessionNotFound is returned for a session id the registry does not
	// know.
	ErrSessionNotFound = errors.New("Session not found")
)

// NewSession describes a session to create.
type NewSession struct {
	Kind       Kind
	ClientName string
	UserAgent  string
	// Engine builds the protocol engine bound to the new session.
	Engine func() Engine
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.log = l }
}

// WithObserver registers a callback invoked with +1 when a session is
// created and -1 when it is removed.
func WithObserver(fn func(kind Kind, delta int)) Option {
	return func(r *Registry) { r.observe = fn }
}

// WithReplayLimit sets how many events each transport retains for replay.
func WithReplayLimit(n int) Option {
	return func(r *Registry) { r.replay = n }
}

// Registry is the process-wide session table. It is safe for concurrent use;
// lookup and insertion happen under a single lock.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session

	log     *slog.Logger
	observe func(Kind, int)
	replay  int
	now     func() time.Time
	newID   func() string
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		sessions: make(map[string]*Session),
		log:      slog.Default(),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CreateOrReuse returns the session for id. With an empty id and isInit set
// a new session is created. An empty id on a non-initialize request yields
// ErrNoValidSessionID and an unknown id yields ErrSessionNotFound; neither
// creates a session.
func (r *Registry) CreateOrReuse(id string, isInit bool, p NewSession) (*Session, error) {
	if id != "" {
		s, ok := r.Get(id)
		if !ok {
			return nil, ErrSessionNotFound
		}
		return s, nil
	}
	if !isInit {
		return nil, ErrNoValidSessionID
	}
	return r.Create(p), nil
}

// Create always mints a new session. The engine is built before the table
// is locked; id allocation and insertion happen in one critical section.
func (r *Registry) Create(p NewSession) *Session {
	s := &Session{
		kind:       p.Kind,
		engine:     p.Engine(),
		transport:  NewTransport(r.replay),
		createdAt:  r.now(),
		userAgent:  p.UserAgent,
		clientName: p.ClientName,
	}

	r.mu.Lock()
	id := r.newID()
	for _, taken := r.sessions[id]; taken; _, taken = r.sessions[id] {
		id = r.newID()
	}
	s.id = id
	r.sessions[id] = s
	r.mu.Unlock()

	r.created(s)
	return s
}

func (r *Registry) created(s *Session) {
	// Peer-initiated closes and Terminate share this removal path.
	s.transport.OnClose(func() { r.remove(s) })

	if r.observe != nil {
		r.observe(s.kind, 1)
	}
	r.log.Info("session.create.ok",
		slog.String("session_id", s.id),
		slog.String("transport", string(s.kind)),
		slog.String("client", s.ClientName()),
	)
}

// remove deletes s if it is still registered and reports whether it did.
func (r *Registry) remove(s *Session) bool {
	r.mu.Lock()
	cur, ok := r.sessions[s.id]
	if ok && cur == s {
		delete(r.sessions, s.id)
	}
	r.mu.Unlock()

	if !ok || cur != s {
		return false
	}
	if r.observe != nil {
		r.observe(s.kind, -1)
	}
	r.log.Info("session.close",
		slog.String("session_id", s.id),
		slog.String("transport", string(s.kind)),
		slog.Duration("age", r.now().Sub(s.createdAt)),
	)
	return true
}

// Get returns the session for id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Terminate removes the session and closes its transport. It reports false
// when id is unknown.
func (r *Registry) Terminate(id string) bool {
	s, ok := r.Get(id)
	if !ok {
		return false
	}
	removed := r.remove(s)
	s.transport.Close()
	return removed
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Snapshot describes every live session, oldest first.
func (r *Registry) Snapshot() []Info {
	r.mu.Lock()
	list := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		list = append(list, s)
	}
	r.mu.Unlock()

	out := make([]Info, 0, len(list))
	for _, s := range list {
		out = append(out, s.Info())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// EvictIdle closes streamable HTTP sessions that have no attached stream and
// have been inactive for longer than maxIdle. It returns the number closed.
// Legacy SSE sessions are bound to their connection and are never evicted.
func (r *Registry) EvictIdle(maxIdle time.Duration) int {
	cutoff := r.now().Add(-maxIdle)

	r.mu.Lock()
	var idle []*Session
	for _, s := range r.sessions {
		if s.kind == KindStreamableHTTP && s.LastActive().Before(cutoff) && !s.transport.Streaming() {
			idle = append(idle, s)
		}
	}
	r.mu.Unlock()

	for _, s := range idle {
		r.log.Info("session.evict", slog.String("session_id", s.id), slog.Duration("idle", r.now().Sub(s.LastActive())))
		s.transport.Close()
	}
	return len(idle)
}

// CloseAll closes every live session.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	list := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		list = append(list, s)
	}
	r.mu.Unlock()

	for _, s := range list {
		s.transport.Close()
	}
}
