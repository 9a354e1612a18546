package sessions

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/docfork/docfork-mcp/internal/jsonrpc"
)

// Kind is the wire transport a session was created on.
type Kind string

const (
	KindStreamableHTTP Kind = "streamable-http"
	KindSSE            Kind = "sse"
)

// Engine handles a single inbound JSON-RPC message. Notifications and client
// responses produce a nil response.
type Engine interface {
	Handle(ctx context.Context, msg *jsonrpc.AnyMessage) *jsonrpc.Response
}

// Session is a live binding of an engine to a transport handle.
type Session struct {
	id        string
	kind      Kind
	engine    Engine
	transport *Transport
	createdAt time.Time
	userAgent string

	mu         sync.RWMutex
	clientName string

	lastActive atomic.Int64
}

func (s *Session) ID() string            { return s.id }
func (s *Session) Kind() Kind            { return s.kind }
func (s *Session) Engine() Engine        { return s.engine }
func (s *Session) Transport() *Transport { return s.transport }
func (s *Session) CreatedAt() time.Time  { return s.createdAt }
func (s *Session) UserAgent() string     { return s.userAgent }

// Touch records activity on the session.
func (s *Session) Touch(now time.Time) { s.lastActive.Store(now.UnixNano()) }

// LastActive returns the time of the most recent Touch, or the creation time.
func (s *Session) LastActive() time.Time {
	if n := s.lastActive.Load(); n != 0 {
		return time.Unix(0, n)
	}
	return s.createdAt
}

// ClientName is the name declared by the client in initialize, if known.
func (s *Session) ClientName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clientName
}

// SetClientName records the client name once it is known. Later calls with
// an empty name are ignored.
func (s *Session) SetClientName(name string) {
	if name == "" {
		return
	}
	s.mu.Lock()
	s.clientName = name
	s.mu.Unlock()
}

// Info is a point-in-time description of a session.
type Info struct {
	ID         string    `json:"id"`
	Transport  Kind      `json:"transport"`
	CreatedAt  time.Time `json:"createdAt"`
	ClientName string    `json:"clientName,omitempty"`
	UserAgent  string    `json:"userAgent,omitempty"`
}

// Info returns a snapshot of the session's metadata.
func (s *Session) Info() Info {
	return Info{
		ID:         s.id,
		Transport:  s.kind,
		CreatedAt:  s.createdAt,
		ClientName: s.ClientName(),
		UserAgent:  s.userAgent,
	}
}
