package broker

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/campusloop/backend/internal/model/tour"
)

var (
	ErrSessionExists   = errors.New("session already exists")
	ErrSessionNotFound = errors.New("session not found")
	ErrAlreadyAttached = errors.New("connection already attached to a session")
)

// Conn is one live bidirectional channel to a client. The websocket handler
// provides the real implementation; tests substitute fakes. Connection
// identity is the interface value itself.
type Conn interface {
	Send(ev tour.Event) error
	Close() error
}

type role int

const (
	roleNone role = iota
	roleAmbassador
	roleMember
)

// client is the registry's view of one connection.
type client struct {
	id          string
	conn        Conn
	principalID string
	tourID      string
	role        role
}

// liveSession is the in-memory authoritative state of one active tour. Its
// mutex serializes every mutation and the persistence write that precedes
// the matching broadcast, so members observe updates in acceptance order.
type liveSession struct {
	mu         sync.Mutex
	tourID     string
	ambassador *client
	members    map[Conn]*client
	ended      bool

	structure tour.Structure
	state     tour.State
}

// memberClients snapshots the current member set for fan-out.
func (s *liveSession) memberClients() []*client {
	out := make([]*client, 0, len(s.members))
	for _, m := range s.members {
		out = append(out, m)
	}
	return out
}

// Registry tracks live connections and groups them by tour. It holds no
// durable state and is constructed fresh per process (and per test).
type Registry struct {
	mu       sync.RWMutex
	clients  map[Conn]*client
	sessions map[string]*liveSession
}

func NewRegistry() *Registry {
	return &Registry{
		clients:  make(map[Conn]*client),
		sessions: make(map[string]*liveSession),
	}
}

// Register assigns the connection an opaque id and starts tracking it.
// Registering an already known connection returns its existing client.
func (r *Registry) Register(conn Conn) *client {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.clients[conn]; ok {
		return c
	}
	c := &client{id: uuid.NewString(), conn: conn}
	r.clients[conn] = c
	return c
}

// Client returns the tracked state for a connection.
func (r *Registry) Client(conn Conn) (*client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[conn]
	return c, ok
}

// Lookup returns the live session for a tour, if any.
func (r *Registry) Lookup(tourID string) (*liveSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[tourID]
	return s, ok
}

// AttachAmbassador reserves the live session for a tour with the connection
// as its single ambassador. A connection holds at most one attachment, so a
// current ambassador or member of any tour cannot reserve another session.
func (r *Registry) AttachAmbassador(tourID string, conn Conn) (*liveSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[tourID]; ok {
		return nil, ErrSessionExists
	}
	c, ok := r.clients[conn]
	if !ok {
		c = &client{id: uuid.NewString(), conn: conn}
		r.clients[conn] = c
	}
	if c.tourID != "" {
		return nil, ErrAlreadyAttached
	}

	s := &liveSession{
		tourID:     tourID,
		ambassador: c,
		members:    make(map[Conn]*client),
	}
	c.tourID = tourID
	c.role = roleAmbassador
	r.sessions[tourID] = s
	return s, nil
}

// AttachMember adds the connection to an existing session's member set.
// Re-joining the same tour is a no-op. The session's own ambassador and
// connections attached to a different tour are rejected, so an attachment
// can never be silently re-homed or a role demoted.
func (r *Registry) AttachMember(tourID string, conn Conn) (*liveSession, error) {
	r.mu.Lock()
	s, ok := r.sessions[tourID]
	if !ok {
		r.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	c, ok := r.clients[conn]
	if !ok {
		c = &client{id: uuid.NewString(), conn: conn}
		r.clients[conn] = c
	}
	if s.ambassador.conn == conn || (c.tourID != "" && c.tourID != tourID) {
		r.mu.Unlock()
		return nil, ErrAlreadyAttached
	}
	r.mu.Unlock()

	// r.mu and s.mu are never held together; s.mu can sit behind a row write.
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return nil, ErrSessionNotFound
	}
	c.tourID = tourID
	c.role = roleMember
	s.members[conn] = c
	return s, nil
}

// Detach removes the connection from whatever session it belongs to and
// stops tracking it. Pure cleanup; safe to call for unknown connections.
func (r *Registry) Detach(conn Conn) {
	r.mu.Lock()
	c, ok := r.clients[conn]
	if !ok {
		r.mu.Unlock()
		return
	}
	s, attached := r.sessions[c.tourID]
	delete(r.clients, conn)
	r.mu.Unlock()

	if attached {
		s.mu.Lock()
		delete(s.members, conn)
		s.mu.Unlock()
	}
}

// RemoveSession drops a tour's session and releases all of its connections.
func (r *Registry) RemoveSession(tourID string) {
	r.mu.Lock()
	s, ok := r.sessions[tourID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, tourID)
	r.mu.Unlock()

	s.mu.Lock()
	s.ended = true
	if s.ambassador != nil {
		s.ambassador.tourID = ""
		s.ambassador.role = roleNone
	}
	for conn, m := range s.members {
		m.tourID = ""
		m.role = roleNone
		delete(s.members, conn)
	}
	s.mu.Unlock()
}
