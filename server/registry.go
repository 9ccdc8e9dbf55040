package server

import (
	"errors"
	"net"
	"sort"
	"sync"
	"time"

	"ipchat/wire"
)

var (
	ErrAlreadyOnline = errors.New("username already in use")
	ErrServerFull    = errors.New("server is full")
)

// Session is the live binding between an authenticated username and its
// connection. It is exclusively owned by the registry while active.
type Session struct {
	Username string
	Conn     net.Conn

	w            *wire.Writer
	writeTimeout time.Duration
	mu           sync.Mutex // serializes writes from concurrent senders
}

// Send delivers one line to the session's peer. Concurrent senders are
// serialized per session so two deliveries never interleave on the wire.
func (s *Session) Send(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeTimeout > 0 {
		s.Conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	return s.w.WriteLine(line)
}

// Registry is the authoritative table of currently-connected clients. All
// operations take its single lock for their critical section only; the lock
// is never held across a network write.
type Registry struct {
	mu           sync.Mutex
	capacity     int
	writeTimeout time.Duration
	sessions     map[string]*Session
}

func NewRegistry(capacity int, writeTimeout time.Duration) *Registry {
	return &Registry{
		capacity:     capacity,
		writeTimeout: writeTimeout,
		sessions:     make(map[string]*Session),
	}
}

// Register installs a new session for username. Of two concurrent
// registrations for one username exactly one succeeds.
func (r *Registry) Register(username string, conn net.Conn) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[username]; ok {
		return nil, ErrAlreadyOnline
	}
	if len(r.sessions) >= r.capacity {
		return nil, ErrServerFull
	}

	s := &Session{
		Username:     username,
		Conn:         conn,
		w:            wire.NewWriter(conn),
		writeTimeout: r.writeTimeout,
	}
	r.sessions[username] = s
	return s, nil
}

// Unregister removes s and closes its connection. It is idempotent, and it
// removes by identity: a newer session that already reclaimed the username
// is left alone.
func (r *Registry) Unregister(s *Session) {
	if s == nil {
		return
	}
	r.mu.Lock()
	if cur, ok := r.sessions[s.Username]; ok && cur == s {
		delete(r.sessions, s.Username)
	}
	r.mu.Unlock()
	s.Conn.Close()
}

// Lookup returns the live session for username, if online.
func (r *Registry) Lookup(username string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[username]
	return s, ok
}

// Snapshot returns a point-in-time copy of all active sessions, sorted by
// username. Delivery loops iterate the copy so they never hold the registry
// lock while writing to a socket.
func (r *Registry) Snapshot() []*Session {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	sort.Slice(sessions, func(i, j int) bool { return sessions[i].Username < sessions[j].Username })
	return sessions
}

// Count returns the number of active sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
