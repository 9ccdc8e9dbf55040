package server

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"ipchat/directory"
	"ipchat/history"
	"ipchat/wire"
)

type Config struct {
	Port         int
	MaxClients   int
	WriteTimeout time.Duration
}

type Server struct {
	cfg      *Config
	log      *zap.Logger
	dir      *directory.Directory
	store    *history.Store
	registry *Registry
	router   *Router

	mu       sync.Mutex
	listener net.Listener
}

func New(cfg *Config, log *zap.Logger, dir *directory.Directory, store *history.Store) *Server {
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = 100
	}

	registry := NewRegistry(cfg.MaxClients, cfg.WriteTimeout)
	return &Server{
		cfg:      cfg,
		log:      log,
		dir:      dir,
		store:    store,
		registry: registry,
		router:   NewRouter(registry, dir, store, log),
	}
}

// Start accepts connections until the listener closes, one goroutine per
// connection.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", ":"+strconv.Itoa(s.cfg.Port))
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	defer listener.Close()

	s.log.Info("chat server started", zap.Int("port", s.cfg.Port))

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Warn("accept failed", zap.Error(err))
			continue
		}
		go s.handleConnection(conn)
	}
}

// Shutdown closes the listener and disconnects every active session.
func (s *Server) Shutdown() {
	s.mu.Lock()
	if s.listener != nil {
		s.listener.Close()
	}
	s.mu.Unlock()

	for _, sess := range s.registry.Snapshot() {
		sess.Send("[Server] Server is shutting down.")
		s.registry.Unregister(sess)
	}
}

// handleConnection owns one connection's lifecycle: authenticate, register,
// loop reading commands, deregister. The unregister is deferred at
// registration so cleanup runs on every exit path, including read errors.
func (s *Server) handleConnection(conn net.Conn) {
	remote := conn.RemoteAddr().String()
	s.log.Info("client connected", zap.String("remote", remote))

	reader := wire.NewReader(conn)

	sess, err := s.login(conn, reader)
	if err != nil {
		s.log.Info("login rejected", zap.String("remote", remote), zap.Error(err))
		conn.Close()
		return
	}
	defer s.registry.Unregister(sess)

	s.log.Info("user logged in",
		zap.String("user", sess.Username),
		zap.String("remote", remote))
	sess.Send("Login successful")
	s.showMenu(sess)

	for {
		line, err := reader.ReadLine()
		if err != nil {
			if err == io.EOF {
				s.log.Info("client disconnected", zap.String("user", sess.Username))
			} else {
				s.log.Warn("read failed",
					zap.String("user", sess.Username),
					zap.Error(err))
			}
			return
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if s.dispatch(sess, line) {
			s.log.Info("user logged out", zap.String("user", sess.Username))
			return
		}
	}
}

// login reads the credential line and installs the session. Any failure is
// reported to the peer and returned; no session exists afterwards.
func (s *Server) login(conn net.Conn, reader *wire.Reader) (*Session, error) {
	line, err := reader.ReadLine()
	if err != nil {
		return nil, fmt.Errorf("read login: %w", err)
	}

	username, password, ok := strings.Cut(strings.TrimSpace(line), ":")
	if !ok || username == "" || password == "" {
		s.reply(conn, "Login failed: Invalid format")
		return nil, errors.New("malformed login line")
	}

	if len(username) > directory.MaxUsernameLen || !s.dir.Authenticate(username, password) {
		s.reply(conn, "Login failed")
		return nil, fmt.Errorf("bad credentials for %q", username)
	}

	sess, err := s.registry.Register(username, conn)
	if err != nil {
		switch {
		case errors.Is(err, ErrAlreadyOnline):
			s.reply(conn, "Login failed: Username already in use")
		case errors.Is(err, ErrServerFull):
			s.reply(conn, "Login failed: Server is full")
		}
		return nil, fmt.Errorf("register %q: %w", username, err)
	}
	return sess, nil
}

// reply writes one line to a connection that has no session yet.
func (s *Server) reply(conn net.Conn, line string) {
	if s.cfg.WriteTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	}
	if err := wire.NewWriter(conn).WriteLine(line); err != nil {
		s.log.Warn("reply failed", zap.Error(err))
	}
}
