package session

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/danmuck/trackrelay/internal/protocol/frame"
	"github.com/google/uuid"
)

// Handshake identifiers, one newline-terminated line per connection.
const (
	IdentTracking = "hello"
	IdentManager  = "monky"
)

type Role int

const (
	RoleTracking Role = iota + 1
	RoleManager
)

func (r Role) String() string {
	switch r {
	case RoleTracking:
		return "tracking"
	case RoleManager:
		return "manager"
	default:
		return "unknown"
	}
}

// Ident returns the handshake line a consumer sends to claim the role.
func (r Role) Ident() string {
	switch r {
	case RoleTracking:
		return IdentTracking
	case RoleManager:
		return IdentManager
	default:
		return ""
	}
}

func roleForIdent(ident string) (Role, bool) {
	switch ident {
	case IdentTracking:
		return RoleTracking, true
	case IdentManager:
		return RoleManager, true
	default:
		return 0, false
	}
}

// Channel is one resolved connection. Reader holds any look-ahead bytes that
// arrived with the identifier line.
type Channel struct {
	Role   Role
	Conn   net.Conn
	Reader *frame.Reader

	writeTimeout time.Duration
	writeMu      sync.Mutex
}

func NewChannel(role Role, conn net.Conn, reader *frame.Reader, writeTimeout time.Duration) *Channel {
	return &Channel{Role: role, Conn: conn, Reader: reader, writeTimeout: writeTimeout}
}

// WriteFrame sends parts as one terminated message, bounded by the
// configured write timeout.
func (c *Channel) WriteFrame(parts ...[]byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.writeTimeout > 0 {
		if err := c.Conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	return frame.Write(c.Conn, parts...)
}

func (c *Channel) RemoteAddr() string {
	if c == nil || c.Conn == nil || c.Conn.RemoteAddr() == nil {
		return ""
	}
	return c.Conn.RemoteAddr().String()
}

// Session binds one tracking channel and one manager channel.
type Session struct {
	ID        uuid.UUID
	Tracking  *Channel
	Manager   *Channel
	CreatedAt time.Time

	closeOnce sync.Once
	done      chan struct{}
	mu        sync.Mutex
	err       error
}

func NewSession(tracking, manager *Channel) *Session {
	return &Session{
		ID:        uuid.New(),
		Tracking:  tracking,
		Manager:   manager,
		CreatedAt: time.Now(),
		done:      make(chan struct{}),
	}
}

// Close closes both connections. Safe to call more than once.
func (s *Session) Close() error {
	return s.CloseWithError(nil)
}

// CloseWithError closes the session and records cause as its terminal error.
// Only the first call has any effect.
func (s *Session) CloseWithError(cause error) error {
	var closeErr error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.err = cause
		s.mu.Unlock()
		closeErr = errors.Join(
			ignoreClosed(s.Tracking.Conn.Close()),
			ignoreClosed(s.Manager.Conn.Close()),
		)
		close(s.done)
	})
	return closeErr
}

func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the cause passed to CloseWithError, or nil.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func ignoreClosed(err error) error {
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
