package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/danmuck/trackrelay/internal/protocol/frame"
	"github.com/rs/zerolog/log"
)

var ErrHandshakeRejected = errors.New("session: handshake rejected")

// Rejection reasons reported by RejectionError.
const (
	ReasonDuplicate  = "duplicate"
	ReasonUnknown    = "unknown_ident"
	ReasonTimeout    = "timeout"
	ReasonReadFailed = "read_failed"
)

// RejectionError carries why a connection pair was refused. It matches
// ErrHandshakeRejected under errors.Is.
type RejectionError struct {
	Reason string
	Idents [2]string
	Err    error
}

func (e *RejectionError) Error() string {
	msg := fmt.Sprintf("%v: %s idents=%q", ErrHandshakeRejected, e.Reason, e.Idents)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RejectionError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrHandshakeRejected}
	}
	return []error{ErrHandshakeRejected, e.Err}
}

// RejectReason extracts the reason from a rejection, or "" for other errors.
func RejectReason(err error) string {
	var rej *RejectionError
	if errors.As(err, &rej) {
		return rej.Reason
	}
	return ""
}

type State int

const (
	StateAwaitingConnA State = iota
	StateAwaitingConnB
	StateAwaitingIDA
	StateAwaitingIDB
	StateResolved
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateAwaitingConnA:
		return "awaiting_conn_a"
	case StateAwaitingConnB:
		return "awaiting_conn_b"
	case StateAwaitingIDA:
		return "awaiting_id_a"
	case StateAwaitingIDB:
		return "awaiting_id_b"
	case StateResolved:
		return "resolved"
	case StateRejected:
		return "rejected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Resolver accepts connection pairs and binds them into sessions by the
// identifier each peer sends first.
type Resolver struct {
	Config Config
	// OnTransition observes every state change.
	OnTransition func(State)
	// OnReject observes every refused pair before Accept resumes.
	OnReject func(error)

	mu    sync.Mutex
	state State
}

func NewResolver(cfg Config) *Resolver {
	return &Resolver{Config: cfg}
}

func (r *Resolver) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Resolver) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
	if r.OnTransition != nil {
		r.OnTransition(s)
	}
}

// Accept blocks until a valid pair resolves. Rejected pairs are closed and
// Accept goes back to waiting for two new connections.
func (r *Resolver) Accept(ctx context.Context, ln net.Listener) (*Session, error) {
	for {
		r.setState(StateAwaitingConnA)
		a, err := ln.Accept()
		if err != nil {
			return nil, acceptErr(ctx, err)
		}
		log.Debug().Str("remote", a.RemoteAddr().String()).Msg("session.Resolver conn a")

		r.setState(StateAwaitingConnB)
		b, err := ln.Accept()
		if err != nil {
			_ = a.Close()
			return nil, acceptErr(ctx, err)
		}
		log.Debug().Str("remote", b.RemoteAddr().String()).Msg("session.Resolver conn b")

		sess, err := r.Resolve(ctx, a, b)
		if err == nil {
			return sess, nil
		}
		if !errors.Is(err, ErrHandshakeRejected) {
			return nil, err
		}
		log.Warn().
			Str("remote_a", a.RemoteAddr().String()).
			Str("remote_b", b.RemoteAddr().String()).
			Str("reason", RejectReason(err)).
			Err(err).
			Msg("session.Resolver pair rejected")
		if r.OnReject != nil {
			r.OnReject(err)
		}
	}
}

func acceptErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

type identResult struct {
	slot  int
	ident string
	err   error
}

// Resolve reads one identifier line from each connection concurrently and
// assigns roles. On any failure both connections are closed.
func (r *Resolver) Resolve(ctx context.Context, a, b net.Conn) (*Session, error) {
	cfg := r.Config
	conns := [2]net.Conn{a, b}
	readers := [2]*frame.Reader{
		frame.NewReader(a, cfg.Limits),
		frame.NewReader(b, cfg.Limits),
	}

	r.setState(StateAwaitingIDA)
	deadline := time.Now().Add(cfg.HandshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	for _, c := range conns {
		_ = c.SetReadDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		for _, c := range conns {
			_ = c.SetReadDeadline(time.Now())
		}
	})
	defer stop()

	results := make(chan identResult, 2)
	for i := range conns {
		go func(slot int) {
			ident, err := readers[slot].ReadIdent(cfg.IdentMaxBytes)
			results <- identResult{slot: slot, ident: ident, err: err}
		}(i)
	}

	var got [2]identResult
	var failed *identResult
	for n := 0; n < 2; n++ {
		res := <-results
		got[res.slot] = res
		if res.err != nil && failed == nil {
			failed = &res
			// Unblock the other read.
			closeBoth(a, b)
		}
		if n == 0 {
			r.setState(StateAwaitingIDB)
		}
	}

	if ctx.Err() != nil {
		closeBoth(a, b)
		r.setState(StateRejected)
		return nil, ctx.Err()
	}

	idents := [2]string{got[0].ident, got[1].ident}
	if rej := classify(failed, got); rej != nil {
		rej.Idents = idents
		closeBoth(a, b)
		r.setState(StateRejected)
		return nil, rej
	}

	for _, c := range conns {
		_ = c.SetReadDeadline(time.Time{})
	}
	var tracking, manager *Channel
	for i, res := range got {
		role, _ := roleForIdent(res.ident)
		ch := NewChannel(role, conns[i], readers[i], cfg.WriteTimeout)
		if role == RoleTracking {
			tracking = ch
		} else {
			manager = ch
		}
	}
	sess := NewSession(tracking, manager)
	r.setState(StateResolved)
	log.Info().
		Str("session", sess.ID.String()).
		Str("tracking", tracking.RemoteAddr()).
		Str("manager", manager.RemoteAddr()).
		Msg("session.Resolver resolved")
	return sess, nil
}

// classify reports the first read failure, else validates the identifier pair.
func classify(failed *identResult, got [2]identResult) *RejectionError {
	if failed != nil {
		var ne net.Error
		if errors.As(failed.err, &ne) && ne.Timeout() {
			return &RejectionError{Reason: ReasonTimeout, Err: failed.err}
		}
		return &RejectionError{Reason: ReasonReadFailed, Err: failed.err}
	}
	roleA, okA := roleForIdent(got[0].ident)
	roleB, okB := roleForIdent(got[1].ident)
	if !okA || !okB {
		return &RejectionError{Reason: ReasonUnknown}
	}
	if roleA == roleB {
		return &RejectionError{Reason: ReasonDuplicate}
	}
	return nil
}

func closeBoth(a, b net.Conn) {
	_ = a.Close()
	_ = b.Close()
}
