package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/danmuck/trackrelay/internal/config"
	"github.com/danmuck/trackrelay/internal/observability"
	"github.com/danmuck/trackrelay/internal/protocol/record"
	"github.com/danmuck/trackrelay/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

const (
	DefaultListenAddr = ":6969"
	DefaultCadenceHz  = 60
)

type ServiceConfig struct {
	ListenAddr string
	CadenceHz  float64
	Session    session.Config
	Profile    config.Profile
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		ListenAddr: DefaultListenAddr,
		CadenceHz:  DefaultCadenceHz,
		Session:    session.DefaultConfig(),
		Profile:    config.DefaultProfile(),
	}
}

func (c ServiceConfig) Validate() error {
	if strings.TrimSpace(c.ListenAddr) == "" {
		return fmt.Errorf("%w: listen_addr is required", ErrInvalidConfig)
	}
	if c.CadenceHz <= 0 {
		return fmt.Errorf("%w: cadence_hz must be > 0", ErrInvalidConfig)
	}
	if err := c.Session.Validate(); err != nil {
		return err
	}
	return config.ValidateProfile(c.Profile)
}

// Service accepts one consumer at a time and streams to it until either of
// its connections closes, then waits for the next pair.
type Service struct {
	cfg      ServiceConfig
	initial  []record.DeviceDescriptor
	source   Source
	resolver *session.Resolver
	hub      *Hub

	mu       sync.RWMutex
	active   *Runner
	listener string

	sessionsServed atomic.Uint64
}

func NewService(cfg ServiceConfig, source Source) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if source == nil {
		return nil, fmt.Errorf("%w: nil source", ErrInvalidConfig)
	}
	initial, err := cfg.Profile.Descriptors()
	if err != nil {
		return nil, err
	}
	s := &Service{
		cfg:      cfg,
		initial:  initial,
		source:   source,
		resolver: session.NewResolver(cfg.Session),
		hub:      NewHub(),
	}
	s.resolver.OnTransition = func(st session.State) {
		log.Trace().Str("state", st.String()).Msg("relay.Service handshake state")
	}
	s.resolver.OnReject = func(err error) {
		observability.RecordSessionRejected(session.RejectReason(err))
	}
	return s, nil
}

// Run listens on the configured address and serves until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("relay: listen %s: %w", s.cfg.ListenAddr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve runs the accept loop on ln. Cancelling ctx closes the listener and
// the active session; Serve then returns nil.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	// The snapshot hub lives as long as the first Serve.
	go s.hub.Run(ctx)
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	s.mu.Lock()
	s.listener = ln.Addr().String()
	s.mu.Unlock()
	log.Info().Str("addr", ln.Addr().String()).Float64("cadence_hz", s.cfg.CadenceHz).Msg("relay.Service listening")

	for {
		sess, err := s.resolver.Accept(ctx, ln)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		observability.RecordSessionResolved()
		s.sessionsServed.Add(1)

		runner := NewRunner(sess, RunnerConfig{
			CadenceHz: s.cfg.CadenceHz,
			Initial:   s.initial,
			Source:    s.source,
			Hub:       s.hub,
		})
		s.setActive(runner)
		err = runner.Run(ctx)
		s.setActive(nil)

		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, ErrConnectionClosed) {
			log.Info().Str("session", sess.ID.String()).Err(err).Msg("relay.Service consumer disconnected")
			continue
		}
		log.Warn().Str("session", sess.ID.String()).Err(err).Msg("relay.Service session failed")
	}
}

func (s *Service) setActive(r *Runner) {
	s.mu.Lock()
	s.active = r
	s.mu.Unlock()
	observability.SetSessionActive(r != nil)
}

func (s *Service) activeRunner() *Runner {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// SetTopology republishes the device order on the active session.
func (s *Service) SetTopology(ctx context.Context, descs []record.DeviceDescriptor) (Topology, error) {
	r := s.activeRunner()
	if r == nil {
		return Topology{}, ErrNoSession
	}
	return r.SetTopology(ctx, descs)
}

// SendManager writes a settings message on the active session.
func (s *Service) SendManager(ctx context.Context, msg record.ManagerMessage) error {
	r := s.activeRunner()
	if r == nil {
		return ErrNoSession
	}
	return r.SendManager(ctx, msg)
}

// Topology returns the active session's installed topology. When idle it
// returns the profile order with version 0.
func (s *Service) Topology() Topology {
	if r := s.activeRunner(); r != nil {
		if topo, ok := r.Topology(); ok {
			return topo
		}
	}
	return Topology{Descriptors: s.initial}
}

// Subscribe streams snapshots of every frame sent from now on.
func (s *Service) Subscribe(ctx context.Context) (<-chan Snapshot, func(), error) {
	return s.hub.Subscribe(ctx)
}

type Status struct {
	ListenAddr     string        `json:"listen_addr"`
	CadenceHz      float64       `json:"cadence_hz"`
	Profile        string        `json:"profile"`
	SessionsServed uint64        `json:"sessions_served"`
	Active         bool          `json:"active"`
	Session        *RunnerStatus `json:"session,omitempty"`
}

func (s *Service) Status() Status {
	s.mu.RLock()
	addr := s.listener
	s.mu.RUnlock()
	st := Status{
		ListenAddr:     addr,
		CadenceHz:      s.cfg.CadenceHz,
		Profile:        s.cfg.Profile.Name,
		SessionsServed: s.sessionsServed.Load(),
	}
	if r := s.activeRunner(); r != nil {
		rs := r.Status()
		st.Active = true
		st.Session = &rs
	}
	return st
}
