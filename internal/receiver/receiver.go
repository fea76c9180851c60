// Package receiver plays the consuming runtime: it opens both channels,
// identifies them, answers manager messages and decodes pose frames.
package receiver

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/trackrelay/internal/protocol/frame"
	"github.com/danmuck/trackrelay/internal/protocol/record"
	"github.com/danmuck/trackrelay/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

var ErrNoTopology = errors.New("receiver: no topology received")

type Config struct {
	Addr    string
	Session session.Config
	// MaxConnectAttempts bounds dial retries; zero retries until ctx ends.
	MaxConnectAttempts int
	// ReadTimeout bounds each frame read; zero waits forever.
	ReadTimeout time.Duration
}

func DefaultConfig(addr string) Config {
	return Config{
		Addr:               addr,
		Session:            session.DefaultConfig(),
		MaxConnectAttempts: 5,
		ReadTimeout:        5 * time.Second,
	}
}

// Receiver holds an identified tracking/manager connection pair.
type Receiver struct {
	cfg      Config
	tracking net.Conn
	manager  net.Conn
	trackR   *frame.Reader
	manR     *frame.Reader

	mu        sync.RWMutex
	topology  record.TopologyMessage
	frameSize int
	have      bool
}

// Dial connects the tracking channel, then the manager channel, and sends
// each identifier line.
func Dial(ctx context.Context, cfg Config) (*Receiver, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, fmt.Errorf("receiver: addr is required")
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	tracking, err := dialIdent(ctx, cfg, session.RoleTracking, rng)
	if err != nil {
		return nil, err
	}
	manager, err := dialIdent(ctx, cfg, session.RoleManager, rng)
	if err != nil {
		_ = tracking.Close()
		return nil, err
	}
	log.Debug().
		Str("addr", cfg.Addr).
		Str("tracking", tracking.LocalAddr().String()).
		Str("manager", manager.LocalAddr().String()).
		Msg("receiver.Dial connected")
	return &Receiver{
		cfg:      cfg,
		tracking: tracking,
		manager:  manager,
		trackR:   frame.NewReader(tracking, cfg.Session.Limits),
		manR:     frame.NewReader(manager, cfg.Session.Limits),
	}, nil
}

func dialIdent(ctx context.Context, cfg Config, role session.Role, rng *rand.Rand) (net.Conn, error) {
	dialer := net.Dialer{Timeout: cfg.Session.ConnectTimeout}
	for attempt := 1; ; attempt++ {
		conn, err := dialer.DialContext(ctx, "tcp", cfg.Addr)
		if err == nil {
			if _, err := conn.Write([]byte(role.Ident() + "\n")); err != nil {
				_ = conn.Close()
				return nil, fmt.Errorf("receiver: send %s ident: %w", role, err)
			}
			return conn, nil
		}
		if cfg.MaxConnectAttempts > 0 && attempt >= cfg.MaxConnectAttempts {
			return nil, fmt.Errorf("receiver: dial %s after %d attempts: %w", cfg.Addr, attempt, err)
		}
		log.Debug().Err(err).Int("attempt", attempt).Str("role", role.String()).Msg("receiver.Dial retry")
		if err := session.WaitBackoff(ctx, cfg.Session.Backoff, attempt, rng); err != nil {
			return nil, err
		}
	}
}

func (r *Receiver) Close() error {
	return errors.Join(r.tracking.Close(), r.manager.Close())
}

// NextManager reads one manager message and answers it: "2000" for tags
// this receiver understands, "-100" otherwise. A topology message replaces
// the expected frame layout.
func (r *Receiver) NextManager() (record.ManagerMessage, error) {
	r.armRead(r.manager)
	payload, err := r.manR.ReadSized(record.TopologySize)
	if err != nil {
		return record.ManagerMessage{}, err
	}
	msg, err := record.DecodeManager(payload)
	if err != nil {
		return record.ManagerMessage{}, err
	}
	reply := record.ReplyOK
	switch msg.Tag {
	case record.TagTopology:
		topo, err := msg.Topology()
		if err != nil {
			return record.ManagerMessage{}, err
		}
		size, err := record.FrameSize(topo.Descriptors)
		if err != nil {
			return record.ManagerMessage{}, err
		}
		r.mu.Lock()
		r.topology, r.frameSize, r.have = topo, size, true
		r.mu.Unlock()
	case record.TagIPD, record.TagPoseTimeOffset, record.TagDistortion, record.TagEyeGap, record.TagSelfPose:
	default:
		reply = record.ReplyUnknown
	}
	if err := frame.Write(r.manager, reply.Bytes()); err != nil {
		return record.ManagerMessage{}, fmt.Errorf("receiver: reply: %w", err)
	}
	return msg, nil
}

// NextTopology reads manager messages until a topology arrives.
func (r *Receiver) NextTopology() (record.TopologyMessage, error) {
	for {
		msg, err := r.NextManager()
		if err != nil {
			return record.TopologyMessage{}, err
		}
		if msg.Tag == record.TagTopology {
			return msg.Topology()
		}
	}
}

// Topology returns the last topology received.
func (r *Receiver) Topology() (record.TopologyMessage, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.topology, r.have
}

// layout returns the last topology and its frame width from one read.
func (r *Receiver) layout() (record.TopologyMessage, int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.topology, r.frameSize, r.have
}

// NextRawFrame reads one pose frame payload of the width implied by the last
// topology.
func (r *Receiver) NextRawFrame() ([]byte, error) {
	_, payload, err := r.nextFrame()
	return payload, err
}

// NextFrame reads and decodes one pose frame. The width and the descriptors
// come from the same topology even if another one arrives mid-read.
func (r *Receiver) NextFrame() ([]record.Record, error) {
	topo, payload, err := r.nextFrame()
	if err != nil {
		return nil, err
	}
	return record.DecodeFrame(topo.Descriptors, payload)
}

func (r *Receiver) nextFrame() (record.TopologyMessage, []byte, error) {
	topo, size, ok := r.layout()
	if !ok {
		return record.TopologyMessage{}, nil, ErrNoTopology
	}
	r.armRead(r.tracking)
	payload, err := r.trackR.ReadSized(size)
	return topo, payload, err
}

func (r *Receiver) armRead(conn net.Conn) {
	if r.cfg.ReadTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(r.cfg.ReadTimeout))
	}
}
