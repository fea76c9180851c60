package relay

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/danmuck/trackrelay/internal/observability"
	"github.com/danmuck/trackrelay/internal/protocol/record"
	"github.com/danmuck/trackrelay/internal/protocol/session"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Source produces one record per descriptor, in descriptor order, for the
// tick at elapsed time since the session started.
type Source interface {
	Sample(descs []record.DeviceDescriptor, elapsed time.Duration) ([]record.Record, error)
}

type RunnerConfig struct {
	CadenceHz float64
	// Initial is published as soon as the session starts. Empty means the
	// tracking loop idles until SetTopology is called.
	Initial []record.DeviceDescriptor
	Source  Source
	Hub     *Hub
}

func (c RunnerConfig) validate() error {
	if c.CadenceHz <= 0 {
		return fmt.Errorf("%w: cadence_hz must be > 0", ErrInvalidConfig)
	}
	if c.Source == nil {
		return fmt.Errorf("%w: nil source", ErrInvalidConfig)
	}
	return nil
}

// managerRequest is one unit of work for the manager loop: either a new
// topology or a settings message.
type managerRequest struct {
	descs []record.DeviceDescriptor
	msg   *record.ManagerMessage
	reply chan managerResult
}

type managerResult struct {
	topo Topology
	err  error
}

// Runner owns one session: the manager loop publishes topologies, the
// tracking loop streams frames at the configured cadence, and two readers
// watch for peer close.
type Runner struct {
	sess      *session.Session
	cfg       RunnerConfig
	store     *TopologyStore
	publisher *Publisher
	streamer  *Streamer
	requests  chan managerRequest
	done      chan struct{}
	logger    zerolog.Logger
	startedAt time.Time

	repliesOK      atomic.Uint64
	repliesUnknown atomic.Uint64
}

func NewRunner(sess *session.Session, cfg RunnerConfig) *Runner {
	store := &TopologyStore{}
	return &Runner{
		sess:      sess,
		cfg:       cfg,
		store:     store,
		publisher: NewPublisher(sess.Manager, store),
		streamer:  NewStreamer(sess.Tracking, store),
		requests:  make(chan managerRequest),
		done:      make(chan struct{}),
		logger:    log.With().Str("session", sess.ID.String()).Logger(),
	}
}

// Run blocks until the session ends. The first loop error closes the
// session and is returned.
func (r *Runner) Run(ctx context.Context) error {
	defer close(r.done)
	r.startedAt = time.Now()
	if err := r.cfg.validate(); err != nil {
		_ = r.sess.CloseWithError(err)
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.managerLoop(gctx) })
	g.Go(r.managerReader)
	g.Go(func() error { return r.trackingLoop(gctx) })
	g.Go(r.trackingWatcher)
	g.Go(func() error {
		// Blocked reads only return once the connections close.
		<-gctx.Done()
		_ = r.sess.CloseWithError(context.Cause(gctx))
		return nil
	})

	err := g.Wait()
	_ = r.sess.CloseWithError(err)
	r.logger.Info().Err(err).Uint64("frames", r.streamer.Sent()).Msg("relay.Runner session ended")
	return err
}

// SetTopology asks the manager loop to publish descs and waits until the
// new order is installed.
func (r *Runner) SetTopology(ctx context.Context, descs []record.DeviceDescriptor) (Topology, error) {
	res, err := r.submit(ctx, managerRequest{descs: descs})
	if err != nil {
		return Topology{}, err
	}
	return res.topo, res.err
}

// SendManager writes a settings message on the manager channel.
func (r *Runner) SendManager(ctx context.Context, msg record.ManagerMessage) error {
	res, err := r.submit(ctx, managerRequest{msg: &msg})
	if err != nil {
		return err
	}
	return res.err
}

func (r *Runner) submit(ctx context.Context, req managerRequest) (managerResult, error) {
	req.reply = make(chan managerResult, 1)
	select {
	case r.requests <- req:
	case <-r.done:
		return managerResult{}, ErrNoSession
	case <-ctx.Done():
		return managerResult{}, ctx.Err()
	}
	select {
	case res := <-req.reply:
		return res, nil
	case <-r.done:
		return managerResult{}, ErrNoSession
	case <-ctx.Done():
		return managerResult{}, ctx.Err()
	}
}

func (r *Runner) managerLoop(ctx context.Context) error {
	if len(r.cfg.Initial) > 0 {
		if _, err := r.publisher.Publish(r.cfg.Initial); err != nil {
			return err
		}
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-r.requests:
			var res managerResult
			if req.msg != nil {
				res.err = r.publisher.Send(*req.msg)
			} else {
				res.topo, res.err = r.publisher.Publish(req.descs)
			}
			req.reply <- res
			if errors.Is(res.err, ErrConnectionClosed) {
				return res.err
			}
		}
	}
}

func (r *Runner) managerReader() error {
	for {
		msg, err := r.sess.Manager.Reader.ReadFrame()
		if err != nil {
			return connClosed("manager read", err)
		}
		reply, err := record.ParseReply(msg)
		if err != nil {
			observability.RecordManagerReply("invalid")
			r.logger.Warn().Err(err).Msg("relay.Runner manager reply ignored")
			continue
		}
		switch reply {
		case record.ReplyOK:
			r.repliesOK.Add(1)
		case record.ReplyUnknown:
			r.repliesUnknown.Add(1)
			r.logger.Warn().Msg("relay.Runner consumer did not recognise manager message")
		}
		observability.RecordManagerReply(reply.String())
	}
}

func (r *Runner) trackingLoop(ctx context.Context) error {
	period := time.Duration(float64(time.Second) / r.cfg.CadenceHz)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	var seq uint64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			topo, ok := r.store.Current()
			if !ok {
				continue
			}
			elapsed := now.Sub(r.startedAt)
			records, err := r.cfg.Source.Sample(topo.Descriptors, elapsed)
			if err != nil {
				return fmt.Errorf("relay: sample source: %w", err)
			}
			if err := r.streamer.Tick(topo, records); err != nil {
				if errors.Is(err, errStaleTopology) {
					// Topology changed between load and send.
					r.logger.Debug().Err(err).Msg("relay.Runner tick skipped")
					continue
				}
				if errors.Is(err, ErrTopologyMismatch) {
					return fmt.Errorf("relay: source records: %w", err)
				}
				return err
			}
			seq++
			if r.cfg.Hub != nil {
				r.cfg.Hub.Publish(newSnapshot(r.sess.ID.String(), topo, seq, elapsed, records))
			}
		}
	}
}

// trackingWatcher drains the tracking channel so a peer close is noticed
// even when no write is pending.
func (r *Runner) trackingWatcher() error {
	buf := make([]byte, 256)
	for {
		if _, err := r.sess.Tracking.Conn.Read(buf); err != nil {
			return connClosed("tracking read", err)
		}
	}
}

// RunnerStatus is a point-in-time view of one session.
type RunnerStatus struct {
	SessionID       string                    `json:"session_id"`
	TrackingAddr    string                    `json:"tracking_addr"`
	ManagerAddr     string                    `json:"manager_addr"`
	StartedAt       time.Time                 `json:"started_at"`
	TopologyVersion uint64                    `json:"topology_version"`
	Devices         []record.DeviceDescriptor `json:"-"`
	FrameBytes      int                       `json:"frame_bytes"`
	FramesSent      uint64                    `json:"frames_sent"`
	RepliesOK       uint64                    `json:"replies_ok"`
	RepliesUnknown  uint64                    `json:"replies_unknown"`
}

func (r *Runner) Status() RunnerStatus {
	st := RunnerStatus{
		SessionID:      r.sess.ID.String(),
		TrackingAddr:   r.sess.Tracking.RemoteAddr(),
		ManagerAddr:    r.sess.Manager.RemoteAddr(),
		StartedAt:      r.sess.CreatedAt,
		FramesSent:     r.streamer.Sent(),
		RepliesOK:      r.repliesOK.Load(),
		RepliesUnknown: r.repliesUnknown.Load(),
	}
	if topo, ok := r.store.Current(); ok {
		st.TopologyVersion = topo.Version
		st.Devices = topo.Descriptors
		st.FrameBytes = topo.FrameSize()
	}
	return st
}

// Topology returns the installed topology, if any.
func (r *Runner) Topology() (Topology, bool) {
	return r.store.Current()
}
