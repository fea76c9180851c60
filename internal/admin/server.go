// Package admin exposes the relay's HTTP control surface: health, metrics,
// session status, topology changes, settings and a websocket frame tap.
package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/danmuck/trackrelay/internal/observability"
	"github.com/danmuck/trackrelay/internal/protocol/record"
	"github.com/danmuck/trackrelay/internal/relay"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const serviceName = "trackrelay-admin"

// Relay is the part of relay.Service the admin surface drives.
type Relay interface {
	Status() relay.Status
	Topology() relay.Topology
	SetTopology(ctx context.Context, descs []record.DeviceDescriptor) (relay.Topology, error)
	SendManager(ctx context.Context, msg record.ManagerMessage) error
	Subscribe(ctx context.Context) (<-chan relay.Snapshot, func(), error)
}

var _ Relay = (*relay.Service)(nil)

type Server struct {
	Addr     string
	Appeared time.Time

	relay    Relay
	router   *gin.Engine
	upgrader websocket.Upgrader
}

func New(addr string, r Relay, corsOrigins []string) *Server {
	observability.RegisterMetrics()
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(observability.RequestLogger(log.Logger))
	router.Use(observability.RequestMetricsMiddleware(serviceName))
	router.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET", "PUT"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = router.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		Addr:     addr,
		Appeared: time.Now(),
		relay:    r,
		router:   router,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	s.RegisterRoutes()
	return s
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}

func (s *Server) HTTPRouter() *gin.Engine {
	return s.router
}

// Serve listens on Addr until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return err
	}
	return s.ServeListener(ctx, ln)
}

func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	log.Info().Str("addr", ln.Addr().String()).Msg("admin.Server listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
