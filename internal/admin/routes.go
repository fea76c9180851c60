package admin

import (
	"errors"
	"net/http"
	"time"

	"github.com/danmuck/trackrelay/internal/config"
	"github.com/danmuck/trackrelay/internal/protocol/record"
	"github.com/danmuck/trackrelay/internal/relay"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

func (s *Server) RegisterRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.Appeared).String(),
			"service": serviceName,
			"version": "0.0.1",
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/session", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.relay.Status())
	})

	s.router.GET("/topology", func(c *gin.Context) {
		c.JSON(http.StatusOK, topologyBody(s.relay.Topology()))
	})

	s.router.PUT("/topology", s.putTopology)
	s.router.PUT("/settings", s.putSettings)
	s.router.GET("/ws/frames", s.streamFrames)
}

type topologyResponse struct {
	Version    uint64               `json:"version"`
	FrameBytes int                  `json:"frame_bytes"`
	Devices    []config.DeviceEntry `json:"devices"`
}

func topologyBody(topo relay.Topology) topologyResponse {
	return topologyResponse{
		Version:    topo.Version,
		FrameBytes: topo.FrameSize(),
		Devices:    config.EntriesFor(topo.Descriptors),
	}
}

type topologyRequest struct {
	Devices []config.DeviceEntry `json:"devices"`
}

func (s *Server) putTopology(c *gin.Context) {
	var req topologyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	descs := make([]record.DeviceDescriptor, 0, len(req.Devices))
	for _, entry := range req.Devices {
		desc, err := entry.Descriptor()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		descs = append(descs, desc)
	}
	topo, err := s.relay.SetTopology(c.Request.Context(), descs)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	log.Info().Uint64("version", topo.Version).Int("devices", len(topo.Descriptors)).Msg("admin.Server topology replaced")
	c.JSON(http.StatusOK, topologyBody(topo))
}

type distortionSettings struct {
	K1         float64 `json:"k1"`
	K2         float64 `json:"k2"`
	ZoomWidth  float64 `json:"zoom_width"`
	ZoomHeight float64 `json:"zoom_height"`
}

// settingsRequest fields are optional; each one present becomes one manager
// message.
type settingsRequest struct {
	IPD            *float64            `json:"ipd"`
	PoseTimeOffset *float64            `json:"pose_time_offset"`
	Distortion     *distortionSettings `json:"distortion"`
	EyeGap         *uint32             `json:"eye_gap"`
	SelfPose       *[3]float64         `json:"self_pose"`
}

func (r settingsRequest) messages() ([]record.ManagerMessage, error) {
	var out []record.ManagerMessage
	add := func(msg record.ManagerMessage, err error) error {
		if err != nil {
			return err
		}
		out = append(out, msg)
		return nil
	}
	if r.IPD != nil {
		if err := add(record.IPDMessage(*r.IPD)); err != nil {
			return nil, err
		}
	}
	if r.PoseTimeOffset != nil {
		if err := add(record.PoseTimeOffsetMessage(*r.PoseTimeOffset)); err != nil {
			return nil, err
		}
	}
	if d := r.Distortion; d != nil {
		if err := add(record.DistortionMessage(d.K1, d.K2, d.ZoomWidth, d.ZoomHeight)); err != nil {
			return nil, err
		}
	}
	if r.EyeGap != nil {
		out = append(out, record.EyeGapMessage(*r.EyeGap))
	}
	if p := r.SelfPose; p != nil {
		if err := add(record.SelfPoseMessage(p[0], p[1], p[2])); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Server) putSettings(c *gin.Context) {
	var req settingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	msgs, err := req.messages()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(msgs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no settings given"})
		return
	}
	sent := make([]uint32, 0, len(msgs))
	for _, msg := range msgs {
		if err := s.relay.SendManager(c.Request.Context(), msg); err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error(), "sent": sent})
			return
		}
		sent = append(sent, msg.Tag)
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "sent": sent})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, relay.ErrNoSession):
		return http.StatusConflict
	case errors.Is(err, relay.ErrInvalidTopology),
		errors.Is(err, record.ErrUnknownSubtype),
		errors.Is(err, record.ErrUnknownClass),
		errors.Is(err, record.ErrRatioRange):
		return http.StatusBadRequest
	case errors.Is(err, relay.ErrConnectionClosed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
