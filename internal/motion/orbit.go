// Package motion generates synthetic device poses for a relay session.
package motion

import (
	"fmt"
	"math"
	"time"

	"github.com/danmuck/trackrelay/internal/config"
	"github.com/danmuck/trackrelay/internal/protocol/record"
)

// handPitch tilts ring devices forward, like a resting grip.
const handPitch = -math.Pi / 8

// Controller input channels after the six velocity channels.
const (
	inputTrigger = 6
	inputGrip    = 7
	inputStickX  = 8
	inputStickY  = 9
)

// Orbit animates a head bobbing in place with controllers circling it.
// Trackers orbit on a wider ring at half speed.
type Orbit struct {
	cfg config.MotionConfig
}

func NewOrbit(cfg config.MotionConfig) *Orbit {
	if cfg.PeriodSeconds <= 0 {
		cfg.PeriodSeconds = config.DefaultMotion().PeriodSeconds
	}
	return &Orbit{cfg: cfg}
}

// Sample returns one record per descriptor for time elapsed.
func (o *Orbit) Sample(descs []record.DeviceDescriptor, elapsed time.Duration) ([]record.Record, error) {
	t := elapsed.Seconds()
	omega := 2 * math.Pi / o.cfg.PeriodSeconds
	head := o.head(t, omega)

	out := make([]record.Record, 0, len(descs))
	var hands, trackers int
	for i, d := range descs {
		kind, err := d.Kind()
		if err != nil {
			return nil, fmt.Errorf("motion: device[%d]: %w", i, err)
		}
		var p pose
		switch d.Class {
		case record.ClassHMD:
			p = head
		case record.ClassTracker:
			p = o.ring(head, t, omega/2, 2*o.cfg.Radius, float64(trackers)*math.Pi/2)
			trackers++
		default:
			p = o.ring(head, t, omega, o.cfg.Radius, float64(hands)*math.Pi)
			hands++
		}
		switch kind {
		case record.KindController:
			out = append(out, p.controller(t, omega))
		default:
			out = append(out, p.pose())
		}
	}
	return out, nil
}

type pose struct {
	pos    vec3
	rot    quat
	vel    vec3
	angVel vec3
}

func (p pose) pose() record.PoseRecord {
	r := record.PoseRecord{Position: p.pos.f32(), Orientation: p.rot.f32()}
	copy(r.Channels[0:3], p.vel.f32s())
	copy(r.Channels[3:6], p.angVel.f32s())
	return r
}

func (p pose) controller(t, omega float64) record.ControllerRecord {
	r := record.ControllerRecord{Position: p.pos.f32(), Orientation: p.rot.f32()}
	copy(r.Channels[0:3], p.vel.f32s())
	copy(r.Channels[3:6], p.angVel.f32s())
	r.Channels[inputTrigger] = float32(0.5 + 0.5*math.Sin(omega*t))
	r.Channels[inputGrip] = float32(0.5 + 0.5*math.Cos(omega*t))
	r.Channels[inputStickX] = float32(math.Sin(omega * t * 0.5))
	r.Channels[inputStickY] = float32(math.Cos(omega * t * 0.5))
	return r
}

func (o *Orbit) head(t, omega float64) pose {
	z := o.cfg.Bob * math.Sin(omega*t)
	return pose{
		pos: vec3{0, o.cfg.HeadHeight, z},
		rot: identity(),
		vel: vec3{0, 0, o.cfg.Bob * omega * math.Cos(omega*t)},
	}
}

// ring places a device on a horizontal circle around the head, facing the
// direction of travel.
func (o *Orbit) ring(head pose, t, omega, radius, phase float64) pose {
	angle := omega*t + phase
	return pose{
		pos: vec3{
			head.pos[0] + radius*math.Cos(angle),
			head.pos[1] - 0.4,
			head.pos[2] + radius*math.Sin(angle),
		},
		rot:    axisAngle(vec3{0, 1, 0}, -angle).mul(axisAngle(vec3{1, 0, 0}, handPitch)).normalized(),
		vel:    vec3{-radius * omega * math.Sin(angle), 0, radius * omega * math.Cos(angle)},
		angVel: vec3{0, -omega, 0},
	}
}
