package motion

import (
	"math"
	"testing"
	"time"

	"github.com/danmuck/trackrelay/internal/config"
	"github.com/danmuck/trackrelay/internal/protocol/record"
	"github.com/danmuck/trackrelay/internal/testutil/testlog"
)

func TestSampleMatchesDescriptorKinds(t *testing.T) {
	testlog.Start(t)
	descs := []record.DeviceDescriptor{
		{Class: record.ClassHMD, Subtype: 13},
		{Class: record.ClassController, Subtype: 22},
		{Class: record.ClassController, Subtype: 22},
		{Class: record.ClassTracker, Subtype: 13},
	}
	o := NewOrbit(config.DefaultMotion())
	recs, err := o.Sample(descs, 1500*time.Millisecond)
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if len(recs) != len(descs) {
		t.Fatalf("records=%d want %d", len(recs), len(descs))
	}
	for i, d := range descs {
		want, _ := d.Kind()
		if recs[i].Kind() != want {
			t.Fatalf("slot %d kind=%s want %s", i, recs[i].Kind(), want)
		}
	}
	head := recs[0].(record.PoseRecord)
	if math.Abs(float64(head.Position[1])-1.7) > 1e-6 {
		t.Fatalf("head height=%v", head.Position[1])
	}
	left := recs[1].(record.ControllerRecord)
	right := recs[2].(record.ControllerRecord)
	if left.Position == right.Position {
		t.Fatalf("controllers overlap at %v", left.Position)
	}
	if trig := left.Channels[inputTrigger]; trig < 0 || trig > 1 {
		t.Fatalf("trigger out of range: %v", trig)
	}
}

func TestSampleOrientationsAreUnit(t *testing.T) {
	testlog.Start(t)
	o := NewOrbit(config.DefaultMotion())
	descs := []record.DeviceDescriptor{{Class: record.ClassController, Subtype: 22}}
	for ms := 0; ms < 4000; ms += 137 {
		recs, err := o.Sample(descs, time.Duration(ms)*time.Millisecond)
		if err != nil {
			t.Fatalf("sample: %v", err)
		}
		q := recs[0].(record.ControllerRecord).Orientation
		n := math.Sqrt(float64(q[0]*q[0] + q[1]*q[1] + q[2]*q[2] + q[3]*q[3]))
		if math.Abs(n-1) > 1e-5 {
			t.Fatalf("t=%dms |q|=%v", ms, n)
		}
	}
}

func TestSampleRejectsUnknownSubtype(t *testing.T) {
	testlog.Start(t)
	_, err := NewOrbit(config.DefaultMotion()).Sample([]record.DeviceDescriptor{{Class: record.ClassHMD, Subtype: 5}}, 0)
	if err == nil {
		t.Fatalf("expected error for unknown subtype")
	}
}

func TestAxisAngleComposes(t *testing.T) {
	testlog.Start(t)
	up := vec3{0, 1, 0}
	q := axisAngle(up, math.Pi/3).mul(axisAngle(up, math.Pi/6))
	want := axisAngle(up, math.Pi/2)
	for i := range q {
		if math.Abs(q[i]-want[i]) > 1e-12 {
			t.Fatalf("component %d = %v want %v", i, q[i], want[i])
		}
	}
	if math.Abs(q.norm()-1) > 1e-12 {
		t.Fatalf("norm=%v", q.norm())
	}
}
