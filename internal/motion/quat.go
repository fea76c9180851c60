package motion

import "math"

type vec3 [3]float64

func (v vec3) f32() [3]float32 {
	return [3]float32{float32(v[0]), float32(v[1]), float32(v[2])}
}

func (v vec3) f32s() []float32 {
	f := v.f32()
	return f[:]
}

// quat is a rotation in w, x, y, z order.
type quat [4]float64

func identity() quat {
	return quat{1, 0, 0, 0}
}

// axisAngle builds a unit quaternion for a rotation of angle radians about
// the unit vector axis.
func axisAngle(axis vec3, angle float64) quat {
	s := math.Sin(angle / 2)
	return quat{math.Cos(angle / 2), axis[0] * s, axis[1] * s, axis[2] * s}
}

func (q quat) mul(r quat) quat {
	return quat{
		q[0]*r[0] - q[1]*r[1] - q[2]*r[2] - q[3]*r[3],
		q[0]*r[1] + q[1]*r[0] + q[2]*r[3] - q[3]*r[2],
		q[0]*r[2] - q[1]*r[3] + q[2]*r[0] + q[3]*r[1],
		q[0]*r[3] + q[1]*r[2] - q[2]*r[1] + q[3]*r[0],
	}
}

func (q quat) norm() float64 {
	return math.Sqrt(q[0]*q[0] + q[1]*q[1] + q[2]*q[2] + q[3]*q[3])
}

func (q quat) f32() [4]float32 {
	return [4]float32{float32(q[0]), float32(q[1]), float32(q[2]), float32(q[3])}
}

func (q quat) normalized() quat {
	n := q.norm()
	if n == 0 {
		return identity()
	}
	return quat{q[0] / n, q[1] / n, q[2] / n, q[3] / n}
}
