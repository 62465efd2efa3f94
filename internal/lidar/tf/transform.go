package tf

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// MatrixValidationTolerance bounds how far a rotation determinant may drift
// from 1 before FromMatrix rejects it.
const MatrixValidationTolerance = 0.01

// Transform is a rigid body transform: p' = Rotation(p) + Translation.
// Rotation is a unit quaternion.
type Transform struct {
	Rotation    r3.Rotation
	Translation r3.Vec
}

// Identity returns the identity transform.
func Identity() Transform {
	return Transform{Rotation: r3.Rotation{Real: 1}}
}

// NewTransform builds a transform from a (not necessarily normalised)
// quaternion and a translation.
func NewTransform(q quat.Number, t r3.Vec) Transform {
	return Transform{Rotation: normalise(q), Translation: t}
}

func normalise(q quat.Number) r3.Rotation {
	n := quat.Abs(q)
	if n == 0 || math.IsNaN(n) {
		return r3.Rotation{Real: 1}
	}
	if n == 1 {
		return r3.Rotation(q)
	}
	return r3.Rotation(quat.Scale(1/n, q))
}

// Apply maps p through the transform.
func (t Transform) Apply(p r3.Vec) r3.Vec {
	return r3.Add(t.Rotation.Rotate(p), t.Translation)
}

// Compose returns t∘u, the transform that applies u first and then t.
// For frames a, b, c: a_T_b.Compose(b_T_c) == a_T_c.
func (t Transform) Compose(u Transform) Transform {
	q := quat.Mul(quat.Number(t.Rotation), quat.Number(u.Rotation))
	return Transform{
		Rotation:    normalise(q),
		Translation: t.Apply(u.Translation),
	}
}

// Inverse returns the transform that undoes t.
func (t Transform) Inverse() Transform {
	inv := r3.Rotation(quat.Conj(quat.Number(t.Rotation)))
	return Transform{
		Rotation:    inv,
		Translation: r3.Scale(-1, inv.Rotate(t.Translation)),
	}
}

// Interpolate blends a towards b by alpha in [0, 1]: translation is lerped
// and rotation follows the shortest great-circle arc.
func Interpolate(a, b Transform, alpha float64) Transform {
	switch {
	case alpha <= 0:
		return a
	case alpha >= 1:
		return b
	}
	qa := quat.Number(a.Rotation)
	delta := quat.Mul(quat.Conj(qa), quat.Number(b.Rotation))
	if delta.Real < 0 {
		delta = quat.Scale(-1, delta)
	}
	q := quat.Mul(qa, quat.PowReal(delta, alpha))
	return Transform{
		Rotation:    normalise(q),
		Translation: r3.Add(a.Translation, r3.Scale(alpha, r3.Sub(b.Translation, a.Translation))),
	}
}

// Matrix returns t as a 4x4 row-major homogeneous matrix.
func (t Transform) Matrix() [16]float64 {
	w, x, y, z := t.Rotation.Real, t.Rotation.Imag, t.Rotation.Jmag, t.Rotation.Kmag
	return [16]float64{
		1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y), t.Translation.X,
		2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x), t.Translation.Y,
		2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y), t.Translation.Z,
		0, 0, 0, 1,
	}
}

// FromMatrix converts a 4x4 row-major homogeneous matrix into a Transform.
// It returns false when m is not a proper rigid transform.
func FromMatrix(m [16]float64) (Transform, bool) {
	if !IsValidTransformMatrix(m) {
		return Transform{}, false
	}
	r00, r01, r02 := m[0], m[1], m[2]
	r10, r11, r12 := m[4], m[5], m[6]
	r20, r21, r22 := m[8], m[9], m[10]

	var q quat.Number
	switch trace := r00 + r11 + r22; {
	case trace > 0:
		s := 0.5 / math.Sqrt(trace+1)
		q = quat.Number{Real: 0.25 / s, Imag: (r21 - r12) * s, Jmag: (r02 - r20) * s, Kmag: (r10 - r01) * s}
	case r00 > r11 && r00 > r22:
		s := 2 * math.Sqrt(1+r00-r11-r22)
		q = quat.Number{Real: (r21 - r12) / s, Imag: 0.25 * s, Jmag: (r01 + r10) / s, Kmag: (r02 + r20) / s}
	case r11 > r22:
		s := 2 * math.Sqrt(1+r11-r00-r22)
		q = quat.Number{Real: (r02 - r20) / s, Imag: (r01 + r10) / s, Jmag: 0.25 * s, Kmag: (r12 + r21) / s}
	default:
		s := 2 * math.Sqrt(1+r22-r00-r11)
		q = quat.Number{Real: (r10 - r01) / s, Imag: (r02 + r20) / s, Jmag: (r12 + r21) / s, Kmag: 0.25 * s}
	}
	return NewTransform(q, r3.Vec{X: m[3], Y: m[7], Z: m[11]}), true
}

// IsValidTransformMatrix reports whether T is a proper rigid transform:
// rotation determinant close to 1 and a homogeneous last row.
func IsValidTransformMatrix(T [16]float64) bool {
	r00, r01, r02 := T[0], T[1], T[2]
	r10, r11, r12 := T[4], T[5], T[6]
	r20, r21, r22 := T[8], T[9], T[10]

	det := r00*(r11*r22-r12*r21) - r01*(r10*r22-r12*r20) + r02*(r10*r21-r11*r20)
	if math.Abs(det-1.0) > MatrixValidationTolerance {
		return false
	}
	if T[12] != 0 || T[13] != 0 || T[14] != 0 || math.Abs(T[15]-1.0) > 0.001 {
		return false
	}
	return true
}

// ApproxEqual reports whether t and u agree within tol on every translation
// component and represent the same rotation within tol.
func (t Transform) ApproxEqual(u Transform, tol float64) bool {
	if r3.Norm(r3.Sub(t.Translation, u.Translation)) > tol {
		return false
	}
	// q and -q are the same rotation.
	dot := t.Rotation.Real*u.Rotation.Real + t.Rotation.Imag*u.Rotation.Imag +
		t.Rotation.Jmag*u.Rotation.Jmag + t.Rotation.Kmag*u.Rotation.Kmag
	return 1-math.Abs(dot) <= tol
}
