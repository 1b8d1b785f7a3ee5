package volume

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Affine is a 4x4 homogeneous transform over physical coordinates. It is the
// output of registration and the carrier of augmentation jitter: applying it
// to a point maps fixed (template) space into moving (subject) space.
type Affine struct {
	m *mat.Dense
}

// Identity returns the identity transform.
func Identity() *Affine {
	a := &Affine{m: mat.NewDense(4, 4, nil)}
	for i := 0; i < 4; i++ {
		a.m.Set(i, i, 1)
	}
	return a
}

// NewAffine wraps a row-major 16-element matrix.
func NewAffine(elements []float64) (*Affine, error) {
	if len(elements) != 16 {
		return nil, fmt.Errorf("affine needs 16 elements, got %d", len(elements))
	}
	return &Affine{m: mat.NewDense(4, 4, elements)}, nil
}

// Translation builds a pure translation transform.
func Translation(tx, ty, tz float64) *Affine {
	a := Identity()
	a.m.Set(0, 3, tx)
	a.m.Set(1, 3, ty)
	a.m.Set(2, 3, tz)
	return a
}

// Scaling builds an axis-aligned scaling transform.
func Scaling(sx, sy, sz float64) *Affine {
	a := Identity()
	a.m.Set(0, 0, sx)
	a.m.Set(1, 1, sy)
	a.m.Set(2, 2, sz)
	return a
}

// RotationEuler builds a rotation from Euler angles (radians) applied in
// z, y, x order.
func RotationEuler(rx, ry, rz float64) *Affine {
	cx, sx := math.Cos(rx), math.Sin(rx)
	cy, sy := math.Cos(ry), math.Sin(ry)
	cz, sz := math.Cos(rz), math.Sin(rz)

	rotX := Identity()
	rotX.m.Set(1, 1, cx)
	rotX.m.Set(1, 2, -sx)
	rotX.m.Set(2, 1, sx)
	rotX.m.Set(2, 2, cx)

	rotY := Identity()
	rotY.m.Set(0, 0, cy)
	rotY.m.Set(0, 2, sy)
	rotY.m.Set(2, 0, -sy)
	rotY.m.Set(2, 2, cy)

	rotZ := Identity()
	rotZ.m.Set(0, 0, cz)
	rotZ.m.Set(0, 1, -sz)
	rotZ.m.Set(1, 0, sz)
	rotZ.m.Set(1, 1, cz)

	return rotX.Compose(rotY).Compose(rotZ)
}

// Compose returns a∘b, the transform that applies b first and then a.
func (a *Affine) Compose(b *Affine) *Affine {
	out := &Affine{m: mat.NewDense(4, 4, nil)}
	out.m.Mul(a.m, b.m)
	return out
}

// Inverse returns the inverse transform.
func (a *Affine) Inverse() (*Affine, error) {
	out := &Affine{m: mat.NewDense(4, 4, nil)}
	if err := out.m.Inverse(a.m); err != nil {
		return nil, fmt.Errorf("affine is singular: %w", err)
	}
	return out, nil
}

// Apply maps a physical point through the transform.
func (a *Affine) Apply(x, y, z float64) (float64, float64, float64) {
	return a.m.At(0, 0)*x + a.m.At(0, 1)*y + a.m.At(0, 2)*z + a.m.At(0, 3),
		a.m.At(1, 0)*x + a.m.At(1, 1)*y + a.m.At(1, 2)*z + a.m.At(1, 3),
		a.m.At(2, 0)*x + a.m.At(2, 1)*y + a.m.At(2, 2)*z + a.m.At(2, 3)
}

// Elements returns the row-major 16-element matrix.
func (a *Affine) Elements() []float64 {
	out := make([]float64, 0, 16)
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			out = append(out, a.m.At(r, c))
		}
	}
	return out
}

// CenteredRigid builds a rigid-plus-scale transform about a fixed center
// point: the point is moved to the origin, rotated, scaled, translated, and
// moved back. This is the parameterization used by registration and by the
// augmentation jitter.
func CenteredRigid(center [3]float64, rot, trans [3]float64, scale float64) *Affine {
	toOrigin := Translation(-center[0], -center[1], -center[2])
	back := Translation(center[0]+trans[0], center[1]+trans[1], center[2]+trans[2])
	rotate := RotationEuler(rot[0], rot[1], rot[2])
	scaled := Scaling(scale, scale, scale)
	return back.Compose(scaled).Compose(rotate).Compose(toOrigin)
}
