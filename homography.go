package chessvision

import (
	"fmt"
	"math"

	"github.com/golang/geo/r2"

	"gonum.org/v1/gonum/mat"
)

// Homography is a 3x3 projective transform between two planes, stored
// row-major with the bottom-right entry normalized to 1.
type Homography struct {
	m [9]float64
}

// Apply maps a point through the transform.
func (h *Homography) Apply(p r2.Point) r2.Point {
	x := h.m[0]*p.X + h.m[1]*p.Y + h.m[2]
	y := h.m[3]*p.X + h.m[4]*p.Y + h.m[5]
	w := h.m[6]*p.X + h.m[7]*p.Y + h.m[8]
	if w == 0 {
		return r2.Point{X: math.Inf(1), Y: math.Inf(1)}
	}
	return r2.Point{X: x / w, Y: y / w}
}

// Inverse returns the transform going the other way.
func (h *Homography) Inverse() (*Homography, error) {
	src := mat.NewDense(3, 3, append([]float64(nil), h.m[:]...))
	var inv mat.Dense
	if err := inv.Inverse(src); err != nil {
		return nil, fmt.Errorf("homography not invertible: %w", err)
	}
	out := &Homography{}
	scale := inv.At(2, 2)
	for r := range 3 {
		for c := range 3 {
			v := inv.At(r, c)
			if scale != 0 {
				v /= scale
			}
			out.m[r*3+c] = v
		}
	}
	return out, nil
}

// compose returns the transform applying g first, then h.
func (h *Homography) compose(g *Homography) *Homography {
	out := &Homography{}
	for r := range 3 {
		for c := range 3 {
			sum := 0.0
			for k := range 3 {
				sum += h.m[r*3+k] * g.m[k*3+c]
			}
			out.m[r*3+c] = sum
		}
	}
	if out.m[8] != 0 && out.m[8] != 1 {
		for i := range out.m {
			out.m[i] /= out.m[8]
		}
	}
	return out
}

// fitHomography solves for the transform taking src[i] to dst[i], in a
// least-squares sense when more than 4 pairs are given. The degenerate
// h33=0 family is excluded by fixing h33=1, which is fine for any
// mapping where the origin does not go to infinity.
func fitHomography(src, dst []r2.Point) (*Homography, error) {
	if len(src) != len(dst) {
		return nil, fmt.Errorf("mismatched point counts %d vs %d", len(src), len(dst))
	}
	if len(src) < 4 {
		return nil, fmt.Errorf("need at least 4 point pairs, have %d", len(src))
	}

	n := len(src)
	a := mat.NewDense(2*n, 8, nil)
	b := mat.NewVecDense(2*n, nil)
	for i := range src {
		s, d := src[i], dst[i]
		a.SetRow(2*i, []float64{s.X, s.Y, 1, 0, 0, 0, -s.X * d.X, -s.Y * d.X})
		b.SetVec(2*i, d.X)
		a.SetRow(2*i+1, []float64{0, 0, 0, s.X, s.Y, 1, -s.X * d.Y, -s.Y * d.Y})
		b.SetVec(2*i+1, d.Y)
	}

	var h mat.VecDense
	if err := h.SolveVec(a, b); err != nil {
		return nil, fmt.Errorf("homography fit failed: %w", err)
	}

	out := &Homography{}
	for i := range 8 {
		out.m[i] = h.AtVec(i)
	}
	out.m[8] = 1
	return out, nil
}

// roundTripError is the worst forward(inverse(p)) displacement over pts,
// in the units of pts.
func roundTripError(forward, inverse *Homography, pts []r2.Point) float64 {
	worst := 0.0
	for _, p := range pts {
		back := forward.Apply(inverse.Apply(p))
		if d := back.Sub(p).Norm(); d > worst {
			worst = d
		}
	}
	return worst
}
