package chessvision

import (
	"math"
	"testing"

	"github.com/golang/geo/r2"
	"go.viam.com/test"
)

// interiorLattice builds candidates at the 49 interior grid crossings of
// a board whose lattice point (i,j) sits at warp(i,j).
func interiorLattice(warp func(i, j float64) r2.Point, conf float64) []CornerCandidate {
	var out []CornerCandidate
	for i := 1; i <= 7; i++ {
		for j := 1; j <= 7; j++ {
			out = append(out, CornerCandidate{Point: warp(float64(i), float64(j)), Confidence: conf})
		}
	}
	return out
}

func axisGrid(i, j float64) r2.Point {
	return r2.Point{X: 100 + 50*i, Y: 80 + 50*j}
}

var perspectiveTruth = &Homography{m: [9]float64{
	52, 3, 120,
	2.5, 50, 95,
	0.0012, 0.0007, 1,
}}

func perspectiveGrid(i, j float64) r2.Point {
	return perspectiveTruth.Apply(r2.Point{X: i, Y: j})
}

// fracError is how far a value sits from the nearest integer.
func fracError(v float64) float64 {
	return math.Abs(v - math.Round(v))
}

func TestSolveGridPerfect(t *testing.T) {
	cands := interiorLattice(axisGrid, 0.9)

	mapping, err := SolveGrid(cands, DefaultGridConfig())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, mapping.Snapped, test.ShouldEqual, 49)
	test.That(t, mapping.CellScale, test.ShouldAlmostEqual, 50, 0.5)

	// The board center is invariant under the solver's choice of axes.
	center := mapping.Forward.Apply(r2.Point{X: 4, Y: 4})
	test.That(t, center.Sub(axisGrid(4, 4)).Norm(), test.ShouldBeLessThan, 0.5)

	// Every candidate must land on an integer lattice position.
	for _, c := range cands {
		ideal := mapping.Inverse.Apply(c.Point)
		test.That(t, fracError(ideal.X), test.ShouldBeLessThan, 0.02)
		test.That(t, fracError(ideal.Y), test.ShouldBeLessThan, 0.02)
		test.That(t, ideal.X, test.ShouldBeBetween, 0.5, 7.5)
		test.That(t, ideal.Y, test.ShouldBeBetween, 0.5, 7.5)
	}
}

func TestSolveGridPerspective(t *testing.T) {
	cands := interiorLattice(perspectiveGrid, 0.85)

	mapping, err := SolveGrid(cands, DefaultGridConfig())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, mapping.Snapped, test.ShouldEqual, 49)

	center := mapping.Forward.Apply(r2.Point{X: 4, Y: 4})
	test.That(t, center.Sub(perspectiveGrid(4, 4)).Norm(), test.ShouldBeLessThan, 1.0)

	for _, c := range cands {
		ideal := mapping.Inverse.Apply(c.Point)
		test.That(t, fracError(ideal.X), test.ShouldBeLessThan, 0.05)
		test.That(t, fracError(ideal.Y), test.ShouldBeLessThan, 0.05)
	}
}

func TestSolveGridRoundTrip(t *testing.T) {
	cands := interiorLattice(perspectiveGrid, 0.85)

	mapping, err := SolveGrid(cands, DefaultGridConfig())
	test.That(t, err, test.ShouldBeNil)

	var pts []r2.Point
	for i := 0; i <= 8; i++ {
		for j := 0; j <= 8; j++ {
			pts = append(pts, mapping.Forward.Apply(r2.Point{X: float64(i), Y: float64(j)}))
		}
	}
	cfg := DefaultGridConfig()
	test.That(t, roundTripError(mapping.Forward, mapping.Inverse, pts), test.ShouldBeLessThan, cfg.RoundTripTolerance)
}

func TestSolveGridOrderIndependent(t *testing.T) {
	cands := interiorLattice(perspectiveGrid, 0.85)

	first, err := SolveGrid(cands, DefaultGridConfig())
	test.That(t, err, test.ShouldBeNil)

	reversed := make([]CornerCandidate, len(cands))
	for i, c := range cands {
		reversed[len(cands)-1-i] = c
	}
	second, err := SolveGrid(reversed, DefaultGridConfig())
	test.That(t, err, test.ShouldBeNil)

	for i := 0; i <= 8; i++ {
		for j := 0; j <= 8; j++ {
			p := r2.Point{X: float64(i), Y: float64(j)}
			a := first.Forward.Apply(p)
			b := second.Forward.Apply(p)
			test.That(t, a.Sub(b).Norm(), test.ShouldBeLessThan, 1e-6)
		}
	}
}

func TestSolveGridSparse(t *testing.T) {
	// One complete cell plus two aligned neighbors is the least input
	// that still pins down the lattice.
	coords := [][2]float64{{3, 3}, {4, 3}, {3, 4}, {4, 4}, {5, 3}, {3, 5}}
	var cands []CornerCandidate
	for _, ij := range coords {
		cands = append(cands, CornerCandidate{Point: axisGrid(ij[0], ij[1]), Confidence: 0.9})
	}

	mapping, err := SolveGrid(cands, DefaultGridConfig())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, mapping.Snapped, test.ShouldEqual, 6)
	test.That(t, mapping.CellScale, test.ShouldAlmostEqual, 50, 1.0)

	for _, c := range cands {
		ideal := mapping.Inverse.Apply(c.Point)
		test.That(t, fracError(ideal.X), test.ShouldBeLessThan, 0.05)
		test.That(t, fracError(ideal.Y), test.ShouldBeLessThan, 0.05)
	}
}

func TestSolveGridTooFewCandidates(t *testing.T) {
	cands := []CornerCandidate{
		{Point: r2.Point{X: 10, Y: 10}, Confidence: 0.9},
		{Point: r2.Point{X: 60, Y: 12}, Confidence: 0.9},
		{Point: r2.Point{X: 12, Y: 64}, Confidence: 0.9},
	}
	_, err := SolveGrid(cands, DefaultGridConfig())
	test.That(t, err, test.ShouldBeError, ErrNoCornersDetected)
}

func TestSolveGridConfidenceFilter(t *testing.T) {
	// Plenty of candidates, all below the confidence floor.
	cands := interiorLattice(axisGrid, 0.1)
	_, err := SolveGrid(cands, DefaultGridConfig())
	test.That(t, err, test.ShouldBeError, ErrNoCornersDetected)
}

func TestSolveGridBadGeometry(t *testing.T) {
	// A lone convex quad with no lattice support anywhere.
	cands := []CornerCandidate{
		{Point: r2.Point{X: 0, Y: 0}, Confidence: 0.9},
		{Point: r2.Point{X: 100, Y: 10}, Confidence: 0.9},
		{Point: r2.Point{X: 110, Y: 120}, Confidence: 0.9},
		{Point: r2.Point{X: 5, Y: 95}, Confidence: 0.9},
	}
	_, err := SolveGrid(cands, DefaultGridConfig())
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, ErrGridReconstructionFailed.Error())
}

func TestSolveGridRejectsNaN(t *testing.T) {
	cands := []CornerCandidate{
		{Point: r2.Point{X: math.NaN(), Y: 10}, Confidence: 0.9},
		{Point: r2.Point{X: 60, Y: math.Inf(1)}, Confidence: 0.9},
		{Point: r2.Point{X: 12, Y: 64}, Confidence: 0.9},
		{Point: r2.Point{X: 70, Y: 66}, Confidence: 0.9},
	}
	_, err := SolveGrid(cands, DefaultGridConfig())
	test.That(t, err, test.ShouldBeError, ErrNoCornersDetected)
}
