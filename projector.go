package chessvision

import (
	"math"

	"github.com/corentings/chess/v2"
	"github.com/golang/geo/r2"
)

// Orientation says which way the solved grid relates to the players.
type Orientation int

const (
	// OrientationUnknown means no piece evidence has resolved the grid
	// direction yet; projections assume the conventional orientation.
	OrientationUnknown Orientation = iota
	// OrientationNormal has rank 1 at low ideal-v.
	OrientationNormal
	// OrientationFlipped is rotated 180 degrees from normal.
	OrientationFlipped
)

func (o Orientation) String() string {
	switch o {
	case OrientationNormal:
		return "normal"
	case OrientationFlipped:
		return "flipped"
	default:
		return "unknown"
	}
}

// Projector maps square identities to image coordinates and back for one
// solved mapping and orientation. It holds no mutable state; build a new
// one whenever the mapping or orientation changes.
type Projector struct {
	mapping *BoardMapping
	flip    bool
}

func NewProjector(m *BoardMapping, o Orientation) *Projector {
	return &Projector{mapping: m, flip: o == OrientationFlipped}
}

// orient applies the 180-degree flip in ideal space. It is its own
// inverse, so it serves both directions.
func (p *Projector) orient(pt r2.Point) r2.Point {
	if !p.flip {
		return pt
	}
	return r2.Point{X: 8 - pt.X, Y: 8 - pt.Y}
}

// Center returns the image position of a square's center.
func (p *Projector) Center(sq chess.Square) r2.Point {
	ideal := r2.Point{X: float64(sq.File()) + 0.5, Y: float64(sq.Rank()) + 0.5}
	return p.mapping.Forward.Apply(p.orient(ideal))
}

// Centers returns all 64 square centers, indexed by square.
func (p *Projector) Centers() [64]r2.Point {
	var out [64]r2.Point
	for sq := chess.A1; sq <= chess.H8; sq++ {
		out[sq] = p.Center(sq)
	}
	return out
}

// LatticePoint returns the image position of grid intersection (i, j),
// both in 0..8, honoring the orientation.
func (p *Projector) LatticePoint(i, j int) r2.Point {
	return p.mapping.Forward.Apply(p.orient(r2.Point{X: float64(i), Y: float64(j)}))
}

// Ideal projects an image point into oriented ideal board space.
func (p *Projector) Ideal(img r2.Point) r2.Point {
	return p.orient(p.mapping.Inverse.Apply(img))
}

// Square returns the square containing an image point, or false when the
// point projects outside the board.
func (p *Projector) Square(img r2.Point) (chess.Square, bool) {
	ideal := p.Ideal(img)
	if ideal.X < 0 || ideal.X >= 8 || ideal.Y < 0 || ideal.Y >= 8 {
		return chess.NoSquare, false
	}
	f := chess.File(int(math.Floor(ideal.X)))
	r := chess.Rank(int(math.Floor(ideal.Y)))
	return chess.NewSquare(f, r), true
}

// LocalScale is the on-image size of a square near sq, measured between
// adjacent square centers so it tracks perspective foreshortening.
func (p *Projector) LocalScale(sq chess.Square) float64 {
	f, r := int(sq.File()), int(sq.Rank())
	fn := f + 1
	if fn > 7 {
		fn = f - 1
	}
	rn := r + 1
	if rn > 7 {
		rn = r - 1
	}
	c := p.Center(sq)
	dx := p.Center(chess.NewSquare(chess.File(fn), sq.Rank())).Sub(c).Norm()
	dy := p.Center(chess.NewSquare(sq.File(), chess.Rank(rn))).Sub(c).Norm()
	return (dx + dy) / 2
}
