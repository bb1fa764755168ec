package chessvision

import (
	"testing"

	"github.com/corentings/chess/v2"
	"github.com/golang/geo/r2"
	"go.viam.com/test"
)

// pieceAt builds a detection whose box is centered on the ideal-space
// point (x, y) of the given mapping.
func pieceAt(m *BoardMapping, x, y float64, class chess.Piece, conf float64) PieceDetection {
	c := m.Forward.Apply(r2.Point{X: x, Y: y})
	return PieceDetection{
		Box:        [4]float64{c.X - 12, c.Y - 20, c.X + 12, c.Y + 20},
		Class:      class,
		Confidence: conf,
	}
}

func TestResolveOrientationNormal(t *testing.T) {
	m := squareMapping(t)
	pieces := []PieceDetection{
		pieceAt(m, 2.5, 0.5, chess.WhiteRook, 0.9),
		pieceAt(m, 4.5, 1.5, chess.WhitePawn, 0.8),
		pieceAt(m, 3.5, 6.5, chess.BlackPawn, 0.8),
		pieceAt(m, 5.5, 7.5, chess.BlackKing, 0.9),
	}

	o, err := ResolveOrientation(pieces, m, DefaultOrientationConfig())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, o, test.ShouldEqual, OrientationNormal)
}

func TestResolveOrientationFlipped(t *testing.T) {
	m := squareMapping(t)
	pieces := []PieceDetection{
		pieceAt(m, 2.5, 7.5, chess.WhiteRook, 0.9),
		pieceAt(m, 4.5, 6.5, chess.WhitePawn, 0.8),
		pieceAt(m, 3.5, 1.5, chess.BlackPawn, 0.8),
		pieceAt(m, 5.5, 0.5, chess.BlackKing, 0.9),
	}

	o, err := ResolveOrientation(pieces, m, DefaultOrientationConfig())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, o, test.ShouldEqual, OrientationFlipped)
}

func TestResolveOrientationAmbiguous(t *testing.T) {
	m := squareMapping(t)
	// Both colors clustered mid-board, no usable rank gap.
	pieces := []PieceDetection{
		pieceAt(m, 3.5, 3.5, chess.WhiteKing, 0.9),
		pieceAt(m, 4.5, 4.5, chess.BlackKing, 0.9),
	}

	o, err := ResolveOrientation(pieces, m, DefaultOrientationConfig())
	test.That(t, err, test.ShouldBeError, ErrAmbiguousOrientation)
	test.That(t, o, test.ShouldEqual, OrientationUnknown)
}

func TestResolveOrientationNoPieces(t *testing.T) {
	m := squareMapping(t)
	o, err := ResolveOrientation(nil, m, DefaultOrientationConfig())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, o, test.ShouldEqual, OrientationUnknown)
}

func TestResolveOrientationOneColor(t *testing.T) {
	m := squareMapping(t)

	// White alone on its own half still votes.
	white := []PieceDetection{
		pieceAt(m, 3.5, 0.5, chess.WhiteKing, 0.9),
		pieceAt(m, 4.5, 1.5, chess.WhitePawn, 0.9),
	}
	o, err := ResolveOrientation(white, m, DefaultOrientationConfig())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, o, test.ShouldEqual, OrientationNormal)

	// Black near white's usual side reads as flipped.
	black := []PieceDetection{
		pieceAt(m, 3.5, 1.5, chess.BlackKing, 0.9),
	}
	o, err = ResolveOrientation(black, m, DefaultOrientationConfig())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, o, test.ShouldEqual, OrientationFlipped)

	// One color straddling the midline is still ambiguous.
	mid := []PieceDetection{
		pieceAt(m, 3.5, 4.0, chess.WhiteQueen, 0.9),
	}
	o, err = ResolveOrientation(mid, m, DefaultOrientationConfig())
	test.That(t, err, test.ShouldBeError, ErrAmbiguousOrientation)
	test.That(t, o, test.ShouldEqual, OrientationUnknown)
}

func TestResolveOrientationIgnoresOffBoard(t *testing.T) {
	m := squareMapping(t)
	pieces := []PieceDetection{
		pieceAt(m, 3.5, 1.0, chess.WhiteKing, 0.9),
		pieceAt(m, 4.5, 7.0, chess.BlackKing, 0.9),
		// Far outside the board; must not poison the vote.
		pieceAt(m, 30, -20, chess.BlackQueen, 0.95),
	}

	o, err := ResolveOrientation(pieces, m, DefaultOrientationConfig())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, o, test.ShouldEqual, OrientationNormal)
}
