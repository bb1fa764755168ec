package chessvision

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/corentings/chess/v2"
	"github.com/golang/geo/r2"
)

// PieceDetection is one detected piece for a frame: a bounding box in
// image pixels, the piece class, and the detector's confidence.
type PieceDetection struct {
	// Box is (x1, y1, x2, y2) with x1 < x2 and y1 < y2.
	Box        [4]float64
	Class      chess.Piece
	Confidence float64
}

func (d PieceDetection) Center() r2.Point {
	return pieceCenter(d.Box)
}

func (d PieceDetection) valid() bool {
	return d.Box[0] < d.Box[2] && d.Box[1] < d.Box[3] &&
		d.Confidence >= 0 && d.Confidence <= 1 && d.Class != chess.NoPiece
}

var whitePieces = map[string]chess.Piece{
	"king": chess.WhiteKing, "queen": chess.WhiteQueen, "rook": chess.WhiteRook,
	"bishop": chess.WhiteBishop, "knight": chess.WhiteKnight, "pawn": chess.WhitePawn,
	"k": chess.WhiteKing, "q": chess.WhiteQueen, "r": chess.WhiteRook,
	"b": chess.WhiteBishop, "n": chess.WhiteKnight, "p": chess.WhitePawn,
}

var blackPieces = map[string]chess.Piece{
	"king": chess.BlackKing, "queen": chess.BlackQueen, "rook": chess.BlackRook,
	"bishop": chess.BlackBishop, "knight": chess.BlackKnight, "pawn": chess.BlackPawn,
	"k": chess.BlackKing, "q": chess.BlackQueen, "r": chess.BlackRook,
	"b": chess.BlackBishop, "n": chess.BlackKnight, "p": chess.BlackPawn,
}

// ParsePieceLabel turns a detector class label into a piece. Accepted
// forms: "white-king", "black_queen", "wB", and single FEN letters.
func ParsePieceLabel(label string) (chess.Piece, error) {
	norm := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(label), "_", "-"))

	if len(label) == 1 {
		table := blackPieces
		if strings.ToUpper(label) == label {
			table = whitePieces
		}
		if p, ok := table[norm]; ok {
			return p, nil
		}
		return chess.NoPiece, fmt.Errorf("unknown piece label %q", label)
	}

	var table map[string]chess.Piece
	var rest string
	switch {
	case strings.HasPrefix(norm, "white-"):
		table, rest = whitePieces, strings.TrimPrefix(norm, "white-")
	case strings.HasPrefix(norm, "black-"):
		table, rest = blackPieces, strings.TrimPrefix(norm, "black-")
	case strings.HasPrefix(norm, "w"):
		table, rest = whitePieces, norm[1:]
	case strings.HasPrefix(norm, "b") && norm != "bishop":
		table, rest = blackPieces, norm[1:]
	default:
		return chess.NoPiece, fmt.Errorf("piece label %q has no color", label)
	}

	if p, ok := table[rest]; ok {
		return p, nil
	}
	return chess.NoPiece, fmt.Errorf("unknown piece label %q", label)
}

var pieceTypeNames = map[chess.PieceType]string{
	chess.King: "king", chess.Queen: "queen", chess.Rook: "rook",
	chess.Bishop: "bishop", chess.Knight: "knight", chess.Pawn: "pawn",
}

// PieceLabel is the inverse of ParsePieceLabel's canonical form.
func PieceLabel(p chess.Piece) string {
	color := "white"
	if p.Color() == chess.Black {
		color = "black"
	}
	return color + "-" + pieceTypeNames[p.Type()]
}

// SquareAssignment binds one detection to one square for one frame.
type SquareAssignment struct {
	Square    chess.Square
	Detection PieceDetection
	// Distance is from the box center to the square center, in pixels.
	Distance float64
}

// AssignConfig holds the assignment gate.
type AssignConfig struct {
	// MaxDistanceFrac gates assignments at this fraction of the local
	// on-image square size, so the threshold follows foreshortening.
	MaxDistanceFrac float64
}

func DefaultAssignConfig() AssignConfig {
	return AssignConfig{MaxDistanceFrac: 0.45}
}

// AssignDetections maps piece detections to squares: nearest projected
// square center within the scale-relative gate, highest confidence wins a
// contested square. Deterministic for identical inputs; every square ends
// up with at most one assignment and every detection is used at most
// once. The second return value counts detections dropped to conflicts or
// the distance gate.
func AssignDetections(dets []PieceDetection, proj *Projector, cfg AssignConfig) ([]SquareAssignment, int) {
	centers := proj.Centers()

	ordered := make([]PieceDetection, 0, len(dets))
	for _, d := range dets {
		if d.valid() {
			ordered = append(ordered, d)
		}
	}
	dropped := len(dets) - len(ordered)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		return lessPoint(a.Center(), b.Center())
	})

	taken := make(map[chess.Square]bool, len(ordered))
	var out []SquareAssignment
	for _, d := range ordered {
		center := d.Center()
		best := chess.NoSquare
		bestDist := math.Inf(1)
		for sq := chess.A1; sq <= chess.H8; sq++ {
			if d := center.Sub(centers[sq]).Norm(); d < bestDist {
				bestDist = d
				best = sq
			}
		}
		if best == chess.NoSquare || bestDist > cfg.MaxDistanceFrac*proj.LocalScale(best) {
			dropped++
			continue
		}
		if taken[best] {
			// A higher-confidence detection already owns this square.
			dropped++
			continue
		}
		taken[best] = true
		out = append(out, SquareAssignment{Square: best, Detection: d, Distance: bestDist})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Square < out[j].Square })
	return out, dropped
}
