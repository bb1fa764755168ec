package chessvision

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/corentings/chess/v2"
)

// WarningKind names one entry of the warning taxonomy. Warnings never
// suppress the notation; they ride alongside it.
type WarningKind string

const (
	WarnInvalidBoardState    WarningKind = "InvalidBoardState"
	WarnAmbiguousOrientation WarningKind = "AmbiguousOrientation"
	WarnDetectorTimeout      WarningKind = "DetectorTimeout"
)

// Warning is one structured validity note on a NotationResult.
type Warning struct {
	Kind   WarningKind
	Detail string
}

func (w Warning) String() string {
	return fmt.Sprintf("%s: %s", w.Kind, w.Detail)
}

// NotationConfig holds the synthesis threshold.
type NotationConfig struct {
	// MinResolveConfidence is the least accumulated score a class needs
	// before a square resolves to it instead of empty.
	MinResolveConfidence float64
}

func DefaultNotationConfig() NotationConfig {
	return NotationConfig{MinResolveConfidence: 0.2}
}

// NotationResult is the pipeline's output: a best-effort FEN, the
// resolved occupant per square, and any sanity warnings.
type NotationResult struct {
	// FEN is the full notation string; non-occupancy fields default to
	// "w - - 0 1" unless a rules collaborator fills them in.
	FEN string

	// Placement is the piece-placement field alone.
	Placement string

	// Squares holds the resolved occupant per square (NoPiece = empty),
	// indexed by square.
	Squares [64]chess.Piece

	Warnings []Warning
}

var fullPieceCounts = map[chess.Piece]int{
	chess.WhiteKing: 1, chess.WhiteQueen: 1, chess.WhiteRook: 2,
	chess.WhiteBishop: 2, chess.WhiteKnight: 2, chess.WhitePawn: 8,
	chess.BlackKing: 1, chess.BlackQueen: 1, chess.BlackRook: 2,
	chess.BlackBishop: 2, chess.BlackKnight: 2, chess.BlackPawn: 8,
}

// Synthesize collapses accumulated evidence into a board occupancy and
// a validated notation string. It always returns a result; structural
// problems become warnings, never a refusal.
func Synthesize(state *BoardState, cfg NotationConfig) NotationResult {
	var res NotationResult
	for sq := chess.A1; sq <= chess.H8; sq++ {
		best, score := state.Evidence(sq).Best()
		if best == chess.NoPiece || score < cfg.MinResolveConfidence {
			res.Squares[sq] = chess.NoPiece
			continue
		}
		res.Squares[sq] = best
	}

	res.Placement = EncodePlacement(res.Squares)
	res.FEN = res.Placement + " w - - 0 1"
	res.Warnings = sanityCheck(res.Squares)

	if _, err := ValidateNotation(res.FEN); err != nil {
		res.Warnings = append(res.Warnings, Warning{
			Kind:   WarnInvalidBoardState,
			Detail: fmt.Sprintf("rules library rejected %q: %v", res.FEN, err),
		})
	}
	return res
}

// sanityCheck runs the structural checks: king counts, pawns on the back
// ranks, side sizes, and per-class counts beyond a full set.
func sanityCheck(squares [64]chess.Piece) []Warning {
	counts := make(map[chess.Piece]int)
	sideTotals := map[chess.Color]int{}
	var warnings []Warning

	for sq := chess.A1; sq <= chess.H8; sq++ {
		p := squares[sq]
		if p == chess.NoPiece {
			continue
		}
		counts[p]++
		sideTotals[p.Color()]++
		if p.Type() == chess.Pawn && (sq.Rank() == chess.Rank1 || sq.Rank() == chess.Rank8) {
			warnings = append(warnings, Warning{
				Kind:   WarnInvalidBoardState,
				Detail: fmt.Sprintf("pawn on %s", sq.String()),
			})
		}
	}

	for _, color := range []chess.Color{chess.White, chess.Black} {
		king := chess.WhiteKing
		if color == chess.Black {
			king = chess.BlackKing
		}
		if n := counts[king]; n != 1 {
			warnings = append(warnings, Warning{
				Kind:   WarnInvalidBoardState,
				Detail: fmt.Sprintf("%d %s kings", n, colorName(color)),
			})
		}
		if n := sideTotals[color]; n > 16 {
			warnings = append(warnings, Warning{
				Kind:   WarnInvalidBoardState,
				Detail: fmt.Sprintf("%d %s pieces on the board", n, colorName(color)),
			})
		}
	}

	for p, full := range fullPieceCounts {
		if counts[p] > full {
			warnings = append(warnings, Warning{
				Kind:   WarnInvalidBoardState,
				Detail: fmt.Sprintf("suspicious count: %d of %s", counts[p], PieceLabel(p)),
			})
		}
	}
	return warnings
}

func colorName(c chess.Color) string {
	if c == chess.White {
		return "white"
	}
	return "black"
}

var fenLetters = map[chess.Piece]string{
	chess.WhiteKing: "K", chess.WhiteQueen: "Q", chess.WhiteRook: "R",
	chess.WhiteBishop: "B", chess.WhiteKnight: "N", chess.WhitePawn: "P",
	chess.BlackKing: "k", chess.BlackQueen: "q", chess.BlackRook: "r",
	chess.BlackBishop: "b", chess.BlackKnight: "n", chess.BlackPawn: "p",
}

// EncodePlacement builds the FEN piece-placement field: ranks 8 down to
// 1, files a through h, empty runs length-encoded.
func EncodePlacement(squares [64]chess.Piece) string {
	var sb strings.Builder
	for rank := chess.Rank8; ; rank-- {
		empty := 0
		for file := chess.FileA; file <= chess.FileH; file++ {
			p := squares[chess.NewSquare(file, rank)]
			if p == chess.NoPiece {
				empty++
				continue
			}
			if empty > 0 {
				sb.WriteString(strconv.Itoa(empty))
				empty = 0
			}
			sb.WriteString(fenLetters[p])
		}
		if empty > 0 {
			sb.WriteString(strconv.Itoa(empty))
		}
		if rank == chess.Rank1 {
			break
		}
		sb.WriteString("/")
	}
	return sb.String()
}

// DecodePlacement parses a piece-placement field back into 64 occupants.
func DecodePlacement(placement string) ([64]chess.Piece, error) {
	var out [64]chess.Piece
	opt, err := chess.FEN(placement + " w - - 0 1")
	if err != nil {
		return out, fmt.Errorf("bad placement %q: %w", placement, err)
	}
	board := chess.NewGame(opt).Position().Board()
	for sq := chess.A1; sq <= chess.H8; sq++ {
		out[sq] = board.Piece(sq)
	}
	return out, nil
}
