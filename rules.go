package chessvision

import (
	"fmt"

	"github.com/corentings/chess/v2"
)

// ValidateNotation runs a FEN through the rules library and returns the
// normalized form. This is the boundary to the chess-rules collaborator:
// legality beyond structure is its business, not the pipeline's.
func ValidateNotation(fen string) (string, error) {
	opt, err := chess.FEN(fen)
	if err != nil {
		return "", err
	}
	return chess.NewGame(opt).FEN(), nil
}

// InferMove compares a previously known position against a newly observed
// placement and returns, in UCI form, the single move that explains the
// difference. It recognizes plain moves, captures, promotions, castling,
// and en passant; anything else is an error because more than one move
// must have happened (or the observation is wrong).
func InferMove(prevFEN, placement string) (string, error) {
	opt, err := chess.FEN(prevFEN)
	if err != nil {
		return "", fmt.Errorf("bad previous position: %w", err)
	}
	game := chess.NewGame(opt)
	before := game.Position().Board()

	after, err := DecodePlacement(placement)
	if err != nil {
		return "", err
	}

	var vacated, arrived []chess.Square
	for sq := chess.A1; sq <= chess.H8; sq++ {
		was := before.Piece(sq)
		is := after[sq]
		if was == is {
			continue
		}
		if is == chess.NoPiece {
			vacated = append(vacated, sq)
		} else {
			arrived = append(arrived, sq)
		}
	}

	uci, err := matchMove(before, after, vacated, arrived)
	if err != nil {
		return "", err
	}

	if err := game.PushNotationMove(uci, chess.UCINotation{}, nil); err != nil {
		return "", fmt.Errorf("observed change %s is not a legal move: %w", uci, err)
	}
	return uci, nil
}

func matchMove(before *chess.Board, after [64]chess.Piece, vacated, arrived []chess.Square) (string, error) {
	switch {
	case len(vacated) == 1 && len(arrived) == 1:
		from, to := vacated[0], arrived[0]
		mover := before.Piece(from)
		if after[to] == mover {
			return from.String() + to.String(), nil
		}
		// Pawn reaching the last rank with a new class is a promotion.
		if mover.Type() == chess.Pawn && after[to].Color() == mover.Color() &&
			(to.Rank() == chess.Rank8 || to.Rank() == chess.Rank1) {
			return from.String() + to.String() + fenLetterLower(after[to]), nil
		}
		return "", fmt.Errorf("piece at %s changed identity between frames", to.String())

	case len(vacated) == 2 && len(arrived) == 1:
		// En passant: the origin and the victim's square both vacated,
		// the previously empty destination gained the moving pawn.
		to := arrived[0]
		for _, from := range vacated {
			mover := before.Piece(from)
			if mover.Type() != chess.Pawn || after[to] != mover {
				continue
			}
			if to.Rank() == from.Rank()+rankStep(mover) && fileDelta(from, to) == 1 {
				return from.String() + to.String(), nil
			}
		}
		return "", fmt.Errorf("two squares vacated without a matching pawn arrival")

	case len(vacated) == 2 && len(arrived) == 2:
		// Castling: king and rook moved together.
		for _, from := range vacated {
			if before.Piece(from).Type() != chess.King {
				continue
			}
			for _, to := range arrived {
				if after[to].Type() == chess.King && fileDelta(from, to) == 2 {
					return from.String() + to.String(), nil
				}
			}
		}
		return "", fmt.Errorf("four squares changed but not by castling")

	case len(vacated) == 0 && len(arrived) == 0:
		return "", fmt.Errorf("positions are identical")

	default:
		return "", fmt.Errorf("%d squares vacated and %d arrived; not a single move",
			len(vacated), len(arrived))
	}
}

func rankStep(p chess.Piece) chess.Rank {
	if p.Color() == chess.White {
		return 1
	}
	return -1
}

func fileDelta(a, b chess.Square) int {
	d := int(a.File()) - int(b.File())
	if d < 0 {
		return -d
	}
	return d
}

func fenLetterLower(p chess.Piece) string {
	switch p.Type() {
	case chess.Queen:
		return "q"
	case chess.Rook:
		return "r"
	case chess.Bishop:
		return "b"
	case chess.Knight:
		return "n"
	}
	return ""
}
