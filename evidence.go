package chessvision

import (
	"github.com/corentings/chess/v2"
)

// EvidenceConfig holds the accumulation knobs.
type EvidenceConfig struct {
	// Decay is the exponential-moving-average rate: each frame every score
	// keeps (1-Decay) of its value before new evidence is blended in.
	Decay float64

	// Ceiling bounds every score from above.
	Ceiling float64
}

func DefaultEvidenceConfig() EvidenceConfig {
	return EvidenceConfig{Decay: 0.3, Ceiling: 1.0}
}

// SquareEvidence is the running belief about one square's occupant over a
// session: a score per piece class. Scores are never negative and never
// exceed the configured ceiling; a square nobody observes decays toward
// empty.
type SquareEvidence struct {
	scores map[chess.Piece]float64
}

// Score returns the accumulated score for a class, zero if unseen.
func (e *SquareEvidence) Score(p chess.Piece) float64 {
	return e.scores[p]
}

// Best returns the leading class and its score, or NoPiece when the
// square has no evidence at all. Ties break toward the lower piece value
// so the result is deterministic.
func (e *SquareEvidence) Best() (chess.Piece, float64) {
	best := chess.NoPiece
	bestScore := 0.0
	for p, s := range e.scores {
		if s > bestScore || (s == bestScore && best != chess.NoPiece && p < best) {
			best = p
			bestScore = s
		}
	}
	return best, bestScore
}

func (e *SquareEvidence) decay(rate float64) {
	for p, s := range e.scores {
		s *= 1 - rate
		if s < 1e-6 {
			delete(e.scores, p)
		} else {
			e.scores[p] = s
		}
	}
}

func (e *SquareEvidence) reinforce(p chess.Piece, amount, ceiling float64) {
	if e.scores == nil {
		e.scores = make(map[chess.Piece]float64, 2)
	}
	s := e.scores[p] + amount
	if s > ceiling {
		s = ceiling
	}
	e.scores[p] = s
}

func (e *SquareEvidence) clone() SquareEvidence {
	if e.scores == nil {
		return SquareEvidence{}
	}
	out := SquareEvidence{scores: make(map[chess.Piece]float64, len(e.scores))}
	for p, s := range e.scores {
		out.scores[p] = s
	}
	return out
}

// BoardState is the accumulated evidence for all 64 squares, indexed by
// square. It is owned by one session and only mutated on the session's
// sequential processing path.
type BoardState struct {
	squares [64]SquareEvidence
	frames  int
}

func NewBoardState() *BoardState {
	return &BoardState{}
}

// Evidence returns a read view of one square's accumulated scores.
func (b *BoardState) Evidence(sq chess.Square) *SquareEvidence {
	return &b.squares[sq]
}

// Frames is how many observations this state has absorbed.
func (b *BoardState) Frames() int {
	return b.frames
}

// Observe folds one frame's assignments in: every class at every square
// decays first, then each assigned class gains in proportion to its
// detection confidence. Squares with no assignment this frame only decay,
// drifting toward empty. For a single-image session the first update's
// decay is a no-op because every score starts at zero.
func (b *BoardState) Observe(assignments []SquareAssignment, cfg EvidenceConfig) {
	for i := range b.squares {
		b.squares[i].decay(cfg.Decay)
	}
	for _, a := range assignments {
		b.squares[a.Square].reinforce(a.Detection.Class, cfg.Decay*a.Detection.Confidence*cfg.Ceiling, cfg.Ceiling)
	}
	b.frames++
}

func (b *BoardState) clone() *BoardState {
	out := &BoardState{frames: b.frames}
	for i := range b.squares {
		out.squares[i] = b.squares[i].clone()
	}
	return out
}
