package chessvision

import (
	"testing"

	"go.viam.com/test"
)

const startFEN = startPlacement + " w KQkq - 0 1"

func TestValidateNotation(t *testing.T) {
	normalized, err := ValidateNotation(startFEN)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, normalized, test.ShouldEqual, startFEN)

	_, err = ValidateNotation("gibberish")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestInferMovePlain(t *testing.T) {
	uci, err := InferMove(startFEN, "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, uci, test.ShouldEqual, "e2e4")
}

func TestInferMoveCapture(t *testing.T) {
	prev := "rnbqkbnr/ppp1pppp/8/3p4/4P3/8/PPPP1PPP/RNBQKBNR w KQkq d6 0 2"
	uci, err := InferMove(prev, "rnbqkbnr/ppp1pppp/8/3P4/8/8/PPPP1PPP/RNBQKBNR")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, uci, test.ShouldEqual, "e4d5")
}

func TestInferMoveCastle(t *testing.T) {
	prev := "r1bqkbnr/pppp1ppp/2n5/4p3/2B1P3/5N2/PPPP1PPP/RNBQK2R w KQkq - 4 4"
	uci, err := InferMove(prev, "r1bqkbnr/pppp1ppp/2n5/4p3/2B1P3/5N2/PPPP1PPP/RNBQ1RK1")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, uci, test.ShouldEqual, "e1g1")
}

func TestInferMoveEnPassant(t *testing.T) {
	prev := "rnbqkbnr/ppp1pppp/8/3pP3/8/8/PPPP1PPP/RNBQKBNR w KQkq d6 0 3"
	uci, err := InferMove(prev, "rnbqkbnr/ppp1pppp/3P4/8/8/8/PPPP1PPP/RNBQKBNR")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, uci, test.ShouldEqual, "e5d6")
}

func TestInferMovePromotion(t *testing.T) {
	prev := "8/P6k/8/8/8/8/7K/8 w - - 0 1"
	uci, err := InferMove(prev, "Q7/7k/8/8/8/8/7K/8")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, uci, test.ShouldEqual, "a7a8q")
}

func TestInferMoveIdentical(t *testing.T) {
	_, err := InferMove(startFEN, startPlacement)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "identical")
}

func TestInferMoveTooManyChanges(t *testing.T) {
	// Two pawns pushed at once cannot be one move.
	_, err := InferMove(startFEN, "rnbqkbnr/pppppppp/8/8/3PP3/8/PPP2PPP/RNBQKBNR")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestInferMoveIllegal(t *testing.T) {
	// The king cannot jump to e3.
	_, err := InferMove(startFEN, "rnbqkbnr/pppppppp/8/8/8/4K3/PPPPPPPP/RNBQ1BNR")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "not a legal move")
}
