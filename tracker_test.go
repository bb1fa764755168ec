package chessvision

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.viam.com/rdk/logging"
	"go.viam.com/test"
)

func TestTrackerConfigValidate(t *testing.T) {
	cfg := &TrackerConfig{}
	_, _, err := cfg.Validate("")
	test.That(t, err, test.ShouldNotBeNil)

	cfg = &TrackerConfig{Camera: "cam"}
	_, _, err = cfg.Validate("")
	test.That(t, err, test.ShouldNotBeNil)

	cfg = &TrackerConfig{Camera: "cam", PieceFinder: "pieces"}
	deps, _, err := cfg.Validate("")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, deps, test.ShouldResemble, []string{"cam", "pieces"})

	cfg.CornerFinder = "corners"
	deps, _, err = cfg.Validate("")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, deps, test.ShouldResemble, []string{"cam", "pieces", "corners"})
}

func TestTrackerConfigPipelineDefaults(t *testing.T) {
	cfg := &TrackerConfig{Camera: "cam", PieceFinder: "pieces"}
	test.That(t, cfg.pipelineConfig(), test.ShouldResemble, DefaultConfig())
	test.That(t, cfg.detectorTimeout(), test.ShouldEqual, 2*time.Second)
	test.That(t, cfg.pollInterval(), test.ShouldEqual, time.Second)
}

func TestTrackerConfigOverrides(t *testing.T) {
	cfg := &TrackerConfig{
		Camera:            "cam",
		PieceFinder:       "pieces",
		DetectorTimeoutMS: 500,
		PollIntervalMS:    250,
		MinQuadScore:      3.0,
		EvidenceDecay:     0.5,
	}

	pc := cfg.pipelineConfig()
	test.That(t, pc.Grid.MinQuadScore, test.ShouldEqual, 3.0)
	test.That(t, pc.Evidence.Decay, test.ShouldEqual, 0.5)
	// Untouched knobs keep their defaults.
	test.That(t, pc.Grid.SnapTolerance, test.ShouldEqual, DefaultGridConfig().SnapTolerance)
	test.That(t, cfg.detectorTimeout(), test.ShouldEqual, 500*time.Millisecond)
	test.That(t, cfg.pollInterval(), test.ShouldEqual, 250*time.Millisecond)
}

type stubCornerDetector struct {
	corners []CornerCandidate
	err     error
}

func (s *stubCornerDetector) Corners(context.Context) ([]CornerCandidate, error) {
	return s.corners, s.err
}

type stubPieceDetector struct {
	pieces []PieceDetection
	err    error
}

func (s *stubPieceDetector) Pieces(context.Context) ([]PieceDetection, error) {
	return s.pieces, s.err
}

func testTracker(t *testing.T, corners CornerDetector, pieces PieceDetector) *tracker {
	t.Helper()
	conf := &TrackerConfig{Camera: "cam", PieceFinder: "pieces"}
	return &tracker{
		logger:    logging.NewTestLogger(t),
		conf:      conf,
		cornerDet: corners,
		pieceDet:  pieces,
		session:   NewSession(conf.pipelineConfig(), logging.NewTestLogger(t)),
	}
}

func TestTrackerCaptureFrame(t *testing.T) {
	frame := startFrame(t)
	tr := testTracker(t,
		&stubCornerDetector{corners: frame.Corners},
		&stubPieceDetector{pieces: frame.Pieces})

	got, err := tr.captureFrame(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(got.Corners), test.ShouldEqual, 49)
	test.That(t, len(got.Pieces), test.ShouldEqual, 32)
	test.That(t, len(got.Warnings), test.ShouldEqual, 0)
}

func TestTrackerCaptureFrameTimeoutSoftens(t *testing.T) {
	frame := startFrame(t)
	tr := testTracker(t,
		&stubCornerDetector{err: ErrDetectorTimeout},
		&stubPieceDetector{pieces: frame.Pieces})

	got, err := tr.captureFrame(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(got.Corners), test.ShouldEqual, 0)
	test.That(t, len(got.Warnings), test.ShouldEqual, 1)
	test.That(t, got.Warnings[0].Kind, test.ShouldEqual, WarnDetectorTimeout)
}

func TestTrackerCaptureFrameHardError(t *testing.T) {
	tr := testTracker(t,
		&stubCornerDetector{err: errors.New("camera unplugged")},
		&stubPieceDetector{})

	_, err := tr.captureFrame(context.Background())
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "camera unplugged")
}

func TestTrackerObserveEndToEnd(t *testing.T) {
	frame := startFrame(t)
	tr := testTracker(t,
		&stubCornerDetector{corners: frame.Corners},
		&stubPieceDetector{pieces: frame.Pieces})

	report, err := tr.observe(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, report.GridSolved, test.ShouldBeTrue)
	test.That(t, report.Result.FEN, test.ShouldEqual, startPlacement+" w - - 0 1")
}

func TestTrackerDoCommandMoveFrom(t *testing.T) {
	// One frame of the position after 1. e4, then ask for the move that
	// led here from the start position.
	frame := Frame{
		Corners: interiorLattice(axisGrid, 0.9),
		Pieces:  framePieces(t, squareMapping(t), "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR"),
	}
	tr := testTracker(t,
		&stubCornerDetector{corners: frame.Corners},
		&stubPieceDetector{pieces: frame.Pieces})

	_, err := tr.observe(context.Background())
	test.That(t, err, test.ShouldBeNil)

	out, err := tr.DoCommand(context.Background(), map[string]interface{}{"move-from": startFEN})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out["move"], test.ShouldEqual, "e2e4")
}

func TestPushLatestNewestWins(t *testing.T) {
	ch := make(chan Frame, 1)

	tagged := func(n int) Frame {
		return Frame{Corners: make([]CornerCandidate, n)}
	}
	pushLatest(ch, tagged(1))
	pushLatest(ch, tagged(2))
	pushLatest(ch, tagged(3))

	got := <-ch
	test.That(t, len(got.Corners), test.ShouldEqual, 3)

	select {
	case <-ch:
		t.Fatal("queue should hold at most one frame")
	default:
	}
}
