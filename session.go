package chessvision

import (
	"context"
	"sync"

	"go.viam.com/rdk/logging"
)

// Config bundles every tuning knob of the pipeline.
type Config struct {
	Grid        GridConfig
	Orientation OrientationConfig
	Assign      AssignConfig
	Evidence    EvidenceConfig
	Notation    NotationConfig
}

// DefaultConfig returns the documented defaults for all stages.
func DefaultConfig() Config {
	return Config{
		Grid:        DefaultGridConfig(),
		Orientation: DefaultOrientationConfig(),
		Assign:      DefaultAssignConfig(),
		Evidence:    DefaultEvidenceConfig(),
		Notation:    DefaultNotationConfig(),
	}
}

// Frame is one frame's worth of detector output, plus any soft warnings
// the capture step picked up (e.g. a detector timeout).
type Frame struct {
	Corners  []CornerCandidate
	Pieces   []PieceDetection
	Warnings []Warning
}

// FrameReport describes what one frame contributed to the session.
type FrameReport struct {
	// GridSolved is true when this frame produced a fresh mapping; when
	// false and GridErr is set, the prior session mapping (if any) was
	// used instead.
	GridSolved bool
	GridErr    error

	Orientation    Orientation
	OrientationErr error

	Assignments       []SquareAssignment
	DroppedDetections int

	// Result is the notation synthesized from the state after this frame.
	Result NotationResult
}

// Session owns all board-tracking state for one board: the solved
// mapping, the resolved orientation, and the accumulated evidence.
// Frames must pass through ProcessFrame in arrival order; the session
// serializes them itself. Only Reset discards accumulated state.
type Session struct {
	mu     sync.Mutex
	cfg    Config
	logger logging.Logger

	mapping     *BoardMapping
	orientation Orientation
	state       *BoardState

	lastAssignments []SquareAssignment
}

func NewSession(cfg Config, logger logging.Logger) *Session {
	return &Session{
		cfg:    cfg,
		logger: logger,
		state:  NewBoardState(),
	}
}

// ProcessFrame runs the full pipeline for one frame. Per-frame pipeline
// failures degrade gracefully - the session keeps its last known-good
// mapping, orientation, and evidence - and come back inside the report,
// never as the error. The returned error is only ever the context's.
// Evidence updates are atomic per frame: a cancelled context leaves the
// session state untouched.
func (s *Session) ProcessFrame(ctx context.Context, f Frame) (*FrameReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	report := &FrameReport{}

	mapping := s.mapping
	if solved, err := SolveGrid(f.Corners, s.cfg.Grid); err == nil {
		mapping = solved
		report.GridSolved = true
	} else {
		report.GridErr = err
		if s.logger != nil {
			s.logger.Debugf("grid not solved this frame: %v", err)
		}
	}

	if mapping == nil {
		// Nothing to project against; the frame is dropped, state is
		// untouched, and the (empty) notation still comes back.
		report.Orientation = s.orientation
		report.Result = s.synthesizeLocked(s.state, f.Warnings)
		return report, nil
	}

	orientation := s.orientation
	if o, err := ResolveOrientation(f.Pieces, mapping, s.cfg.Orientation); err != nil {
		report.OrientationErr = err
	} else if o != OrientationUnknown {
		orientation = o
	}
	report.Orientation = orientation

	proj := NewProjector(mapping, orientation)
	assignments, dropped := AssignDetections(f.Pieces, proj, s.cfg.Assign)
	report.Assignments = assignments
	report.DroppedDetections = dropped
	if dropped > 0 && s.logger != nil {
		s.logger.Debugf("dropped %d detections to conflicts or distance gate", dropped)
	}

	next := s.state.clone()
	next.Observe(assignments, s.cfg.Evidence)

	if err := ctx.Err(); err != nil {
		// Cancelled mid-frame: commit nothing.
		return nil, err
	}
	s.mapping = mapping
	s.orientation = orientation
	s.state = next
	s.lastAssignments = assignments

	report.Result = s.synthesizeLocked(next, f.Warnings)
	return report, nil
}

// synthesizeLocked builds the notation for a state and folds in the
// session-level warnings. Caller holds s.mu.
func (s *Session) synthesizeLocked(state *BoardState, extra []Warning) NotationResult {
	res := Synthesize(state, s.cfg.Notation)
	if s.orientation == OrientationUnknown {
		res.Warnings = append(res.Warnings, Warning{
			Kind:   WarnAmbiguousOrientation,
			Detail: "board orientation unresolved; assuming conventional orientation",
		})
	}
	res.Warnings = append(res.Warnings, extra...)
	return res
}

// CurrentResult synthesizes notation from the evidence as it stands.
func (s *Session) CurrentResult() NotationResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.synthesizeLocked(s.state, nil)
}

// Reset drops everything the session has learned: mapping, orientation,
// and accumulated evidence.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mapping = nil
	s.orientation = OrientationUnknown
	s.state = NewBoardState()
	s.lastAssignments = nil
}

// Snapshot is a read-only view of the session for debug overlays.
type Snapshot struct {
	Mapping     *BoardMapping
	Orientation Orientation
	Assignments []SquareAssignment
	Frames      int
}

// Snapshot copies the session's current debug-facing state. The mapping
// pointer is shared but a BoardMapping is never mutated after solve.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	assignments := make([]SquareAssignment, len(s.lastAssignments))
	copy(assignments, s.lastAssignments)
	return Snapshot{
		Mapping:     s.mapping,
		Orientation: s.orientation,
		Assignments: assignments,
		Frames:      s.state.Frames(),
	}
}
