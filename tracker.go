package chessvision

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/multierr"

	"go.viam.com/rdk/components/camera"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	generic "go.viam.com/rdk/services/generic"
	"go.viam.com/rdk/services/vision"
	"go.viam.com/utils"
)

var TrackerModel = family.WithModel("tracker")

func init() {
	resource.RegisterService(generic.API, TrackerModel,
		resource.Registration[resource.Resource, *TrackerConfig]{
			Constructor: newTracker,
		},
	)
}

type TrackerConfig struct {
	Camera       string `json:"camera"`
	PieceFinder  string `json:"piece-finder"`
	CornerFinder string `json:"corner-finder,omitempty"`

	DetectorTimeoutMS int `json:"detector-timeout-ms,omitempty"`
	PollIntervalMS    int `json:"poll-interval-ms,omitempty"`

	MinCornerConfidence float64 `json:"min-corner-confidence,omitempty"`
	MinQuadScore        float64 `json:"min-quad-score,omitempty"`
	SnapTolerance       float64 `json:"snap-tolerance,omitempty"`
	RoundTripTolerance  float64 `json:"round-trip-tolerance,omitempty"`

	MinRankSeparation    float64 `json:"min-rank-separation,omitempty"`
	MaxDistanceFrac      float64 `json:"max-distance-frac,omitempty"`
	EvidenceDecay        float64 `json:"evidence-decay,omitempty"`
	EvidenceCeiling      float64 `json:"evidence-ceiling,omitempty"`
	MinResolveConfidence float64 `json:"min-resolve-confidence,omitempty"`
}

func (cfg *TrackerConfig) Validate(path string) ([]string, []string, error) {
	if cfg.Camera == "" {
		return nil, nil, fmt.Errorf("need a camera")
	}
	if cfg.PieceFinder == "" {
		return nil, nil, fmt.Errorf("need a piece-finder")
	}

	deps := []string{cfg.Camera, cfg.PieceFinder}
	if cfg.CornerFinder != "" {
		deps = append(deps, cfg.CornerFinder)
	}
	return deps, nil, nil
}

// pipelineConfig folds the configured overrides onto the defaults.
// Zero means "use the default" for every knob.
func (cfg *TrackerConfig) pipelineConfig() Config {
	c := DefaultConfig()
	if cfg.MinCornerConfidence > 0 {
		c.Grid.MinCornerConfidence = cfg.MinCornerConfidence
	}
	if cfg.MinQuadScore > 0 {
		c.Grid.MinQuadScore = cfg.MinQuadScore
	}
	if cfg.SnapTolerance > 0 {
		c.Grid.SnapTolerance = cfg.SnapTolerance
	}
	if cfg.RoundTripTolerance > 0 {
		c.Grid.RoundTripTolerance = cfg.RoundTripTolerance
	}
	if cfg.MinRankSeparation > 0 {
		c.Orientation.MinRankSeparation = cfg.MinRankSeparation
	}
	if cfg.MaxDistanceFrac > 0 {
		c.Assign.MaxDistanceFrac = cfg.MaxDistanceFrac
	}
	if cfg.EvidenceDecay > 0 {
		c.Evidence.Decay = cfg.EvidenceDecay
	}
	if cfg.EvidenceCeiling > 0 {
		c.Evidence.Ceiling = cfg.EvidenceCeiling
	}
	if cfg.MinResolveConfidence > 0 {
		c.Notation.MinResolveConfidence = cfg.MinResolveConfidence
	}
	return c
}

func (cfg *TrackerConfig) detectorTimeout() time.Duration {
	if cfg.DetectorTimeoutMS > 0 {
		return time.Duration(cfg.DetectorTimeoutMS) * time.Millisecond
	}
	return 2 * time.Second
}

func (cfg *TrackerConfig) pollInterval() time.Duration {
	if cfg.PollIntervalMS > 0 {
		return time.Duration(cfg.PollIntervalMS) * time.Millisecond
	}
	return time.Second
}

type tracker struct {
	resource.AlwaysRebuild

	name resource.Name

	logger logging.Logger
	conf   *TrackerConfig

	cancelCtx  context.Context
	cancelFunc func()

	cornerDet CornerDetector
	pieceDet  PieceDetector

	session *Session

	watchMu   sync.Mutex
	watchStop func()
	watchDone chan struct{}
}

func newTracker(ctx context.Context, deps resource.Dependencies, rawConf resource.Config, logger logging.Logger) (resource.Resource, error) {
	conf, err := resource.NativeConfig[*TrackerConfig](rawConf)
	if err != nil {
		return nil, err
	}

	return NewTracker(ctx, deps, rawConf.ResourceName(), conf, logger)
}

func NewTracker(ctx context.Context, deps resource.Dependencies, name resource.Name, conf *TrackerConfig, logger logging.Logger) (resource.Resource, error) {
	cancelCtx, cancelFunc := context.WithCancel(context.Background())

	t := &tracker{
		name:       name,
		logger:     logger,
		conf:       conf,
		cancelCtx:  cancelCtx,
		cancelFunc: cancelFunc,
		session:    NewSession(conf.pipelineConfig(), logger),
	}

	pieceFinder, err := vision.FromProvider(deps, conf.PieceFinder)
	if err != nil {
		cancelFunc()
		return nil, err
	}
	t.pieceDet = NewVisionPieceDetector(pieceFinder, conf.Camera, conf.detectorTimeout(), logger)

	if conf.CornerFinder != "" {
		cornerFinder, err := vision.FromProvider(deps, conf.CornerFinder)
		if err != nil {
			cancelFunc()
			return nil, err
		}
		t.cornerDet = NewVisionCornerDetector(cornerFinder, conf.Camera, conf.detectorTimeout())
	} else {
		cam, err := camera.FromProvider(deps, conf.Camera)
		if err != nil {
			cancelFunc()
			return nil, err
		}
		logger.Infof("no corner-finder configured, falling back to line detection on %s", conf.Camera)
		t.cornerDet = &lineCornerDetector{cam: cam}
	}

	return t, nil
}

func (t *tracker) Name() resource.Name {
	return t.name
}

// lineCornerDetector derives corner candidates from the raw camera
// image when no dedicated corner model is configured.
type lineCornerDetector struct {
	cam camera.Camera
}

func (d *lineCornerDetector) Corners(ctx context.Context) ([]CornerCandidate, error) {
	ni, _, err := d.cam.Images(ctx, nil, nil)
	if err != nil {
		return nil, err
	}
	if len(ni) == 0 {
		return nil, fmt.Errorf("no images returned from camera")
	}
	img, err := ni[0].Image(ctx)
	if err != nil {
		return nil, err
	}
	return LineCornerCandidates(img), nil
}

// captureFrame runs both detectors concurrently. A detector timeout
// degrades to zero detections plus a warning; any other detector error
// fails the capture.
func (t *tracker) captureFrame(ctx context.Context) (Frame, error) {
	var frame Frame
	var cornerErr, pieceErr error

	var wg sync.WaitGroup
	wg.Add(2)
	utils.PanicCapturingGo(func() {
		defer wg.Done()
		frame.Corners, cornerErr = t.cornerDet.Corners(ctx)
	})
	utils.PanicCapturingGo(func() {
		defer wg.Done()
		frame.Pieces, pieceErr = t.pieceDet.Pieces(ctx)
	})
	wg.Wait()

	cornerErr = t.softenTimeout(cornerErr, &frame, "corner detector timed out")
	pieceErr = t.softenTimeout(pieceErr, &frame, "piece detector timed out")

	if err := multierr.Combine(cornerErr, pieceErr); err != nil {
		return Frame{}, err
	}
	return frame, nil
}

func (t *tracker) softenTimeout(err error, frame *Frame, detail string) error {
	if err == nil || err != ErrDetectorTimeout {
		return err
	}
	t.logger.Warnf("%s, continuing with zero detections", detail)
	frame.Warnings = append(frame.Warnings, Warning{Kind: WarnDetectorTimeout, Detail: detail})
	return nil
}

func (t *tracker) observe(ctx context.Context) (*FrameReport, error) {
	frame, err := t.captureFrame(ctx)
	if err != nil {
		return nil, err
	}
	return t.session.ProcessFrame(ctx, frame)
}

type trackerCmd struct {
	Observe  bool
	State    bool
	Reset    bool
	Watch    string
	Snapshot bool

	// MoveFrom holds a previous position's FEN; the response includes the
	// move that turns it into the current synthesized position.
	MoveFrom string `mapstructure:"move-from"`
}

func (t *tracker) DoCommand(ctx context.Context, cmdMap map[string]interface{}) (map[string]interface{}, error) {
	var cmd trackerCmd
	if err := mapstructure.Decode(cmdMap, &cmd); err != nil {
		return nil, err
	}

	switch {
	case cmd.Observe:
		report, err := t.observe(ctx)
		if err != nil {
			return nil, err
		}
		return reportToMap(report), nil

	case cmd.State:
		return resultToMap(t.session.CurrentResult()), nil

	case cmd.Reset:
		t.stopWatch()
		t.session.Reset()
		return map[string]interface{}{"reset": true}, nil

	case cmd.Watch == "start":
		t.startWatch()
		return map[string]interface{}{"watching": true}, nil

	case cmd.Watch == "stop":
		t.stopWatch()
		return map[string]interface{}{"watching": false}, nil

	case cmd.Snapshot:
		return snapshotToMap(t.session.Snapshot()), nil

	case cmd.MoveFrom != "":
		res := t.session.CurrentResult()
		move, err := InferMove(cmd.MoveFrom, res.Placement)
		if err != nil {
			return nil, err
		}
		out := resultToMap(res)
		out["move"] = move
		return out, nil
	}

	return nil, fmt.Errorf("bad cmd %v", cmdMap)
}

// startWatch spawns a capture loop and a processing loop joined by a
// depth-1 queue. A slow processor sees only the newest frame; stale
// frames are dropped at the queue, never processed late.
func (t *tracker) startWatch() {
	t.watchMu.Lock()
	defer t.watchMu.Unlock()
	if t.watchStop != nil {
		return
	}

	ctx, cancel := context.WithCancel(t.cancelCtx)
	t.watchStop = cancel
	done := make(chan struct{})
	t.watchDone = done

	frames := make(chan Frame, 1)
	interval := t.conf.pollInterval()

	utils.PanicCapturingGo(func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			frame, err := t.captureFrame(ctx)
			if err != nil {
				if ctx.Err() == nil {
					t.logger.Warnf("frame capture failed: %v", err)
				}
				continue
			}
			pushLatest(frames, frame)
		}
	})

	utils.PanicCapturingGo(func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case frame := <-frames:
				if _, err := t.session.ProcessFrame(ctx, frame); err != nil && ctx.Err() == nil {
					t.logger.Warnf("frame processing failed: %v", err)
				}
			}
		}
	})
}

func (t *tracker) stopWatch() {
	t.watchMu.Lock()
	defer t.watchMu.Unlock()
	if t.watchStop == nil {
		return
	}
	t.watchStop()
	<-t.watchDone
	t.watchStop = nil
	t.watchDone = nil
}

// pushLatest offers a frame to a depth-1 queue, displacing any frame
// already waiting.
func pushLatest(ch chan Frame, f Frame) {
	for {
		select {
		case ch <- f:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

func (t *tracker) Close(context.Context) error {
	t.stopWatch()
	t.cancelFunc()
	return nil
}

func reportToMap(r *FrameReport) map[string]interface{} {
	out := resultToMap(r.Result)
	out["grid_solved"] = r.GridSolved
	if r.GridErr != nil {
		out["grid_error"] = r.GridErr.Error()
	}
	out["orientation"] = r.Orientation.String()
	if r.OrientationErr != nil {
		out["orientation_error"] = r.OrientationErr.Error()
	}
	out["assigned"] = len(r.Assignments)
	out["dropped"] = r.DroppedDetections
	return out
}

func resultToMap(res NotationResult) map[string]interface{} {
	warnings := make([]interface{}, 0, len(res.Warnings))
	for _, w := range res.Warnings {
		warnings = append(warnings, w.String())
	}
	return map[string]interface{}{
		"fen":       res.FEN,
		"placement": res.Placement,
		"warnings":  warnings,
	}
}

func snapshotToMap(snap Snapshot) map[string]interface{} {
	out := map[string]interface{}{
		"orientation": snap.Orientation.String(),
		"frames":      snap.Frames,
		"solved":      snap.Mapping != nil,
	}

	assignments := make([]interface{}, 0, len(snap.Assignments))
	for _, a := range snap.Assignments {
		assignments = append(assignments, map[string]interface{}{
			"square":     a.Square.String(),
			"label":      PieceLabel(a.Detection.Class),
			"confidence": a.Detection.Confidence,
			"x":          a.Detection.Center().X,
			"y":          a.Detection.Center().Y,
		})
	}
	out["assignments"] = assignments

	if snap.Mapping != nil {
		proj := NewProjector(snap.Mapping, snap.Orientation)

		lattice := make([]interface{}, 0, 81)
		for j := 0; j <= 8; j++ {
			for i := 0; i <= 8; i++ {
				p := proj.LatticePoint(i, j)
				lattice = append(lattice, []interface{}{p.X, p.Y})
			}
		}
		out["lattice"] = lattice

		centers := make([]interface{}, 0, 64)
		for _, p := range proj.Centers() {
			centers = append(centers, []interface{}{p.X, p.Y})
		}
		out["centers"] = centers
	}

	return out
}
