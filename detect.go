package chessvision

import (
	"context"
	"errors"
	"time"

	"github.com/golang/geo/r2"

	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/services/vision"
	"go.viam.com/rdk/vision/objectdetection"
)

// ErrDetectorTimeout marks a detector that did not answer within its
// per-frame deadline. It degrades to zero detections, never a hard stop.
var ErrDetectorTimeout = errors.New("detector timed out")

// CornerDetector produces raw corner candidates for one frame.
type CornerDetector interface {
	Corners(ctx context.Context) ([]CornerCandidate, error)
}

// PieceDetector produces labeled piece detections for one frame.
type PieceDetector interface {
	Pieces(ctx context.Context) ([]PieceDetection, error)
}

// visionCornerDetector adapts a vision service whose detections mark
// saddle points of the board grid. The detection label is ignored; the
// box center is the candidate and the model score its confidence.
type visionCornerDetector struct {
	svc     vision.Service
	camera  string
	timeout time.Duration
}

func NewVisionCornerDetector(svc vision.Service, camera string, timeout time.Duration) CornerDetector {
	return &visionCornerDetector{svc: svc, camera: camera, timeout: timeout}
}

func (d *visionCornerDetector) Corners(ctx context.Context) ([]CornerCandidate, error) {
	dets, err := timedDetections(ctx, d.svc, d.camera, d.timeout)
	if err != nil {
		return nil, err
	}
	out := make([]CornerCandidate, 0, len(dets))
	for _, det := range dets {
		out = append(out, CornerCandidate{
			Point:      boxCenter(det),
			Confidence: det.Score(),
		})
	}
	return out, nil
}

// visionPieceDetector adapts a vision service whose labels name chess
// pieces. Detections with labels it cannot parse are skipped with a log
// line rather than failing the frame.
type visionPieceDetector struct {
	svc     vision.Service
	camera  string
	timeout time.Duration
	logger  logging.Logger
}

func NewVisionPieceDetector(svc vision.Service, camera string, timeout time.Duration, logger logging.Logger) PieceDetector {
	return &visionPieceDetector{svc: svc, camera: camera, timeout: timeout, logger: logger}
}

func (d *visionPieceDetector) Pieces(ctx context.Context) ([]PieceDetection, error) {
	dets, err := timedDetections(ctx, d.svc, d.camera, d.timeout)
	if err != nil {
		return nil, err
	}
	out := make([]PieceDetection, 0, len(dets))
	for _, det := range dets {
		piece, err := ParsePieceLabel(det.Label())
		if err != nil {
			if d.logger != nil {
				d.logger.Debugf("skipping detection with unknown label %q", det.Label())
			}
			continue
		}
		box := det.BoundingBox()
		out = append(out, PieceDetection{
			Box: [4]float64{
				float64(box.Min.X), float64(box.Min.Y),
				float64(box.Max.X), float64(box.Max.Y),
			},
			Class:      piece,
			Confidence: det.Score(),
		})
	}
	return out, nil
}

// timedDetections runs DetectionsFromCamera under a deadline and folds
// a deadline miss into ErrDetectorTimeout.
func timedDetections(ctx context.Context, svc vision.Service, camera string, timeout time.Duration) ([]objectdetection.Detection, error) {
	if timeout > 0 {
		var cancel func()
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	dets, err := svc.DetectionsFromCamera(ctx, camera, nil)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrDetectorTimeout
		}
		return nil, err
	}
	return dets, nil
}

func boxCenter(det objectdetection.Detection) r2.Point {
	box := det.BoundingBox()
	return r2.Point{
		X: float64(box.Min.X+box.Max.X) / 2,
		Y: float64(box.Min.Y+box.Max.Y) / 2,
	}
}
