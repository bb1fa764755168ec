package chessvision

import (
	"errors"

	"github.com/corentings/chess/v2"
	"github.com/golang/geo/r2"
)

// ErrAmbiguousOrientation means the piece colors did not separate into
// two rank bands clearly enough to orient the board.
var ErrAmbiguousOrientation = errors.New("piece colors do not separate into two rank bands")

// OrientationConfig holds the orientation-vote thresholds.
type OrientationConfig struct {
	// MinRankSeparation is the least gap, in ideal rank units, between the
	// white and black centroid ranks for the vote to count.
	MinRankSeparation float64
}

func DefaultOrientationConfig() OrientationConfig {
	return OrientationConfig{MinRankSeparation: 0.75}
}

// ResolveOrientation decides which way the solved grid faces from the
// piece color distribution: the color whose detections sit at lower ranks
// is taken as white by convention. With no pieces at all it returns
// OrientationUnknown and no error; the caller must surface that rather
// than guess.
func ResolveOrientation(pieces []PieceDetection, m *BoardMapping, cfg OrientationConfig) (Orientation, error) {
	var whiteSum, whiteWeight, blackSum, blackWeight float64

	for _, d := range pieces {
		ideal := m.Inverse.Apply(d.Center())
		if ideal.X < -0.5 || ideal.X > 8.5 || ideal.Y < -0.5 || ideal.Y > 8.5 {
			continue
		}
		w := d.Confidence
		if w <= 0 {
			continue
		}
		if d.Class.Color() == chess.White {
			whiteSum += ideal.Y * w
			whiteWeight += w
		} else {
			blackSum += ideal.Y * w
			blackWeight += w
		}
	}

	switch {
	case whiteWeight == 0 && blackWeight == 0:
		return OrientationUnknown, nil
	case whiteWeight > 0 && blackWeight > 0:
		gap := blackSum/blackWeight - whiteSum/whiteWeight
		if gap >= cfg.MinRankSeparation {
			return OrientationNormal, nil
		}
		if gap <= -cfg.MinRankSeparation {
			return OrientationFlipped, nil
		}
		return OrientationUnknown, ErrAmbiguousOrientation
	default:
		// Only one color visible: vote from its side of the midline.
		centroid := whiteSum / whiteWeight
		low := OrientationNormal
		high := OrientationFlipped
		if whiteWeight == 0 {
			centroid = blackSum / blackWeight
			low, high = high, low
		}
		if centroid <= 4-cfg.MinRankSeparation {
			return low, nil
		}
		if centroid >= 4+cfg.MinRankSeparation {
			return high, nil
		}
		return OrientationUnknown, ErrAmbiguousOrientation
	}
}

// pieceCenter is shared by orientation and assignment.
func pieceCenter(box [4]float64) r2.Point {
	return r2.Point{X: (box[0] + box[2]) / 2, Y: (box[1] + box[3]) / 2}
}
