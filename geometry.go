package chessvision

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/fogleman/delaunay"
	"github.com/golang/geo/r2"
)

var (
	// ErrNoCornersDetected means too few usable corner candidates arrived
	// to even attempt a grid reconstruction.
	ErrNoCornersDetected = errors.New("not enough corner candidates to reconstruct the grid")

	// ErrGridReconstructionFailed means no quad hypothesis extrapolated to
	// a consistent 8x8 lattice with enough support.
	ErrGridReconstructionFailed = errors.New("no quad extrapolates to a consistent 8x8 lattice")
)

// CornerCandidate is one detected interior grid intersection guess, in
// image pixel coordinates.
type CornerCandidate struct {
	Point      r2.Point
	Confidence float64
}

// Quad is a grid cell hypothesis: four candidate points forming one cell
// of the board, built from two Delaunay triangles sharing an edge. The
// corners are in cyclic order with the shared edge as a diagonal.
type Quad struct {
	Corners [4]r2.Point
	Score   float64
}

func (q *Quad) centroid() r2.Point {
	var c r2.Point
	for _, p := range q.Corners {
		c = c.Add(p)
	}
	return c.Mul(0.25)
}

func (q *Quad) edgeScale() float64 {
	total := 0.0
	for i := range 4 {
		total += q.Corners[(i+1)%4].Sub(q.Corners[i]).Norm()
	}
	return total / 4
}

// BoardMapping is the solved correspondence between ideal board space and
// image space. Ideal space runs 0..8 on both axes, with interior lattice
// intersections at integers 1..7 and square centers at half-integers.
type BoardMapping struct {
	Forward *Homography // ideal -> image
	Inverse *Homography // image -> ideal

	// CellScale is the image-space edge length of one board square near
	// the center, used for scale-relative thresholds.
	CellScale float64

	// Snapped counts interior lattice points backed by a real candidate;
	// the remaining 49-Snapped points were extrapolated.
	Snapped int

	// Seed is the winning cell hypothesis, kept for debug overlays.
	Seed Quad
}

// GridConfig holds the geometry tuning knobs. Use DefaultGridConfig as
// the starting point; the zero value rejects everything.
type GridConfig struct {
	// MinCornerConfidence drops detector candidates below this score.
	MinCornerConfidence float64

	// MinQuadScore is the least lattice support the winning quad needs.
	// Support is the confidence-weighted count of other candidates landing
	// on the extrapolated lattice.
	MinQuadScore float64

	// SnapTolerance is the radius, as a fraction of the cell scale, within
	// which a predicted lattice point snaps to a real candidate.
	SnapTolerance float64

	// RoundTripTolerance is the max allowed forward∘inverse displacement
	// across the lattice, in pixels.
	RoundTripTolerance float64
}

// DefaultGridConfig returns the documented defaults.
func DefaultGridConfig() GridConfig {
	return GridConfig{
		MinCornerConfidence: 0.2,
		MinQuadScore:        1.5,
		SnapTolerance:       0.25,
		RoundTripTolerance:  2.0,
	}
}

// SolveGrid reconstructs the 8x8 board grid from corner candidates and
// returns the perspective mapping between ideal and image space. It is a
// pure function of its inputs: permuting the candidates does not change
// the result.
func SolveGrid(cands []CornerCandidate, cfg GridConfig) (*BoardMapping, error) {
	usable := make([]CornerCandidate, 0, len(cands))
	for _, c := range cands {
		if c.Confidence < cfg.MinCornerConfidence {
			continue
		}
		if math.IsNaN(c.Point.X) || math.IsNaN(c.Point.Y) || math.IsInf(c.Point.X, 0) || math.IsInf(c.Point.Y, 0) {
			continue
		}
		usable = append(usable, c)
	}
	if len(usable) < 4 {
		return nil, ErrNoCornersDetected
	}

	// Canonical order so the solve is independent of input order.
	sort.Slice(usable, func(i, j int) bool {
		a, b := usable[i], usable[j]
		if a.Point.X != b.Point.X {
			return a.Point.X < b.Point.X
		}
		if a.Point.Y != b.Point.Y {
			return a.Point.Y < b.Point.Y
		}
		return a.Confidence > b.Confidence
	})

	pts := make([]delaunay.Point, len(usable))
	for i, c := range usable {
		pts[i] = delaunay.Point{X: c.Point.X, Y: c.Point.Y}
	}
	tri, err := delaunay.Triangulate(pts)
	if err != nil || len(tri.Triangles) == 0 {
		return nil, fmt.Errorf("%w: triangulation failed", ErrGridReconstructionFailed)
	}

	seed, seedH, ok := findSeedQuad(tri, usable, cfg)
	if !ok || seed.Score < cfg.MinQuadScore {
		return nil, ErrGridReconstructionFailed
	}

	mapping, err := growLattice(seed, seedH, usable, cfg)
	if err != nil {
		return nil, err
	}
	return mapping, nil
}

func nextHalfedge(e int) int {
	if e%3 == 2 {
		return e - 2
	}
	return e + 1
}

func prevHalfedge(e int) int {
	if e%3 == 0 {
		return e + 2
	}
	return e - 1
}

// findSeedQuad enumerates adjacent triangle pairs and keeps the quad with
// the best lattice support, along with its cell->image homography.
func findSeedQuad(tri *delaunay.Triangulation, cands []CornerCandidate, cfg GridConfig) (Quad, *Homography, bool) {
	var best Quad
	var bestH *Homography
	found := false

	for e, twin := range tri.Halfedges {
		if twin < e {
			// Each interior edge is visited from both sides; keep one.
			continue
		}
		a := tri.Triangles[e]
		b := tri.Triangles[nextHalfedge(e)]
		c := tri.Triangles[prevHalfedge(e)]
		d := tri.Triangles[prevHalfedge(twin)]

		q := Quad{Corners: [4]r2.Point{
			cands[a].Point, cands[c].Point, cands[b].Point, cands[d].Point,
		}}
		if !quadUsable(&q) {
			continue
		}

		h, err := cellHomography(&q)
		if err != nil {
			continue
		}
		q.Score = scoreQuad(&q, h, cands, cfg)

		if !found || q.Score > best.Score ||
			(q.Score == best.Score && lessPoint(q.centroid(), best.centroid())) {
			best = q
			bestH = h
			found = true
		}
	}
	return best, bestH, found
}

func lessPoint(a, b r2.Point) bool {
	if a.X != b.X {
		return a.X < b.X
	}
	return a.Y < b.Y
}

// quadUsable rejects quads that cannot plausibly be a board cell: concave,
// needle-thin, or degenerate. It also fixes the winding so cell->image
// mappings never mirror the board.
func quadUsable(q *Quad) bool {
	minEdge, maxEdge := math.Inf(1), 0.0
	area := 0.0
	for i := range 4 {
		p, n := q.Corners[i], q.Corners[(i+1)%4]
		edge := n.Sub(p).Norm()
		if edge < minEdge {
			minEdge = edge
		}
		if edge > maxEdge {
			maxEdge = edge
		}
		area += p.X*n.Y - n.X*p.Y
	}
	if minEdge < 2 || maxEdge > 4*minEdge {
		return false
	}
	if area < 0 {
		// Clockwise under image coordinates; reverse to the canonical
		// winding so the fitted cell mapping preserves handedness.
		q.Corners[1], q.Corners[3] = q.Corners[3], q.Corners[1]
		area = -area
	}
	if area/2 < minEdge*minEdge/4 {
		return false
	}

	// Convexity: all turns the same way.
	for i := range 4 {
		p0 := q.Corners[i]
		p1 := q.Corners[(i+1)%4]
		p2 := q.Corners[(i+2)%4]
		cross := (p1.X-p0.X)*(p2.Y-p1.Y) - (p1.Y-p0.Y)*(p2.X-p1.X)
		if cross <= 0 {
			return false
		}
	}
	return true
}

// cellHomography maps the unit cell (0,0)..(1,1) onto the quad.
func cellHomography(q *Quad) (*Homography, error) {
	unit := []r2.Point{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}, {X: 0, Y: 1}}
	return fitHomography(unit, q.Corners[:])
}

// scoreQuad measures how well the quad extrapolates to a full lattice:
// every other candidate landing near a predicted lattice position adds its
// confidence, attenuated by how far off it sits.
func scoreQuad(q *Quad, h *Homography, cands []CornerCandidate, cfg GridConfig) float64 {
	tol := cfg.SnapTolerance * q.edgeScale()
	if tol <= 0 {
		return 0
	}

	own := make(map[r2.Point]bool, 4)
	for _, p := range q.Corners {
		own[p] = true
	}

	score := 0.0
	for i := -7; i <= 7; i++ {
		for j := -7; j <= 7; j++ {
			if (i == 0 || i == 1) && (j == 0 || j == 1) {
				continue // the quad's own corners
			}
			pred := h.Apply(r2.Point{X: float64(i), Y: float64(j)})
			bestDist := math.Inf(1)
			bestConf := 0.0
			for _, c := range cands {
				if own[c.Point] {
					continue
				}
				if d := c.Point.Sub(pred).Norm(); d < bestDist {
					bestDist = d
					bestConf = c.Confidence
				}
			}
			if bestDist <= tol {
				score += bestConf * (1 - bestDist/(2*tol))
			}
		}
	}
	return score
}

type latticeCorr struct {
	i, j int
	pt   r2.Point
	conf float64
}

// growLattice expands the seed cell to the full interior lattice: predict
// every lattice position, snap to nearby real candidates, refit, repeat.
// Positions with no nearby candidate stay extrapolated, so partial corner
// detections still yield the complete grid.
func growLattice(seed Quad, seedH *Homography, cands []CornerCandidate, cfg GridConfig) (*BoardMapping, error) {
	h := seedH
	scale := seed.edgeScale()
	var snapped []latticeCorr

	for round := 0; round < 3; round++ {
		snapped = snapLattice(h, scale, cands, cfg)
		if len(snapped) < 4 {
			break
		}
		src := make([]r2.Point, len(snapped))
		dst := make([]r2.Point, len(snapped))
		for k, s := range snapped {
			src[k] = r2.Point{X: float64(s.i), Y: float64(s.j)}
			dst[k] = s.pt
		}
		refit, err := fitHomography(src, dst)
		if err != nil {
			break
		}
		h = refit
		scale = h.Apply(r2.Point{X: 1, Y: 0}).Sub(h.Apply(r2.Point{})).Norm()
	}
	if len(snapped) < 4 {
		return nil, ErrGridReconstructionFailed
	}

	// Place the 7x7 interior window over the densest run of snapped
	// points, then shift cell coordinates so the window spans 1..7 in
	// ideal space.
	offI, offJ := bestWindow(snapped)

	src := make([]r2.Point, 0, len(snapped)+4)
	dst := make([]r2.Point, 0, len(snapped)+4)
	count := 0
	for _, s := range snapped {
		if s.i < offI || s.i > offI+6 || s.j < offJ || s.j > offJ+6 {
			continue
		}
		src = append(src, r2.Point{X: float64(s.i - offI + 1), Y: float64(s.j - offJ + 1)})
		dst = append(dst, s.pt)
		count++
	}
	if count < 4 {
		return nil, ErrGridReconstructionFailed
	}
	if count < 8 {
		// Sparse detections: anchor the fit with extrapolated outer
		// corners so the solution cannot shear away from the lattice.
		for _, c := range [][2]float64{{0, 0}, {8, 0}, {8, 8}, {0, 8}} {
			src = append(src, r2.Point{X: c[0], Y: c[1]})
			dst = append(dst, h.Apply(r2.Point{X: c[0] + float64(offI) - 1, Y: c[1] + float64(offJ) - 1}))
		}
	}

	forward, err := fitHomography(src, dst)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrGridReconstructionFailed, err)
	}
	forward = canonicalizeAxes(forward)
	inverse, err := forward.Inverse()
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrGridReconstructionFailed, err)
	}

	lattice := make([]r2.Point, 0, 49)
	for i := 1; i <= 7; i++ {
		for j := 1; j <= 7; j++ {
			lattice = append(lattice, forward.Apply(r2.Point{X: float64(i), Y: float64(j)}))
		}
	}
	if roundTripError(forward, inverse, lattice) > cfg.RoundTripTolerance {
		return nil, fmt.Errorf("%w: mapping inconsistent beyond tolerance", ErrGridReconstructionFailed)
	}

	cellScale := forward.Apply(r2.Point{X: 4.5, Y: 4}).Sub(forward.Apply(r2.Point{X: 3.5, Y: 4})).Norm()

	return &BoardMapping{
		Forward:   forward,
		Inverse:   inverse,
		CellScale: cellScale,
		Snapped:   count,
		Seed:      seed,
	}, nil
}

// snapLattice matches predicted lattice positions to real candidates,
// closest pairs first, each candidate and each position used at most once.
func snapLattice(h *Homography, scale float64, cands []CornerCandidate, cfg GridConfig) []latticeCorr {
	tol := cfg.SnapTolerance * scale
	type pair struct {
		dist float64
		i, j int
		cand int
	}
	var pairs []pair
	for i := -7; i <= 8; i++ {
		for j := -7; j <= 8; j++ {
			pred := h.Apply(r2.Point{X: float64(i), Y: float64(j)})
			for k, c := range cands {
				if d := c.Point.Sub(pred).Norm(); d <= tol {
					pairs = append(pairs, pair{d, i, j, k})
				}
			}
		}
	}
	sort.Slice(pairs, func(a, b int) bool {
		if pairs[a].dist != pairs[b].dist {
			return pairs[a].dist < pairs[b].dist
		}
		if pairs[a].cand != pairs[b].cand {
			return pairs[a].cand < pairs[b].cand
		}
		if pairs[a].i != pairs[b].i {
			return pairs[a].i < pairs[b].i
		}
		return pairs[a].j < pairs[b].j
	})

	usedCand := make(map[int]bool)
	usedPos := make(map[[2]int]bool)
	var out []latticeCorr
	for _, p := range pairs {
		if usedCand[p.cand] || usedPos[[2]int{p.i, p.j}] {
			continue
		}
		usedCand[p.cand] = true
		usedPos[[2]int{p.i, p.j}] = true
		out = append(out, latticeCorr{i: p.i, j: p.j, pt: cands[p.cand].Point, conf: cands[p.cand].Confidence})
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].i != out[b].i {
			return out[a].i < out[b].i
		}
		return out[a].j < out[b].j
	})
	return out
}

// Quarter-turn rotations of ideal space about the board center, as
// homographies. Identity first so it wins ties.
var boardRotations = []*Homography{
	{m: [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}},
	{m: [9]float64{0, 1, 0, -1, 0, 8, 0, 0, 1}},
	{m: [9]float64{-1, 0, 8, 0, -1, 8, 0, 0, 1}},
	{m: [9]float64{0, -1, 8, 1, 0, 0, 0, 0, 1}},
}

// canonicalizeAxes picks, among the four quarter-turn relabelings of the
// lattice, the one where ideal +x tracks image +x and ideal +y tracks
// image +y near the board center. The seed quad's axes are arbitrary;
// without this the solved files and ranks could come out transposed. The
// remaining 180-degree ambiguity is left to the orientation resolver.
func canonicalizeAxes(forward *Homography) *Homography {
	best := forward
	bestScore := math.Inf(-1)
	for _, rot := range boardRotations {
		cand := forward.compose(rot)
		origin := cand.Apply(r2.Point{X: 4, Y: 4})
		a := cand.Apply(r2.Point{X: 5, Y: 4}).Sub(origin)
		b := cand.Apply(r2.Point{X: 4, Y: 5}).Sub(origin)
		if score := a.X + b.Y; score > bestScore {
			bestScore = score
			best = cand
		}
	}
	return best
}

// bestWindow finds the 7x7 cell-coordinate window covering the most
// snapped lattice points. Scanning order makes ties deterministic.
func bestWindow(snapped []latticeCorr) (int, int) {
	bestI, bestJ, bestCount := 0, 0, -1
	for a := -7; a <= 2; a++ {
		for b := -7; b <= 2; b++ {
			count := 0
			for _, s := range snapped {
				if s.i >= a && s.i <= a+6 && s.j >= b && s.j <= b+6 {
					count++
				}
			}
			if count > bestCount {
				bestI, bestJ, bestCount = a, b, count
			}
		}
	}
	return bestI, bestJ
}
