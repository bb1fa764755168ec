package chessvision

import (
	"image"
	"math"
	"sort"

	"github.com/golang/geo/r2"
)

// LineCornerCandidates extracts grid-crossing candidates from a raw
// image when no dedicated corner detector is available. It runs a Sobel
// edge pass and a Hough transform, keeps the strongest lines in each of
// the two dominant orientations, and emits their pairwise intersections
// as candidates. Confidence is the lesser of the two lines' vote counts
// normalized against the strongest line seen.
func LineCornerCandidates(img image.Image) []CornerCandidate {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width < 16 || height < 16 {
		return nil
	}

	gray := grayPlane(img)
	edges := sobelMagnitude(gray, width, height)
	lines := houghLines(edges, width, height, 50)
	if len(lines) < 4 {
		return nil
	}

	// Split by orientation. The board's two line families sit roughly a
	// quarter turn apart regardless of camera roll, so split at the
	// midpoints of the circular theta distribution's two modes.
	rising, falling := splitByOrientation(lines)
	if len(rising) < 2 || len(falling) < 2 {
		return nil
	}

	const maxPerFamily = 12
	if len(rising) > maxPerFamily {
		rising = rising[:maxPerFamily]
	}
	if len(falling) > maxPerFamily {
		falling = falling[:maxPerFamily]
	}

	topVotes := lines[0].votes
	var out []CornerCandidate
	for _, a := range rising {
		for _, b := range falling {
			pt, ok := intersectLines(a, b)
			if !ok {
				continue
			}
			if pt.X < 0 || pt.X >= float64(width) || pt.Y < 0 || pt.Y >= float64(height) {
				continue
			}
			out = append(out, CornerCandidate{
				Point:      pt,
				Confidence: float64(min(a.votes, b.votes)) / float64(topVotes),
			})
		}
	}
	return out
}

// houghLine is a line in the form rho = x*cos(theta) + y*sin(theta).
type houghLine struct {
	rho   float64
	theta float64
	votes int
}

func grayPlane(img image.Image) [][]int {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	gray := make([][]int, height)
	for y := range height {
		gray[y] = make([]int, width)
		for x := range width {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			gray[y][x] = (int(r>>8) + int(g>>8) + int(b>>8)) / 3
		}
	}
	return gray
}

func sobelMagnitude(gray [][]int, width, height int) [][]int {
	edges := make([][]int, height)
	for y := range height {
		edges[y] = make([]int, width)
	}

	for y := 1; y < height-1; y++ {
		for x := 1; x < width-1; x++ {
			gx := -gray[y-1][x-1] + gray[y-1][x+1] +
				-2*gray[y][x-1] + 2*gray[y][x+1] +
				-gray[y+1][x-1] + gray[y+1][x+1]

			gy := -gray[y-1][x-1] - 2*gray[y-1][x] - gray[y-1][x+1] +
				gray[y+1][x-1] + 2*gray[y+1][x] + gray[y+1][x+1]

			mag := int(math.Sqrt(float64(gx*gx + gy*gy)))
			if mag > 255 {
				mag = 255
			}
			edges[y][x] = mag
		}
	}

	return edges
}

func houghLines(edges [][]int, width, height, edgeThreshold int) []houghLine {
	maxRho := int(math.Sqrt(float64(width*width + height*height)))
	numThetas := 180

	accumulator := make([][]int, 2*maxRho+1)
	for i := range accumulator {
		accumulator[i] = make([]int, numThetas)
	}

	cosTheta := make([]float64, numThetas)
	sinTheta := make([]float64, numThetas)
	for t := 0; t < numThetas; t++ {
		theta := float64(t) * math.Pi / float64(numThetas)
		cosTheta[t] = math.Cos(theta)
		sinTheta[t] = math.Sin(theta)
	}

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if edges[y][x] < edgeThreshold {
				continue
			}
			for t := 0; t < numThetas; t++ {
				rho := float64(x)*cosTheta[t] + float64(y)*sinTheta[t]
				rhoIdx := int(rho) + maxRho
				if rhoIdx >= 0 && rhoIdx < 2*maxRho+1 {
					accumulator[rhoIdx][t]++
				}
			}
		}
	}

	var lines []houghLine
	voteThreshold := 100

	for rhoIdx := 0; rhoIdx < 2*maxRho+1; rhoIdx++ {
		for t := 0; t < numThetas; t++ {
			if accumulator[rhoIdx][t] < voteThreshold {
				continue
			}

			// 5x5 local maximum check keeps one peak per line.
			isMax := true
			for dr := -2; dr <= 2 && isMax; dr++ {
				for dt := -2; dt <= 2 && isMax; dt++ {
					if dr == 0 && dt == 0 {
						continue
					}
					nRho := rhoIdx + dr
					nT := (t + dt + numThetas) % numThetas
					if nRho >= 0 && nRho < 2*maxRho+1 {
						if accumulator[nRho][nT] > accumulator[rhoIdx][t] {
							isMax = false
						}
					}
				}
			}

			if isMax {
				lines = append(lines, houghLine{
					rho:   float64(rhoIdx - maxRho),
					theta: float64(t) * math.Pi / float64(numThetas),
					votes: accumulator[rhoIdx][t],
				})
			}
		}
	}

	sort.Slice(lines, func(i, j int) bool {
		return lines[i].votes > lines[j].votes
	})

	return lines
}

// splitByOrientation partitions lines into the two grid families using
// the strongest line's orientation as the reference axis.
func splitByOrientation(lines []houghLine) (near, far []houghLine) {
	ref := lines[0].theta
	for _, l := range lines {
		d := math.Abs(l.theta - ref)
		if d > math.Pi/2 {
			d = math.Pi - d
		}
		if d < math.Pi/4 {
			near = append(near, l)
		} else {
			far = append(far, l)
		}
	}
	return near, far
}

func intersectLines(l1, l2 houghLine) (r2.Point, bool) {
	c1, s1 := math.Cos(l1.theta), math.Sin(l1.theta)
	c2, s2 := math.Cos(l2.theta), math.Sin(l2.theta)

	det := c1*s2 - c2*s1
	if math.Abs(det) < 1e-10 {
		return r2.Point{}, false
	}

	return r2.Point{
		X: (s2*l1.rho - s1*l2.rho) / det,
		Y: (c1*l2.rho - c2*l1.rho) / det,
	}, true
}
