package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang/geo/r2"

	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/rimage"

	"chessvision"
)

type frameFile struct {
	Frames []frameInput `json:"frames"`
}

type frameInput struct {
	Corners [][3]float64 `json:"corners"`
	Pieces  []pieceInput `json:"pieces"`
}

type pieceInput struct {
	Box        [4]float64 `json:"box"`
	Label      string     `json:"label"`
	Confidence float64    `json:"confidence"`
}

func main() {
	imagePath := flag.String("image", "", "run line-based corner detection on a single image")
	framesPath := flag.String("frames", "", "feed a JSON file of detection frames through the tracker")
	outPath := flag.String("out", "", "output image path for -image (default <input>_output.<ext>)")
	flag.Parse()

	var err error
	switch {
	case *imagePath != "":
		err = runImage(*imagePath, *outPath)
	case *framesPath != "":
		err = runFrames(*framesPath)
	default:
		fmt.Fprintf(os.Stderr, "Usage: %s -image <input.jpg> | -frames <frames.json>\n", os.Args[0])
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runImage(inputFile, outputFile string) error {
	if outputFile == "" {
		ext := filepath.Ext(inputFile)
		outputFile = strings.TrimSuffix(inputFile, ext) + "_output" + ext
	}

	input, err := rimage.ReadImageFromFile(inputFile)
	if err != nil {
		return fmt.Errorf("reading image: %w", err)
	}

	fmt.Printf("Image size: %dx%d\n", input.Bounds().Dx(), input.Bounds().Dy())

	candidates := chessvision.LineCornerCandidates(input)
	fmt.Printf("Found %d corner candidates\n", len(candidates))

	mapping, err := chessvision.SolveGrid(candidates, chessvision.DefaultGridConfig())
	if err != nil {
		return fmt.Errorf("solving grid: %w", err)
	}
	fmt.Printf("Grid solved, %d candidates snapped\n", mapping.Snapped)

	proj := chessvision.NewProjector(mapping, chessvision.OrientationUnknown)
	output := chessvision.DrawLattice(input, proj)

	if err := rimage.WriteImageToFile(outputFile, output); err != nil {
		return fmt.Errorf("writing output image: %w", err)
	}
	fmt.Printf("Saved output image to %s\n", outputFile)
	return nil
}

func runFrames(framesFile string) error {
	raw, err := os.ReadFile(framesFile)
	if err != nil {
		return err
	}

	var ff frameFile
	if err := json.Unmarshal(raw, &ff); err != nil {
		return fmt.Errorf("parsing %s: %w", framesFile, err)
	}
	if len(ff.Frames) == 0 {
		return fmt.Errorf("no frames in %s", framesFile)
	}

	logger := logging.NewLogger("boardtracker")
	session := chessvision.NewSession(chessvision.DefaultConfig(), logger)
	ctx := context.Background()

	for i, in := range ff.Frames {
		frame := chessvision.Frame{}
		for _, c := range in.Corners {
			frame.Corners = append(frame.Corners, chessvision.CornerCandidate{
				Point:      r2.Point{X: c[0], Y: c[1]},
				Confidence: c[2],
			})
		}
		for _, p := range in.Pieces {
			piece, err := chessvision.ParsePieceLabel(p.Label)
			if err != nil {
				logger.Warnf("frame %d: skipping unknown label %q", i, p.Label)
				continue
			}
			frame.Pieces = append(frame.Pieces, chessvision.PieceDetection{
				Box:        p.Box,
				Class:      piece,
				Confidence: p.Confidence,
			})
		}

		report, err := session.ProcessFrame(ctx, frame)
		if err != nil {
			return err
		}

		status := "grid:prior"
		if report.GridSolved {
			status = "grid:solved"
		} else if report.GridErr != nil {
			status = fmt.Sprintf("grid:failed (%v)", report.GridErr)
		}
		fmt.Printf("frame %d: %s orient:%s assigned:%d dropped:%d\n",
			i, status, report.Orientation, len(report.Assignments), report.DroppedDetections)
	}

	result := session.CurrentResult()
	fmt.Printf("\nFEN: %s\n", result.FEN)
	for _, w := range result.Warnings {
		fmt.Printf("warning: %s\n", w)
	}
	return nil
}
