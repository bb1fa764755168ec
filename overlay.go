package chessvision

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/mitchellh/mapstructure"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"go.viam.com/rdk/components/camera"
	"go.viam.com/rdk/data"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/pointcloud"
	"go.viam.com/rdk/resource"
	generic "go.viam.com/rdk/services/generic"
	"go.viam.com/rdk/spatialmath"
)

var OverlayCameraModel = family.WithModel("overlay-camera")

func init() {
	resource.RegisterComponent(camera.API, OverlayCameraModel,
		resource.Registration[camera.Camera, *OverlayCameraConfig]{
			Constructor: newOverlayCamera,
		},
	)
}

type OverlayCameraConfig struct {
	Input   string `json:"input"`
	Tracker string `json:"tracker"`
}

func (cfg *OverlayCameraConfig) Validate(path string) ([]string, []string, error) {
	if cfg.Input == "" {
		return nil, nil, fmt.Errorf("need an input")
	}
	if cfg.Tracker == "" {
		return nil, nil, fmt.Errorf("need a tracker")
	}
	return []string{cfg.Input, cfg.Tracker}, nil, nil
}

func newOverlayCamera(ctx context.Context, deps resource.Dependencies, rawConf resource.Config, logger logging.Logger) (camera.Camera, error) {
	conf, err := resource.NativeConfig[*OverlayCameraConfig](rawConf)
	if err != nil {
		return nil, err
	}

	return NewOverlayCamera(ctx, deps, rawConf.ResourceName(), conf, logger)
}

func NewOverlayCamera(ctx context.Context, deps resource.Dependencies, name resource.Name, conf *OverlayCameraConfig, logger logging.Logger) (camera.Camera, error) {
	var err error

	oc := &OverlayCamera{
		name:   name,
		conf:   conf,
		logger: logger,
	}

	oc.input, err = camera.FromProvider(deps, conf.Input)
	if err != nil {
		return nil, err
	}

	oc.tracker, err = generic.FromProvider(deps, conf.Tracker)
	if err != nil {
		return nil, err
	}

	return oc, nil
}

// OverlayCamera mirrors its input camera with the tracker's current
// lattice, square centers, and piece assignments drawn on top.
type OverlayCamera struct {
	resource.AlwaysRebuild
	resource.TriviallyCloseable

	name   resource.Name
	conf   *OverlayCameraConfig
	logger logging.Logger

	input   camera.Camera
	tracker resource.Resource
}

type overlayAssignment struct {
	Square     string
	Label      string
	Confidence float64
	X, Y       float64
}

type overlaySnapshot struct {
	Orientation string
	Frames      int
	Solved      bool
	Lattice     [][]float64
	Centers     [][]float64
	Assignments []overlayAssignment
}

func (oc *OverlayCamera) Image(ctx context.Context, mimeType string, extra map[string]interface{}) ([]byte, camera.ImageMetadata, error) {
	return camera.GetImageFromGetImages(ctx, nil, oc, extra, nil)
}

func (oc *OverlayCamera) Images(ctx context.Context, filterSourceNames []string, extra map[string]interface{}) ([]camera.NamedImage, resource.ResponseMetadata, error) {
	ni, rm, err := oc.input.Images(ctx, nil, extra)
	if err != nil {
		return nil, rm, err
	}
	if len(ni) == 0 {
		return nil, rm, fmt.Errorf("no images returned from input camera")
	}

	srcImg, err := ni[0].Image(ctx)
	if err != nil {
		return nil, rm, err
	}

	snap, err := oc.fetchSnapshot(ctx)
	if err != nil {
		oc.logger.Warnf("tracker snapshot failed, passing image through: %v", err)
		snap = &overlaySnapshot{}
	}

	dst := DrawOverlay(srcImg, snap)

	result, err := camera.NamedImageFromImage(dst, ni[0].SourceName, "", data.Annotations{})
	if err != nil {
		return nil, rm, err
	}
	return []camera.NamedImage{result}, rm, nil
}

func (oc *OverlayCamera) fetchSnapshot(ctx context.Context) (*overlaySnapshot, error) {
	raw, err := oc.tracker.DoCommand(ctx, map[string]interface{}{"snapshot": true})
	if err != nil {
		return nil, err
	}
	var snap overlaySnapshot
	if err := mapstructure.Decode(raw, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// DrawOverlay renders the snapshot onto a copy of the source image:
// small dots at every lattice intersection, crosses and labels at each
// assigned piece, and a status line in the top-left corner.
func DrawOverlay(srcImg image.Image, snap *overlaySnapshot) image.Image {
	bounds := srcImg.Bounds()
	dst := image.NewRGBA(bounds)
	draw.Draw(dst, bounds, srcImg, bounds.Min, draw.Src)

	latticeColor := color.RGBA{0, 255, 0, 255}
	pieceColor := color.RGBA{255, 0, 0, 255}
	textColor := color.RGBA{255, 255, 0, 255}

	for _, p := range snap.Lattice {
		if len(p) == 2 {
			drawDot(dst, int(p[0]), int(p[1]), 2, latticeColor)
		}
	}

	for _, a := range snap.Assignments {
		x, y := int(a.X), int(a.Y)
		drawCross(dst, x, y, 6, pieceColor)
		drawString(dst, x+8, y-8, fmt.Sprintf("%s@%s", a.Label, a.Square), textColor)
	}

	status := fmt.Sprintf("frames:%d orient:%s", snap.Frames, snap.Orientation)
	if !snap.Solved {
		status += " (no grid)"
	}
	drawString(dst, bounds.Min.X+5, bounds.Min.Y+15, status, textColor)

	return dst
}

// DrawLattice renders a solved grid onto a copy of the source image:
// dots at every lattice intersection and crosses at the four outer
// board corners.
func DrawLattice(srcImg image.Image, proj *Projector) image.Image {
	bounds := srcImg.Bounds()
	dst := image.NewRGBA(bounds)
	draw.Draw(dst, bounds, srcImg, bounds.Min, draw.Src)

	latticeColor := color.RGBA{0, 255, 0, 255}
	cornerColor := color.RGBA{255, 0, 0, 255}

	for j := 0; j <= 8; j++ {
		for i := 0; i <= 8; i++ {
			p := proj.LatticePoint(i, j)
			drawDot(dst, int(p.X), int(p.Y), 2, latticeColor)
		}
	}
	for _, ij := range [4][2]int{{0, 0}, {8, 0}, {8, 8}, {0, 8}} {
		p := proj.LatticePoint(ij[0], ij[1])
		drawCross(dst, int(p.X), int(p.Y), 10, cornerColor)
	}

	return dst
}

func drawDot(dst *image.RGBA, cx, cy, r int, c color.Color) {
	for dy := -r; dy <= r; dy++ {
		for dx := -r; dx <= r; dx++ {
			if dx*dx+dy*dy <= r*r {
				dst.Set(cx+dx, cy+dy, c)
			}
		}
	}
}

func drawCross(dst *image.RGBA, cx, cy, r int, c color.Color) {
	for d := -r; d <= r; d++ {
		dst.Set(cx+d, cy, c)
		dst.Set(cx, cy+d, c)
	}
}

func drawString(dst *image.RGBA, x, y int, s string, c color.Color) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(s)
}

func (oc *OverlayCamera) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	return nil, fmt.Errorf("DoCommand not supported")
}

func (oc *OverlayCamera) NextPointCloud(ctx context.Context, extra map[string]interface{}) (pointcloud.PointCloud, error) {
	return nil, fmt.Errorf("NextPointCloud not supported")
}

func (oc *OverlayCamera) Properties(ctx context.Context) (camera.Properties, error) {
	return camera.Properties{}, nil
}

func (oc *OverlayCamera) Geometries(ctx context.Context, extra map[string]interface{}) ([]spatialmath.Geometry, error) {
	return nil, nil
}

func (oc *OverlayCamera) Name() resource.Name {
	return oc.name
}
