package viewer

import (
	"fmt"
	"image/color"
	"io"
	"math"
	"sort"

	"github.com/banshee-data/pcdtools/internal/cloud"
	"github.com/banshee-data/pcdtools/internal/monitoring"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// palette colours clouds that carry no per-point colours, by cloud index.
var palette = []color.RGBA{
	{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff},
	{R: 0xff, G: 0x7f, B: 0x0e, A: 0xff},
	{R: 0x2c, G: 0xa0, B: 0x2c, A: 0xff},
	{R: 0xd6, G: 0x27, B: 0x28, A: 0xff},
	{R: 0x94, G: 0x67, B: 0xbd, A: 0xff},
}

var normalColor = color.RGBA{R: 0x30, G: 0x30, B: 0x30, A: 0xff}

// vgimg rasterises at 96 dpi while vg lengths are in points.
const pixelsPerPoint = 96.0 / 72.0

// projected is one point in view space ready for drawing.
type projected struct {
	u, v, depth float64
	color       color.Color
	// tip of the normal glyph in view space, valid when hasNormal.
	nu, nv    float64
	hasNormal bool
}

// RenderPNG draws the clouds as seen through p and writes a PNG image to w.
// Points are painted back to front so nearer points cover farther ones.
func RenderPNG(w io.Writer, p ViewParams, clouds ...*cloud.PointCloud) error {
	defer monitoring.Timed("render png")()

	layer, cam, err := projectScene(p, clouds)
	if err != nil {
		return err
	}

	plt := plot.New()
	plt.HideAxes()
	plt.BackgroundColor = color.White

	plt.Add(layer)

	// Add widens the axes to the data; pin them to the camera frustum.
	aspect := float64(p.Width) / float64(p.Height)
	plt.X.Min, plt.X.Max = -cam.HalfExtent*aspect, cam.HalfExtent*aspect
	plt.Y.Min, plt.Y.Max = -cam.HalfExtent, cam.HalfExtent

	wt, err := plt.WriterTo(vg.Length(float64(p.Width)/pixelsPerPoint), vg.Length(float64(p.Height)/pixelsPerPoint), "png")
	if err != nil {
		return fmt.Errorf("failed to create png canvas: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write png: %w", err)
	}
	return nil
}

// projectScene validates the inputs and projects every point of every cloud.
func projectScene(p ViewParams, clouds []*cloud.PointCloud) (*pointLayer, *Camera, error) {
	if totalPoints(clouds) == 0 {
		return nil, nil, fmt.Errorf("%w: nothing to render", cloud.ErrEmptyCloud)
	}
	for i, c := range clouds {
		if c.IsEmpty() {
			continue
		}
		if err := c.Validate(); err != nil {
			return nil, nil, fmt.Errorf("cloud %d: %w", i, err)
		}
	}
	cam, err := NewCamera(p, sceneBounds(clouds))
	if err != nil {
		return nil, nil, err
	}

	layer := &pointLayer{
		radius: vg.Points(0.75),
		pts:    make([]projected, 0, totalPoints(clouds)),
	}
	nl := cam.normalLength()
	for ci, c := range clouds {
		base := palette[ci%len(palette)]
		showNormals := p.ShowNormals && c.HasNormals()
		for i, pt := range c.Points {
			u, v, d := cam.Project(pt)
			pp := projected{u: u, v: v, depth: d, color: base}
			if c.HasColors() {
				pp.color = toRGBA(c.Colors[i])
			}
			if showNormals && r3.Norm2(c.Normals[i]) > 0 {
				pp.nu, pp.nv, _ = cam.Project(r3.Add(pt, r3.Scale(nl, c.Normals[i])))
				pp.hasNormal = true
			}
			layer.pts = append(layer.pts, pp)
		}
	}
	sort.SliceStable(layer.pts, func(i, j int) bool { return layer.pts[i].depth > layer.pts[j].depth })
	return layer, cam, nil
}

func toRGBA(c r3.Vec) color.RGBA {
	return color.RGBA{R: unit8(c.X), G: unit8(c.Y), B: unit8(c.Z), A: 0xff}
}

func unit8(v float64) uint8 {
	if !(v > 0) {
		return 0
	}
	if v >= 1 {
		return 0xff
	}
	return uint8(math.Round(v * 255))
}

// pointLayer is a plot.Plotter drawing pre-sorted projected points and their
// normal glyphs.
type pointLayer struct {
	radius vg.Length
	pts    []projected
}

// Plot implements plot.Plotter.
func (l *pointLayer) Plot(c draw.Canvas, plt *plot.Plot) {
	trX, trY := plt.Transforms(&c)
	line := draw.LineStyle{Color: normalColor, Width: vg.Points(0.5)}
	for _, p := range l.pts {
		at := vg.Point{X: trX(p.u), Y: trY(p.v)}
		if !c.Contains(at) {
			continue
		}
		c.DrawGlyph(draw.GlyphStyle{Color: p.color, Radius: l.radius, Shape: draw.CircleGlyph{}}, at)
		if p.hasNormal {
			c.StrokeLine2(line, at.X, at.Y, trX(p.nu), trY(p.nv))
		}
	}
}

// DataRange implements plot.DataRanger.
func (l *pointLayer) DataRange() (xmin, xmax, ymin, ymax float64) {
	xmin, ymin = math.Inf(1), math.Inf(1)
	xmax, ymax = math.Inf(-1), math.Inf(-1)
	for _, p := range l.pts {
		xmin, xmax = math.Min(xmin, p.u), math.Max(xmax, p.u)
		ymin, ymax = math.Min(ymin, p.v), math.Max(ymax, p.v)
	}
	return xmin, xmax, ymin, ymax
}
