package viewer

import (
	"fmt"
	"io"

	"github.com/banshee-data/pcdtools/internal/cloud"
	"github.com/banshee-data/pcdtools/internal/monitoring"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/gonum/spatial/r3"
)

// maxHTMLPoints caps the points embedded in one HTML page; larger scenes are
// strided evenly.
const maxHTMLPoints = 60000

// RenderHTML writes an interactive 3D scatter of the clouds to w. When
// p.ShowNormals is set the tips of the normal glyphs are added as a second
// series per cloud.
//
// The page opens at the chart's default orbit and keeps Z up; the requested
// pose is listed in the subtitle. RenderPNG draws the pose itself.
func RenderHTML(w io.Writer, p ViewParams, clouds ...*cloud.PointCloud) error {
	defer monitoring.Timed("render html")()

	total := totalPoints(clouds)
	if total == 0 {
		return fmt.Errorf("%w: nothing to render", cloud.ErrEmptyCloud)
	}
	cam, err := NewCamera(p, sceneBounds(clouds))
	if err != nil {
		return err
	}

	stride := 1
	if total > maxHTMLPoints {
		stride = (total + maxHTMLPoints - 1) / maxHTMLPoints
	}

	scatter := charts.NewScatter3D()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: "Point cloud",
			Width:     fmt.Sprintf("%dpx", p.Width),
			Height:    fmt.Sprintf("%dpx", p.Height),
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Point cloud",
			Subtitle: fmt.Sprintf("clouds=%d points=%d stride=%d zoom=%g front=%s lookat=%s up=%s",
				len(clouds), total, stride, p.Zoom, fmtVec(p.Front), fmtVec(p.LookAt), fmtVec(p.Up)),
		}),
		charts.WithXAxis3DOpts(opts.XAxis3D{Name: "X"}),
		charts.WithYAxis3DOpts(opts.YAxis3D{Name: "Y"}),
		charts.WithZAxis3DOpts(opts.ZAxis3D{Name: "Z"}),
	)

	nl := cam.normalLength()
	for ci, c := range clouds {
		if c.IsEmpty() {
			continue
		}
		if err := c.Validate(); err != nil {
			return fmt.Errorf("cloud %d: %w", ci, err)
		}
		base := palette[ci%len(palette)]
		data := make([]opts.Chart3DData, 0, c.Len()/stride+1)
		var tips []opts.Chart3DData
		for i := 0; i < c.Len(); i += stride {
			pt := c.Points[i]
			d := opts.Chart3DData{Value: []interface{}{pt.X, pt.Y, pt.Z}}
			col := base
			if c.HasColors() {
				col = toRGBA(c.Colors[i])
			}
			d.ItemStyle = &opts.ItemStyle{Color: fmt.Sprintf("rgb(%d,%d,%d)", col.R, col.G, col.B)}
			data = append(data, d)

			if p.ShowNormals && c.HasNormals() && r3.Norm2(c.Normals[i]) > 0 {
				tip := r3.Add(pt, r3.Scale(nl, c.Normals[i]))
				tips = append(tips, opts.Chart3DData{Value: []interface{}{tip.X, tip.Y, tip.Z}})
			}
		}
		name := fmt.Sprintf("cloud %d", ci)
		scatter.AddSeries(name, data)
		if len(tips) > 0 {
			scatter.AddSeries(name+" normals", tips)
		}
	}

	if err := scatter.Render(w); err != nil {
		return fmt.Errorf("failed to render html: %w", err)
	}
	return nil
}

func fmtVec(v r3.Vec) string { return fmt.Sprintf("[%g %g %g]", v.X, v.Y, v.Z) }
