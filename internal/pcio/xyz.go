package pcio

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/banshee-data/pcdtools/internal/cloud"
	"gonum.org/v1/gonum/spatial/r3"
)

// decodeText reads the whitespace-separated formats. Blank lines and lines
// starting with '#' are skipped. Columns beyond those the format names are
// ignored.
func decodeText(r *bufio.Reader, format Format) (*cloud.PointCloud, error) {
	c := &cloud.PointCloud{}
	switch format {
	case FormatXYZN:
		c.Normals = []r3.Vec{}
	case FormatXYZRGB:
		c.Colors = []r3.Vec{}
	}

	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 64*1024), 1<<20)
	line := 0
	for s.Scan() {
		line++
		text := strings.TrimSpace(s.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)

		// .pts files may start with a bare point count.
		if format == FormatPTS && len(c.Points) == 0 && len(fields) == 1 {
			if _, err := strconv.Atoi(fields[0]); err == nil {
				continue
			}
		}

		want := 3
		switch format {
		case FormatXYZN, FormatXYZRGB:
			want = 6
		}
		if len(fields) < want {
			return nil, formatErrorf("%s: line %d has %d columns, need %d", format, line, len(fields), want)
		}

		vals, err := parseFloats(fields)
		if err != nil {
			return nil, fmt.Errorf("%s: line %d: %w", format, line, err)
		}
		c.Points = append(c.Points, r3.Vec{X: vals[0], Y: vals[1], Z: vals[2]})

		switch format {
		case FormatXYZN:
			c.Normals = append(c.Normals, r3.Vec{X: vals[3], Y: vals[4], Z: vals[5]})
		case FormatXYZRGB:
			c.Colors = append(c.Colors, r3.Vec{X: vals[3], Y: vals[4], Z: vals[5]})
		case FormatPTS:
			if err := appendPTSColor(c, vals, line); err != nil {
				return nil, err
			}
		}
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", format, cloud.ErrFileFormat, err)
	}
	return c, nil
}

// appendPTSColor handles the optional "intensity r g b" tail of .pts rows.
// Colour is either on every row or on none.
func appendPTSColor(c *cloud.PointCloud, vals []float64, line int) error {
	var rgb []float64
	switch len(vals) {
	case 6:
		rgb = vals[3:6]
	case 7:
		rgb = vals[4:7]
	}

	first := len(c.Points) == 1
	switch {
	case rgb != nil && (first || c.Colors != nil):
		c.Colors = append(c.Colors, r3.Vec{X: rgb[0] / 255, Y: rgb[1] / 255, Z: rgb[2] / 255})
	case rgb == nil && c.Colors == nil:
	default:
		return formatErrorf("pts: line %d: inconsistent colour columns", line)
	}
	return nil
}

func parseFloats(fields []string) ([]float64, error) {
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, formatErrorf("invalid number %q", f)
		}
		out[i] = v
	}
	return out, nil
}

func encodeText(w *bufio.Writer, c *cloud.PointCloud, format Format) error {
	switch format {
	case FormatXYZN:
		if !c.HasNormals() && !c.IsEmpty() {
			return fmt.Errorf("xyzn: cloud has no normals: %w", cloud.ErrInvalidParameter)
		}
	case FormatXYZRGB:
		if !c.HasColors() && !c.IsEmpty() {
			return fmt.Errorf("xyzrgb: cloud has no colours: %w", cloud.ErrInvalidParameter)
		}
	case FormatPTS:
		fmt.Fprintf(w, "%d\n", c.Len())
	}

	for i, p := range c.Points {
		row := []string{ftoa(p.X), ftoa(p.Y), ftoa(p.Z)}
		switch format {
		case FormatXYZN:
			n := c.Normals[i]
			row = append(row, ftoa(n.X), ftoa(n.Y), ftoa(n.Z))
		case FormatXYZRGB:
			col := c.Colors[i]
			row = append(row, ftoa(col.X), ftoa(col.Y), ftoa(col.Z))
		case FormatPTS:
			if c.HasColors() {
				col := c.Colors[i]
				row = append(row,
					strconv.Itoa(int(toByte(col.X))),
					strconv.Itoa(int(toByte(col.Y))),
					strconv.Itoa(int(toByte(col.Z))))
			}
		}
		if _, err := fmt.Fprintln(w, strings.Join(row, " ")); err != nil {
			return err
		}
	}
	return nil
}
