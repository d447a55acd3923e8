package pcio

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/banshee-data/pcdtools/internal/cloud"
	"gonum.org/v1/gonum/spatial/r3"
)

const (
	plyASCII     = "ascii"
	plyBinaryLE  = "binary_little_endian"
	plyBinaryBE  = "binary_big_endian"
	maxPLYHeader = 4096 // header lines, guards against non-PLY input
)

type plyProperty struct {
	name      string
	kind      scalarKind // element type for lists
	isList    bool
	countKind scalarKind
}

type plyElement struct {
	name  string
	count int
	props []plyProperty
}

type plyHeader struct {
	format   string
	elements []plyElement
}

// vertexLayout holds the property positions of interest in the vertex element.
// A value of -1 means the property is absent.
type vertexLayout struct {
	pos    [3]int
	normal [3]int
	color  [3]int
}

func (l vertexLayout) hasNormals() bool { return l.normal[0] >= 0 && l.normal[1] >= 0 && l.normal[2] >= 0 }
func (l vertexLayout) hasColors() bool  { return l.color[0] >= 0 && l.color[1] >= 0 && l.color[2] >= 0 }

func readHeaderLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line != "" {
			return strings.TrimSpace(line), nil
		}
		if errors.Is(err, io.EOF) {
			return "", formatErrorf("unexpected end of header")
		}
		return "", fmt.Errorf("read header: %w: %w", cloud.ErrFileFormat, err)
	}
	return strings.TrimSpace(line), nil
}

func readPLYHeader(r *bufio.Reader) (*plyHeader, error) {
	magic, err := readHeaderLine(r)
	if err != nil {
		return nil, err
	}
	if magic != "ply" {
		return nil, formatErrorf("ply: bad magic %q", magic)
	}

	h := &plyHeader{}
	for i := 0; ; i++ {
		if i > maxPLYHeader {
			return nil, formatErrorf("ply: header too long")
		}
		line, err := readHeaderLine(r)
		if err != nil {
			return nil, err
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "end_header":
			if h.format == "" {
				return nil, formatErrorf("ply: missing format line")
			}
			return h, nil
		case "comment", "obj_info":
		case "format":
			if len(fields) < 2 {
				return nil, formatErrorf("ply: malformed format line %q", line)
			}
			switch fields[1] {
			case plyASCII, plyBinaryLE, plyBinaryBE:
				h.format = fields[1]
			default:
				return nil, formatErrorf("ply: unsupported format %q", fields[1])
			}
		case "element":
			if len(fields) < 3 {
				return nil, formatErrorf("ply: malformed element line %q", line)
			}
			count, err := strconv.Atoi(fields[2])
			if err != nil || count < 0 {
				return nil, formatErrorf("ply: invalid element count %q", fields[2])
			}
			h.elements = append(h.elements, plyElement{name: fields[1], count: count})
		case "property":
			if len(h.elements) == 0 {
				return nil, formatErrorf("ply: property before element")
			}
			prop, err := parsePLYProperty(fields[1:])
			if err != nil {
				return nil, err
			}
			el := &h.elements[len(h.elements)-1]
			el.props = append(el.props, prop)
		default:
			return nil, formatErrorf("ply: unknown header keyword %q", fields[0])
		}
	}
}

func parsePLYProperty(parts []string) (plyProperty, error) {
	if len(parts) >= 1 && parts[0] == "list" {
		if len(parts) < 4 {
			return plyProperty{}, formatErrorf("ply: invalid list property %q", strings.Join(parts, " "))
		}
		countKind, kind := plyKind(parts[1]), plyKind(parts[2])
		if !countKind.isInteger() || kind == kindInvalid {
			return plyProperty{}, formatErrorf("ply: invalid list types %q %q", parts[1], parts[2])
		}
		return plyProperty{name: parts[3], kind: kind, isList: true, countKind: countKind}, nil
	}
	if len(parts) < 2 {
		return plyProperty{}, formatErrorf("ply: invalid property %q", strings.Join(parts, " "))
	}
	kind := plyKind(parts[0])
	if kind == kindInvalid {
		return plyProperty{}, formatErrorf("ply: unknown property type %q", parts[0])
	}
	return plyProperty{name: parts[1], kind: kind}, nil
}

func layoutFor(el plyElement) (vertexLayout, error) {
	l := vertexLayout{pos: [3]int{-1, -1, -1}, normal: [3]int{-1, -1, -1}, color: [3]int{-1, -1, -1}}
	for i, p := range el.props {
		if p.isList {
			continue
		}
		switch p.name {
		case "x":
			l.pos[0] = i
		case "y":
			l.pos[1] = i
		case "z":
			l.pos[2] = i
		case "nx":
			l.normal[0] = i
		case "ny":
			l.normal[1] = i
		case "nz":
			l.normal[2] = i
		case "red", "r", "diffuse_red":
			l.color[0] = i
		case "green", "g", "diffuse_green":
			l.color[1] = i
		case "blue", "b", "diffuse_blue":
			l.color[2] = i
		}
	}
	if l.pos[0] < 0 || l.pos[1] < 0 || l.pos[2] < 0 {
		return l, formatErrorf("ply: vertex element lacks x/y/z properties")
	}
	return l, nil
}

// plyValueReader yields one property value at a time from the body.
type plyValueReader interface {
	next(kind scalarKind) (float64, error)
	skip(kind scalarKind, n int) error
}

type plyBinaryReader struct {
	r     *bufio.Reader
	order binary.ByteOrder
	buf   [8]byte
}

func (b *plyBinaryReader) next(kind scalarKind) (float64, error) {
	n := kind.size()
	if _, err := io.ReadFull(b.r, b.buf[:n]); err != nil {
		return 0, formatErrorf("ply: truncated body: %v", err)
	}
	return kind.decode(b.buf[:n], b.order), nil
}

func (b *plyBinaryReader) skip(kind scalarKind, n int) error {
	if _, err := b.r.Discard(kind.size() * n); err != nil {
		return formatErrorf("ply: truncated body: %v", err)
	}
	return nil
}

type plyASCIIReader struct {
	s *bufio.Scanner
}

func (a *plyASCIIReader) next(scalarKind) (float64, error) {
	if !a.s.Scan() {
		if err := a.s.Err(); err != nil {
			return 0, fmt.Errorf("ply: %w: %w", cloud.ErrFileFormat, err)
		}
		return 0, formatErrorf("ply: truncated body")
	}
	v, err := strconv.ParseFloat(a.s.Text(), 64)
	if err != nil {
		return 0, formatErrorf("ply: invalid number %q", a.s.Text())
	}
	return v, nil
}

func (a *plyASCIIReader) skip(kind scalarKind, n int) error {
	for i := 0; i < n; i++ {
		if _, err := a.next(kind); err != nil {
			return err
		}
	}
	return nil
}

func decodePLY(r *bufio.Reader) (*cloud.PointCloud, error) {
	h, err := readPLYHeader(r)
	if err != nil {
		return nil, err
	}

	var vr plyValueReader
	switch h.format {
	case plyASCII:
		s := bufio.NewScanner(r)
		s.Split(bufio.ScanWords)
		vr = &plyASCIIReader{s: s}
	case plyBinaryLE:
		vr = &plyBinaryReader{r: r, order: binary.LittleEndian}
	case plyBinaryBE:
		vr = &plyBinaryReader{r: r, order: binary.BigEndian}
	}

	for _, el := range h.elements {
		if el.name != "vertex" {
			if err := skipPLYElement(vr, el); err != nil {
				return nil, err
			}
			continue
		}
		return readPLYVertices(vr, el)
	}
	return cloud.New(nil), nil
}

func skipPLYElement(vr plyValueReader, el plyElement) error {
	for i := 0; i < el.count; i++ {
		for _, p := range el.props {
			if err := skipPLYProperty(vr, p); err != nil {
				return err
			}
		}
	}
	return nil
}

func skipPLYProperty(vr plyValueReader, p plyProperty) error {
	if !p.isList {
		return vr.skip(p.kind, 1)
	}
	n, err := vr.next(p.countKind)
	if err != nil {
		return err
	}
	if n < 0 || n != math.Trunc(n) {
		return formatErrorf("ply: invalid list length %v", n)
	}
	return vr.skip(p.kind, int(n))
}

func readPLYVertices(vr plyValueReader, el plyElement) (*cloud.PointCloud, error) {
	layout, err := layoutFor(el)
	if err != nil {
		return nil, err
	}

	n := preallocCap(el.count)
	c := &cloud.PointCloud{Points: make([]r3.Vec, 0, n)}
	if layout.hasNormals() {
		c.Normals = make([]r3.Vec, 0, n)
	}
	if layout.hasColors() {
		c.Colors = make([]r3.Vec, 0, n)
	}

	values := make([]float64, len(el.props))
	for i := 0; i < el.count; i++ {
		for j, p := range el.props {
			if p.isList {
				if err := skipPLYProperty(vr, p); err != nil {
					return nil, err
				}
				continue
			}
			v, err := vr.next(p.kind)
			if err != nil {
				return nil, fmt.Errorf("vertex %d: %w", i, err)
			}
			values[j] = v
		}

		c.Points = append(c.Points, r3.Vec{X: values[layout.pos[0]], Y: values[layout.pos[1]], Z: values[layout.pos[2]]})
		if c.Normals != nil {
			c.Normals = append(c.Normals, r3.Vec{X: values[layout.normal[0]], Y: values[layout.normal[1]], Z: values[layout.normal[2]]})
		}
		if c.Colors != nil {
			c.Colors = append(c.Colors, r3.Vec{
				X: colorChannel(values[layout.color[0]], el.props[layout.color[0]].kind),
				Y: colorChannel(values[layout.color[1]], el.props[layout.color[1]].kind),
				Z: colorChannel(values[layout.color[2]], el.props[layout.color[2]].kind),
			})
		}
	}
	return c, nil
}

func encodePLY(w *bufio.Writer, c *cloud.PointCloud, binaryBody bool) error {
	format := plyASCII
	if binaryBody {
		format = plyBinaryLE
	}
	fmt.Fprintf(w, "ply\nformat %s 1.0\ncomment written by pcdtools\nelement vertex %d\n", format, c.Len())
	w.WriteString("property double x\nproperty double y\nproperty double z\n")
	if c.HasNormals() {
		w.WriteString("property double nx\nproperty double ny\nproperty double nz\n")
	}
	if c.HasColors() {
		w.WriteString("property uchar red\nproperty uchar green\nproperty uchar blue\n")
	}
	if _, err := w.WriteString("end_header\n"); err != nil {
		return err
	}

	var buf [8]byte
	putFloat := func(v float64) error {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		_, err := w.Write(buf[:])
		return err
	}

	for i, p := range c.Points {
		if !binaryBody {
			fmt.Fprintf(w, "%s %s %s", ftoa(p.X), ftoa(p.Y), ftoa(p.Z))
			if c.HasNormals() {
				n := c.Normals[i]
				fmt.Fprintf(w, " %s %s %s", ftoa(n.X), ftoa(n.Y), ftoa(n.Z))
			}
			if c.HasColors() {
				col := c.Colors[i]
				fmt.Fprintf(w, " %d %d %d", toByte(col.X), toByte(col.Y), toByte(col.Z))
			}
			if err := w.WriteByte('\n'); err != nil {
				return err
			}
			continue
		}

		for _, v := range [3]float64{p.X, p.Y, p.Z} {
			if err := putFloat(v); err != nil {
				return err
			}
		}
		if c.HasNormals() {
			n := c.Normals[i]
			for _, v := range [3]float64{n.X, n.Y, n.Z} {
				if err := putFloat(v); err != nil {
					return err
				}
			}
		}
		if c.HasColors() {
			col := c.Colors[i]
			if _, err := w.Write([]byte{toByte(col.X), toByte(col.Y), toByte(col.Z)}); err != nil {
				return err
			}
		}
	}
	return nil
}

func ftoa(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
