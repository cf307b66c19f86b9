package colorspace

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"math"
	"strings"
)

type RenderingIntent int

const (
	IntentPerceptual RenderingIntent = iota
	IntentRelativeColorimetric
	IntentSaturation
	IntentAbsoluteColorimetric
)

const (
	iccHeaderSize = 128
	s15Fixed16    = 65536.0
	encodeLUTSize = 4096
)

var (
	ErrUnsupportedProfile = errors.New("unsupported ICC profile")
	ErrMalformedProfile   = errors.New("malformed ICC profile")
)

// bradfordD50ToD65 adapts XYZ values from the ICC connection space white
// point (D50) to the sRGB white point (D65).
var bradfordD50ToD65 = [3][3]float64{
	{0.9555766, -0.0230393, 0.0631636},
	{-0.0282895, 1.0099416, 0.0210077},
	{0.0122982, -0.0204830, 1.3299098},
}

var xyzToLinearSRGB = [3][3]float64{
	{3.2404542, -1.5371385, -0.4985314},
	{-0.9692660, 1.8760108, 0.0415560},
	{0.0556434, -0.2040259, 1.0572252},
}

// Profile is a parsed matrix/TRC ICC profile. Only the RGB matrix/TRC and
// gray TRC models are supported; LUT-based profiles are rejected at parse
// time.
type Profile struct {
	data       []byte
	colorSpace string
	class      string
	colorants  [3][3]float64
	curves     []toneCurve
}

func ParseProfile(data []byte) (*Profile, error) {
	if len(data) < iccHeaderSize+4 {
		return nil, fmt.Errorf("%w: %d bytes", ErrMalformedProfile, len(data))
	}
	if string(data[36:40]) != "acsp" {
		return nil, fmt.Errorf("%w: missing acsp signature", ErrMalformedProfile)
	}

	p := &Profile{
		data:       data,
		colorSpace: strings.TrimRight(string(data[16:20]), " \x00"),
		class:      strings.TrimRight(string(data[12:16]), " \x00"),
	}

	tags, err := readTagTable(data)
	if err != nil {
		return nil, err
	}

	switch p.colorSpace {
	case "RGB":
		for i, sig := range []string{"rXYZ", "gXYZ", "bXYZ"} {
			xyz, err := readXYZ(data, tags, sig)
			if err != nil {
				return nil, err
			}
			for row := 0; row < 3; row++ {
				p.colorants[row][i] = xyz[row]
			}
		}
		for _, sig := range []string{"rTRC", "gTRC", "bTRC"} {
			curve, err := readCurve(data, tags, sig)
			if err != nil {
				return nil, err
			}
			p.curves = append(p.curves, curve)
		}
	case "GRAY":
		curve, err := readCurve(data, tags, "kTRC")
		if err != nil {
			return nil, err
		}
		p.curves = []toneCurve{curve}
	default:
		return nil, fmt.Errorf("%w: color space %q", ErrUnsupportedProfile, p.colorSpace)
	}

	return p, nil
}

func (p *Profile) ColorSpace() string { return p.colorSpace }

func (p *Profile) Class() string { return p.class }

func (p *Profile) Data() []byte { return p.data }

// NewTransform builds a transform into sRGB. For matrix/TRC profiles the
// perceptual and colorimetric intents map to the same transform.
func (p *Profile) NewTransform(intent RenderingIntent) (*Transform, error) {
	if intent < IntentPerceptual || intent > IntentAbsoluteColorimetric {
		return nil, fmt.Errorf("unknown rendering intent %d", intent)
	}

	t := &Transform{gray: p.colorSpace == "GRAY"}
	for i := range encodeLUTSize {
		t.encode[i] = encodeSRGB(float64(i) / float64(encodeLUTSize-1))
	}

	if t.gray {
		for v := range 256 {
			t.grayLUT[v] = t.encodeLinear(p.curves[0].eval(float64(v) / 255))
		}
		return t, nil
	}

	for c := 0; c < 3; c++ {
		for v := range 256 {
			t.linear[c][v] = p.curves[c].eval(float64(v) / 255)
		}
	}
	t.matrix = multiply(xyzToLinearSRGB, multiply(bradfordD50ToD65, p.colorants))
	return t, nil
}

// Transform maps 8-bit samples of a source profile to sRGB.
type Transform struct {
	gray    bool
	linear  [3][256]float64
	matrix  [3][3]float64
	encode  [encodeLUTSize]uint8
	grayLUT [256]uint8
}

// Apply converts a gray or NRGBA buffer and returns a fresh buffer of the same
// type. Alpha is carried over untouched.
func (t *Transform) Apply(src image.Image) (image.Image, error) {
	switch m := src.(type) {
	case *image.Gray:
		if !t.gray {
			return nil, fmt.Errorf("%w: RGB profile attached to gray samples", ErrUnsupportedProfile)
		}
		out := image.NewGray(m.Rect)
		for i, v := range m.Pix {
			out.Pix[i] = t.grayLUT[v]
		}
		return out, nil
	case *image.NRGBA:
		out := image.NewNRGBA(m.Rect)
		if t.gray {
			for i := 0; i+3 < len(m.Pix); i += 4 {
				out.Pix[i+0] = t.grayLUT[m.Pix[i+0]]
				out.Pix[i+1] = t.grayLUT[m.Pix[i+1]]
				out.Pix[i+2] = t.grayLUT[m.Pix[i+2]]
				out.Pix[i+3] = m.Pix[i+3]
			}
			return out, nil
		}
		for i := 0; i+3 < len(m.Pix); i += 4 {
			r := t.linear[0][m.Pix[i+0]]
			g := t.linear[1][m.Pix[i+1]]
			b := t.linear[2][m.Pix[i+2]]
			out.Pix[i+0] = t.encodeLinear(t.matrix[0][0]*r + t.matrix[0][1]*g + t.matrix[0][2]*b)
			out.Pix[i+1] = t.encodeLinear(t.matrix[1][0]*r + t.matrix[1][1]*g + t.matrix[1][2]*b)
			out.Pix[i+2] = t.encodeLinear(t.matrix[2][0]*r + t.matrix[2][1]*g + t.matrix[2][2]*b)
			out.Pix[i+3] = m.Pix[i+3]
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported pixel buffer %T", src)
	}
}

func (t *Transform) encodeLinear(v float64) uint8 {
	if !(v > 0) {
		return t.encode[0]
	}
	if v >= 1 {
		return t.encode[encodeLUTSize-1]
	}
	return t.encode[int(v*float64(encodeLUTSize-1)+0.5)]
}

func encodeSRGB(linear float64) uint8 {
	var v float64
	if linear <= 0.0031308 {
		v = 12.92 * linear
	} else {
		v = 1.055*math.Pow(linear, 1/2.4) - 0.055
	}
	return uint8(math.Max(0, math.Min(255, math.Floor(v*255+0.5))))
}

func multiply(a, b [3][3]float64) [3][3]float64 {
	var out [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			for k := 0; k < 3; k++ {
				out[i][j] += a[i][k] * b[k][j]
			}
		}
	}
	return out
}

type tagEntry struct {
	offset int
	size   int
}

func readTagTable(data []byte) (map[string]tagEntry, error) {
	count := int(binary.BigEndian.Uint32(data[iccHeaderSize:]))
	if count < 0 || iccHeaderSize+4+count*12 > len(data) {
		return nil, fmt.Errorf("%w: tag table out of range", ErrMalformedProfile)
	}

	tags := make(map[string]tagEntry, count)
	for i := 0; i < count; i++ {
		entry := data[iccHeaderSize+4+i*12:]
		sig := string(entry[0:4])
		offset := int(binary.BigEndian.Uint32(entry[4:8]))
		size := int(binary.BigEndian.Uint32(entry[8:12]))
		if offset < 0 || size < 0 || offset+size > len(data) {
			return nil, fmt.Errorf("%w: tag %s out of range", ErrMalformedProfile, sig)
		}
		tags[sig] = tagEntry{offset: offset, size: size}
	}

	if _, ok := tags["A2B0"]; ok {
		if _, matrix := tags["rXYZ"]; !matrix {
			return nil, fmt.Errorf("%w: LUT-based profile", ErrUnsupportedProfile)
		}
	}
	return tags, nil
}

func tagBody(data []byte, tags map[string]tagEntry, sig string) ([]byte, error) {
	entry, ok := tags[sig]
	if !ok {
		return nil, fmt.Errorf("%w: missing %s tag", ErrUnsupportedProfile, sig)
	}
	if entry.size < 8 {
		return nil, fmt.Errorf("%w: tag %s too short", ErrMalformedProfile, sig)
	}
	return data[entry.offset : entry.offset+entry.size], nil
}

func readXYZ(data []byte, tags map[string]tagEntry, sig string) ([3]float64, error) {
	var xyz [3]float64
	body, err := tagBody(data, tags, sig)
	if err != nil {
		return xyz, err
	}
	if string(body[0:4]) != "XYZ " || len(body) < 20 {
		return xyz, fmt.Errorf("%w: tag %s is not XYZ", ErrMalformedProfile, sig)
	}
	for i := 0; i < 3; i++ {
		xyz[i] = float64(int32(binary.BigEndian.Uint32(body[8+i*4:]))) / s15Fixed16
	}
	return xyz, nil
}

// toneCurve maps an encoded sample in [0,1] to linear light in [0,1].
type toneCurve struct {
	gamma  float64
	table  []float64
	params []float64
	kind   int
}

const (
	curveGamma = iota
	curveTable
	curveParametric
)

var parametricParamCount = map[uint16]int{0: 1, 1: 3, 2: 4, 3: 5, 4: 7}

func readCurve(data []byte, tags map[string]tagEntry, sig string) (toneCurve, error) {
	body, err := tagBody(data, tags, sig)
	if err != nil {
		return toneCurve{}, err
	}

	switch string(body[0:4]) {
	case "curv":
		if len(body) < 12 {
			return toneCurve{}, fmt.Errorf("%w: curv %s truncated", ErrMalformedProfile, sig)
		}
		n := int(binary.BigEndian.Uint32(body[8:12]))
		if n < 0 || 12+n*2 > len(body) {
			return toneCurve{}, fmt.Errorf("%w: curv %s truncated", ErrMalformedProfile, sig)
		}
		switch n {
		case 0:
			return toneCurve{kind: curveGamma, gamma: 1}, nil
		case 1:
			return toneCurve{kind: curveGamma, gamma: float64(binary.BigEndian.Uint16(body[12:14])) / 256}, nil
		}
		table := make([]float64, n)
		for i := range table {
			table[i] = float64(binary.BigEndian.Uint16(body[12+i*2:])) / 65535
		}
		return toneCurve{kind: curveTable, table: table}, nil
	case "para":
		if len(body) < 12 {
			return toneCurve{}, fmt.Errorf("%w: para %s truncated", ErrMalformedProfile, sig)
		}
		fn := binary.BigEndian.Uint16(body[8:10])
		count, ok := parametricParamCount[fn]
		if !ok {
			return toneCurve{}, fmt.Errorf("%w: para function %d", ErrUnsupportedProfile, fn)
		}
		if 12+count*4 > len(body) {
			return toneCurve{}, fmt.Errorf("%w: para %s truncated", ErrMalformedProfile, sig)
		}
		params := make([]float64, 7)
		for i := 0; i < count; i++ {
			params[i] = float64(int32(binary.BigEndian.Uint32(body[12+i*4:]))) / s15Fixed16
		}
		return toneCurve{kind: curveParametric, params: normalizeParams(fn, params)}, nil
	default:
		return toneCurve{}, fmt.Errorf("%w: %s has type %q", ErrUnsupportedProfile, sig, body[0:4])
	}
}

// normalizeParams rewrites every parametric function type as type 4:
// Y = (aX+b)^g + e for X >= d, else cX + f.
func normalizeParams(fn uint16, p []float64) []float64 {
	g, a, b, c, d, e, f := p[0], p[1], p[2], p[3], p[4], p[5], p[6]
	switch fn {
	case 0:
		return []float64{g, 1, 0, 0, 0, 0, 0}
	case 1:
		return []float64{g, a, b, 0, threshold(a, b), 0, 0}
	case 2:
		return []float64{g, a, b, 0, threshold(a, b), c, c}
	case 3:
		return []float64{g, a, b, c, d, 0, 0}
	default:
		return []float64{g, a, b, c, d, e, f}
	}
}

func threshold(a, b float64) float64 {
	if a == 0 {
		return 0
	}
	return -b / a
}

func (c toneCurve) eval(x float64) float64 {
	var y float64
	switch c.kind {
	case curveGamma:
		y = math.Pow(x, c.gamma)
	case curveTable:
		pos := x * float64(len(c.table)-1)
		i := int(pos)
		if i >= len(c.table)-1 {
			y = c.table[len(c.table)-1]
		} else {
			frac := pos - float64(i)
			y = c.table[i]*(1-frac) + c.table[i+1]*frac
		}
	case curveParametric:
		g, a, b, cc, d, e, f := c.params[0], c.params[1], c.params[2], c.params[3], c.params[4], c.params[5], c.params[6]
		if x >= d {
			base := a*x + b
			if base < 0 {
				base = 0
			}
			y = math.Pow(base, g) + e
		} else {
			y = cc*x + f
		}
	}
	return math.Max(0, math.Min(1, y))
}
