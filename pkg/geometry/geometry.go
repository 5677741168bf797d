// Package geometry maps face rectangles recorded against the unrotated
// master image into normalized display-space regions. All coordinates are
// relative (0..1); the detector records them with the vertical axis growing
// upward from the bottom edge, display space grows downward from the top.
package geometry

import (
	"fmt"
	"math"
)

// epsilon is the tolerated float overshoot outside the unit square.
const epsilon = 1e-6

// Point is a relative coordinate pair.
type Point struct {
	X float64
	Y float64
}

// RawFace is a detector rectangle in the unrotated master's bottom-up
// coordinate space, given as four corner points, plus the identity of the
// person it belongs to.
type RawFace struct {
	TopLeft     Point
	TopRight    Point
	BottomLeft  Point
	BottomRight Point

	Name  string // empty means unknown
	Email string
}

// EditedFace is a rectangle the catalog stored for an edited rendition.
// These are already in display orientation; only the vertical axis is still
// bottom-up. Y is the rectangle's top edge measured from the bottom.
type EditedFace struct {
	X float64
	Y float64
	W float64
	H float64

	Name  string
	Email string
}

// Rect is an axis-aligned rectangle in top-down relative coordinates.
type Rect struct {
	X float64
	Y float64
	W float64
	H float64
}

// Region is the derived display-space form of a face rectangle.
type Region struct {
	X       float64
	Y       float64
	W       float64
	H       float64
	CenterX float64
	CenterY float64

	Name  string
	Email string
}

// Factor is a multiplicative sensor-size correction pair applied to
// positions and extents. The identity pair is a no-op.
type Factor struct {
	X float64
	Y float64
}

// Identity returns the no-op correction factor.
func Identity() Factor {
	return Factor{X: 1, Y: 1}
}

// IsIdentity reports whether the factor changes nothing.
func (f Factor) IsIdentity() bool {
	return f.X == 1 && f.Y == 1
}

// unknownName labels regions whose person could not be identified.
const unknownName = "Unknown"

// bounds flips a raw face into top-down space and reduces the four corners
// to a rectangle. Corner ordering in the catalog is not trustworthy, so the
// extent is taken from the min/max of all corners and is never negative.
func bounds(raw RawFace) Rect {
	xs := []float64{raw.TopLeft.X, raw.TopRight.X, raw.BottomLeft.X, raw.BottomRight.X}
	ys := []float64{1 - raw.TopLeft.Y, 1 - raw.TopRight.Y, 1 - raw.BottomLeft.Y, 1 - raw.BottomRight.Y}

	minX, maxX := xs[0], xs[0]
	minY, maxY := ys[0], ys[0]
	for i := 1; i < 4; i++ {
		minX = math.Min(minX, xs[i])
		maxX = math.Max(maxX, xs[i])
		minY = math.Min(minY, ys[i])
		maxY = math.Max(maxY, ys[i])
	}

	return Rect{X: minX, Y: minY, W: maxX - minX, H: maxY - minY}
}

// rotate maps a top-down master-space rectangle into display space for the
// given rotation. Every table entry is its own inverse: 90 and 270 are the
// two diagonal flips, 180 is a point reflection.
func rotate(r Rect, rotation int) (Rect, error) {
	switch rotation {
	case 0:
		return r, nil
	case 90:
		return Rect{X: r.Y, Y: r.X, W: r.H, H: r.W}, nil
	case 180:
		return Rect{X: 1 - r.X - r.W, Y: 1 - r.Y - r.H, W: r.W, H: r.H}, nil
	case 270:
		return Rect{X: 1 - r.Y - r.H, Y: 1 - r.X - r.W, W: r.H, H: r.W}, nil
	default:
		return Rect{}, fmt.Errorf("unsupported rotation %d", rotation)
	}
}

// Unrotate undoes the rotation step of Normalize, mapping a display-space
// rectangle back into top-down master space. The rotation table is
// self-inverse, so this is the same mapping.
func Unrotate(r Rect, rotation int) (Rect, error) {
	return rotate(r, rotation)
}

// Normalize converts a raw detector rectangle into a display-space Region
// for the given rotation and sensor correction.
func Normalize(raw RawFace, rotation int, f Factor) (Region, error) {
	r, err := rotate(bounds(raw), rotation)
	if err != nil {
		return Region{}, err
	}

	r.X *= f.X
	r.Y *= f.Y
	r.W *= f.X
	r.H *= f.Y

	return finish(r, raw.Name, raw.Email)
}

// NormalizeEdited converts a stored post-edit rectangle into a Region. The
// catalog records these already rotated and cropped, so only the vertical
// flip applies.
func NormalizeEdited(e EditedFace) (Region, error) {
	r := Rect{X: e.X, Y: 1 - e.Y, W: e.W, H: e.H}
	if r.W < 0 {
		r.X += r.W
		r.W = -r.W
	}
	if r.H < 0 {
		r.Y += r.H
		r.H = -r.H
	}
	return finish(r, e.Name, e.Email)
}

func finish(r Rect, name, email string) (Region, error) {
	var err error
	for _, v := range []*float64{&r.X, &r.Y, &r.W, &r.H} {
		*v, err = clamp(*v)
		if err != nil {
			return Region{}, err
		}
	}

	if name == "" {
		name = unknownName
	}

	return Region{
		X:       r.X,
		Y:       r.Y,
		W:       r.W,
		H:       r.H,
		CenterX: r.X + r.W/2,
		CenterY: r.Y + r.H/2,
		Name:    name,
		Email:   email,
	}, nil
}

// clamp tolerates float spill of up to epsilon outside [0,1] and rejects
// anything further out.
func clamp(v float64) (float64, error) {
	switch {
	case v >= 0 && v <= 1:
		return v, nil
	case v < 0 && v >= -epsilon:
		return 0, nil
	case v > 1 && v <= 1+epsilon:
		return 1, nil
	default:
		return 0, fmt.Errorf("coordinate %v outside unit square", v)
	}
}

// ResolveRotation picks the effective rotation from the two independent
// rotation sources. The catalog value wins when present; the EXIF value is
// only used when the catalog recorded none. When both are non-zero the
// combination is known to double-apply for some images, so that condition
// is surfaced to the caller instead of being resolved here.
func ResolveRotation(catalogDeg, exifDeg int) (rotation int, conflict bool) {
	if catalogDeg != 0 {
		return catalogDeg, exifDeg != 0
	}
	return exifDeg, false
}
