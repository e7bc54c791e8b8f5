package model

import (
	"fmt"
	"math"
)

// ImagePoint is a position in image space. Pixel is the column (range)
// index and Line the row (azimuth) index, both 0-based.
type ImagePoint struct {
	Line  float64
	Pixel float64
}

func (p ImagePoint) String() string {
	return fmt.Sprintf("(line %.3f, pixel %.3f)", p.Line, p.Pixel)
}

// HasNaN reports whether either coordinate is NaN.
func (p ImagePoint) HasNaN() bool {
	return math.IsNaN(p.Line) || math.IsNaN(p.Pixel)
}

// GroundPoint is a geodetic position: latitude and longitude in degrees,
// height above the ellipsoid in metres.
type GroundPoint struct {
	Lat    float64
	Lon    float64
	Height float64
}

func (g GroundPoint) String() string {
	return fmt.Sprintf("(lat %.7f, lon %.7f, h %.2f)", g.Lat, g.Lon, g.Height)
}

// HasNaN reports whether latitude or longitude is NaN.
func (g GroundPoint) HasNaN() bool {
	return math.IsNaN(g.Lat) || math.IsNaN(g.Lon)
}

// GCP is a ground control point: a known image/ground correspondence.
type GCP struct {
	Image  ImagePoint
	Ground GroundPoint
}

// NormalizeLongitude wraps lon onto (-180, 180]. Leader-file longitudes
// are given in [0, 360).
func NormalizeLongitude(lon float64) float64 {
	lon = math.Mod(lon, 360)
	switch {
	case lon > 180:
		lon -= 360
	case lon <= -180:
		lon += 360
	}
	return lon
}

// Rect is an axis aligned image rectangle with inclusive bounds.
type Rect struct {
	MinPixel, MinLine float64
	MaxPixel, MaxLine float64
}

// ImageRect returns the clip rectangle [0, width-1] × [0, height-1].
func ImageRect(width, height int) Rect {
	return Rect{MaxPixel: float64(width - 1), MaxLine: float64(height - 1)}
}

// Contains reports whether p lies inside the rectangle.
func (r Rect) Contains(p ImagePoint) bool {
	return p.Pixel >= r.MinPixel && p.Pixel <= r.MaxPixel &&
		p.Line >= r.MinLine && p.Line <= r.MaxLine
}

// Corners returns the four corners in the order first line first pixel,
// first line last pixel, last line last pixel, last line first pixel.
func (r Rect) Corners() [4]ImagePoint {
	return [4]ImagePoint{
		{Line: r.MinLine, Pixel: r.MinPixel},
		{Line: r.MinLine, Pixel: r.MaxPixel},
		{Line: r.MaxLine, Pixel: r.MaxPixel},
		{Line: r.MaxLine, Pixel: r.MinPixel},
	}
}
