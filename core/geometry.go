package core

import (
	"math"

	"github.com/golang/geo/r3"
)

// Ellipsoid is an Earth model given by its semi-major and semi-minor axes
// in metres.
type Ellipsoid struct {
	A float64
	B float64
}

// WGS84 is the default Earth model.
var WGS84 = Ellipsoid{A: 6378137.0, B: 6356752.314245}

// Raised returns the ellipsoid whose axes are both lengthened by h. A point
// at height h is placed on this surface.
func (e Ellipsoid) Raised(h float64) Ellipsoid {
	return Ellipsoid{A: e.A + h, B: e.B + h}
}

// E2 returns the squared first eccentricity.
func (e Ellipsoid) E2() float64 {
	return 1 - (e.B*e.B)/(e.A*e.A)
}

// Implicit evaluates (x²+y²)/A² + z²/B² - 1: negative inside the surface,
// zero on it, positive outside.
func (e Ellipsoid) Implicit(p r3.Vector) float64 {
	return (p.X*p.X+p.Y*p.Y)/(e.A*e.A) + p.Z*p.Z/(e.B*e.B) - 1
}

// Normal returns the outward unit normal direction of the level surface of
// Implicit through p.
func (e Ellipsoid) Normal(p r3.Vector) r3.Vector {
	return r3.Vector{X: p.X / (e.A * e.A), Y: p.Y / (e.A * e.A), Z: p.Z / (e.B * e.B)}.Normalize()
}

// SurfacePoint returns the Earth-fixed position of geodetic latitude and
// longitude (degrees) on the surface of e.
func (e Ellipsoid) SurfacePoint(latDeg, lonDeg float64) r3.Vector {
	sinLat, cosLat := math.Sincos(latDeg * math.Pi / 180)
	sinLon, cosLon := math.Sincos(lonDeg * math.Pi / 180)
	e2 := e.E2()
	n := e.A / math.Sqrt(1-e2*sinLat*sinLat)
	return r3.Vector{
		X: n * cosLat * cosLon,
		Y: n * cosLat * sinLon,
		Z: n * (1 - e2) * sinLat,
	}
}

// SurfaceLatLon returns the geodetic latitude and longitude (degrees) of a
// point lying on the surface of e.
func (e Ellipsoid) SurfaceLatLon(p r3.Vector) (latDeg, lonDeg float64) {
	rho := math.Hypot(p.X, p.Y)
	lat := math.Atan2(p.Z, (1-e.E2())*rho)
	lon := math.Atan2(p.Y, p.X)
	return lat * 180 / math.Pi, lon * 180 / math.Pi
}

// GroundToECEF places a geodetic position on the ellipsoid raised by its
// height.
func (e Ellipsoid) GroundToECEF(latDeg, lonDeg, h float64) r3.Vector {
	return e.Raised(h).SurfacePoint(latDeg, lonDeg)
}

// ElevationDegrees returns the elevation angle of the target as seen from
// the observer, in degrees, measured from the plane tangent to the
// ellipsoid level surface at the observer. 90° is straight up.
func (e Ellipsoid) ElevationDegrees(observer, target r3.Vector) float64 {
	v := target.Sub(observer)
	vNorm := v.Norm()
	if vNorm == 0 {
		return 90
	}
	up := e.Normal(observer)

	cosGamma := v.Dot(up) / vNorm
	if cosGamma > 1 {
		cosGamma = 1
	} else if cosGamma < -1 {
		cosGamma = -1
	}
	return 90.0 - math.Acos(cosGamma)*180.0/math.Pi
}

// IncidenceDegrees returns the local incidence angle at ground of a ray
// coming from the sensor: the angle between the ellipsoid normal and the
// direction to the sensor.
func (e Ellipsoid) IncidenceDegrees(sensor, ground r3.Vector) float64 {
	return 90.0 - e.ElevationDegrees(ground, sensor)
}

// wrapDegrees maps an angle difference onto (-180, 180].
func wrapDegrees(d float64) float64 {
	d = math.Mod(d, 360)
	if d > 180 {
		d -= 360
	} else if d <= -180 {
		d += 360
	}
	return d
}
