package calendar

import "math"

// J2000 is the Julian date of the J2000.0 epoch.
const J2000 = 2451545.0

// j2000Day is the Julian day number holding the J2000.0 epoch (which falls
// at noon, i.e. Fraction 0.5 of that day).
const j2000Day = 2451545

// GMSTDate is Greenwich mean sidereal time expressed as the number of whole
// sidereal rotations since the J2000.0 epoch plus the fraction of the
// current rotation.
type GMSTDate struct {
	Day      int64
	Fraction float64 // [0,1)
}

// Angle returns the sidereal angle in radians, in [0, 2π).
func (g GMSTDate) Angle() float64 {
	return g.Fraction * 2 * math.Pi
}

// Seconds returns the continuous sidereal time in seconds since J2000.0.
func (g GMSTDate) Seconds() float64 {
	return float64(g.Day)*SecondsPerDay + g.Fraction*SecondsPerDay
}

// GMST converts the date to Greenwich mean sidereal time with the IAU-82
// polynomial (Vallado eq. 3-47):
//
//	θ = 67310.54841 + (876600h + 8640184.812866)·T + 0.093104·T² − 6.2e-6·T³
//
// with T in Julian centuries of UT1 since J2000.0 and θ in seconds of time.
func (j JSDDate) GMST() GMSTDate {
	s := gmstSeconds(centuriesSinceJ2000(j))
	day := math.Floor(s / SecondsPerDay)
	return GMSTDate{
		Day:      int64(day),
		Fraction: s/SecondsPerDay - day,
	}
}

// JSD inverts the sidereal polynomial with Newton iterations. The result is
// accurate to well below a microsecond.
func (g GMSTDate) JSD() JSDDate {
	target := g.Seconds()
	const secondsPerCentury = 36525 * SecondsPerDay

	// θ grows by roughly 1.0027379 sidereal seconds per solar second.
	t := (target - 67310.54841) / (3155760000.0 + 8640184.812866)
	for i := 0; i < 8; i++ {
		f := gmstSeconds(t) - target
		df := gmstRate(t)
		step := f / df
		t -= step
		if math.Abs(step)*secondsPerCentury < 1e-9 {
			break
		}
	}

	elapsed := t * secondsPerCentury
	return JSDDate{Day: j2000Day, Fraction: 0.5}.Add(elapsed)
}

func centuriesSinceJ2000(j JSDDate) float64 {
	// Split the offset so the large day count does not swamp the fraction.
	days := float64(j.Day-j2000Day) + (j.Fraction - 0.5)
	return days / 36525.0
}

func gmstSeconds(t float64) float64 {
	return 67310.54841 +
		(3155760000.0+8640184.812866)*t +
		0.093104*t*t -
		6.2e-6*t*t*t
}

func gmstRate(t float64) float64 {
	return (3155760000.0 + 8640184.812866) + 2*0.093104*t - 3*6.2e-6*t*t
}
