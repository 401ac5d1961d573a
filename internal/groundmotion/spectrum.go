package groundmotion

import (
	"errors"
	"math"
)

const (
	// Gravity converts cm/s² to g.
	Gravity = 980.665
	// PGAPeriod is the oscillator period whose spectral acceleration stands in for PGA.
	PGAPeriod = 0.001
	// DefaultDamping is the critical damping ratio used for spectra.
	DefaultDamping = 0.05
)

var ErrZeroPGA = errors.New("ground motion has zero peak acceleration")

// SpectralAcceleration returns the peak absolute acceleration of a linear
// oscillator of the given period and damping under accel (same units as
// accel). It uses the Nigam-Jennings exact solution for piecewise-linear
// excitation, which is unconditionally stable for any period/dt ratio.
func SpectralAcceleration(accel []float64, dt, period, damping float64) float64 {
	if len(accel) == 0 || dt <= 0 || period <= 0 || damping < 0 || damping >= 1 {
		return math.NaN()
	}

	w := 2 * math.Pi / period
	root := math.Sqrt(1 - damping*damping)
	wd := w * root
	e := math.Exp(-damping * w * dt)
	s, c := math.Sin(wd*dt), math.Cos(wd*dt)
	zr := damping / root

	a11 := e * (zr*s + c)
	a12 := e * s / wd
	a21 := -w / root * e * s
	a22 := e * (c - zr*s)

	w2 := w * w
	t1 := (2*damping*damping - 1) / (w2 * dt)
	t2 := 2 * damping / (w2 * w * dt)
	cs := c - zr*s
	ws := wd*s + damping*w*c

	b11 := e*((t1+damping/w)*s/wd+(t2+1/w2)*c) - t2
	b12 := -e*(t1*s/wd+t2*c) - 1/w2 + t2
	b21 := e*((t1+damping/w)*cs-(t2+1/w2)*ws) + 1/(w2*dt)
	b22 := -e*(t1*cs-t2*ws) - 1/(w2*dt)

	var u, v, peak float64
	for i := 0; i < len(accel)-1; i++ {
		un := a11*u + a12*v + b11*accel[i] + b12*accel[i+1]
		vn := a21*u + a22*v + b21*accel[i] + b22*accel[i+1]
		u, v = un, vn
		if a := math.Abs(2*damping*w*v + w2*u); a > peak {
			peak = a
		}
	}
	return peak
}

// PeakAbs is max|a|.
func PeakAbs(accel []float64) float64 {
	var peak float64
	for _, a := range accel {
		if v := math.Abs(a); v > peak {
			peak = v
		}
	}
	return peak
}

// PGA returns the peak ground acceleration in g of accel (cm/s²), taken as the
// spectral acceleration at a near-zero period. Falls back to max|a| when the
// spectrum is not usable.
func PGA(accel []float64, dt float64) float64 {
	sa := SpectralAcceleration(accel, dt, PGAPeriod, DefaultDamping)
	if math.IsNaN(sa) || math.IsInf(sa, 0) || sa <= 0 {
		return PeakAbs(accel) / Gravity
	}
	return sa / Gravity
}

// Scale multiplies accel so that its PGA equals targetPGA (g). The input
// slice is not modified.
func Scale(accel []float64, dt, targetPGA float64) ([]float64, float64, error) {
	current := PGA(accel, dt)
	if current <= 0 || math.IsNaN(current) {
		return nil, 0, ErrZeroPGA
	}
	factor := targetPGA / current
	scaled := make([]float64, len(accel))
	for i, a := range accel {
		scaled[i] = a * factor
	}
	return scaled, factor, nil
}
