// Package windowing provides window functions for short-time spectral analysis.
package windowing

import (
	"fmt"
	"math"
)

// Hann is a raised-cosine window. The periodic form (symmetric=false) is the
// right choice for STFT frames; the symmetric form suits filter design.
type Hann struct {
	size         int
	coefficients []float64
}

// NewHann creates a Hann window of the given size
func NewHann(size int, symmetric bool) *Hann {
	coefficients := make([]float64, size)

	denominator := float64(size)
	if symmetric {
		denominator = float64(size - 1)
	}

	for i := range size {
		coefficients[i] = 0.5 * (1.0 - math.Cos(2*math.Pi*float64(i)/denominator))
	}

	return &Hann{size: size, coefficients: coefficients}
}

// ApplyInPlace multiplies the signal by the window coefficients in-place
func (h *Hann) ApplyInPlace(signal []float64) error {
	if len(signal) != h.size {
		return fmt.Errorf("signal length (%d) doesn't match window size (%d)", len(signal), h.size)
	}

	for i, c := range h.coefficients {
		signal[i] *= c
	}

	return nil
}

// Coefficients returns a copy of the window coefficients
func (h *Hann) Coefficients() []float64 {
	coeffs := make([]float64, len(h.coefficients))
	copy(coeffs, h.coefficients)
	return coeffs
}
