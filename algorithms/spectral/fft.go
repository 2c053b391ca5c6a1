package spectral

import (
	"github.com/mjibson/go-dsp/fft"

	"github.com/zarigata/MP3paraMIDI/algorithms/common"
)

// FFT provides Fast Fourier Transform functionality backed by mjibson/go-dsp
type FFT struct{}

// NewFFT creates a new FFT calculator
func NewFFT() *FFT {
	return &FFT{}
}

// Compute computes the forward FFT of a real signal
// Takes []float64 input and returns []complex128 output
func (f *FFT) Compute(x []float64) []complex128 {
	if len(x) == 0 {
		return []complex128{}
	}

	// mjibson/go-dsp handles all sizes efficiently, including non-power-of-2
	return fft.FFTReal(x)
}

// Autocorrelation computes the autocorrelation of x for lags [0, maxLag)
// using the Wiener-Khinchin theorem. The signal is zero-padded to the next
// power of two past 2*len(x) to avoid circular wrap-around.
func (f *FFT) Autocorrelation(x []float64, maxLag int) []float64 {
	n := len(x)
	if n == 0 || maxLag <= 0 {
		return []float64{}
	}
	if maxLag > n {
		maxLag = n
	}

	size := common.NextPowerOfTwo(2 * n)
	padded := make([]float64, size)
	copy(padded, x)

	spectrum := fft.FFTReal(padded)
	power := make([]complex128, len(spectrum))
	for i, c := range spectrum {
		re := real(c)
		im := imag(c)
		power[i] = complex(re*re+im*im, 0)
	}

	corr := fft.IFFT(power)

	result := make([]float64, maxLag)
	for lag := range result {
		result[lag] = real(corr[lag])
	}

	// Normalize by zero-lag energy
	if result[0] > 0 {
		norm := result[0]
		for i := range result {
			result[i] /= norm
		}
	}

	return result
}
