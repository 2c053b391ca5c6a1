package temporal

import (
	"math"
)

// Energy computes energy-based temporal features over overlapping frames
type Energy struct {
	frameSize int
	hopSize   int
}

// NewEnergy creates a new energy calculator
func NewEnergy(frameSize, hopSize int) *Energy {
	return &Energy{
		frameSize: frameSize,
		hopSize:   hopSize,
	}
}

// ComputeShortTimeEnergy calculates short-time RMS energy for overlapping frames
func (e *Energy) ComputeShortTimeEnergy(signal []float64) []float64 {
	if len(signal) < e.frameSize || e.hopSize <= 0 || e.frameSize <= 0 {
		return []float64{}
	}

	numFrames := (len(signal)-e.frameSize)/e.hopSize + 1
	energies := make([]float64, numFrames)

	for i := range numFrames {
		startIdx := i * e.hopSize
		endIdx := startIdx + e.frameSize

		if endIdx > len(signal) {
			break
		}

		sumSquares := 0.0
		for j := startIdx; j < endIdx; j++ {
			sumSquares += signal[j] * signal[j]
		}
		energies[i] = math.Sqrt(sumSquares / float64(e.frameSize))
	}

	return energies
}

// ComputeEnergyDerivative calculates first derivative of energy.
// Useful for onset detection and transient analysis.
func (e *Energy) ComputeEnergyDerivative(energies []float64) []float64 {
	if len(energies) < 2 {
		return []float64{}
	}

	derivative := make([]float64, len(energies)-1)
	for i := range len(derivative) {
		derivative[i] = energies[i+1] - energies[i]
	}

	return derivative
}
