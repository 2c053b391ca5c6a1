package temporal

import (
	"sort"

	"github.com/zarigata/MP3paraMIDI/algorithms/common"
	"github.com/zarigata/MP3paraMIDI/algorithms/spectral"
	"github.com/zarigata/MP3paraMIDI/algorithms/windowing"
)

// OnsetParams holds configuration for onset detection
type OnsetParams struct {
	WindowSize      int     `json:"window_size"`      // STFT window size
	HopSize         int     `json:"hop_size"`         // STFT hop size
	FluxThreshold   float64 `json:"flux_threshold"`   // Peak threshold; <= 0 enables adaptive thresholding
	EnergyThreshold float64 `json:"energy_threshold"` // Threshold for the energy-based method
	MinInterval     float64 `json:"min_interval"`     // Minimum spacing between onsets in seconds
	Backtrack       bool    `json:"backtrack"`        // Roll onsets back to the preceding energy minimum
	BacktrackWindow float64 `json:"backtrack_window"` // Maximum backtrack distance in seconds
}

// DefaultOnsetParams returns onset parameters suited to melodic material
func DefaultOnsetParams() OnsetParams {
	return OnsetParams{
		WindowSize:      1024,
		HopSize:         512,
		FluxThreshold:   0.0,
		EnergyThreshold: 0.1,
		MinInterval:     0.05,
		Backtrack:       true,
		BacktrackWindow: 0.05,
	}
}

// OnsetDetector detects note/event onsets in audio signals
type OnsetDetector struct {
	params       OnsetParams
	spectralFlux *spectral.SpectralFlux
	stft         *spectral.STFT
}

// NewOnsetDetector creates an onset detector with default parameters
func NewOnsetDetector() *OnsetDetector {
	return NewOnsetDetectorWithParams(DefaultOnsetParams())
}

// NewOnsetDetectorWithParams creates an onset detector with custom parameters
func NewOnsetDetectorWithParams(params OnsetParams) *OnsetDetector {
	return &OnsetDetector{
		params:       params,
		spectralFlux: spectral.NewSpectralFlux(),
		stft:         spectral.NewSTFT(),
	}
}

// DetectOnsets detects onset times in seconds using spectral flux
func (od *OnsetDetector) DetectOnsets(signal []float64, sampleRate int) ([]float64, error) {
	if len(signal) == 0 {
		return []float64{}, nil
	}

	window := windowing.NewHann(od.params.WindowSize, false)
	stftResult, err := od.stft.ComputeWithWindow(signal, od.params.WindowSize, od.params.HopSize, sampleRate, window)
	if err != nil {
		return nil, err
	}

	flux := od.spectralFlux.Compute(stftResult.Magnitude)
	if len(flux) == 0 {
		return []float64{}, nil
	}

	threshold := od.params.FluxThreshold
	if threshold <= 0 {
		threshold = od.AdaptiveThreshold(flux)
	}

	onsetFrames := od.findFluxPeaks(flux, threshold, od.params.HopSize, sampleRate)

	if od.params.Backtrack {
		energy := NewEnergy(od.params.WindowSize, od.params.HopSize)
		envelope := energy.ComputeShortTimeEnergy(signal)
		onsetFrames = od.backtrackOnsets(onsetFrames, envelope, sampleRate)
	}

	return framesToSeconds(onsetFrames, od.params.HopSize, sampleRate), nil
}

// DetectOnsetsEnergy detects onset times in seconds using the energy envelope
func (od *OnsetDetector) DetectOnsetsEnergy(signal []float64, sampleRate int) []float64 {
	if len(signal) == 0 {
		return []float64{}
	}

	frameSize := 512
	hopSize := 256
	energy := NewEnergy(frameSize, hopSize)
	envelope := energy.ComputeShortTimeEnergy(signal)
	if len(envelope) == 0 {
		return []float64{}
	}

	derivative := energy.ComputeEnergyDerivative(envelope)
	energyDiff := make([]float64, len(derivative))
	for i, diff := range derivative {
		if diff > 0 {
			energyDiff[i] = diff
		}
	}

	onsetFrames := od.findFluxPeaks(energyDiff, od.params.EnergyThreshold, hopSize, sampleRate)

	return framesToSeconds(onsetFrames, hopSize, sampleRate)
}

// DetectOnsetsCombined merges spectral flux and energy-based onsets
func (od *OnsetDetector) DetectOnsetsCombined(signal []float64, sampleRate int) ([]float64, error) {
	fluxOnsets, err := od.DetectOnsets(signal, sampleRate)
	if err != nil {
		return nil, err
	}

	energyOnsets := od.DetectOnsetsEnergy(signal, sampleRate)

	return od.combineOnsets(fluxOnsets, energyOnsets, od.params.MinInterval), nil
}

// findFluxPeaks finds peaks in flux/energy difference signals
func (od *OnsetDetector) findFluxPeaks(flux []float64, threshold float64, hopSize, sampleRate int) []int {
	if len(flux) < 3 {
		return []int{}
	}

	// Convert minimum interval to frames
	minIntervalFrames := int(od.params.MinInterval * float64(sampleRate) / float64(hopSize))

	var peaks []int
	lastPeakFrame := -minIntervalFrames // Allow first peak

	for i := 1; i < len(flux)-1; i++ {
		if flux[i] > flux[i-1] &&
			flux[i] > flux[i+1] &&
			flux[i] >= threshold &&
			i-lastPeakFrame >= minIntervalFrames {
			peaks = append(peaks, i)
			lastPeakFrame = i
		}
	}

	return peaks
}

// backtrackOnsets rolls each onset back to the preceding energy minimum so
// note starts line up with the beginning of the attack
func (od *OnsetDetector) backtrackOnsets(onsetFrames []int, envelope []float64, sampleRate int) []int {
	if len(envelope) == 0 {
		return onsetFrames
	}

	maxBack := int(od.params.BacktrackWindow * float64(sampleRate) / float64(od.params.HopSize))
	if maxBack < 1 {
		maxBack = 1
	}

	backtracked := make([]int, len(onsetFrames))
	for i, frame := range onsetFrames {
		idx := min(frame, len(envelope)-1)
		limit := max(0, idx-maxBack)
		for idx > limit && envelope[idx-1] <= envelope[idx] {
			idx--
		}
		backtracked[i] = idx
	}

	return backtracked
}

// combineOnsets merges onset lists and removes duplicates within tolerance
func (od *OnsetDetector) combineOnsets(onsets1, onsets2 []float64, tolerance float64) []float64 {
	allOnsets := make([]float64, 0, len(onsets1)+len(onsets2))
	allOnsets = append(allOnsets, onsets1...)
	allOnsets = append(allOnsets, onsets2...)

	if len(allOnsets) == 0 {
		return []float64{}
	}

	sort.Float64s(allOnsets)

	var uniqueOnsets []float64
	for _, onset := range allOnsets {
		if len(uniqueOnsets) == 0 || onset-uniqueOnsets[len(uniqueOnsets)-1] > tolerance {
			uniqueOnsets = append(uniqueOnsets, onset)
		}
	}

	return uniqueOnsets
}

// AdaptiveThreshold calculates a peak threshold from flux statistics
func (od *OnsetDetector) AdaptiveThreshold(flux []float64) float64 {
	if len(flux) == 0 {
		return 0.0
	}

	return common.Mean(flux) + 2.0*common.PopulationStdDev(flux)
}

// framesToSeconds converts frame indices to times in seconds
func framesToSeconds(frames []int, hopSize, sampleRate int) []float64 {
	times := make([]float64, len(frames))
	for i, frameIdx := range frames {
		times[i] = float64(frameIdx*hopSize) / float64(sampleRate)
	}
	return times
}
