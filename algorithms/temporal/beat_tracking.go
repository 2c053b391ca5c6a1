package temporal

import (
	"fmt"
	"math"
	"sort"

	"github.com/zarigata/MP3paraMIDI/algorithms/common"
	"github.com/zarigata/MP3paraMIDI/algorithms/spectral"
)

// BeatTrackingParams holds configuration for beat tracking
type BeatTrackingParams struct {
	FrameDuration float64 `json:"frame_duration"` // Envelope frame length in seconds
	MinBPM        float64 `json:"min_bpm"`        // Lower bound of the tempo search range
	MaxBPM        float64 `json:"max_bpm"`        // Upper bound of the tempo search range
	MaxCandidates int     `json:"max_candidates"` // Maximum autocorrelation candidates to report
}

// DefaultBeatTrackingParams returns beat tracking parameters for typical music
func DefaultBeatTrackingParams() BeatTrackingParams {
	return BeatTrackingParams{
		FrameDuration: 0.1,
		MinBPM:        60.0,
		MaxBPM:        180.0,
		MaxCandidates: 5,
	}
}

// BeatTrackingResult holds the outcome of beat tracking
type BeatTrackingResult struct {
	TempoBPM   float64   `json:"tempo_bpm"`  // Strongest tempo estimate, 0 when undetectable
	Candidates []float64 `json:"candidates"` // Tempo candidates ordered by strength
	BeatTimes  []float64 `json:"beat_times"` // Beat positions in seconds
}

// BeatTracker estimates tempo and beat positions from the energy envelope
type BeatTracker struct {
	params        BeatTrackingParams
	fft           *spectral.FFT
	onsetDetector *OnsetDetector
}

// NewBeatTracker creates a beat tracker with default parameters
func NewBeatTracker() *BeatTracker {
	return NewBeatTrackerWithParams(DefaultBeatTrackingParams())
}

// NewBeatTrackerWithParams creates a beat tracker with custom parameters
func NewBeatTrackerWithParams(params BeatTrackingParams) *BeatTracker {
	return &BeatTracker{
		params:        params,
		fft:           spectral.NewFFT(),
		onsetDetector: NewOnsetDetector(),
	}
}

// Track estimates tempo candidates and a phase-aligned beat grid
func (bt *BeatTracker) Track(signal []float64, sampleRate int) (*BeatTrackingResult, error) {
	if len(signal) == 0 {
		return nil, fmt.Errorf("empty signal")
	}

	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive")
	}

	frameSize := max(1, int(bt.params.FrameDuration*float64(sampleRate)))
	hopSize := max(1, frameSize/4)

	energy := NewEnergy(frameSize, hopSize)
	envelope := energy.ComputeShortTimeEnergy(signal)
	if len(envelope) < 10 {
		return &BeatTrackingResult{Candidates: []float64{}, BeatTimes: []float64{}}, nil
	}

	// Remove the DC component so autocorrelation tracks periodicity, not level
	mean := common.Mean(envelope)
	centered := make([]float64, len(envelope))
	for i, v := range envelope {
		centered[i] = v - mean
	}

	maxLag := len(envelope) / 2
	autocorr := bt.fft.Autocorrelation(centered, maxLag)

	timePerFrame := float64(hopSize) / float64(sampleRate)
	candidates := bt.findTempoCandidates(autocorr, timePerFrame)

	// Supplement with an interval histogram over detected onsets
	onsets, err := bt.onsetDetector.DetectOnsetsCombined(signal, sampleRate)
	if err == nil && len(onsets) >= 2 {
		intervals := make([]float64, len(onsets)-1)
		for i := range intervals {
			intervals[i] = onsets[i+1] - onsets[i]
		}
		if ioiTempo := bt.findTempoFromIntervals(intervals); ioiTempo > 0 {
			candidates = append(candidates, ioiTempo)
		}
	}

	tempo := 0.0
	if len(candidates) > 0 {
		tempo = candidates[0]
	}

	beatTimes := []float64{}
	if tempo > 0 {
		duration := float64(len(signal)) / float64(sampleRate)
		beatTimes = bt.alignBeatGrid(envelope, timePerFrame, tempo, duration)
	}

	return &BeatTrackingResult{
		TempoBPM:   tempo,
		Candidates: candidates,
		BeatTimes:  beatTimes,
	}, nil
}

// findTempoCandidates finds autocorrelation peaks in the tempo search range,
// ordered by strength
func (bt *BeatTracker) findTempoCandidates(autocorr []float64, timePerFrame float64) []float64 {
	if len(autocorr) < 3 || timePerFrame <= 0 {
		return []float64{}
	}

	// Convert the BPM range to a lag range
	minLag := max(1, int((60.0/bt.params.MaxBPM)/timePerFrame))
	maxLag := min(len(autocorr)-2, int((60.0/bt.params.MinBPM)/timePerFrame))

	type acPeak struct {
		lag   int
		value float64
	}

	var peaks []acPeak
	for lag := minLag; lag <= maxLag; lag++ {
		if autocorr[lag] > autocorr[lag-1] && autocorr[lag] > autocorr[lag+1] {
			peaks = append(peaks, acPeak{lag: lag, value: autocorr[lag]})
		}
	}

	sort.Slice(peaks, func(i, j int) bool {
		return peaks[i].value > peaks[j].value
	})

	limit := bt.params.MaxCandidates
	if limit <= 0 || limit > len(peaks) {
		limit = len(peaks)
	}

	candidates := make([]float64, 0, limit)
	for _, p := range peaks[:limit] {
		period := float64(p.lag) * timePerFrame
		candidates = append(candidates, 60.0/period)
	}

	return candidates
}

// findTempoFromIntervals finds the most common tempo among inter-onset intervals
func (bt *BeatTracker) findTempoFromIntervals(intervals []float64) float64 {
	if len(intervals) == 0 {
		return 0.0
	}

	// Histogram of intervals quantized to common beat tempi
	tempoRange := []float64{60, 70, 80, 90, 100, 110, 120, 130, 140, 150, 160, 170, 180, 200}
	tempoCounts := make([]int, len(tempoRange))

	for _, interval := range intervals {
		if interval > 0.2 && interval < 2.0 { // Valid beat interval range (30-300 BPM)
			tempo := 60.0 / interval

			bestIdx := 0
			bestDiff := math.Abs(tempo - tempoRange[0])
			for i, refTempo := range tempoRange {
				diff := math.Abs(tempo - refTempo)
				if diff < bestDiff {
					bestDiff = diff
					bestIdx = i
				}
			}

			if bestDiff < 10.0 { // Within 10 BPM tolerance
				tempoCounts[bestIdx]++
			}
		}
	}

	maxCount := 0
	bestTempo := 0.0
	for i, count := range tempoCounts {
		if count > maxCount {
			maxCount = count
			bestTempo = tempoRange[i]
		}
	}

	return bestTempo
}

// alignBeatGrid finds the beat phase that best matches the energy envelope
// and lays out beat times at the detected period
func (bt *BeatTracker) alignBeatGrid(envelope []float64, timePerFrame, tempoBPM, duration float64) []float64 {
	period := 60.0 / tempoBPM
	if period <= 0 || duration <= 0 || timePerFrame <= 0 {
		return []float64{}
	}

	periodFrames := period / timePerFrame
	numPhases := int(periodFrames)
	if numPhases < 1 {
		return []float64{}
	}

	// Score each candidate phase by summed envelope energy at beat positions
	bestPhase := 0
	bestScore := math.Inf(-1)

	for phase := range numPhases {
		score := 0.0
		for pos := float64(phase); pos < float64(len(envelope)); pos += periodFrames {
			score += envelope[int(pos)]
		}
		if score > bestScore {
			bestScore = score
			bestPhase = phase
		}
	}

	var beatTimes []float64
	for t := float64(bestPhase) * timePerFrame; t < duration; t += period {
		beatTimes = append(beatTimes, t)
	}

	return beatTimes
}

// ClassifyTempoCategory classifies tempo into broad categories
func ClassifyTempoCategory(tempo float64) string {
	switch {
	case tempo < 60:
		return "very_slow"
	case tempo < 90:
		return "slow"
	case tempo < 120:
		return "moderate"
	case tempo < 150:
		return "fast"
	default:
		return "very_fast"
	}
}
