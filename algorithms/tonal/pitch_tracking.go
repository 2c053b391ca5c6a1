package tonal

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/zarigata/MP3paraMIDI/algorithms/common"
)

// FramePitch represents the pitch estimate for a single analysis frame
type FramePitch struct {
	Time       float64 `json:"time"`       // Frame start time in seconds
	Frequency  float64 `json:"frequency"`  // Fundamental frequency in Hz, 0 when unvoiced
	Voiced     bool    `json:"voiced"`     // Whether the frame carries a pitched signal
	Confidence float64 `json:"confidence"` // Detection confidence (0-1)
}

// PitchTrackingParams contains parameters for frame-by-frame pitch tracking
type PitchTrackingParams struct {
	SampleRate   int     `json:"sample_rate"`
	WindowSize   int     `json:"window_size"`
	HopSize      int     `json:"hop_size"`
	MinFreq      float64 `json:"min_freq"`      // Minimum frequency (Hz)
	MaxFreq      float64 `json:"max_freq"`      // Maximum frequency (Hz)
	YinThreshold float64 `json:"yin_threshold"` // YIN threshold (0.1-0.5)
	MedianFilter int     `json:"median_filter"` // Median smoothing length in frames
}

// PitchTracker estimates the fundamental frequency of each analysis frame
// using the YIN algorithm with median smoothing across frames.
//
// Reference: de Cheveigné, A., Kawahara, H. (2002). "YIN, a fundamental
// frequency estimator for speech and music"
type PitchTracker struct {
	params PitchTrackingParams
}

// NewPitchTracker creates a pitch tracker with defaults covering C2-C7
func NewPitchTracker(sampleRate int) *PitchTracker {
	return NewPitchTrackerWithParams(PitchTrackingParams{
		SampleRate:   sampleRate,
		WindowSize:   2048,
		HopSize:      512,
		MinFreq:      65.41,   // C2
		MaxFreq:      2093.00, // C7
		YinThreshold: 0.15,
		MedianFilter: 5,
	})
}

// NewPitchTrackerWithParams creates a pitch tracker with custom parameters
func NewPitchTrackerWithParams(params PitchTrackingParams) *PitchTracker {
	return &PitchTracker{params: params}
}

// Params returns the current parameters
func (pt *PitchTracker) Params() PitchTrackingParams {
	return pt.params
}

// Track computes frame-by-frame pitch estimates for the signal
func (pt *PitchTracker) Track(signal []float64) ([]FramePitch, error) {
	if pt.params.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive")
	}

	if pt.params.WindowSize <= 0 || pt.params.HopSize <= 0 {
		return nil, fmt.Errorf("window size and hop size must be positive")
	}

	if len(signal) < pt.params.WindowSize {
		return []FramePitch{}, nil
	}

	numFrames := (len(signal)-pt.params.WindowSize)/pt.params.HopSize + 1
	frames := make([]FramePitch, numFrames)

	numWorkers := pt.getOptimalWorkerCount(numFrames)

	jobs := make(chan int, numFrames)

	var wg sync.WaitGroup

	for range numWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()

			// Reuse buffers for this worker
			frameBuffer := make([]float64, pt.params.WindowSize)
			diff := make([]float64, pt.params.WindowSize/2)
			cmndf := make([]float64, pt.params.WindowSize/2)

			for frameIdx := range jobs {
				startIdx := frameIdx * pt.params.HopSize
				copy(frameBuffer, signal[startIdx:startIdx+pt.params.WindowSize])

				freq, conf := pt.detectYin(frameBuffer, diff, cmndf)

				frames[frameIdx] = FramePitch{
					Time:       float64(startIdx) / float64(pt.params.SampleRate),
					Frequency:  freq,
					Voiced:     freq > 0,
					Confidence: conf,
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for frameIdx := range numFrames {
			jobs <- frameIdx
		}
	}()

	wg.Wait()

	if pt.params.MedianFilter > 1 {
		pt.smoothPitches(frames)
	}

	return frames, nil
}

// detectYin runs the YIN estimator on a single frame, returning the
// fundamental frequency in Hz (0 when unvoiced) and its confidence
func (pt *PitchTracker) detectYin(frame, diff, cmndf []float64) (float64, float64) {
	halfN := len(frame) / 2

	// Difference function
	for tau := range halfN {
		sum := 0.0
		for j := range halfN {
			delta := frame[j] - frame[j+tau]
			sum += delta * delta
		}
		diff[tau] = sum
	}

	// Cumulative mean normalized difference function
	cmndf[0] = 1.0

	runningSum := 0.0
	for tau := 1; tau < halfN; tau++ {
		runningSum += diff[tau]
		if runningSum > 0 {
			cmndf[tau] = diff[tau] / (runningSum / float64(tau))
		} else {
			cmndf[tau] = 1.0
		}
	}

	// Restrict the lag search to the configured frequency range
	tauMin := 1
	if pt.params.MaxFreq > 0 {
		tauMin = max(1, int(float64(pt.params.SampleRate)/pt.params.MaxFreq))
	}
	tauMax := halfN - 1
	if pt.params.MinFreq > 0 {
		tauMax = min(halfN-1, int(float64(pt.params.SampleRate)/pt.params.MinFreq))
	}

	// Find the first minimum below threshold
	minTau := -1
	globalMin := 1.0
	for tau := tauMin; tau <= tauMax; tau++ {
		if cmndf[tau] < globalMin {
			globalMin = cmndf[tau]
		}
		if cmndf[tau] < pt.params.YinThreshold {
			// Check if this is a local minimum
			if tau+1 < halfN && cmndf[tau] < cmndf[tau+1] {
				minTau = tau
				break
			}
		}
	}

	if minTau <= 0 {
		confidence := common.Clamp(1.0-globalMin, 0.0, 1.0)
		return 0.0, confidence
	}

	// Parabolic interpolation for better accuracy
	period := parabolicInterpolation(cmndf, minTau)
	if period <= 0 {
		return 0.0, 0.0
	}

	frequency := float64(pt.params.SampleRate) / period
	confidence := common.Clamp(1.0-cmndf[minTau], 0.0, 1.0)

	// Validate frequency range
	if frequency < pt.params.MinFreq || frequency > pt.params.MaxFreq {
		return 0.0, confidence
	}

	return frequency, confidence
}

// smoothPitches applies median smoothing to voiced frames in place
func (pt *PitchTracker) smoothPitches(frames []FramePitch) {
	half := pt.params.MedianFilter / 2

	smoothed := make([]float64, len(frames))
	for i := range frames {
		if !frames[i].Voiced {
			continue
		}

		lo := max(0, i-half)
		hi := min(len(frames), i+half+1)

		neighborhood := make([]float64, 0, hi-lo)
		for j := lo; j < hi; j++ {
			if frames[j].Voiced {
				neighborhood = append(neighborhood, frames[j].Frequency)
			}
		}

		smoothed[i] = common.Median(neighborhood)
	}

	for i := range frames {
		if frames[i].Voiced && smoothed[i] > 0 {
			frames[i].Frequency = smoothed[i]
		}
	}
}

// parabolicInterpolation refines a minimum location using its neighbors
func parabolicInterpolation(data []float64, peakIdx int) float64 {
	if peakIdx <= 0 || peakIdx >= len(data)-1 {
		return float64(peakIdx)
	}

	y1 := data[peakIdx-1]
	y2 := data[peakIdx]
	y3 := data[peakIdx+1]

	a := (y1 - 2*y2 + y3) / 2
	b := (y3 - y1) / 2

	if a == 0 {
		return float64(peakIdx)
	}

	return float64(peakIdx) - b/(2*a)
}

// getOptimalWorkerCount determines the number of workers based on workload
func (pt *PitchTracker) getOptimalWorkerCount(numFrames int) int {
	numCPU := runtime.NumCPU()

	if numFrames < 100 {
		return max(1, min(numCPU/2, numFrames))
	}

	return numCPU
}
