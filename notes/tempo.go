package notes

import (
	"fmt"
	"math"

	"github.com/zarigata/MP3paraMIDI/algorithms/common"
	"github.com/zarigata/MP3paraMIDI/algorithms/temporal"
	"github.com/zarigata/MP3paraMIDI/audio"
	"github.com/zarigata/MP3paraMIDI/logging"
)

// Window length and stride for time-varying tempo estimation
const (
	tempoCurveWindowSeconds = 8.0
	tempoCurveHopSeconds    = 2.0
)

// TempoDetectorParams configures tempo detection
type TempoDetectorParams struct {
	AggregateTempo bool    `json:"aggregate_tempo"` // Report a single representative BPM
	StartBPM       float64 `json:"start_bpm"`       // Fallback when tracking yields no candidates
	MinBPM         float64 `json:"min_bpm"`         // Lower bound of the search range
	MaxBPM         float64 `json:"max_bpm"`         // Upper bound of the search range
}

// DefaultTempoDetectorParams returns tempo detection parameters for typical music
func DefaultTempoDetectorParams() TempoDetectorParams {
	return TempoDetectorParams{
		AggregateTempo: true,
		StartBPM:       120.0,
		MinBPM:         60.0,
		MaxBPM:         180.0,
	}
}

// TempoDetector estimates tempo and beat positions from audio. Confidence is
// scored by beat regularity, so steady material scores high and rubato or
// sparse material scores low.
type TempoDetector struct {
	params TempoDetectorParams
	logger logging.Logger
}

// NewTempoDetector creates a tempo detector with default parameters
func NewTempoDetector() *TempoDetector {
	return NewTempoDetectorWithParams(DefaultTempoDetectorParams())
}

// NewTempoDetectorWithParams creates a tempo detector with custom parameters
func NewTempoDetectorWithParams(params TempoDetectorParams) *TempoDetector {
	return &TempoDetector{
		params: params,
		logger: logging.WithFields(logging.Fields{"component": "tempo_detector"}),
	}
}

// DetectTempo estimates a single tempo plus a beat grid for the recording.
// When tracking yields no candidates the configured start BPM is reported
// with zero confidence.
func (d *TempoDetector) DetectTempo(buffer *audio.AudioData) (*TempoInfo, error) {
	if buffer.IsEmpty() {
		return nil, &InvalidInputError{Op: "detect tempo", Reason: "audio buffer is empty"}
	}

	result, err := d.track(buffer.Mono(), buffer.SampleRate)
	if err != nil {
		return nil, err
	}

	tempo := d.params.StartBPM
	if len(result.Candidates) > 0 {
		if d.params.AggregateTempo {
			tempo = common.Median(result.Candidates)
		} else {
			tempo = result.Candidates[0]
		}
	}

	confidence := d.estimateConfidence(result.BeatTimes)

	d.logger.Info("Detected tempo", logging.Fields{
		"tempo_bpm":  tempo,
		"beats":      len(result.BeatTimes),
		"confidence": confidence,
	})

	return &TempoInfo{
		TempoBPM:      tempo,
		BeatTimes:     result.BeatTimes,
		Confidence:    confidence,
		TimeSignature: [2]uint8{4, 4},
		IsConstant:    d.params.AggregateTempo,
	}, nil
}

// DetectTimeVaryingTempo estimates tempo over sliding windows and reports
// the mean of the per-window estimates. The beat grid still comes from a
// whole-recording pass so beat times stay globally consistent.
func (d *TempoDetector) DetectTimeVaryingTempo(buffer *audio.AudioData) (*TempoInfo, error) {
	if buffer.IsEmpty() {
		return nil, &InvalidInputError{Op: "detect tempo", Reason: "audio buffer is empty"}
	}

	curve, err := d.TempoCurve(buffer)
	if err != nil {
		return nil, err
	}

	result, err := d.track(buffer.Mono(), buffer.SampleRate)
	if err != nil {
		return nil, err
	}

	tempo := d.params.StartBPM
	if len(curve) > 0 {
		tempo = common.Mean(curve)
	}

	return &TempoInfo{
		TempoBPM:      tempo,
		BeatTimes:     result.BeatTimes,
		Confidence:    d.estimateConfidence(result.BeatTimes),
		TimeSignature: [2]uint8{4, 4},
		IsConstant:    false,
	}, nil
}

// TempoCurve returns windowed tempo estimates across the recording, one per
// hop, for time-varying analysis and visualization. Windows with no
// detectable tempo are skipped.
func (d *TempoDetector) TempoCurve(buffer *audio.AudioData) ([]float64, error) {
	if buffer.IsEmpty() {
		return nil, &InvalidInputError{Op: "tempo curve", Reason: "audio buffer is empty"}
	}

	y := buffer.Mono()
	windowSamples := int(tempoCurveWindowSeconds * float64(buffer.SampleRate))
	hopSamples := int(tempoCurveHopSeconds * float64(buffer.SampleRate))

	if len(y) <= windowSamples {
		result, err := d.track(y, buffer.SampleRate)
		if err != nil {
			return nil, err
		}
		if result.TempoBPM <= 0 {
			return []float64{}, nil
		}
		return []float64{result.TempoBPM}, nil
	}

	curve := make([]float64, 0, len(y)/hopSamples+1)
	for start := 0; start+windowSamples <= len(y); start += hopSamples {
		result, err := d.track(y[start:start+windowSamples], buffer.SampleRate)
		if err != nil {
			return nil, err
		}
		if result.TempoBPM > 0 {
			curve = append(curve, result.TempoBPM)
		}
	}

	return curve, nil
}

func (d *TempoDetector) track(y []float64, sampleRate int) (*temporal.BeatTrackingResult, error) {
	params := temporal.DefaultBeatTrackingParams()
	params.MinBPM = d.params.MinBPM
	params.MaxBPM = d.params.MaxBPM

	result, err := temporal.NewBeatTrackerWithParams(params).Track(y, sampleRate)
	if err != nil {
		return nil, fmt.Errorf("beat tracking failed: %w", err)
	}
	return result, nil
}

// estimateConfidence scores beat regularity through the coefficient of
// variation of inter-beat intervals. Fewer than two beats means no intervals
// to judge, which scores zero.
func (d *TempoDetector) estimateConfidence(beatTimes []float64) float64 {
	if len(beatTimes) < 2 {
		return 0.0
	}

	intervals := make([]float64, len(beatTimes)-1)
	for i := 1; i < len(beatTimes); i++ {
		intervals[i-1] = beatTimes[i] - beatTimes[i-1]
	}

	meanInterval := common.Mean(intervals)
	if meanInterval == 0 {
		return 0.0
	}

	cv := common.PopulationStdDev(intervals) / meanInterval
	confidence := math.Max(0.0, 1.0-cv)

	// Highly irregular grids get an extra penalty
	if confidence < 0.3 {
		confidence *= 0.5
	}

	return common.Clamp(confidence, 0.0, 1.0)
}
