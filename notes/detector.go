package notes

import (
	"fmt"
	"math"

	"github.com/zarigata/MP3paraMIDI/algorithms/common"
	"github.com/zarigata/MP3paraMIDI/algorithms/temporal"
	"github.com/zarigata/MP3paraMIDI/algorithms/tonal"
	"github.com/zarigata/MP3paraMIDI/audio"
	"github.com/zarigata/MP3paraMIDI/logging"
)

const (
	velocityFloor = 40.0
	velocityCeil  = 110.0

	// Velocity reported for zero-length or silent segments (mezzo-forte)
	velocityDefault = 64

	// Attack window used for the onset portion of the velocity estimate
	onsetWindowSeconds = 0.03
)

// PitchDetectorParams configures pitch tracking and note segmentation
type PitchDetectorParams struct {
	FMin         float64 `json:"fmin"`          // Lowest detectable frequency (Hz)
	FMax         float64 `json:"fmax"`          // Highest detectable frequency (Hz)
	FrameLength  int     `json:"frame_length"`  // Analysis window in samples
	HopLength    int     `json:"hop_length"`    // Hop between frames in samples
	YinThreshold float64 `json:"yin_threshold"` // Aperiodicity threshold for voicing
	MedianFilter int     `json:"median_filter"` // Pitch smoothing length in frames
	OnsetWeight  float64 `json:"onset_weight"`  // Attack weight in the velocity blend
}

// DefaultPitchDetectorParams returns parameters tuned for melodic content
// between C2 and C7.
func DefaultPitchDetectorParams() PitchDetectorParams {
	return PitchDetectorParams{
		FMin:         65.41,   // C2
		FMax:         2093.00, // C7
		FrameLength:  2048,
		HopLength:    512,
		YinThreshold: 0.15,
		MedianFilter: 5,
		OnsetWeight:  0.7,
	}
}

// PitchDetector extracts a pitch contour from audio and groups it into
// discrete note events at onset boundaries.
type PitchDetector struct {
	params PitchDetectorParams
	logger logging.Logger
}

// NewPitchDetector creates a pitch detector with default parameters
func NewPitchDetector() *PitchDetector {
	return NewPitchDetectorWithParams(DefaultPitchDetectorParams())
}

// NewPitchDetectorWithParams creates a pitch detector with custom parameters
func NewPitchDetectorWithParams(params PitchDetectorParams) *PitchDetector {
	return &PitchDetector{
		params: params,
		logger: logging.WithFields(logging.Fields{"component": "pitch_detector"}),
	}
}

// Params returns the detector configuration
func (d *PitchDetector) Params() PitchDetectorParams {
	return d.params
}

// DetectPitch runs frame-by-frame pitch tracking over the whole buffer and
// returns one PitchFrame per hop. Stereo input is averaged to mono before
// analysis.
func (d *PitchDetector) DetectPitch(buffer *audio.AudioData) ([]PitchFrame, error) {
	if buffer.IsEmpty() {
		return nil, &InvalidInputError{Op: "detect pitch", Reason: "audio buffer is empty"}
	}

	y := buffer.Mono()

	tracker := tonal.NewPitchTrackerWithParams(tonal.PitchTrackingParams{
		SampleRate:   buffer.SampleRate,
		WindowSize:   d.params.FrameLength,
		HopSize:      d.params.HopLength,
		MinFreq:      d.params.FMin,
		MaxFreq:      d.params.FMax,
		YinThreshold: d.params.YinThreshold,
		MedianFilter: d.params.MedianFilter,
	})

	tracked, err := tracker.Track(y)
	if err != nil {
		return nil, fmt.Errorf("pitch tracking failed: %w", err)
	}

	frames := make([]PitchFrame, len(tracked))
	voiced := 0
	for i, tp := range tracked {
		frame := PitchFrame{
			Time:       tp.Time,
			Voiced:     tp.Voiced,
			Confidence: tp.Confidence,
		}
		if tp.Voiced && tp.Frequency > 0 {
			freq := tp.Frequency
			frame.Frequency = &freq
			voiced++
		}
		frames[i] = frame
	}

	d.logger.Debug("Pitch detection complete", logging.Fields{
		"frames":      len(frames),
		"voiced":      voiced,
		"sample_rate": buffer.SampleRate,
	})

	return frames, nil
}

// SegmentNotes groups pitch frames into note events using detected onsets as
// boundaries. The first boundary never starts after the first frame and the
// last boundary always reaches the end of the audio, so trailing material
// survives even when no closing onset exists. Spans shorter than
// minNoteDuration are dropped, except the final span which is always kept.
func (d *PitchDetector) SegmentNotes(frames []PitchFrame, buffer *audio.AudioData, minNoteDuration float64) ([]NoteEvent, error) {
	if len(frames) == 0 {
		return []NoteEvent{}, nil
	}
	if buffer.IsEmpty() {
		return nil, &InvalidInputError{Op: "segment notes", Reason: "audio buffer is empty"}
	}

	y := buffer.Mono()
	duration := buffer.Seconds()

	onsetParams := temporal.DefaultOnsetParams()
	onsetParams.HopSize = d.params.HopLength
	boundaries, err := temporal.NewOnsetDetectorWithParams(onsetParams).DetectOnsets(y, buffer.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("onset detection failed: %w", err)
	}

	if len(boundaries) == 0 || boundaries[0] > frames[0].Time {
		boundaries = append([]float64{frames[0].Time}, boundaries...)
	}
	if boundaries[len(boundaries)-1] < duration-0.01 {
		boundaries = append(boundaries, duration)
	}

	events := make([]NoteEvent, 0, len(boundaries))
	for i := range len(boundaries) - 1 {
		start := boundaries[i]
		end := boundaries[i+1]

		last := i == len(boundaries)-2
		if last {
			end = math.Max(end, duration)
		}
		if end-start < minNoteDuration && !last {
			continue
		}

		freqs, confs := voicedInSpan(frames, start, end)
		if len(freqs) == 0 {
			continue
		}

		medianFreq := common.Median(freqs)
		midiNote := int(math.Round(HzToMidi(medianFreq)))
		midiNote = min(127, max(0, midiNote))

		events = append(events, NoteEvent{
			StartTime:  start,
			EndTime:    end,
			PitchHz:    medianFreq,
			MidiNote:   uint8(midiNote),
			Velocity:   d.computeVelocity(y, buffer.SampleRate, start, end),
			Confidence: common.Mean(confs),
		})
	}

	d.logger.Debug("Note segmentation complete", logging.Fields{
		"boundaries": len(boundaries),
		"notes":      len(events),
	})

	return events, nil
}

// voicedInSpan collects frequencies and confidences of voiced frames whose
// time falls in [start, end)
func voicedInSpan(frames []PitchFrame, start, end float64) (freqs, confs []float64) {
	for _, f := range frames {
		if f.Time < start || f.Time >= end {
			continue
		}
		if !f.Voiced || f.Frequency == nil {
			continue
		}
		freqs = append(freqs, *f.Frequency)
		confs = append(confs, f.Confidence)
	}
	return freqs, confs
}

// computeVelocity derives a MIDI velocity from segment loudness. The attack
// portion dominates the blend so plucked and struck instruments keep their
// dynamics even when the sustain decays quickly. Output is always within
// [40, 110]; zero-length or silent segments report 64.
func (d *PitchDetector) computeVelocity(samples []float64, sampleRate int, start, end float64) uint8 {
	if len(samples) == 0 {
		return velocityDefault
	}

	startSample := int(start * float64(sampleRate))
	endSample := int(end * float64(sampleRate))
	startSample = max(0, min(startSample, len(samples)-1))
	endSample = max(startSample+1, min(endSample, len(samples)))

	segment := samples[startSample:endSample]
	if len(segment) == 0 {
		return velocityDefault
	}

	frameLength := min(2048, len(segment))
	hopLength := max(1, frameLength/4)
	sustainRMS := meanFrameRMS(segment, frameLength, hopLength)

	onsetRMS := 0.0
	onsetLen := min(len(segment), int(onsetWindowSeconds*float64(sampleRate)))
	if onsetLen > 0 {
		onsetSegment := segment[:onsetLen]
		onsetFrame := min(512, len(onsetSegment))
		onsetHop := max(1, min(128, len(onsetSegment)/4))
		onsetRMS = meanFrameRMS(onsetSegment, onsetFrame, onsetHop)
	}

	weighted := d.params.OnsetWeight*onsetRMS + (1.0-d.params.OnsetWeight)*sustainRMS
	if weighted <= 0 {
		return velocityDefault
	}

	compressed := math.Tanh(weighted*2.0) * 0.5
	velocity := velocityFloor + 70.0*math.Pow(compressed, 0.4)

	return uint8(common.Clamp(velocity, velocityFloor, velocityCeil))
}

// meanFrameRMS averages short-time RMS frames over a segment
func meanFrameRMS(segment []float64, frameLength, hopLength int) float64 {
	energies := temporal.NewEnergy(frameLength, hopLength).ComputeShortTimeEnergy(segment)
	if len(energies) == 0 {
		return common.RMS(segment)
	}
	return common.Mean(energies)
}
