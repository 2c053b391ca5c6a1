package models

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/zarigata/MP3paraMIDI/audio"
	"github.com/zarigata/MP3paraMIDI/logging"
	"github.com/zarigata/MP3paraMIDI/notes"
)

const basicPitchModelName = "basic_pitch"

// Basic-Pitch amplitudes map linearly onto this velocity band
const (
	bpVelocityMin = 40
	bpVelocityMax = 110
)

// BasicPitchParams configures the Basic-Pitch transcription model
type BasicPitchParams struct {
	OnsetThreshold    float64 `json:"onset_threshold"`     // Note onset sensitivity (0-1)
	FrameThreshold    float64 `json:"frame_threshold"`     // Frame activation sensitivity (0-1)
	MinimumNoteLength float64 `json:"minimum_note_length"` // Seconds
	Device            string  `json:"device"`
}

// DefaultBasicPitchParams returns the balanced transcription settings
func DefaultBasicPitchParams() BasicPitchParams {
	return BasicPitchParams{
		OnsetThreshold:    0.5,
		FrameThreshold:    0.3,
		MinimumNoteLength: 0.058,
		Device:            "cpu",
	}
}

// TranscriptionPresets maps preset names to threshold pairs. Sensitive
// catches quieter notes at the cost of false positives, conservative is
// the inverse.
func TranscriptionPresets() map[string]BasicPitchParams {
	return map[string]BasicPitchParams{
		"balanced":     {OnsetThreshold: 0.5, FrameThreshold: 0.3, MinimumNoteLength: 0.058, Device: "cpu"},
		"sensitive":    {OnsetThreshold: 0.45, FrameThreshold: 0.25, MinimumNoteLength: 0.058, Device: "cpu"},
		"conservative": {OnsetThreshold: 0.55, FrameThreshold: 0.35, MinimumNoteLength: 0.058, Device: "cpu"},
	}
}

// Transcriber converts isolated audio stems into note events
type Transcriber interface {
	// EnsureLoaded downloads and warms the model, reporting load progress
	EnsureLoaded(ctx context.Context, progress ProgressFunc) error

	// TranscribeStem runs polyphonic transcription on one stem
	TranscribeStem(ctx context.Context, stem SeparatedStem, progress ProgressFunc) ([]notes.NoteEvent, error)
}

// BasicPitchTranscriber runs Basic-Pitch polyphonic transcription through
// the python backend
type BasicPitchTranscriber struct {
	params  BasicPitchParams
	backend *Backend
	cache   *ModelCache
	logger  logging.Logger
}

// NewBasicPitchTranscriber creates a transcriber with balanced parameters
func NewBasicPitchTranscriber(backend *Backend) *BasicPitchTranscriber {
	return NewBasicPitchTranscriberWithParams(backend, DefaultBasicPitchParams())
}

// NewBasicPitchTranscriberWithParams creates a transcriber with custom
// parameters. Zero values fall back to the defaults.
func NewBasicPitchTranscriberWithParams(backend *Backend, params BasicPitchParams) *BasicPitchTranscriber {
	defaults := DefaultBasicPitchParams()
	if params.OnsetThreshold <= 0 {
		params.OnsetThreshold = defaults.OnsetThreshold
	}
	if params.FrameThreshold <= 0 {
		params.FrameThreshold = defaults.FrameThreshold
	}
	if params.MinimumNoteLength <= 0 {
		params.MinimumNoteLength = defaults.MinimumNoteLength
	}
	if params.Device == "" {
		params.Device = defaults.Device
	}

	return &BasicPitchTranscriber{
		params:  params,
		backend: backend,
		cache:   NewModelCache(),
		logger: logging.WithFields(logging.Fields{
			"component": "basic_pitch_transcriber",
		}),
	}
}

// Params returns the effective transcription parameters
func (t *BasicPitchTranscriber) Params() BasicPitchParams {
	return t.params
}

// EnsureLoaded downloads and warms the Basic-Pitch model. Loading is
// memoized per device; a cached model reports full progress immediately.
func (t *BasicPitchTranscriber) EnsureLoaded(ctx context.Context, progress ProgressFunc) error {
	if err := t.backend.Available(); err != nil {
		return NewModelLoadError(basicPitchModelName, "Basic-Pitch backend is unavailable.", err.Error())
	}

	if t.cache.IsLoaded(basicPitchModelName, t.params.Device) {
		reportProgress(t.logger, progress, 1.0, "Basic-Pitch model ready")
		return nil
	}

	reportProgress(t.logger, progress, 0.0, "Loading Basic-Pitch model")
	reportProgress(t.logger, progress, 0.25, "Downloading Basic-Pitch weights")

	result, err := t.backend.Runner().RunScript(ctx, transcriptionScript,
		"--device", t.params.Device,
		"--ensure-loaded",
	)
	if err != nil {
		return NewModelLoadError(basicPitchModelName,
			"Failed to load Basic-Pitch model weights.", runDetails(result, err))
	}

	reportProgress(t.logger, progress, 0.75, "Basic-Pitch weights loaded")

	t.cache.MarkLoaded(basicPitchModelName, t.params.Device)
	t.logger.Info("basic-pitch model loaded", logging.Fields{
		"duration_ms": result.Duration.Milliseconds(),
	})
	reportProgress(t.logger, progress, 1.0, "Basic-Pitch model ready")
	return nil
}

// TranscribeStem runs polyphonic transcription on one stem and converts
// the detected notes into NoteEvents
func (t *BasicPitchTranscriber) TranscribeStem(ctx context.Context, stem SeparatedStem, progress ProgressFunc) ([]notes.NoteEvent, error) {
	if err := t.EnsureLoaded(ctx, progress); err != nil {
		return nil, err
	}

	stemAudio := stem.Audio()
	if stemAudio.IsEmpty() {
		return nil, t.inferenceError(fmt.Sprintf("%s stem is empty", stem.Name))
	}

	reportProgress(t.logger, progress, 0.0, "Starting Basic-Pitch transcription")

	workDir, err := os.MkdirTemp("", "mp3paramidi-transcribe-")
	if err != nil {
		return nil, t.inferenceError(err.Error())
	}
	defer os.RemoveAll(workDir)

	stemPath := filepath.Join(workDir, stem.Name+".wav")
	if err := audio.WriteWAV(stemPath, stemAudio); err != nil {
		return nil, t.inferenceError(err.Error())
	}

	result, err := t.backend.Runner().RunScript(ctx, transcriptionScript,
		"--input", stemPath,
		"--onset-threshold", strconv.FormatFloat(t.params.OnsetThreshold, 'f', -1, 64),
		"--frame-threshold", strconv.FormatFloat(t.params.FrameThreshold, 'f', -1, 64),
		"--min-note-length", strconv.FormatFloat(t.params.MinimumNoteLength, 'f', -1, 64),
		"--device", t.params.Device,
	)
	if err != nil {
		return nil, t.inferenceError(runDetails(result, err))
	}

	reportProgress(t.logger, progress, 0.7, "Converting Basic-Pitch note events")

	var payload struct {
		Notes []struct {
			StartTime float64 `json:"start_time"`
			EndTime   float64 `json:"end_time"`
			Pitch     int     `json:"pitch"`
			Amplitude float64 `json:"amplitude"`
		} `json:"notes"`
	}
	if err := decodeLastJSONLine(result.Stdout, &payload); err != nil {
		return nil, t.inferenceError(err.Error())
	}

	events := make([]notes.NoteEvent, 0, len(payload.Notes))
	for _, n := range payload.Notes {
		pitch := min(max(n.Pitch, 0), 127)
		events = append(events, notes.NoteEvent{
			StartTime:  n.StartTime,
			EndTime:    n.EndTime,
			PitchHz:    notes.MidiToHz(float64(pitch)),
			MidiNote:   uint8(pitch),
			Velocity:   amplitudeToVelocity(n.Amplitude),
			Confidence: n.Amplitude,
		})
	}

	reportProgress(t.logger, progress, 1.0, "Basic-Pitch transcription complete")
	t.logger.Debug("stem transcribed", logging.Fields{
		"stem":  stem.Name,
		"notes": len(events),
	})
	return events, nil
}

func (t *BasicPitchTranscriber) inferenceError(details string) *InferenceError {
	return NewInferenceError(basicPitchModelName, "Basic-Pitch transcription failed.", details)
}

// amplitudeToVelocity maps a model amplitude in [0, 1] onto the MIDI
// velocity band. The fractional part is truncated.
func amplitudeToVelocity(amplitude float64) uint8 {
	v := int(float64(bpVelocityMin) + float64(bpVelocityMax-bpVelocityMin)*amplitude)
	return uint8(min(max(v, bpVelocityMin), bpVelocityMax))
}
