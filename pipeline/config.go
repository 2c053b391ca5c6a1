package pipeline

import (
	"github.com/zarigata/MP3paraMIDI/midi"
	"github.com/zarigata/MP3paraMIDI/models"
	"github.com/zarigata/MP3paraMIDI/notes"
)

// Config selects the conversion mode and tunes every stage. Start from
// DefaultConfig and override; zero sub-configurations fall back to their
// package defaults.
type Config struct {
	// Monophonic detection
	PitchDetector   notes.PitchDetectorParams `json:"pitch_detector"`
	MinNoteDuration float64                   `json:"min_note_duration"` // Seconds

	// Stage toggles
	DetectTempo bool `json:"detect_tempo"`
	DetectKey   bool `json:"detect_key"`
	Quantize    bool `json:"quantize"`

	TempoBPM float64               `json:"tempo_bpm"` // Fallback when detection is off or fails
	Grid     midi.QuantizationGrid `json:"grid"`
	Filter   notes.FilterConfig    `json:"filter"`

	Generator midi.GeneratorParams `json:"generator"`

	// AI path
	UseAIModels      bool                    `json:"use_ai_models"`
	EnableSeparation bool                    `json:"enable_separation"`
	Demucs           models.DemucsParams     `json:"demucs"`
	BasicPitch       models.BasicPitchParams `json:"basic_pitch"`
	Backend          models.BackendConfig    `json:"backend"`
}

// DefaultConfig returns the monophonic conversion defaults: tempo and key
// detection on, quantization off, 120 BPM fallback, sixteenth note grid.
func DefaultConfig() Config {
	return Config{
		PitchDetector:   notes.DefaultPitchDetectorParams(),
		MinNoteDuration: 0.05,
		DetectTempo:     true,
		DetectKey:       true,
		TempoBPM:        120.0,
		Grid:            midi.GridSixteenth,
		Filter:          notes.DefaultFilterConfig(),
		Generator:       midi.DefaultGeneratorParams(),
		Demucs:          models.DefaultDemucsParams(),
		BasicPitch:      models.DefaultBasicPitchParams(),
		Backend:         models.DefaultBackendConfig(),
	}
}
