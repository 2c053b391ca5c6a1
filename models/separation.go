package models

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/zarigata/MP3paraMIDI/audio"
	"github.com/zarigata/MP3paraMIDI/logging"
)

// SeparatedStem is one isolated source produced by a separation model
type SeparatedStem struct {
	Name       string    `json:"name"`
	Samples    []float64 `json:"-"`
	SampleRate int       `json:"sample_rate"`
	Channels   int       `json:"channels"`
}

// Audio wraps the stem samples as an AudioData buffer for downstream stages
func (s *SeparatedStem) Audio() *audio.AudioData {
	return &audio.AudioData{
		Samples:    s.Samples,
		SampleRate: s.SampleRate,
		Channels:   s.Channels,
	}
}

// Separator isolates individual instrument sources from a mixed recording
type Separator interface {
	// EnsureLoaded downloads and warms the model, reporting load progress
	EnsureLoaded(ctx context.Context, progress ProgressFunc) error

	// Separate splits the mix into per-source stems
	Separate(ctx context.Context, data *audio.AudioData, progress ProgressFunc) ([]SeparatedStem, error)

	// StemNames lists the source names the model produces
	StemNames() []string
}

// DemucsParams configures the Demucs separation model
type DemucsParams struct {
	ModelName       string  `json:"model_name"`
	SegmentDuration float64 `json:"segment_duration"` // Seconds per inference window
	Overlap         float64 `json:"overlap"`          // Window overlap fraction
	Shifts          int     `json:"shifts"`           // Random shift averaging passes
	Device          string  `json:"device"`
}

// DefaultDemucsParams returns htdemucs settings sized for CPU inference
func DefaultDemucsParams() DemucsParams {
	return DemucsParams{
		ModelName:       "htdemucs",
		SegmentDuration: 7.8,
		Overlap:         0.25,
		Shifts:          1,
		Device:          "cpu",
	}
}

// AvailableSeparationModels lists the Demucs checkpoints the runner accepts
func AvailableSeparationModels() []string {
	return []string{"htdemucs", "htdemucs_ft", "htdemucs_6s", "hdemucs_mmi"}
}

var defaultStemNames = []string{"drums", "bass", "other", "vocals"}

// DemucsSeparator runs Demucs source separation through the python
// backend. Audio is exchanged with the runner via temporary WAV files.
type DemucsSeparator struct {
	params    DemucsParams
	backend   *Backend
	cache     *ModelCache
	stemNames []string
	logger    logging.Logger
}

// NewDemucsSeparator creates a separator with default parameters
func NewDemucsSeparator(backend *Backend) *DemucsSeparator {
	return NewDemucsSeparatorWithParams(backend, DefaultDemucsParams())
}

// NewDemucsSeparatorWithParams creates a separator with custom parameters.
// Zero values fall back to the defaults.
func NewDemucsSeparatorWithParams(backend *Backend, params DemucsParams) *DemucsSeparator {
	defaults := DefaultDemucsParams()
	if params.ModelName == "" {
		params.ModelName = defaults.ModelName
	}
	if params.SegmentDuration <= 0 {
		params.SegmentDuration = defaults.SegmentDuration
	}
	if params.Overlap < 0 || params.Overlap >= 1 {
		params.Overlap = defaults.Overlap
	}
	if params.Shifts < 1 {
		params.Shifts = defaults.Shifts
	}
	if params.Device == "" {
		params.Device = defaults.Device
	}

	return &DemucsSeparator{
		params:    params,
		backend:   backend,
		cache:     NewModelCache(),
		stemNames: append([]string(nil), defaultStemNames...),
		logger: logging.WithFields(logging.Fields{
			"component": "demucs_separator",
			"model":     params.ModelName,
		}),
	}
}

// Params returns the effective separation parameters
func (s *DemucsSeparator) Params() DemucsParams {
	return s.params
}

// StemNames returns the source names the loaded checkpoint produces
func (s *DemucsSeparator) StemNames() []string {
	return append([]string(nil), s.stemNames...)
}

// EnsureLoaded downloads and warms the Demucs checkpoint. Loading is
// memoized per model and device; a cached model reports full progress
// immediately.
func (s *DemucsSeparator) EnsureLoaded(ctx context.Context, progress ProgressFunc) error {
	if err := s.backend.Available(); err != nil {
		return NewModelLoadError(s.params.ModelName, "Demucs backend is unavailable.", err.Error())
	}

	if s.cache.IsLoaded(s.params.ModelName, s.params.Device) {
		reportProgress(s.logger, progress, 1.0, "Demucs model ready")
		return nil
	}

	reportProgress(s.logger, progress, 0.0, "Loading Demucs model")

	result, err := s.backend.Runner().RunScript(ctx, separationScript,
		"--model", s.params.ModelName,
		"--device", s.params.Device,
		"--ensure-loaded",
	)
	if err != nil {
		return NewModelDownloadError(s.params.ModelName,
			"Failed to download Demucs model weights.", runDetails(result, err))
	}

	var loaded struct {
		Stems []string `json:"stems"`
	}
	if err := decodeLastJSONLine(result.Stdout, &loaded); err == nil && len(loaded.Stems) > 0 {
		s.stemNames = loaded.Stems
	}

	s.cache.MarkLoaded(s.params.ModelName, s.params.Device)
	s.logger.Info("demucs model loaded", logging.Fields{
		"stems":       s.stemNames,
		"duration_ms": result.Duration.Milliseconds(),
	})
	reportProgress(s.logger, progress, 1.0, "Demucs model ready")
	return nil
}

// Separate splits the mix into per-instrument stems
func (s *DemucsSeparator) Separate(ctx context.Context, data *audio.AudioData, progress ProgressFunc) ([]SeparatedStem, error) {
	if err := s.EnsureLoaded(ctx, nil); err != nil {
		return nil, err
	}

	if data.IsEmpty() {
		return nil, s.preprocessError("audio buffer is empty")
	}

	reportProgress(s.logger, progress, 0.0, "Preparing audio for separation")

	workDir, err := os.MkdirTemp("", "mp3paramidi-separate-")
	if err != nil {
		return nil, s.preprocessError(err.Error())
	}
	defer os.RemoveAll(workDir)

	mixPath := filepath.Join(workDir, "mix.wav")
	if err := audio.WriteWAV(mixPath, data); err != nil {
		return nil, s.preprocessError(err.Error())
	}

	outputDir := filepath.Join(workDir, "stems")
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, s.preprocessError(err.Error())
	}

	result, err := s.backend.Runner().RunScript(ctx, separationScript,
		"--model", s.params.ModelName,
		"--device", s.params.Device,
		"--input", mixPath,
		"--output-dir", outputDir,
		"--segment", strconv.FormatFloat(s.params.SegmentDuration, 'f', -1, 64),
		"--overlap", strconv.FormatFloat(s.params.Overlap, 'f', -1, 64),
		"--shifts", strconv.Itoa(s.params.Shifts),
	)
	if err != nil {
		return nil, NewInferenceError(s.params.ModelName,
			"Demucs inference failed.", runDetails(result, err))
	}

	names := s.stemNames
	var payload struct {
		Stems []string `json:"stems"`
	}
	if err := decodeLastJSONLine(result.Stdout, &payload); err == nil && len(payload.Stems) > 0 {
		names = payload.Stems
	}

	stems := make([]SeparatedStem, 0, len(names))
	for i, name := range names {
		reportProgress(s.logger, progress,
			0.2+0.6*float64(i+1)/float64(len(names)),
			fmt.Sprintf("Processing %s stem", name))

		stemData, err := audio.ReadWAV(filepath.Join(outputDir, name+".wav"))
		if err != nil {
			return nil, NewInferenceError(s.params.ModelName, "Demucs inference failed.",
				fmt.Sprintf("missing %s stem output: %v", name, err))
		}

		stems = append(stems, SeparatedStem{
			Name:       name,
			Samples:    stemData.Samples,
			SampleRate: stemData.SampleRate,
			Channels:   stemData.Channels,
		})
	}

	reportProgress(s.logger, progress, 1.0, "Source separation complete")
	s.logger.Info("source separation complete", logging.Fields{
		"stems":       len(stems),
		"duration_ms": result.Duration.Milliseconds(),
	})
	return stems, nil
}

func (s *DemucsSeparator) preprocessError(details string) *ModelError {
	return &ModelError{
		ModelName: s.params.ModelName,
		Message:   "Failed to preprocess audio before separation.",
		Details:   details,
	}
}
