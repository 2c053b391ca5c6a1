package notes

import (
	"math"

	"github.com/zarigata/MP3paraMIDI/algorithms/common"
	"github.com/zarigata/MP3paraMIDI/logging"
)

// FilterConfig controls which detected notes survive filtering
type FilterConfig struct {
	MinConfidence       float64 `json:"min_confidence"`        // Minimum detection confidence
	MinDuration         float64 `json:"min_duration"`          // Minimum duration in seconds
	MaxDuration         float64 `json:"max_duration"`          // Maximum duration in seconds
	MinVelocity         uint8   `json:"min_velocity"`          // Minimum MIDI velocity
	MaxVelocity         uint8   `json:"max_velocity"`          // Maximum MIDI velocity
	RemoveOutliers      bool    `json:"remove_outliers"`       // Enable statistical pitch outlier removal
	OutlierStdThreshold float64 `json:"outlier_std_threshold"` // Z-score cutoff for outliers
}

// DefaultFilterConfig returns thresholds that drop obviously spurious
// detections while keeping quiet passages intact.
func DefaultFilterConfig() FilterConfig {
	return FilterConfig{
		MinConfidence:       0.3,
		MinDuration:         0.05,
		MaxDuration:         10.0,
		MinVelocity:         20,
		MaxVelocity:         127,
		RemoveOutliers:      true,
		OutlierStdThreshold: 3.0,
	}
}

// FilterStatistics summarizes the outcome of a filtering pass
type FilterStatistics struct {
	OriginalCount     int     `json:"original_count"`
	FilteredCount     int     `json:"filtered_count"`
	RemovedCount      int     `json:"removed_count"`
	RemovalPercentage float64 `json:"removal_percentage"`
	KeptPercentage    float64 `json:"kept_percentage"`
}

// NoteFilter removes spurious note detections through a fixed chain of
// threshold checks followed by an optional statistical pitch-outlier pass.
// The input list is never mutated.
type NoteFilter struct {
	config FilterConfig
	logger logging.Logger
}

// NewNoteFilter creates a filter with default thresholds
func NewNoteFilter() *NoteFilter {
	return NewNoteFilterWithConfig(DefaultFilterConfig())
}

// NewNoteFilterWithConfig creates a filter with custom thresholds
func NewNoteFilterWithConfig(config FilterConfig) *NoteFilter {
	return &NoteFilter{
		config: config,
		logger: logging.WithFields(logging.Fields{"component": "note_filter"}),
	}
}

// Config returns the filter configuration
func (f *NoteFilter) Config() FilterConfig {
	return f.config
}

// FilterNotes applies the filters in a fixed order (confidence, duration,
// velocity, pitch outliers) and reports how many notes were removed. It may
// remove every note; deciding whether an empty result is acceptable is the
// caller's responsibility.
func (f *NoteFilter) FilterNotes(noteEvents []NoteEvent) ([]NoteEvent, int) {
	if len(noteEvents) == 0 {
		return []NoteEvent{}, 0
	}

	filtered := f.byConfidence(noteEvents)
	filtered = f.byDuration(filtered)
	filtered = f.byVelocity(filtered)
	if f.config.RemoveOutliers {
		filtered = f.removePitchOutliers(filtered)
	}

	removed := len(noteEvents) - len(filtered)
	f.logger.Info("Filtered notes", logging.Fields{
		"removed":  removed,
		"original": len(noteEvents),
		"percent":  float64(removed) / float64(len(noteEvents)) * 100.0,
	})

	return filtered, removed
}

func (f *NoteFilter) byConfidence(noteEvents []NoteEvent) []NoteEvent {
	kept := make([]NoteEvent, 0, len(noteEvents))
	for _, n := range noteEvents {
		if n.Confidence >= f.config.MinConfidence {
			kept = append(kept, n)
		}
	}
	return kept
}

func (f *NoteFilter) byDuration(noteEvents []NoteEvent) []NoteEvent {
	kept := make([]NoteEvent, 0, len(noteEvents))
	for _, n := range noteEvents {
		if d := n.Duration(); d >= f.config.MinDuration && d <= f.config.MaxDuration {
			kept = append(kept, n)
		}
	}
	return kept
}

func (f *NoteFilter) byVelocity(noteEvents []NoteEvent) []NoteEvent {
	kept := make([]NoteEvent, 0, len(noteEvents))
	for _, n := range noteEvents {
		if n.Velocity >= f.config.MinVelocity && n.Velocity <= f.config.MaxVelocity {
			kept = append(kept, n)
		}
	}
	return kept
}

// removePitchOutliers drops notes whose MIDI pitch z-score against the list
// mean exceeds the configured threshold. Needs at least three notes for the
// statistics to mean anything; identical pitches have no outliers.
func (f *NoteFilter) removePitchOutliers(noteEvents []NoteEvent) []NoteEvent {
	if len(noteEvents) < 3 {
		return noteEvents
	}

	pitches := make([]float64, len(noteEvents))
	for i, n := range noteEvents {
		pitches[i] = float64(n.MidiNote)
	}

	meanPitch := common.Mean(pitches)
	stdPitch := common.PopulationStdDev(pitches)
	if stdPitch == 0 {
		return noteEvents
	}

	kept := make([]NoteEvent, 0, len(noteEvents))
	for _, n := range noteEvents {
		zScore := math.Abs(float64(n.MidiNote)-meanPitch) / stdPitch
		if zScore > f.config.OutlierStdThreshold {
			f.logger.Debug("Removed outlier note", logging.Fields{
				"midi_note": n.MidiNote,
				"mean":      meanPitch,
				"std":       stdPitch,
			})
			continue
		}
		kept = append(kept, n)
	}
	return kept
}

// Statistics reports counts and percentages for an original/filtered pair
func (f *NoteFilter) Statistics(original, filtered []NoteEvent) FilterStatistics {
	stats := FilterStatistics{
		OriginalCount: len(original),
		FilteredCount: len(filtered),
		RemovedCount:  len(original) - len(filtered),
	}
	if stats.OriginalCount > 0 {
		stats.RemovalPercentage = float64(stats.RemovedCount) / float64(stats.OriginalCount) * 100.0
		stats.KeptPercentage = float64(stats.FilteredCount) / float64(stats.OriginalCount) * 100.0
	}
	return stats
}
