package midi

import (
	"fmt"
	"math"
	"strings"

	"github.com/zarigata/MP3paraMIDI/logging"
	"github.com/zarigata/MP3paraMIDI/notes"
)

// QuantizationGrid selects the musical subdivision notes snap to, expressed
// as a fraction of a quarter note. GridNone disables quantization.
type QuantizationGrid float64

const (
	GridQuarter      QuantizationGrid = 1.0
	GridEighth       QuantizationGrid = 0.5
	GridSixteenth    QuantizationGrid = 0.25
	GridThirtySecond QuantizationGrid = 0.125
	GridNone         QuantizationGrid = 0.0
)

// String returns the grid name
func (g QuantizationGrid) String() string {
	switch g {
	case GridQuarter:
		return "quarter"
	case GridEighth:
		return "eighth"
	case GridSixteenth:
		return "sixteenth"
	case GridThirtySecond:
		return "thirty_second"
	case GridNone:
		return "none"
	}
	return fmt.Sprintf("grid(%g)", float64(g))
}

// ParseQuantizationGrid maps a grid name to its QuantizationGrid value.
// Hyphens are accepted in place of underscores.
func ParseQuantizationGrid(name string) (QuantizationGrid, error) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_") {
	case "quarter", "4th":
		return GridQuarter, nil
	case "eighth", "8th":
		return GridEighth, nil
	case "sixteenth", "16th":
		return GridSixteenth, nil
	case "thirty_second", "32nd":
		return GridThirtySecond, nil
	case "none", "off":
		return GridNone, nil
	}
	return GridNone, fmt.Errorf("unknown quantization grid %q", name)
}

// GridSeconds converts the grid to seconds at the given tempo
func (g QuantizationGrid) GridSeconds(tempoBPM float64) float64 {
	if g == GridNone || tempoBPM <= 0 {
		return 0
	}
	return 60.0 / tempoBPM * float64(g)
}

// Quantizer snaps note timings to a musical grid while preserving pitch,
// velocity, and confidence. Quantization is deterministic and idempotent:
// re-quantizing an already quantized list with the same grid and tempo
// returns the same timings.
type Quantizer struct {
	logger logging.Logger
}

// NewQuantizer creates a quantizer
func NewQuantizer() *Quantizer {
	return &Quantizer{
		logger: logging.WithFields(logging.Fields{"component": "quantizer"}),
	}
}

// QuantizeNotes snaps every note's start and end time to the nearest grid
// point at the given tempo. Notes shorter than one grid unit after snapping
// are stretched to exactly one unit. GridNone or a non-positive tempo
// returns an unmodified copy.
func (q *Quantizer) QuantizeNotes(noteEvents []notes.NoteEvent, grid QuantizationGrid, tempoBPM float64) []notes.NoteEvent {
	quantized := make([]notes.NoteEvent, 0, len(noteEvents))

	gridSeconds := grid.GridSeconds(tempoBPM)
	if gridSeconds <= 0 {
		quantized = append(quantized, noteEvents...)
		return quantized
	}

	for _, note := range noteEvents {
		quantized = append(quantized, quantizeNote(note, gridSeconds))
	}

	q.logger.Debug("quantized notes", logging.Fields{
		"note_count":   len(quantized),
		"grid":         grid.String(),
		"tempo_bpm":    tempoBPM,
		"grid_seconds": gridSeconds,
	})

	return quantized
}

// quantizeNote snaps a single note to the grid
func quantizeNote(note notes.NoteEvent, gridSeconds float64) notes.NoteEvent {
	start := math.Round(note.StartTime/gridSeconds) * gridSeconds
	end := math.Round(note.EndTime/gridSeconds) * gridSeconds

	// A note must span at least one grid unit
	if end-start < gridSeconds {
		end = start + gridSeconds
	}

	note.StartTime = start
	note.EndTime = end
	return note
}
