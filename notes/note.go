package notes

import (
	"fmt"
	"math"
)

// PitchFrame represents the pitch estimate for one analysis frame of audio.
// Frequency is nil when the frame is unvoiced.
type PitchFrame struct {
	Time       float64  `json:"time"`       // Frame start time in seconds
	Frequency  *float64 `json:"frequency"`  // Fundamental frequency in Hz
	Voiced     bool     `json:"voiced"`     // Whether the frame carries a pitched signal
	Confidence float64  `json:"confidence"` // Detection confidence (0-1)
}

// NoteEvent represents a single detected musical note. Values are immutable;
// filtering and quantization produce new lists instead of mutating in place.
type NoteEvent struct {
	StartTime  float64 `json:"start_time"` // Onset in seconds
	EndTime    float64 `json:"end_time"`   // Release in seconds
	PitchHz    float64 `json:"pitch_hz"`   // Median fundamental frequency
	MidiNote   uint8   `json:"midi_note"`  // MIDI note number (0-127)
	Velocity   uint8   `json:"velocity"`   // MIDI velocity (1-127)
	Confidence float64 `json:"confidence"` // Detection confidence (0-1)
}

// Duration returns the note length in seconds
func (n NoteEvent) Duration() float64 {
	return n.EndTime - n.StartTime
}

// String formats the note for log output
func (n NoteEvent) String() string {
	return fmt.Sprintf("%s [%.3f-%.3f] vel=%d conf=%.2f",
		NoteName(n.MidiNote), n.StartTime, n.EndTime, n.Velocity, n.Confidence)
}

// TempoInfo describes the tempo analysis of a recording. Time signature
// detection is not supported, so TimeSignature always reports 4/4.
type TempoInfo struct {
	TempoBPM      float64   `json:"tempo_bpm"`      // Estimated tempo in beats per minute
	BeatTimes     []float64 `json:"beat_times"`     // Beat positions in seconds
	Confidence    float64   `json:"confidence"`     // Beat regularity score (0-1)
	TimeSignature [2]uint8  `json:"time_signature"` // Always {4, 4}
	IsConstant    bool      `json:"is_constant"`    // Whether TempoBPM is a single aggregate
}

// InvalidInputError reports input a processing stage cannot work with, such
// as an empty audio buffer or malformed note data.
type InvalidInputError struct {
	Op     string
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

// noteNames uses sharps, matching General MIDI reference tables
var noteNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// HzToMidi converts a frequency in Hz to a fractional MIDI note number.
// A4 (440 Hz) maps to 69.
func HzToMidi(freq float64) float64 {
	return 69.0 + 12.0*math.Log2(freq/440.0)
}

// MidiToHz converts a MIDI note number to its frequency in Hz
func MidiToHz(note float64) float64 {
	return 440.0 * math.Pow(2.0, (note-69.0)/12.0)
}

// NoteName returns the scientific pitch name of a MIDI note number,
// for example 60 -> "C4" and 69 -> "A4".
func NoteName(midiNote uint8) string {
	octave := int(midiNote)/12 - 1
	return fmt.Sprintf("%s%d", noteNames[int(midiNote)%12], octave)
}
