// Package midi renders detected note events into Standard MIDI Files and
// provides grid quantization for note timings.
package midi

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/zarigata/MP3paraMIDI/logging"
	"github.com/zarigata/MP3paraMIDI/notes"
)

// GenerationErrorKind classifies why note events were rejected
type GenerationErrorKind string

const (
	ErrEmptyNotes      GenerationErrorKind = "empty_notes"
	ErrEmptyStems      GenerationErrorKind = "empty_stems"
	ErrEmptyStemName   GenerationErrorKind = "empty_stem_name"
	ErrNegativeTime    GenerationErrorKind = "negative_time"
	ErrInvalidDuration GenerationErrorKind = "invalid_duration"
	ErrInvalidMidiNote GenerationErrorKind = "invalid_midi_note"
	ErrInvalidVelocity GenerationErrorKind = "invalid_velocity"
)

// GenerationError reports invalid input rejected during document assembly.
// NoteIndex is -1 when the error is not tied to a specific note.
type GenerationError struct {
	Kind      GenerationErrorKind
	NoteIndex int
	Detail    string
}

// Error implements the error interface
func (e *GenerationError) Error() string {
	return "midi generation: " + e.Detail
}

// InstrumentMapping describes how a separated stem is rendered in MIDI.
// Drum mappings are always placed on MIDI channel 10 (9 zero-based) per the
// General MIDI standard.
type InstrumentMapping struct {
	StemName string `json:"stem_name"`
	Program  uint8  `json:"program"`
	IsDrum   bool   `json:"is_drum"`
}

// DefaultInstrumentMap returns the stem-to-instrument assignments used when
// no explicit mapping is provided
func DefaultInstrumentMap() map[string]InstrumentMapping {
	return map[string]InstrumentMapping{
		"vocals": {StemName: "vocals", Program: 52}, // Choir Aahs
		"drums":  {StemName: "drums", Program: 0, IsDrum: true},
		"bass":   {StemName: "bass", Program: 32}, // Acoustic Bass
		"other":  {StemName: "other", Program: 48}, // String Ensemble 1
		"guitar": {StemName: "guitar", Program: 26}, // Jazz Guitar
		"piano":  {StemName: "piano", Program: 0}, // Acoustic Grand Piano
	}
}

// KeySignature identifies a musical key for the key-signature meta event.
// Root is a pitch class (0 = C, 11 = B).
type KeySignature struct {
	Root  uint8 `json:"root"`
	Minor bool  `json:"minor"`
}

var pitchClassNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// Accidentals per major key root on the circle of fifths. Negative counts
// are flats.
var majorAccidentals = [12]int8{0, -5, 2, -3, 4, -1, 6, 1, -4, 3, -2, 5}

// String returns the key name, e.g. "C major" or "F# minor"
func (k KeySignature) String() string {
	mode := "major"
	if k.Minor {
		mode = "minor"
	}
	return pitchClassNames[k.Root%12] + " " + mode
}

// accidentals returns the number of sharps or flats for the key
func (k KeySignature) accidentals() (num uint8, flats bool) {
	root := int(k.Root % 12)
	if k.Minor {
		root = (root + 3) % 12 // relative major
	}
	acc := majorAccidentals[root]
	if acc < 0 {
		return uint8(-acc), true
	}
	return uint8(acc), false
}

// ParseKeySignature parses names like "C major", "F# minor", or "Bb major".
// Flat spellings are folded onto their sharp equivalents.
func ParseKeySignature(name string) (KeySignature, bool) {
	fields := strings.Fields(strings.TrimSpace(name))
	if len(fields) == 0 {
		return KeySignature{}, false
	}

	roots := map[string]uint8{
		"c": 0, "c#": 1, "db": 1, "d": 2, "d#": 3, "eb": 3, "e": 4, "f": 5,
		"f#": 6, "gb": 6, "g": 7, "g#": 8, "ab": 8, "a": 9, "a#": 10, "bb": 10, "b": 11,
	}
	root, ok := roots[strings.ToLower(fields[0])]
	if !ok {
		return KeySignature{}, false
	}

	minor := false
	if len(fields) > 1 {
		switch strings.ToLower(fields[1]) {
		case "major", "maj":
		case "minor", "min":
			minor = true
		default:
			return KeySignature{}, false
		}
	}

	return KeySignature{Root: root, Minor: minor}, true
}

// GeneratorParams controls SMF document assembly
type GeneratorParams struct {
	TicksPerQuarter uint16   `json:"ticks_per_quarter"` // SMF time resolution
	DefaultProgram  uint8    `json:"default_program"`   // Program for unmapped stems
	TimeSignature   [2]uint8 `json:"time_signature"`    // Numerator, denominator
}

// DefaultGeneratorParams returns the standard document settings: 480 ticks
// per quarter note, Acoustic Grand Piano, 4/4 meter
func DefaultGeneratorParams() GeneratorParams {
	return GeneratorParams{
		TicksPerQuarter: 480,
		DefaultProgram:  0,
		TimeSignature:   [2]uint8{4, 4},
	}
}

// Generator assembles Standard MIDI File documents from note events. Input
// events are validated before any track is built; a rejected event aborts
// the whole document.
type Generator struct {
	params GeneratorParams
	key    *KeySignature
	logger logging.Logger
}

// NewGenerator creates a generator with default settings
func NewGenerator() *Generator {
	return NewGeneratorWithParams(DefaultGeneratorParams())
}

// NewGeneratorWithParams creates a generator with custom settings
func NewGeneratorWithParams(params GeneratorParams) *Generator {
	if params.TicksPerQuarter == 0 {
		params.TicksPerQuarter = 480
	}
	if params.TimeSignature == ([2]uint8{}) {
		params.TimeSignature = [2]uint8{4, 4}
	}
	return &Generator{
		params: params,
		logger: logging.WithFields(logging.Fields{"component": "midi_generator"}),
	}
}

// Params returns the generator settings
func (g *Generator) Params() GeneratorParams {
	return g.params
}

// SetKeySignature sets the key written as a meta event on the first track
// of subsequent documents. A nil signature clears it.
func (g *Generator) SetKeySignature(key *KeySignature) {
	g.key = key
}

// CreateMidi builds a single-track document from note events at the given
// tempo, using the default program
func (g *Generator) CreateMidi(noteEvents []notes.NoteEvent, tempoBPM float64) (*smf.SMF, error) {
	if err := validateNoteEvents(noteEvents); err != nil {
		return nil, err
	}

	s := smf.New()
	s.TimeFormat = smf.MetricTicks(g.params.TicksPerQuarter)
	s.Add(g.buildTrack("melody", 0, g.params.DefaultProgram, noteEvents, tempoBPM, true))

	g.logger.Debug("assembled MIDI document", logging.Fields{
		"note_count": len(noteEvents),
		"tempo_bpm":  tempoBPM,
	})

	return s, nil
}

// CreateMultiTrackMidi builds one track per stem using the default
// instrument mapping. Drum stems land on channel 9; every other stem takes
// the lowest free channel, skipping 9. Stems with no notes are skipped.
func (g *Generator) CreateMultiTrackMidi(stemNotes map[string][]notes.NoteEvent, tempoBPM float64) (*smf.SMF, error) {
	return g.CreateMultiTrackMidiWithMap(stemNotes, tempoBPM, nil)
}

// CreateMultiTrackMidiWithMap builds a multi-track document with an explicit
// stem-to-instrument mapping. Stems missing from the mapping fall back to
// the default program, with the drum flag inferred from the stem name.
func (g *Generator) CreateMultiTrackMidiWithMap(stemNotes map[string][]notes.NoteEvent, tempoBPM float64, instrumentMap map[string]InstrumentMapping) (*smf.SMF, error) {
	if len(stemNotes) == 0 {
		return nil, &GenerationError{Kind: ErrEmptyStems, NoteIndex: -1, Detail: "no stems provided for multi-track generation"}
	}

	// Sorted stem order keeps the track layout deterministic
	stemNames := make([]string, 0, len(stemNotes))
	for name := range stemNotes {
		if name == "" {
			return nil, &GenerationError{Kind: ErrEmptyStemName, NoteIndex: -1, Detail: "stem names must be non-empty"}
		}
		stemNames = append(stemNames, name)
	}
	sort.Strings(stemNames)

	if instrumentMap == nil {
		instrumentMap = g.InstrumentMapForStems(stemNames)
	}

	s := smf.New()
	s.TimeFormat = smf.MetricTicks(g.params.TicksPerQuarter)

	usedChannels := make(map[uint8]bool)
	trackCount := 0

	for _, name := range stemNames {
		noteEvents := stemNotes[name]
		if len(noteEvents) == 0 {
			g.logger.Debug("skipping stem with no note events", logging.Fields{"stem": name})
			continue
		}

		if err := validateNoteEvents(noteEvents); err != nil {
			return nil, fmt.Errorf("stem %q: %w", name, err)
		}

		mapping, ok := instrumentMap[name]
		if !ok {
			mapping = InstrumentMapping{
				StemName: name,
				Program:  g.params.DefaultProgram,
				IsDrum:   isDrumStemName(name),
			}
		}

		var channel uint8
		if mapping.IsDrum {
			channel = 9
		} else {
			channel = nextFreeChannel(usedChannels, trackCount)
		}
		usedChannels[channel] = true

		program := mapping.Program
		if mapping.IsDrum {
			program = 0
		}

		s.Add(g.buildTrack(name, channel, program, noteEvents, tempoBPM, trackCount == 0))
		trackCount++
	}

	if trackCount == 0 {
		return nil, &GenerationError{Kind: ErrEmptyNotes, NoteIndex: -1, Detail: "no note events provided"}
	}

	g.logger.Debug("assembled multi-track MIDI document", logging.Fields{
		"track_count": trackCount,
		"tempo_bpm":   tempoBPM,
	})

	return s, nil
}

// InstrumentMapForStems builds a stem-to-instrument mapping, falling back
// to the default program for unknown stems. Unknown stems whose lowercase
// name mentions drums or percussion are treated as drum tracks.
func (g *Generator) InstrumentMapForStems(stemNames []string) map[string]InstrumentMapping {
	defaults := DefaultInstrumentMap()
	mapping := make(map[string]InstrumentMapping, len(stemNames))
	for _, name := range stemNames {
		if known, ok := defaults[strings.ToLower(name)]; ok {
			mapping[name] = known
			continue
		}
		mapping[name] = InstrumentMapping{
			StemName: name,
			Program:  g.params.DefaultProgram,
			IsDrum:   isDrumStemName(name),
		}
	}
	return mapping
}

// WriteFile serializes the document to path, creating parent directories
// as needed
func (g *Generator) WriteFile(doc *smf.SMF, path string) error {
	if doc == nil {
		return fmt.Errorf("midi generation: nil document")
	}

	var buf bytes.Buffer
	if _, err := doc.WriteTo(&buf); err != nil {
		return fmt.Errorf("failed to serialize MIDI document: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write MIDI file: %w", err)
	}

	g.logger.Info("wrote MIDI file", logging.Fields{
		"path":  path,
		"bytes": buf.Len(),
	})

	return nil
}

// buildTrack assembles a single track. The first track of a document
// carries the tempo, time-signature, and optional key-signature meta
// events.
func (g *Generator) buildTrack(name string, channel, program uint8, noteEvents []notes.NoteEvent, tempoBPM float64, withMeta bool) smf.Track {
	var track smf.Track

	track.Add(0, smf.MetaTrackSequenceName(name))
	if withMeta {
		track.Add(0, smf.MetaTempo(tempoBPM))
		track.Add(0, smf.MetaMeter(g.params.TimeSignature[0], g.params.TimeSignature[1]))
		if g.key != nil {
			num, flats := g.key.accidentals()
			track.Add(0, smf.MetaKey(g.key.Root, !g.key.Minor, num, flats))
		}
	}
	track.Add(0, midi.ProgramChange(channel, program))

	type tickEvent struct {
		tick     uint32
		isNoteOn bool
		key      uint8
		velocity uint8
	}

	events := make([]tickEvent, 0, 2*len(noteEvents))
	for _, note := range noteEvents {
		onTick := g.secondsToTicks(note.StartTime, tempoBPM)
		offTick := g.secondsToTicks(note.EndTime, tempoBPM)
		// NoteOff must land strictly after its NoteOn
		if offTick <= onTick {
			offTick = onTick + 1
		}
		events = append(events,
			tickEvent{tick: onTick, isNoteOn: true, key: note.MidiNote, velocity: note.Velocity},
			tickEvent{tick: offTick, isNoteOn: false, key: note.MidiNote},
		)
	}

	// NoteOff sorts before NoteOn at equal ticks so back-to-back notes on
	// the same key release before re-triggering
	sort.Slice(events, func(i, j int) bool {
		if events[i].tick != events[j].tick {
			return events[i].tick < events[j].tick
		}
		if events[i].isNoteOn != events[j].isNoteOn {
			return !events[i].isNoteOn
		}
		return events[i].key < events[j].key
	})

	var lastTick uint32
	for _, ev := range events {
		delta := ev.tick - lastTick
		if ev.isNoteOn {
			track.Add(delta, midi.NoteOn(channel, ev.key, ev.velocity))
		} else {
			track.Add(delta, midi.NoteOff(channel, ev.key))
		}
		lastTick = ev.tick
	}

	track.Close(0)
	return track
}

// secondsToTicks converts a time in seconds to SMF ticks at the given tempo
func (g *Generator) secondsToTicks(seconds, tempoBPM float64) uint32 {
	beats := seconds * tempoBPM / 60.0
	return uint32(math.Round(beats * float64(g.params.TicksPerQuarter)))
}

// nextFreeChannel returns the lowest unused melodic channel. Channel 9 is
// reserved for drums. When every melodic channel is taken, channels are
// reused round-robin by track index.
func nextFreeChannel(used map[uint8]bool, trackIndex int) uint8 {
	for ch := range uint8(16) {
		if ch == 9 || used[ch] {
			continue
		}
		return ch
	}
	ch := uint8(trackIndex % 16)
	if ch == 9 {
		ch = (ch + 1) % 16
	}
	return ch
}

// isDrumStemName reports whether a stem name implies a percussion track
func isDrumStemName(name string) bool {
	lower := strings.ToLower(name)
	return strings.Contains(lower, "drum") || strings.Contains(lower, "percussion")
}

// validateNoteEvents rejects note events that cannot be rendered
func validateNoteEvents(noteEvents []notes.NoteEvent) error {
	if len(noteEvents) == 0 {
		return &GenerationError{Kind: ErrEmptyNotes, NoteIndex: -1, Detail: "no note events provided"}
	}

	for i, event := range noteEvents {
		if event.StartTime < 0 || event.EndTime < 0 {
			return &GenerationError{
				Kind:      ErrNegativeTime,
				NoteIndex: i,
				Detail:    fmt.Sprintf("note %d has negative time values: start=%g, end=%g", i, event.StartTime, event.EndTime),
			}
		}
		if event.EndTime <= event.StartTime {
			return &GenerationError{
				Kind:      ErrInvalidDuration,
				NoteIndex: i,
				Detail:    fmt.Sprintf("note %d has invalid duration: start=%g, end=%g", i, event.StartTime, event.EndTime),
			}
		}
		if event.MidiNote > 127 {
			return &GenerationError{
				Kind:      ErrInvalidMidiNote,
				NoteIndex: i,
				Detail:    fmt.Sprintf("note %d has invalid MIDI note: %d (must be 0-127)", i, event.MidiNote),
			}
		}
		if event.Velocity < 1 || event.Velocity > 127 {
			return &GenerationError{
				Kind:      ErrInvalidVelocity,
				NoteIndex: i,
				Detail:    fmt.Sprintf("note %d has invalid velocity: %d (must be 1-127)", i, event.Velocity),
			}
		}
	}

	return nil
}
