package midi

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/zarigata/MP3paraMIDI/notes"
)

type trackNote struct {
	channel  uint8
	key      uint8
	velocity uint8
	tick     uint32
}

func collectNoteOns(track smf.Track) []trackNote {
	var result []trackNote
	var absTick uint32
	var ch, key, vel uint8
	for _, ev := range track {
		absTick += ev.Delta
		if ev.Message.GetNoteOn(&ch, &key, &vel) {
			result = append(result, trackNote{channel: ch, key: key, velocity: vel, tick: absTick})
		}
	}
	return result
}

func collectNoteOffs(track smf.Track) []trackNote {
	var result []trackNote
	var absTick uint32
	var ch, key, vel uint8
	for _, ev := range track {
		absTick += ev.Delta
		if ev.Message.GetNoteOff(&ch, &key, &vel) {
			result = append(result, trackNote{channel: ch, key: key, tick: absTick})
		}
	}
	return result
}

func trackName(track smf.Track) string {
	var name string
	for _, ev := range track {
		if ev.Message.GetMetaTrackName(&name) {
			return name
		}
	}
	return ""
}

func trackTempo(track smf.Track) (float64, bool) {
	var bpm float64
	for _, ev := range track {
		if ev.Message.GetMetaTempo(&bpm) {
			return bpm, true
		}
	}
	return 0, false
}

func trackProgram(track smf.Track) (channel, program uint8, found bool) {
	for _, ev := range track {
		if ev.Message.GetProgramChange(&channel, &program) {
			return channel, program, true
		}
	}
	return 0, 0, false
}

func hasKeySignatureMeta(track smf.Track) bool {
	for _, ev := range track {
		raw := []byte(ev.Message)
		if len(raw) >= 2 && raw[0] == 0xFF && raw[1] == 0x59 {
			return true
		}
	}
	return false
}

func TestCreateMidiRejectsInvalidNotes(t *testing.T) {
	tests := []struct {
		name     string
		input    []notes.NoteEvent
		wantKind GenerationErrorKind
	}{
		{"empty list", []notes.NoteEvent{}, ErrEmptyNotes},
		{"negative start", []notes.NoteEvent{makeNote(-0.1, 0.5, 69, 80)}, ErrNegativeTime},
		{"zero duration", []notes.NoteEvent{makeNote(0.5, 0.5, 69, 80)}, ErrInvalidDuration},
		{"end before start", []notes.NoteEvent{makeNote(0.5, 0.2, 69, 80)}, ErrInvalidDuration},
		{"midi note 128", []notes.NoteEvent{makeNote(0.0, 0.5, 128, 80)}, ErrInvalidMidiNote},
		{"velocity 0", []notes.NoteEvent{makeNote(0.0, 0.5, 69, 0)}, ErrInvalidVelocity},
		{"velocity 128", []notes.NoteEvent{makeNote(0.0, 0.5, 69, 128)}, ErrInvalidVelocity},
	}

	g := NewGenerator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := g.CreateMidi(tt.input, 120)
			if err == nil {
				t.Fatal("CreateMidi accepted invalid input")
			}
			var genErr *GenerationError
			if !errors.As(err, &genErr) {
				t.Fatalf("error %T is not a GenerationError", err)
			}
			if genErr.Kind != tt.wantKind {
				t.Errorf("error kind = %q, want %q", genErr.Kind, tt.wantKind)
			}
		})
	}
}

func TestCreateMidiReportsNoteIndex(t *testing.T) {
	g := NewGenerator()

	input := []notes.NoteEvent{
		makeNote(0.0, 0.5, 69, 80),
		makeNote(0.5, 1.0, 69, 0),
	}
	_, err := g.CreateMidi(input, 120)

	var genErr *GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("error %T is not a GenerationError", err)
	}
	if genErr.NoteIndex != 1 {
		t.Errorf("NoteIndex = %d, want 1", genErr.NoteIndex)
	}
}

func TestCreateMidiSingleTrack(t *testing.T) {
	g := NewGenerator()

	input := []notes.NoteEvent{
		makeNote(0.0, 0.5, 69, 80),
		makeNote(0.5, 1.0, 72, 90),
	}
	doc, err := g.CreateMidi(input, 120)
	if err != nil {
		t.Fatalf("CreateMidi failed: %v", err)
	}
	if len(doc.Tracks) != 1 {
		t.Fatalf("document has %d tracks, want 1", len(doc.Tracks))
	}

	track := doc.Tracks[0]

	bpm, found := trackTempo(track)
	if !found {
		t.Error("no tempo meta event on the track")
	} else if math.Abs(bpm-120) > 0.01 {
		t.Errorf("tempo = %v BPM, want 120", bpm)
	}

	channel, program, found := trackProgram(track)
	if !found {
		t.Error("no program change on the track")
	} else if channel != 0 || program != 0 {
		t.Errorf("program change = channel %d program %d, want channel 0 program 0", channel, program)
	}

	// At 120 BPM with 480 ticks per quarter, 0.5 s is one beat
	ons := collectNoteOns(track)
	if len(ons) != 2 {
		t.Fatalf("track has %d note-ons, want 2", len(ons))
	}
	if ons[0].tick != 0 || ons[0].key != 69 || ons[0].velocity != 80 {
		t.Errorf("first note-on = %+v, want key 69 velocity 80 at tick 0", ons[0])
	}
	if ons[1].tick != 480 || ons[1].key != 72 {
		t.Errorf("second note-on = %+v, want key 72 at tick 480", ons[1])
	}

	offs := collectNoteOffs(track)
	if len(offs) != 2 {
		t.Fatalf("track has %d note-offs, want 2", len(offs))
	}
	if offs[0].tick != 480 || offs[1].tick != 960 {
		t.Errorf("note-off ticks = %d, %d, want 480, 960", offs[0].tick, offs[1].tick)
	}
}

func TestCreateMidiKeySignature(t *testing.T) {
	g := NewGenerator()

	input := []notes.NoteEvent{makeNote(0.0, 0.5, 69, 80)}

	doc, err := g.CreateMidi(input, 120)
	if err != nil {
		t.Fatalf("CreateMidi failed: %v", err)
	}
	if hasKeySignatureMeta(doc.Tracks[0]) {
		t.Error("key signature written without SetKeySignature")
	}

	g.SetKeySignature(&KeySignature{Root: 7})
	doc, err = g.CreateMidi(input, 120)
	if err != nil {
		t.Fatalf("CreateMidi failed: %v", err)
	}
	if !hasKeySignatureMeta(doc.Tracks[0]) {
		t.Error("no key signature meta event after SetKeySignature")
	}
}

func TestCreateMultiTrackMidiDrumChannel(t *testing.T) {
	g := NewGenerator()

	stems := map[string][]notes.NoteEvent{
		"drums":  {makeNote(0.0, 0.25, 36, 100)},
		"bass":   {makeNote(0.0, 0.5, 40, 80)},
		"vocals": {makeNote(0.5, 1.0, 64, 70)},
	}
	doc, err := g.CreateMultiTrackMidi(stems, 120)
	if err != nil {
		t.Fatalf("CreateMultiTrackMidi failed: %v", err)
	}
	if len(doc.Tracks) != 3 {
		t.Fatalf("document has %d tracks, want 3", len(doc.Tracks))
	}

	channelsByStem := make(map[string]uint8)
	for _, track := range doc.Tracks {
		name := trackName(track)
		for _, on := range collectNoteOns(track) {
			channelsByStem[name] = on.channel
		}
	}

	if channelsByStem["drums"] != 9 {
		t.Errorf("drums on channel %d, want 9", channelsByStem["drums"])
	}
	if channelsByStem["bass"] == 9 || channelsByStem["vocals"] == 9 {
		t.Errorf("non-drum stem assigned the drum channel: %v", channelsByStem)
	}
	if channelsByStem["bass"] == channelsByStem["vocals"] {
		t.Errorf("bass and vocals share channel %d", channelsByStem["bass"])
	}
}

func TestCreateMultiTrackMidiSkipsEmptyStems(t *testing.T) {
	g := NewGenerator()

	stems := map[string][]notes.NoteEvent{
		"drums": {makeNote(0.0, 0.25, 36, 100)},
		"bass":  {},
	}
	doc, err := g.CreateMultiTrackMidi(stems, 120)
	if err != nil {
		t.Fatalf("CreateMultiTrackMidi failed: %v", err)
	}
	if len(doc.Tracks) != 1 {
		t.Fatalf("document has %d tracks, want 1", len(doc.Tracks))
	}
	if name := trackName(doc.Tracks[0]); name != "drums" {
		t.Errorf("surviving track named %q, want \"drums\"", name)
	}
	for _, on := range collectNoteOns(doc.Tracks[0]) {
		if on.channel != 9 {
			t.Errorf("drum note on channel %d, want 9", on.channel)
		}
	}
}

func TestCreateMultiTrackMidiRejectsEmptyInput(t *testing.T) {
	g := NewGenerator()

	_, err := g.CreateMultiTrackMidi(map[string][]notes.NoteEvent{}, 120)
	var genErr *GenerationError
	if !errors.As(err, &genErr) || genErr.Kind != ErrEmptyStems {
		t.Errorf("empty map error = %v, want kind %q", err, ErrEmptyStems)
	}

	_, err = g.CreateMultiTrackMidi(map[string][]notes.NoteEvent{"bass": {}}, 120)
	if !errors.As(err, &genErr) || genErr.Kind != ErrEmptyNotes {
		t.Errorf("all-empty stems error = %v, want kind %q", err, ErrEmptyNotes)
	}
}

func TestCreateMultiTrackMidiUnknownStem(t *testing.T) {
	g := NewGenerator()

	doc, err := g.CreateMultiTrackMidi(map[string][]notes.NoteEvent{
		"synth_lead": {makeNote(0.0, 0.5, 69, 80)},
	}, 120)
	if err != nil {
		t.Fatalf("CreateMultiTrackMidi failed: %v", err)
	}
	channel, program, found := trackProgram(doc.Tracks[0])
	if !found {
		t.Fatal("no program change on the track")
	}
	if program != 0 {
		t.Errorf("unknown stem program = %d, want default 0", program)
	}
	if channel == 9 {
		t.Error("unknown melodic stem assigned the drum channel")
	}

	doc, err = g.CreateMultiTrackMidi(map[string][]notes.NoteEvent{
		"hand_percussion": {makeNote(0.0, 0.5, 36, 80)},
	}, 120)
	if err != nil {
		t.Fatalf("CreateMultiTrackMidi failed: %v", err)
	}
	for _, on := range collectNoteOns(doc.Tracks[0]) {
		if on.channel != 9 {
			t.Errorf("percussion stem on channel %d, want 9", on.channel)
		}
	}
}

func TestInstrumentMapForStems(t *testing.T) {
	g := NewGenerator()

	mapping := g.InstrumentMapForStems([]string{"Vocals", "drums", "bass", "theremin"})

	if got := mapping["Vocals"]; got.Program != 52 || got.IsDrum {
		t.Errorf("Vocals mapping = %+v, want program 52", got)
	}
	if got := mapping["drums"]; !got.IsDrum {
		t.Errorf("drums mapping = %+v, want IsDrum", got)
	}
	if got := mapping["bass"]; got.Program != 32 {
		t.Errorf("bass mapping = %+v, want program 32", got)
	}
	if got := mapping["theremin"]; got.Program != 0 || got.IsDrum {
		t.Errorf("unknown stem mapping = %+v, want default program, not drum", got)
	}
}

func TestParseKeySignature(t *testing.T) {
	tests := []struct {
		name string
		want KeySignature
		ok   bool
	}{
		{"C major", KeySignature{Root: 0}, true},
		{"a minor", KeySignature{Root: 9, Minor: true}, true},
		{"F# minor", KeySignature{Root: 6, Minor: true}, true},
		{"Bb major", KeySignature{Root: 10}, true},
		{"G", KeySignature{Root: 7}, true},
		{"H major", KeySignature{}, false},
		{"C dorian", KeySignature{}, false},
		{"", KeySignature{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseKeySignature(tt.name)
			if ok != tt.ok {
				t.Fatalf("ParseKeySignature(%q) ok = %v, want %v", tt.name, ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Errorf("ParseKeySignature(%q) = %+v, want %+v", tt.name, got, tt.want)
			}
		})
	}
}

func TestKeySignatureAccidentals(t *testing.T) {
	tests := []struct {
		key       KeySignature
		wantNum   uint8
		wantFlats bool
	}{
		{KeySignature{Root: 0}, 0, false},                // C major
		{KeySignature{Root: 7}, 1, false},                // G major
		{KeySignature{Root: 5}, 1, true},                 // F major
		{KeySignature{Root: 4}, 4, false},                // E major
		{KeySignature{Root: 9, Minor: true}, 0, false},   // A minor
		{KeySignature{Root: 4, Minor: true}, 1, false},   // E minor
		{KeySignature{Root: 0, Minor: true}, 3, true},    // C minor
		{KeySignature{Root: 10, Minor: true}, 5, true},   // Bb minor
	}

	for _, tt := range tests {
		t.Run(tt.key.String(), func(t *testing.T) {
			num, flats := tt.key.accidentals()
			if num != tt.wantNum || flats != tt.wantFlats {
				t.Errorf("accidentals() = (%d, %v), want (%d, %v)", num, flats, tt.wantNum, tt.wantFlats)
			}
		})
	}
}

func TestWriteFile(t *testing.T) {
	g := NewGenerator()

	doc, err := g.CreateMidi([]notes.NoteEvent{makeNote(0.0, 0.5, 69, 80)}, 120)
	if err != nil {
		t.Fatalf("CreateMidi failed: %v", err)
	}

	path := filepath.Join(t.TempDir(), "nested", "out.mid")
	if err := g.WriteFile(doc, path); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("output file is empty")
	}
	// SMF header chunk
	if string(data[:4]) != "MThd" {
		t.Errorf("output does not start with MThd: % x", data[:4])
	}
}
