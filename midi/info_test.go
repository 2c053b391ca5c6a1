package midi

import (
	"math"
	"testing"

	"github.com/zarigata/MP3paraMIDI/notes"
)

func TestGetMidiInfoEmpty(t *testing.T) {
	info := GetMidiInfo(nil)
	if info.NoteCount != 0 || info.Duration != 0 || info.AverageVelocity != 0 {
		t.Errorf("empty input info = %+v, want zero values", info)
	}
}

func TestGetMidiInfo(t *testing.T) {
	input := []notes.NoteEvent{
		makeNote(0.5, 1.0, 60, 70),
		makeNote(1.0, 1.5, 72, 80),
		makeNote(1.5, 2.5, 64, 90),
	}

	info := GetMidiInfo(input)

	if info.NoteCount != 3 {
		t.Errorf("NoteCount = %d, want 3", info.NoteCount)
	}
	if math.Abs(info.Duration-2.0) > 1e-9 {
		t.Errorf("Duration = %v, want 2.0", info.Duration)
	}
	if info.PitchRange != [2]uint8{60, 72} {
		t.Errorf("PitchRange = %v, want [60 72]", info.PitchRange)
	}
	if math.Abs(info.AverageVelocity-80.0) > 1e-9 {
		t.Errorf("AverageVelocity = %v, want 80.0", info.AverageVelocity)
	}
}

func TestGetMultiTrackMidiInfo(t *testing.T) {
	stems := map[string][]notes.NoteEvent{
		"bass": {
			makeNote(0.0, 1.0, 40, 60),
			makeNote(1.0, 2.0, 45, 80),
		},
		"vocals": {
			makeNote(0.5, 4.0, 69, 100),
		},
		"other": {},
	}

	info := GetMultiTrackMidiInfo(stems)

	if info.NoteCount != 3 {
		t.Errorf("NoteCount = %d, want 3", info.NoteCount)
	}
	// Longest per-stem span wins: vocals covers 0.5..4.0
	if math.Abs(info.Duration-3.5) > 1e-9 {
		t.Errorf("Duration = %v, want 3.5", info.Duration)
	}
	if info.PitchRange != [2]uint8{40, 69} {
		t.Errorf("PitchRange = %v, want [40 69]", info.PitchRange)
	}
	// Mean of per-stem means: (70 + 100) / 2
	if math.Abs(info.AverageVelocity-85.0) > 1e-9 {
		t.Errorf("AverageVelocity = %v, want 85.0", info.AverageVelocity)
	}

	if len(info.Tracks) != 3 {
		t.Fatalf("Tracks has %d entries, want 3", len(info.Tracks))
	}
	if info.Tracks["bass"].NoteCount != 2 {
		t.Errorf("bass NoteCount = %d, want 2", info.Tracks["bass"].NoteCount)
	}
	if info.Tracks["other"].NoteCount != 0 {
		t.Errorf("other NoteCount = %d, want 0", info.Tracks["other"].NoteCount)
	}
}
