package notes

import (
	"testing"
)

func makeNote(start, end float64, midiNote, velocity uint8, confidence float64) NoteEvent {
	return NoteEvent{
		StartTime:  start,
		EndTime:    end,
		PitchHz:    MidiToHz(float64(midiNote)),
		MidiNote:   midiNote,
		Velocity:   velocity,
		Confidence: confidence,
	}
}

func TestFilterNotesByConfidence(t *testing.T) {
	input := []NoteEvent{
		makeNote(0.0, 0.5, 60, 80, 0.9),
		makeNote(0.5, 1.0, 62, 80, 0.1),
		makeNote(1.0, 1.5, 64, 80, 0.3),
	}

	filtered, removed := NewNoteFilter().FilterNotes(input)

	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if len(filtered) != 2 {
		t.Fatalf("len(filtered) = %d, want 2", len(filtered))
	}
	for _, n := range filtered {
		if n.Confidence < 0.3 {
			t.Errorf("note with confidence %v survived", n.Confidence)
		}
	}
}

func TestFilterNotesByDuration(t *testing.T) {
	input := []NoteEvent{
		makeNote(0.0, 0.01, 60, 80, 0.9),  // too short
		makeNote(0.0, 12.0, 62, 80, 0.9),  // too long
		makeNote(0.0, 0.5, 64, 80, 0.9),   // in range
		makeNote(0.0, 10.0, 65, 80, 0.9),  // exactly max
		makeNote(0.0, 0.05, 67, 80, 0.9),  // exactly min
	}

	filtered, removed := NewNoteFilter().FilterNotes(input)

	if removed != 2 {
		t.Fatalf("removed = %d, want 2", removed)
	}
	if len(filtered) != 3 {
		t.Fatalf("len(filtered) = %d, want 3", len(filtered))
	}
}

func TestFilterNotesByVelocity(t *testing.T) {
	config := DefaultFilterConfig()
	config.MinVelocity = 20
	config.MaxVelocity = 100
	config.RemoveOutliers = false

	input := []NoteEvent{
		makeNote(0.0, 0.5, 60, 10, 0.9),  // below min
		makeNote(0.5, 1.0, 62, 110, 0.9), // above max
		makeNote(1.0, 1.5, 64, 20, 0.9),  // exactly min
		makeNote(1.5, 2.0, 65, 100, 0.9), // exactly max
	}

	filtered, removed := NewNoteFilterWithConfig(config).FilterNotes(input)

	if removed != 2 {
		t.Fatalf("removed = %d, want 2", removed)
	}
	for _, n := range filtered {
		if n.Velocity < 20 || n.Velocity > 100 {
			t.Errorf("note with velocity %d survived", n.Velocity)
		}
	}
}

func TestFilterNotesRemovesPitchOutliers(t *testing.T) {
	input := make([]NoteEvent, 0, 13)
	for i := range 12 {
		input = append(input, makeNote(float64(i)*0.5, float64(i)*0.5+0.4, 60, 80, 0.9))
	}
	input = append(input, makeNote(6.0, 6.4, 96, 80, 0.9))

	filtered, removed := NewNoteFilter().FilterNotes(input)

	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	for _, n := range filtered {
		if n.MidiNote == 96 {
			t.Error("outlier pitch 96 survived")
		}
	}
}

func TestFilterNotesOutlierEdgeCases(t *testing.T) {
	t.Run("fewer than three notes", func(t *testing.T) {
		input := []NoteEvent{
			makeNote(0.0, 0.5, 60, 80, 0.9),
			makeNote(0.5, 1.0, 96, 80, 0.9),
		}

		filtered, removed := NewNoteFilter().FilterNotes(input)
		if removed != 0 || len(filtered) != 2 {
			t.Errorf("removed = %d, len = %d; outlier pass needs at least 3 notes", removed, len(filtered))
		}
	})

	t.Run("zero pitch deviation", func(t *testing.T) {
		input := []NoteEvent{
			makeNote(0.0, 0.5, 60, 80, 0.9),
			makeNote(0.5, 1.0, 60, 80, 0.9),
			makeNote(1.0, 1.5, 60, 80, 0.9),
			makeNote(1.5, 2.0, 60, 80, 0.9),
		}

		filtered, removed := NewNoteFilter().FilterNotes(input)
		if removed != 0 || len(filtered) != 4 {
			t.Errorf("removed = %d, len = %d; identical pitches have no outliers", removed, len(filtered))
		}
	})

	t.Run("disabled", func(t *testing.T) {
		config := DefaultFilterConfig()
		config.RemoveOutliers = false

		input := make([]NoteEvent, 0, 13)
		for i := range 12 {
			input = append(input, makeNote(float64(i)*0.5, float64(i)*0.5+0.4, 60, 80, 0.9))
		}
		input = append(input, makeNote(6.0, 6.4, 96, 80, 0.9))

		filtered, _ := NewNoteFilterWithConfig(config).FilterNotes(input)
		if len(filtered) != 13 {
			t.Errorf("len(filtered) = %d, want 13 with outlier removal disabled", len(filtered))
		}
	})
}

// Outlier statistics must be computed after the threshold filters, so notes
// the thresholds discard cannot drag the pitch mean toward themselves.
func TestFilterNotesOutlierStatsFollowThresholds(t *testing.T) {
	input := make([]NoteEvent, 0, 16)
	for i := range 10 {
		input = append(input, makeNote(float64(i)*0.5, float64(i)*0.5+0.4, 60, 80, 0.9))
	}
	input = append(input, makeNote(5.0, 5.4, 72, 80, 0.9))
	for i := range 5 {
		input = append(input, makeNote(6.0+float64(i)*0.5, 6.4+float64(i)*0.5, 96, 80, 0.1))
	}

	filtered, _ := NewNoteFilter().FilterNotes(input)

	// The five conf=0.1 notes fall to the confidence filter. Against the
	// remaining cluster at 60, the note at 72 is an outlier.
	if len(filtered) != 10 {
		t.Fatalf("len(filtered) = %d, want 10", len(filtered))
	}
	for _, n := range filtered {
		if n.MidiNote != 60 {
			t.Errorf("unexpected survivor at pitch %d", n.MidiNote)
		}
	}
}

func TestFilterNotesEmptyInput(t *testing.T) {
	filtered, removed := NewNoteFilter().FilterNotes(nil)
	if removed != 0 {
		t.Errorf("removed = %d, want 0", removed)
	}
	if filtered == nil || len(filtered) != 0 {
		t.Errorf("filtered = %v, want empty slice", filtered)
	}
}

func TestFilterNotesDoesNotMutateInput(t *testing.T) {
	input := []NoteEvent{
		makeNote(0.0, 0.5, 60, 80, 0.9),
		makeNote(0.5, 1.0, 62, 80, 0.1),
		makeNote(1.0, 1.5, 64, 10, 0.9),
	}
	snapshot := make([]NoteEvent, len(input))
	copy(snapshot, input)

	NewNoteFilter().FilterNotes(input)

	for i := range input {
		if input[i] != snapshot[i] {
			t.Fatalf("input[%d] changed from %+v to %+v", i, snapshot[i], input[i])
		}
	}
}

func TestFilterNotesKeepsSubsetOfInput(t *testing.T) {
	input := []NoteEvent{
		makeNote(0.0, 0.5, 60, 80, 0.9),
		makeNote(0.5, 1.0, 62, 80, 0.2),
		makeNote(1.0, 1.5, 64, 15, 0.9),
		makeNote(1.5, 2.0, 65, 80, 0.9),
	}

	filtered, removed := NewNoteFilter().FilterNotes(input)

	if len(filtered)+removed != len(input) {
		t.Errorf("len(filtered)+removed = %d, want %d", len(filtered)+removed, len(input))
	}
	for _, n := range filtered {
		found := false
		for _, orig := range input {
			if n == orig {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("filtered note %+v not present in input", n)
		}
	}
}

func TestFilterStatistics(t *testing.T) {
	original := []NoteEvent{
		makeNote(0.0, 0.5, 60, 80, 0.9),
		makeNote(0.5, 1.0, 62, 80, 0.9),
		makeNote(1.0, 1.5, 64, 80, 0.9),
		makeNote(1.5, 2.0, 65, 80, 0.9),
	}
	filtered := original[:3]

	stats := NewNoteFilter().Statistics(original, filtered)

	if stats.OriginalCount != 4 || stats.FilteredCount != 3 || stats.RemovedCount != 1 {
		t.Errorf("counts = %d/%d/%d, want 4/3/1",
			stats.OriginalCount, stats.FilteredCount, stats.RemovedCount)
	}
	if stats.RemovalPercentage != 25.0 {
		t.Errorf("RemovalPercentage = %v, want 25.0", stats.RemovalPercentage)
	}
	if stats.KeptPercentage != 75.0 {
		t.Errorf("KeptPercentage = %v, want 75.0", stats.KeptPercentage)
	}
}
