package midi

import (
	"github.com/zarigata/MP3paraMIDI/notes"
)

// MidiInfo summarizes the document that would be generated from a note list
type MidiInfo struct {
	NoteCount       int      `json:"note_count"`
	Duration        float64  `json:"duration"`
	PitchRange      [2]uint8 `json:"pitch_range"`
	AverageVelocity float64  `json:"average_velocity"`
}

// MultiTrackMidiInfo aggregates per-stem summaries. Aggregate fields count
// every stem; Tracks holds the per-stem breakdown.
type MultiTrackMidiInfo struct {
	MidiInfo
	Tracks map[string]MidiInfo `json:"tracks"`
}

// GetMidiInfo computes summary metadata for a flat note list. Duration is
// the span from the earliest start to the latest end.
func GetMidiInfo(noteEvents []notes.NoteEvent) MidiInfo {
	if len(noteEvents) == 0 {
		return MidiInfo{}
	}

	minStart := noteEvents[0].StartTime
	maxEnd := noteEvents[0].EndTime
	minPitch := noteEvents[0].MidiNote
	maxPitch := noteEvents[0].MidiNote
	velocitySum := 0.0

	for _, note := range noteEvents {
		minStart = min(minStart, note.StartTime)
		maxEnd = max(maxEnd, note.EndTime)
		minPitch = min(minPitch, note.MidiNote)
		maxPitch = max(maxPitch, note.MidiNote)
		velocitySum += float64(note.Velocity)
	}

	return MidiInfo{
		NoteCount:       len(noteEvents),
		Duration:        maxEnd - minStart,
		PitchRange:      [2]uint8{minPitch, maxPitch},
		AverageVelocity: velocitySum / float64(len(noteEvents)),
	}
}

// GetMultiTrackMidiInfo computes per-stem summaries and their aggregate:
// note counts sum, duration is the longest per-stem span, the pitch range
// covers every non-empty stem, and the average velocity is the mean of the
// per-stem means.
func GetMultiTrackMidiInfo(stemNotes map[string][]notes.NoteEvent) MultiTrackMidiInfo {
	tracks := make(map[string]MidiInfo, len(stemNotes))
	for name, noteEvents := range stemNotes {
		tracks[name] = GetMidiInfo(noteEvents)
	}

	var aggregate MidiInfo
	velocitySum := 0.0
	nonEmpty := 0

	for _, info := range tracks {
		aggregate.NoteCount += info.NoteCount
		aggregate.Duration = max(aggregate.Duration, info.Duration)
		if info.NoteCount == 0 {
			continue
		}
		if nonEmpty == 0 {
			aggregate.PitchRange = info.PitchRange
		} else {
			aggregate.PitchRange[0] = min(aggregate.PitchRange[0], info.PitchRange[0])
			aggregate.PitchRange[1] = max(aggregate.PitchRange[1], info.PitchRange[1])
		}
		velocitySum += info.AverageVelocity
		nonEmpty++
	}

	if nonEmpty > 0 {
		aggregate.AverageVelocity = velocitySum / float64(nonEmpty)
	}

	return MultiTrackMidiInfo{MidiInfo: aggregate, Tracks: tracks}
}
