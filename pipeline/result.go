package pipeline

// PipelineResult is the outcome of one audio-to-MIDI conversion. Success
// and ErrorMessage carry the overall verdict; the optional fields stay
// unset when their stage was skipped or fell back.
type PipelineResult struct {
	Success             bool           `json:"success"`
	OutputPath          string         `json:"output_path,omitempty"`
	NoteCount           int            `json:"note_count"`
	Duration            float64        `json:"duration"` // Seconds of MIDI content
	ErrorMessage        string         `json:"error_message,omitempty"`
	ProcessingTime      float64        `json:"processing_time"` // Seconds
	SeparationEnabled   bool           `json:"separation_enabled"`
	StemCount           int            `json:"stem_count"`
	TranscriptionMethod string         `json:"transcription_method"` // "monophonic" or "ai"
	ModelInfo           map[string]any `json:"model_info,omitempty"`
	DetectedTempo       *float64       `json:"detected_tempo,omitempty"` // BPM, nil when detection was off or failed
	BeatTimes           []float64      `json:"beat_times,omitempty"`
	DetectedKey         string         `json:"detected_key,omitempty"` // e.g. "A minor"
	QuantizationApplied bool           `json:"quantization_applied"`
	NotesFiltered       int            `json:"notes_filtered"`
}
