package pipeline

// Stage identifies one phase of the conversion. The set is closed: every
// stage a pipeline can report appears here and in at least one schedule.
type Stage string

const (
	StageLoading                 Stage = "loading"
	StageModelLoading            Stage = "model_loading"
	StagePitchDetection          Stage = "pitch_detection"
	StageNoteSegmentation        Stage = "note_segmentation"
	StageSourceSeparation        Stage = "source_separation"
	StagePolyphonicTranscription Stage = "polyphonic_transcription"
	StageTempoDetection          Stage = "tempo_detection"
	StageNoteFiltering           Stage = "note_filtering"
	StageQuantization            Stage = "quantization"
	StageMidiGeneration          Stage = "midi_generation"
	StageComplete                Stage = "complete"
)

// AllStages lists every stage in pipeline order
func AllStages() []Stage {
	return []Stage{
		StageLoading,
		StageModelLoading,
		StagePitchDetection,
		StageNoteSegmentation,
		StageSourceSeparation,
		StagePolyphonicTranscription,
		StageTempoDetection,
		StageNoteFiltering,
		StageQuantization,
		StageMidiGeneration,
		StageComplete,
	}
}

// Mode selects which stage schedule a conversion follows
type Mode string

const (
	ModeMonophonic Mode = "monophonic"
	ModeAI         Mode = "ai"
)

// PipelineProgress is one progress event emitted during a conversion
type PipelineProgress struct {
	Stage    Stage   `json:"stage"`
	Progress float64 `json:"progress"` // Overall progress in [0, 1]
	Message  string  `json:"message"`
}

// ProgressCallback receives progress events. Callbacks run synchronously
// on the pipeline's goroutine; a panicking callback is logged and ignored.
type ProgressCallback func(PipelineProgress)

// stageSpan is the overall-progress band a stage occupies: Begin is
// reported when the stage starts, End when it completes. Stages wrapping a
// collaborator interpolate between the two.
type stageSpan struct {
	Begin float64
	End   float64
}

func (s stageSpan) at(v float64) float64 {
	if v < 0 {
		v = 0
	} else if v > 1 {
		v = 1
	}
	return s.Begin + (s.End-s.Begin)*v
}

var monophonicSchedule = map[Stage]stageSpan{
	StageLoading:          {0.0, 0.1},
	StagePitchDetection:   {0.1, 0.33},
	StageNoteSegmentation: {0.4, 0.5},
	StageTempoDetection:   {0.55, 0.6},
	StageNoteFiltering:    {0.65, 0.7},
	StageQuantization:     {0.75, 0.8},
	StageMidiGeneration:   {0.85, 0.95},
	StageComplete:         {1.0, 1.0},
}

var aiSchedule = map[Stage]stageSpan{
	StageLoading:                 {0.0, 0.05},
	StageModelLoading:            {0.05, 0.5},
	StageSourceSeparation:        {0.5, 0.7},
	StagePolyphonicTranscription: {0.7, 0.9},
	StageTempoDetection:          {0.92, 0.92},
	StageMidiGeneration:          {0.95, 0.95},
	StageComplete:                {1.0, 1.0},
}

// Model loading subdivides its span between the two model loads
var (
	separationLoadSpan    = stageSpan{0.05, 0.3}
	transcriptionLoadSpan = stageSpan{0.3, 0.5}
)

func scheduleFor(mode Mode) map[Stage]stageSpan {
	if mode == ModeAI {
		return aiSchedule
	}
	return monophonicSchedule
}

// StageProgress maps stage-relative progress in [0, 1] onto the overall
// progress value reported for that stage under the given mode. Stages
// outside the mode's schedule report 0.
func StageProgress(mode Mode, stage Stage, stageProgress float64) float64 {
	span, ok := scheduleFor(mode)[stage]
	if !ok {
		return 0
	}
	return span.at(stageProgress)
}

// OverallProgress spreads per-file progress evenly across a multi-file
// batch: file i of n maps onto the band [i/n, (i+1)/n].
func OverallProgress(fileIndex, totalFiles int, mode Mode, stage Stage, stageProgress float64) float64 {
	if totalFiles < 1 {
		totalFiles = 1
	}
	if fileIndex < 0 {
		fileIndex = 0
	} else if fileIndex >= totalFiles {
		fileIndex = totalFiles - 1
	}
	return (float64(fileIndex) + StageProgress(mode, stage, stageProgress)) / float64(totalFiles)
}
