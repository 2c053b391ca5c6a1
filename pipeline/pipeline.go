// Package pipeline orchestrates the audio-to-MIDI conversion: pitch
// detection, note segmentation, tempo detection, filtering, quantization,
// and MIDI generation in the monophonic path, or source separation and
// polyphonic transcription through AI collaborators in the AI path.
//
// The orchestrator is single-threaded. Stages run to completion in order,
// soft stages (tempo, filtering, quantization) fall back on failure
// instead of aborting, and every stage transition is reported through an
// optional progress callback with monotonically non-decreasing values.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"time"

	"github.com/zarigata/MP3paraMIDI/algorithms/tonal"
	"github.com/zarigata/MP3paraMIDI/audio"
	"github.com/zarigata/MP3paraMIDI/logging"
	"github.com/zarigata/MP3paraMIDI/midi"
	"github.com/zarigata/MP3paraMIDI/models"
	"github.com/zarigata/MP3paraMIDI/notes"
)

// Pipeline converts audio buffers to MIDI files. Instances are not safe
// for concurrent use; run one conversion at a time per instance.
type Pipeline struct {
	config Config

	pitchDetector *notes.PitchDetector
	tempoDetector *notes.TempoDetector
	noteFilter    *notes.NoteFilter
	quantizer     *midi.Quantizer
	generator     *midi.Generator
	keyEstimator  *tonal.KeyEstimator

	backend     *models.Backend
	separator   models.Separator
	transcriber models.Transcriber

	progress ProgressCallback
	logger   logging.Logger
}

// NewPipeline creates a pipeline with the default configuration
func NewPipeline() *Pipeline {
	return NewPipelineWithConfig(DefaultConfig())
}

// NewPipelineWithConfig creates a pipeline for the given configuration.
// The AI backend is resolved once here, not per conversion.
func NewPipelineWithConfig(config Config) *Pipeline {
	if config.PitchDetector == (notes.PitchDetectorParams{}) {
		config.PitchDetector = notes.DefaultPitchDetectorParams()
	}
	if config.Filter == (notes.FilterConfig{}) {
		config.Filter = notes.DefaultFilterConfig()
	}
	if config.MinNoteDuration <= 0 {
		config.MinNoteDuration = 0.05
	}
	if config.TempoBPM <= 0 {
		config.TempoBPM = 120.0
	}
	if config.Quantize && config.Grid == midi.GridNone {
		config.Grid = midi.GridSixteenth
	}

	p := &Pipeline{
		config:        config,
		pitchDetector: notes.NewPitchDetectorWithParams(config.PitchDetector),
		noteFilter:    notes.NewNoteFilterWithConfig(config.Filter),
		quantizer:     midi.NewQuantizer(),
		generator:     midi.NewGeneratorWithParams(config.Generator),
		logger:        logging.WithFields(logging.Fields{"component": "pipeline"}),
	}

	if config.DetectTempo {
		p.tempoDetector = notes.NewTempoDetector()
	}
	if config.DetectKey {
		p.keyEstimator = tonal.NewKeyEstimator()
	}

	if config.UseAIModels {
		p.backend = models.ResolveBackend(config.Backend)
		if config.EnableSeparation {
			p.separator = models.NewDemucsSeparatorWithParams(p.backend, config.Demucs)
		}
		p.transcriber = models.NewBasicPitchTranscriberWithParams(p.backend, config.BasicPitch)
	}

	return p
}

// Config returns the effective pipeline configuration
func (p *Pipeline) Config() Config {
	return p.config
}

// SetProgressCallback installs the progress consumer for subsequent
// conversions
func (p *Pipeline) SetProgressCallback(cb ProgressCallback) {
	p.progress = cb
}

// Mode reports which stage schedule this pipeline follows
func (p *Pipeline) Mode() Mode {
	if p.config.UseAIModels {
		return ModeAI
	}
	return ModeMonophonic
}

// Process converts a decoded audio buffer to a MIDI file. When outputPath
// is empty the buffer's source path with a .mid extension is used. Failure
// is reported through the result, never panicked or half-written.
func (p *Pipeline) Process(ctx context.Context, data *audio.AudioData, outputPath string) PipelineResult {
	start := time.Now()
	result := PipelineResult{
		TranscriptionMethod: "monophonic",
		StemCount:           1,
	}

	run := &progressRun{pipeline: p, mode: p.Mode()}
	if err := p.process(ctx, run, data, outputPath, &result); err != nil {
		result.Success = false
		result.ErrorMessage = err.Error()
		p.logger.Error(err, "audio to MIDI conversion failed")
	}
	result.ProcessingTime = time.Since(start).Seconds()

	if result.Success {
		p.logger.Info("conversion complete", logging.Fields{
			"output":          result.OutputPath,
			"notes":           result.NoteCount,
			"duration_sec":    result.Duration,
			"processing_time": result.ProcessingTime,
		})
	}
	return result
}

// ProcessFile loads an audio file and converts it. The AI path loads at
// the separation model's native rate, the monophonic path at the pitch
// tracker's.
func (p *Pipeline) ProcessFile(ctx context.Context, inputPath, outputPath string) PipelineResult {
	start := time.Now()

	loaderConfig := audio.DefaultLoaderConfig()
	if p.config.UseAIModels {
		loaderConfig = audio.SeparationLoaderConfig()
	}

	data, err := audio.NewLoader(loaderConfig).Load(ctx, inputPath)
	if err != nil {
		return PipelineResult{
			Success:             false,
			ErrorMessage:        fmt.Sprintf("failed to load audio: %v", err),
			ProcessingTime:      time.Since(start).Seconds(),
			TranscriptionMethod: "monophonic",
			StemCount:           1,
		}
	}

	result := p.Process(ctx, data, outputPath)
	result.ProcessingTime = time.Since(start).Seconds()
	return result
}

func (p *Pipeline) process(ctx context.Context, run *progressRun, data *audio.AudioData, outputPath string, result *PipelineResult) error {
	if outputPath == "" {
		if data == nil || data.SourcePath == "" {
			return &InvalidInputError{Op: "process", Reason: "no output path provided and audio has no source path"}
		}
		outputPath = midPathFor(data.SourcePath)
	}

	// A fresh run never inherits the previous run's key signature
	p.generator.SetKeySignature(nil)

	run.begin(StageLoading, "Loading audio...")

	if p.config.UseAIModels {
		return p.processWithAI(ctx, run, data, outputPath, result)
	}
	return p.processMonophonic(run, data, outputPath, result)
}

func (p *Pipeline) processMonophonic(run *progressRun, data *audio.AudioData, outputPath string, result *PipelineResult) error {
	run.begin(StagePitchDetection, "Detecting pitch...")
	frames, err := p.pitchDetector.DetectPitch(data)
	if err != nil {
		return fmt.Errorf("pitch detection failed: %w", err)
	}
	if len(frames) == 0 {
		return &InvalidInputError{Op: "pitch detection", Reason: "no pitch detected in audio"}
	}
	run.end(StagePitchDetection, "Pitch detection complete")

	run.begin(StageNoteSegmentation, "Segmenting notes...")
	noteEvents, err := p.pitchDetector.SegmentNotes(frames, data, p.config.MinNoteDuration)
	if err != nil {
		return fmt.Errorf("note segmentation failed: %w", err)
	}
	if len(noteEvents) == 0 {
		return &InvalidInputError{Op: "note segmentation", Reason: "no notes detected in audio"}
	}
	run.end(StageNoteSegmentation, "Note segmentation complete")

	tempoInfo := p.detectTempoStage(run, data, result, true)
	tempoBPM := p.config.TempoBPM
	if tempoInfo != nil {
		tempoBPM = tempoInfo.TempoBPM
	}

	run.begin(StageNoteFiltering, "Filtering notes...")
	noteEvents, result.NotesFiltered = p.filterNotes(noteEvents, "")
	run.end(StageNoteFiltering, "Note filtering complete")

	if p.config.Quantize {
		run.begin(StageQuantization, "Quantizing notes...")
		quantized := p.quantizer.QuantizeNotes(noteEvents, p.config.Grid, tempoBPM)
		if len(quantized) == 0 {
			p.logger.Warn("quantization removed all notes, keeping unquantized results")
		} else {
			noteEvents = quantized
			result.QuantizationApplied = true
		}
		run.end(StageQuantization, "Note quantization complete")
	}

	p.detectKeyStage(noteEvents, result)

	run.begin(StageMidiGeneration, "Generating MIDI...")
	doc, err := p.generator.CreateMidi(noteEvents, tempoBPM)
	if err != nil {
		return fmt.Errorf("midi generation failed: %w", err)
	}
	if err := p.generator.WriteFile(doc, outputPath); err != nil {
		return fmt.Errorf("midi generation failed: %w", err)
	}
	run.end(StageMidiGeneration, "MIDI generation complete")

	info := midi.GetMidiInfo(noteEvents)
	result.Success = true
	result.OutputPath = outputPath
	result.NoteCount = info.NoteCount
	result.Duration = info.Duration
	result.TranscriptionMethod = "monophonic"
	result.SeparationEnabled = false
	result.StemCount = 1

	run.end(StageComplete, "Conversion complete")
	return nil
}

func (p *Pipeline) processWithAI(ctx context.Context, run *progressRun, data *audio.AudioData, outputPath string, result *PipelineResult) error {
	if data.IsEmpty() {
		return &InvalidInputError{Op: "process", Reason: "audio buffer is empty"}
	}

	deviceInfo := models.GetDeviceInfo()
	p.logger.Info("starting AI processing", logging.Fields{
		"device":       deviceInfo.DeviceType,
		"cpus":         deviceInfo.CPUCount,
		"available_gb": deviceInfo.AvailableMemoryGB,
	})
	result.ModelInfo = map[string]any{"device_info": deviceInfo}

	run.begin(StageModelLoading, "Initializing AI models...")

	if p.separator != nil {
		err := p.separator.EnsureLoaded(ctx, run.spanCallback(StageModelLoading, separationLoadSpan, "Demucs: "))
		if err != nil {
			return enrichOOM(err, deviceInfo, "model loading")
		}
	}
	err := p.transcriber.EnsureLoaded(ctx, run.spanCallback(StageModelLoading, transcriptionLoadSpan, "Basic-Pitch: "))
	if err != nil {
		return enrichOOM(err, deviceInfo, "model loading")
	}
	run.end(StageModelLoading, "AI models ready")

	var stems []models.SeparatedStem
	if p.config.EnableSeparation {
		if p.separator == nil {
			return errors.New("source separation requested but no separation model is configured")
		}

		models.CheckMemoryAvailable(models.StageMemoryRequirementGB("separation"))

		run.begin(StageSourceSeparation, "Separating sources with Demucs...")
		stems, err = p.separator.Separate(ctx, data, run.spanCallback(StageSourceSeparation, aiSchedule[StageSourceSeparation], ""))
		if err != nil {
			return enrichOOM(err, deviceInfo, "source separation")
		}
		if len(stems) == 0 {
			return errors.New("source separation returned no stems")
		}
		result.SeparationEnabled = true
		result.StemCount = len(stems)
	} else {
		stems = []models.SeparatedStem{{
			Name:       "mix",
			Samples:    data.Samples,
			SampleRate: data.SampleRate,
			Channels:   data.Channels,
		}}
		result.SeparationEnabled = false
		result.StemCount = 1
	}

	models.CheckMemoryAvailable(models.StageMemoryRequirementGB("transcription"))

	run.begin(StagePolyphonicTranscription, "Transcribing stems with Basic-Pitch...")
	stemNotes := make(map[string][]notes.NoteEvent, len(stems))
	for i, stem := range stems {
		events, err := p.transcriber.TranscribeStem(ctx, stem, run.stemCallback(i, len(stems), stem.Name))
		if err != nil {
			return enrichOOM(err, deviceInfo, fmt.Sprintf("%s transcription", stem.Name))
		}
		stemNotes[stem.Name] = events
	}

	tempoInfo := p.detectTempoStage(run, data, result, false)
	tempoBPM := p.config.TempoBPM
	if tempoInfo != nil {
		tempoBPM = tempoInfo.TempoBPM
	}

	totalFiltered := 0
	quantizationApplied := false
	allNotes := make([]notes.NoteEvent, 0)
	for name, events := range stemNotes {
		filtered, removed := p.filterNotes(events, name)
		stemNotes[name] = filtered
		totalFiltered += removed

		if p.config.Quantize && len(filtered) > 0 {
			quantized := p.quantizer.QuantizeNotes(filtered, p.config.Grid, tempoBPM)
			if len(quantized) > 0 {
				stemNotes[name] = quantized
				quantizationApplied = true
			}
		}
		allNotes = append(allNotes, stemNotes[name]...)
	}
	result.NotesFiltered = totalFiltered
	result.QuantizationApplied = quantizationApplied

	p.detectKeyStage(allNotes, result)

	run.begin(StageMidiGeneration, "Generating multi-track MIDI...")
	doc, err := p.generator.CreateMultiTrackMidi(stemNotes, tempoBPM)
	if err != nil {
		return fmt.Errorf("midi generation failed: %w", err)
	}
	if err := p.generator.WriteFile(doc, outputPath); err != nil {
		return fmt.Errorf("midi generation failed: %w", err)
	}

	info := midi.GetMultiTrackMidiInfo(stemNotes)
	result.Success = true
	result.OutputPath = outputPath
	result.NoteCount = info.NoteCount
	result.Duration = info.Duration
	result.TranscriptionMethod = "ai"
	if p.separator != nil {
		result.ModelInfo["separation_model"] = p.config.Demucs.ModelName
	}
	result.ModelInfo["transcription_params"] = p.config.BasicPitch
	result.ModelInfo["device"] = p.config.BasicPitch.Device

	run.end(StageComplete, "AI conversion complete")
	return nil
}

// detectTempoStage runs tempo detection as a soft stage: failure logs a
// warning and leaves the configured default tempo in effect.
func (p *Pipeline) detectTempoStage(run *progressRun, data *audio.AudioData, result *PipelineResult, announceDone bool) *notes.TempoInfo {
	if p.tempoDetector == nil {
		return nil
	}

	run.begin(StageTempoDetection, "Detecting tempo...")
	info, err := p.tempoDetector.DetectTempo(data)
	if err != nil {
		p.logger.Warn("tempo detection failed, using default tempo", logging.Fields{
			"error":       err.Error(),
			"default_bpm": p.config.TempoBPM,
		})
		return nil
	}

	tempo := info.TempoBPM
	result.DetectedTempo = &tempo
	result.BeatTimes = info.BeatTimes
	if announceDone {
		run.end(StageTempoDetection, "Tempo detection complete")
	}
	return info
}

// filterNotes applies the note filter with the documented fallback: a
// pass that would remove every note reverts to the unfiltered input and
// counts zero removals. stemName is empty in the monophonic path.
func (p *Pipeline) filterNotes(noteEvents []notes.NoteEvent, stemName string) ([]notes.NoteEvent, int) {
	filtered, removed := p.noteFilter.FilterNotes(noteEvents)
	if len(noteEvents) > 0 && len(filtered) == 0 {
		fields := logging.Fields{"original": len(noteEvents)}
		if stemName != "" {
			fields["stem"] = stemName
		}
		p.logger.Warn("note filtering removed all notes, keeping unfiltered results", fields)
		return noteEvents, 0
	}
	return filtered, removed
}

// detectKeyStage estimates the musical key from the duration-weighted
// pitch class distribution of the final note events and stamps it onto
// the generator as a key signature meta event. Best effort, no progress
// stage of its own.
func (p *Pipeline) detectKeyStage(noteEvents []notes.NoteEvent, result *PipelineResult) {
	if p.keyEstimator == nil || len(noteEvents) == 0 {
		return
	}

	var distribution [12]float64
	for _, n := range noteEvents {
		distribution[n.MidiNote%12] += math.Max(n.Duration(), 0)
	}

	estimate := p.keyEstimator.EstimateFromPitchClasses(distribution[:])
	if estimate.KeyName == "" {
		return
	}
	keySig, ok := midi.ParseKeySignature(estimate.KeyName)
	if !ok {
		return
	}

	p.generator.SetKeySignature(&keySig)
	result.DetectedKey = estimate.KeyName
	p.logger.Info("detected key", logging.Fields{
		"key":        estimate.KeyName,
		"confidence": estimate.Confidence,
	})
}

// enrichOOM wraps accelerator out-of-memory failures with the available
// memory figure and recovery suggestions, per the documented policy. Other
// errors pass through unchanged.
func enrichOOM(err error, device models.DeviceInfo, operation string) error {
	if !models.IsOutOfMemory(err) {
		return err
	}
	return fmt.Errorf(
		"out of memory during %s on %s (%s) with %.2f GB available; try a shorter recording, a smaller model, or disabling AI models: %w",
		operation, device.DeviceType, device.DeviceName, device.AvailableMemoryGB, err)
}

// midPathFor swaps the extension of a source path for .mid
func midPathFor(sourcePath string) string {
	return strings.TrimSuffix(sourcePath, filepath.Ext(sourcePath)) + ".mid"
}

// progressRun tracks one conversion's progress reporting. Values are
// monotonic: an event can never report less overall progress than its
// predecessor.
type progressRun struct {
	pipeline  *Pipeline
	mode      Mode
	highWater float64
}

func (r *progressRun) begin(stage Stage, message string) {
	r.report(stage, StageProgress(r.mode, stage, 0), message)
}

func (r *progressRun) end(stage Stage, message string) {
	r.report(stage, StageProgress(r.mode, stage, 1), message)
}

// spanCallback adapts a collaborator's stage-relative progress onto a
// band of the overall schedule, prefixing its messages
func (r *progressRun) spanCallback(stage Stage, span stageSpan, prefix string) models.ProgressFunc {
	return func(value float64, message string) {
		r.report(stage, span.at(value), prefix+message)
	}
}

// stemCallback maps stem i of n onto its slice of the transcription span.
// Events are capped at the span end so a stem reporting past 1.0 cannot
// leak into the next stage's band.
func (r *progressRun) stemCallback(index, total int, stemName string) models.ProgressFunc {
	span := aiSchedule[StagePolyphonicTranscription]
	share := (span.End - span.Begin) / float64(max(total, 1))
	start := span.Begin + share*float64(index)

	return func(value float64, message string) {
		overall := min(span.End, start+share*value)
		r.report(StagePolyphonicTranscription, overall, fmt.Sprintf("%s: %s", stemName, message))
	}
}

func (r *progressRun) report(stage Stage, value float64, message string) {
	if value < 0 {
		value = 0
	} else if value > 1 {
		value = 1
	}
	if value < r.highWater {
		value = r.highWater
	} else {
		r.highWater = value
	}

	p := r.pipeline
	p.logger.Debug("progress", logging.Fields{
		"stage":    string(stage),
		"progress": value,
		"message":  message,
	})

	if p.progress == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Warn("progress callback panicked", logging.Fields{"error": fmt.Sprint(rec)})
		}
	}()
	p.progress(PipelineProgress{Stage: stage, Progress: value, Message: message})
}
