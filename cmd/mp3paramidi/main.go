package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/zarigata/MP3paraMIDI/algorithms/temporal"
	"github.com/zarigata/MP3paraMIDI/algorithms/tonal"
	"github.com/zarigata/MP3paraMIDI/audio"
	"github.com/zarigata/MP3paraMIDI/logging"
	"github.com/zarigata/MP3paraMIDI/midi"
	"github.com/zarigata/MP3paraMIDI/models"
	"github.com/zarigata/MP3paraMIDI/notes"
	"github.com/zarigata/MP3paraMIDI/pipeline"
)

var version = "0.1.0"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "mp3paramidi",
	Short: "Convert audio recordings to MIDI files",
	Long: `MP3paraMIDI converts audio recordings to Standard MIDI Files.

The default path tracks a single melody line with YIN pitch detection and
onset segmentation. With --ai the recording is split into stems by Demucs
and each stem is transcribed polyphonically with Basic-Pitch.`,
	Version: version,
}

var convertCmd = &cobra.Command{
	Use:   "convert <audio-file>...",
	Short: "Convert audio files to MIDI",
	Long: `Convert one or more audio files to Standard MIDI Files.

Examples:
  mp3paramidi convert song.mp3
  mp3paramidi convert song.wav -o melody.mid --tempo 96
  mp3paramidi convert album/*.mp3 --no-quantize
  mp3paramidi convert song.mp3 --ai`,
	Args: cobra.MinimumNArgs(1),
	RunE: runConvert,
}

var infoCmd = &cobra.Command{
	Use:   "info <audio-file>",
	Short: "Analyze a recording without writing MIDI",
	Long: `Detect notes, tempo, and key in a recording and print a summary
without generating any output file.

Example:
  mp3paramidi info song.mp3`,
	Args: cobra.ExactArgs(1),
	RunE: runInfo,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check external tools and system resources",
	Long: `Verify that ffmpeg is installed, report whether the python backend
for the AI models is available, and show memory headroom for each
AI processing stage.`,
	RunE: runCheck,
}

var (
	// convert flags
	outputPath    string
	useAI         bool
	noSeparation  bool
	noQuantize    bool
	gridName      string
	tempoBPM      float64
	minConfidence float64
	verbose       bool
)

func init() {
	rootCmd.AddCommand(convertCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(checkCmd)

	convertCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output MIDI path (single input only; default: input name with .mid)")
	convertCmd.Flags().BoolVar(&useAI, "ai", false, "Use Demucs source separation and Basic-Pitch transcription")
	convertCmd.Flags().BoolVar(&noSeparation, "no-separation", false, "With --ai, transcribe the full mix without separating stems")
	convertCmd.Flags().BoolVar(&noQuantize, "no-quantize", false, "Keep detected note timings instead of snapping to the grid")
	convertCmd.Flags().StringVar(&gridName, "grid", "16", "Quantization grid: 4, 8, 16, or 32")
	convertCmd.Flags().Float64Var(&tempoBPM, "tempo", 0, "Fixed tempo in BPM (0 = detect from audio)")
	convertCmd.Flags().Float64Var(&minConfidence, "min-confidence", 0.3, "Minimum detection confidence for keeping a note")
	convertCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")

	infoCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")
}

// parseGrid maps the --grid flag onto a quantization grid
func parseGrid(name string) (midi.QuantizationGrid, error) {
	switch name {
	case "4", "quarter":
		return midi.GridQuarter, nil
	case "8", "eighth":
		return midi.GridEighth, nil
	case "16", "sixteenth":
		return midi.GridSixteenth, nil
	case "32", "thirty-second":
		return midi.GridThirtySecond, nil
	}
	return midi.GridNone, fmt.Errorf("invalid grid %q (must be 4, 8, 16, or 32)", name)
}

// conversionConfig translates the convert flags into a pipeline configuration
func conversionConfig() (pipeline.Config, error) {
	config := pipeline.DefaultConfig()

	config.Quantize = !noQuantize
	grid, err := parseGrid(gridName)
	if err != nil {
		return config, err
	}
	config.Grid = grid

	if tempoBPM > 0 {
		config.DetectTempo = false
		config.TempoBPM = tempoBPM
	}
	config.Filter.MinConfidence = minConfidence

	config.UseAIModels = useAI
	config.EnableSeparation = useAI && !noSeparation

	return config, nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nInterrupted, stopping after the current stage...")
		cancel()
	}()

	return ctx, cancel
}

const progressScale = 10000

func runConvert(cmd *cobra.Command, args []string) error {
	if verbose {
		logging.SetLevel(logging.DebugLevel)
	}
	if outputPath != "" && len(args) > 1 {
		return fmt.Errorf("--output requires a single input, got %d", len(args))
	}

	config, err := conversionConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	p := pipeline.NewPipelineWithConfig(config)
	total := len(args)

	var mu sync.Mutex
	message := "Starting..."

	bars := mpb.New(mpb.WithWidth(64))
	bar := bars.AddBar(progressScale,
		mpb.PrependDecorators(
			decor.Name("Converting: "),
			decor.Any(func(decor.Statistics) string {
				mu.Lock()
				defer mu.Unlock()
				return message
			}),
		),
		mpb.AppendDecorators(decor.Percentage()),
	)

	summaries := make([]string, 0, total)
	failures := 0

	for i, inputPath := range args {
		index := i
		p.SetProgressCallback(func(update pipeline.PipelineProgress) {
			// Per-file progress is already on the stage schedule; spread
			// file i of n onto [i/n, (i+1)/n]
			overall := (float64(index) + update.Progress) / float64(total)
			mu.Lock()
			message = fmt.Sprintf("%s: %s", filepath.Base(inputPath), update.Message)
			mu.Unlock()
			bar.SetCurrent(int64(math.Round(overall * progressScale)))
		})

		result := p.ProcessFile(ctx, inputPath, outputPath)
		if !result.Success {
			failures++
			summaries = append(summaries, fmt.Sprintf("%s: FAILED: %s", inputPath, result.ErrorMessage))
			continue
		}

		summary := fmt.Sprintf("%s -> %s (%d notes", inputPath, result.OutputPath, result.NoteCount)
		if result.DetectedTempo != nil {
			summary += fmt.Sprintf(", %.0f BPM", *result.DetectedTempo)
		}
		if result.DetectedKey != "" {
			summary += ", " + result.DetectedKey
		}
		if result.SeparationEnabled {
			summary += fmt.Sprintf(", %d stems", result.StemCount)
		}
		summary += fmt.Sprintf(", %.1fs)", result.ProcessingTime)
		summaries = append(summaries, summary)
	}

	bar.SetCurrent(progressScale)
	bars.Wait()

	for _, line := range summaries {
		fmt.Println(line)
	}

	if failures > 0 {
		return fmt.Errorf("%d of %d conversions failed", failures, total)
	}
	return nil
}

func runInfo(cmd *cobra.Command, args []string) error {
	if verbose {
		logging.SetLevel(logging.DebugLevel)
	}

	ctx, cancel := signalContext()
	defer cancel()

	data, err := audio.NewLoader(audio.DefaultLoaderConfig()).Load(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to load audio: %w", err)
	}

	fmt.Printf("File:        %s\n", args[0])
	fmt.Printf("Duration:    %.2fs\n", data.Seconds())
	fmt.Printf("Sample rate: %d Hz, %d channel(s)\n", data.SampleRate, data.Channels)
	if data.Metadata != nil && data.Metadata.Codec != "" {
		fmt.Printf("Codec:       %s\n", data.Metadata.Codec)
	}

	detector := notes.NewPitchDetector()
	frames, err := detector.DetectPitch(data)
	if err != nil {
		return fmt.Errorf("pitch detection failed: %w", err)
	}
	noteEvents, err := detector.SegmentNotes(frames, data, 0.05)
	if err != nil {
		return fmt.Errorf("note segmentation failed: %w", err)
	}

	filtered, removed := notes.NewNoteFilter().FilterNotes(noteEvents)
	if len(filtered) > 0 {
		noteEvents = filtered
	} else {
		removed = 0
	}

	info := midi.GetMidiInfo(noteEvents)
	fmt.Printf("Notes:       %d (%d filtered out)\n", info.NoteCount, removed)
	if info.NoteCount > 0 {
		fmt.Printf("Pitch range: %s to %s\n",
			notes.NoteName(info.PitchRange[0]), notes.NoteName(info.PitchRange[1]))
		fmt.Printf("Velocity:    %.0f average\n", info.AverageVelocity)
	}

	if tempoInfo, err := notes.NewTempoDetector().DetectTempo(data); err == nil {
		fmt.Printf("Tempo:       %.1f BPM (%s, confidence %.2f)\n",
			tempoInfo.TempoBPM, temporal.ClassifyTempoCategory(tempoInfo.TempoBPM), tempoInfo.Confidence)
	} else {
		fmt.Printf("Tempo:       not detected (%v)\n", err)
	}

	if info.NoteCount > 0 {
		var distribution [12]float64
		for _, n := range noteEvents {
			distribution[n.MidiNote%12] += math.Max(n.Duration(), 0)
		}
		if estimate := tonal.NewKeyEstimator().EstimateFromPitchClasses(distribution[:]); estimate.KeyName != "" {
			fmt.Printf("Key:         %s (confidence %.2f)\n", estimate.KeyName, estimate.Confidence)
		}
	}

	return nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	missing := 0

	if path, err := audio.ResolveFFmpegPath(""); err != nil {
		fmt.Printf("ffmpeg:        MISSING (%v)\n", err)
		missing++
	} else {
		fmt.Printf("ffmpeg:        %s\n", path)
	}
	if path, err := audio.ResolveFFprobePath(""); err != nil {
		fmt.Printf("ffprobe:       MISSING (%v)\n", err)
		missing++
	} else {
		fmt.Printf("ffprobe:       %s\n", path)
	}

	backend := models.ResolveBackend(models.DefaultBackendConfig())
	if err := backend.Available(); err != nil {
		fmt.Printf("AI backend:    unavailable (%v)\n", err)
		fmt.Println("               only --ai conversions need the python backend")
	} else {
		fmt.Printf("AI backend:    %s\n", backend.PythonPath())
		fmt.Printf("Model runners: %s\n", backend.ScriptsDir())
	}

	device := models.GetDeviceInfo()
	fmt.Printf("Device:        %s (%s, %d CPUs)\n", device.DeviceType, device.DeviceName, device.CPUCount)
	fmt.Printf("Memory:        %.2f GB available of %.2f GB (%.0f%% used)\n",
		device.AvailableMemoryGB, device.TotalMemoryGB, device.UsedPercent)

	for _, stage := range []string{"separation", "transcription"} {
		required := models.StageMemoryRequirementGB(stage)
		if models.CheckMemoryAvailable(required) {
			fmt.Printf("%-14s ok (needs %.1f GB)\n", stage+":", required)
		} else {
			fmt.Printf("%-14s LOW MEMORY (needs %.1f GB)\n", stage+":", required)
		}
	}

	if missing > 0 {
		return fmt.Errorf("%d required tool(s) missing", missing)
	}
	return nil
}
