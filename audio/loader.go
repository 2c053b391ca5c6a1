package audio

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/zarigata/MP3paraMIDI/logging"
)

// SupportedExtensions lists the input formats the loader accepts
var SupportedExtensions = []string{".mp3", ".wav"}

const (
	minSampleRate = 8000
	maxSampleRate = 192000
)

// LoaderConfig holds audio loader configuration
type LoaderConfig struct {
	TargetSampleRate int           `json:"target_sample_rate"` // 0 keeps the source rate
	TargetChannels   int           `json:"target_channels"`    // 0 keeps the source channels
	MaxDuration      time.Duration `json:"max_duration"`       // 0 means no limit
	ResampleQuality  string        `json:"resample_quality"`   // "fast", "medium", "high"
	FFmpegPath       string        `json:"ffmpeg_path"`        // Empty triggers discovery
	FFprobePath      string        `json:"ffprobe_path"`       // Empty triggers discovery
	Timeout          time.Duration `json:"timeout"`            // Per ffmpeg/ffprobe invocation
}

// DefaultLoaderConfig returns the configuration used by the monophonic
// pipeline: mono PCM at 22050 Hz
func DefaultLoaderConfig() *LoaderConfig {
	return &LoaderConfig{
		TargetSampleRate: 22050,
		TargetChannels:   1,
		MaxDuration:      0,
		ResampleQuality:  "medium",
		Timeout:          120 * time.Second,
	}
}

// SeparationLoaderConfig returns the configuration expected by the source
// separation collaborator: stereo PCM at 44100 Hz
func SeparationLoaderConfig() *LoaderConfig {
	config := DefaultLoaderConfig()
	config.TargetSampleRate = 44100
	config.TargetChannels = 2
	return config
}

// Validate checks the loader configuration
func (c *LoaderConfig) Validate() error {
	if c.TargetSampleRate < 0 {
		return fmt.Errorf("target sample rate must not be negative: %d", c.TargetSampleRate)
	}

	if c.TargetChannels < 0 || c.TargetChannels > 8 {
		return fmt.Errorf("target channels must be between 0 and 8: %d", c.TargetChannels)
	}

	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative: %v", c.Timeout)
	}

	return nil
}

// ResolveFFmpegPath locates the ffmpeg binary. Order: explicit path, the
// FFMPEG_BINARY and IMAGEIO_FFMPEG_EXE environment variables, then $PATH.
func ResolveFFmpegPath(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}

	for _, env := range []string{"FFMPEG_BINARY", "IMAGEIO_FFMPEG_EXE"} {
		if path := os.Getenv(env); path != "" {
			return path, nil
		}
	}

	if path, err := exec.LookPath("ffmpeg"); err == nil {
		return path, nil
	}

	return "", fmt.Errorf("ffmpeg not found: install ffmpeg or set FFMPEG_BINARY")
}

// ResolveFFprobePath locates the ffprobe binary. Order: explicit path, the
// FFPROBE_BINARY environment variable, then $PATH.
func ResolveFFprobePath(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}

	if path := os.Getenv("FFPROBE_BINARY"); path != "" {
		return path, nil
	}

	if path, err := exec.LookPath("ffprobe"); err == nil {
		return path, nil
	}

	return "", fmt.Errorf("ffprobe not found: install ffmpeg or set FFPROBE_BINARY")
}

// Loader decodes audio files to PCM using FFmpeg
type Loader struct {
	config *LoaderConfig
}

// NewLoader creates a new audio loader
func NewLoader(config *LoaderConfig) *Loader {
	if config == nil {
		config = DefaultLoaderConfig()
	}
	return &Loader{config: config}
}

// Config returns the loader configuration
func (l *Loader) Config() *LoaderConfig {
	return l.config
}

// ValidateFile checks that the path exists and carries a supported extension
func (l *Loader) ValidateFile(filename string) error {
	info, err := os.Stat(filename)
	if err != nil {
		return fmt.Errorf("audio file not accessible: %w", err)
	}

	if info.IsDir() {
		return fmt.Errorf("audio path is a directory: %s", filename)
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if !slices.Contains(SupportedExtensions, ext) {
		return fmt.Errorf("unsupported audio format %q (supported: %s)", ext, strings.Join(SupportedExtensions, ", "))
	}

	return nil
}

// Probe returns stream metadata without decoding the audio
func (l *Loader) Probe(ctx context.Context, filename string) (*AudioMetadata, error) {
	ffprobe, err := ResolveFFprobePath(l.config.FFprobePath)
	if err != nil {
		return nil, err
	}

	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		"-select_streams", "a:0",
		filename,
	}

	probeCtx := ctx
	if l.config.Timeout > 0 {
		var cancel context.CancelFunc
		probeCtx, cancel = context.WithTimeout(ctx, l.config.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(probeCtx, ffprobe, args...)

	output, err := cmd.Output()
	if err != nil {
		if exitError, ok := err.(*exec.ExitError); ok {
			return nil, fmt.Errorf("ffprobe failed: %w, stderr: %s", err, string(exitError.Stderr))
		}
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	return parseFFprobeOutput(output)
}

// Load decodes an audio file into PCM at the configured rate and layout
func (l *Loader) Load(ctx context.Context, filename string) (*AudioData, error) {
	logger := logging.WithContext(ctx).WithFields(logging.Fields{
		"component": "audio_loader",
		"function":  "Load",
		"filename":  filename,
	})

	logger.Debug("Starting audio file decode")

	if err := l.ValidateFile(filename); err != nil {
		return nil, err
	}

	metadata, err := l.Probe(ctx, filename)
	if err != nil {
		logger.Error(err, "Failed to probe audio file")
		return nil, err
	}

	if err := validateMetadata(metadata); err != nil {
		return nil, err
	}

	logger.Debug("Audio metadata detected", logging.Fields{
		"input_sample_rate": metadata.SampleRate,
		"input_channels":    metadata.Channels,
		"input_codec":       metadata.Codec,
		"input_duration":    metadata.Duration,
	})

	ffmpeg, err := ResolveFFmpegPath(l.config.FFmpegPath)
	if err != nil {
		return nil, err
	}

	args := l.buildFFmpegArgs(filename, metadata)

	decodeCtx := ctx
	if l.config.Timeout > 0 {
		var cancel context.CancelFunc
		decodeCtx, cancel = context.WithTimeout(ctx, l.config.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(decodeCtx, ffmpeg, args...)

	logger.Debug("Running ffmpeg command", logging.Fields{
		"args": strings.Join(args, " "),
	})

	startTime := time.Now()
	output, err := cmd.Output()
	if err != nil {
		if exitError, ok := err.(*exec.ExitError); ok {
			logger.Error(err, "FFmpeg decode failed", logging.Fields{
				"stderr": string(exitError.Stderr),
			})
			return nil, fmt.Errorf("ffmpeg decode failed: %w, stderr: %s", err, string(exitError.Stderr))
		}
		return nil, fmt.Errorf("ffmpeg decode failed: %w", err)
	}

	samples := bytesToFloat64(output)
	if len(samples) == 0 {
		return nil, fmt.Errorf("no audio samples decoded from %s", filename)
	}

	sampleRate := l.config.TargetSampleRate
	if sampleRate <= 0 {
		sampleRate = metadata.SampleRate
	}

	channels := l.config.TargetChannels
	if channels <= 0 {
		channels = metadata.Channels
	}

	data := &AudioData{
		Samples:    samples,
		SampleRate: sampleRate,
		Channels:   channels,
		SourcePath: filename,
		Metadata:   metadata,
	}

	logger.Debug("FFmpeg decode completed", logging.Fields{
		"output_samples":     len(samples),
		"output_sample_rate": sampleRate,
		"output_channels":    channels,
		"output_duration":    data.Seconds(),
		"decode_time":        time.Since(startTime).Seconds(),
	})

	return data, nil
}

// CheckBinaries verifies that ffmpeg and ffprobe are runnable
func (l *Loader) CheckBinaries() error {
	ffmpeg, err := ResolveFFmpegPath(l.config.FFmpegPath)
	if err != nil {
		return err
	}

	if err := exec.Command(ffmpeg, "-version").Run(); err != nil {
		return fmt.Errorf("ffmpeg not runnable at %s: %w", ffmpeg, err)
	}

	ffprobe, err := ResolveFFprobePath(l.config.FFprobePath)
	if err != nil {
		return err
	}

	if err := exec.Command(ffprobe, "-version").Run(); err != nil {
		return fmt.Errorf("ffprobe not runnable at %s: %w", ffprobe, err)
	}

	return nil
}

// buildFFmpegArgs assembles the decode command for a file input
func (l *Loader) buildFFmpegArgs(filename string, metadata *AudioMetadata) []string {
	sampleRate := l.config.TargetSampleRate
	if sampleRate <= 0 {
		sampleRate = metadata.SampleRate
	}

	channels := l.config.TargetChannels
	if channels <= 0 {
		channels = metadata.Channels
	}

	args := []string{
		"-i", filename,
		"-vn",         // No video
		"-f", "f64le", // Raw float64 little-endian
		"-ac", strconv.Itoa(channels),
		"-ar", strconv.Itoa(sampleRate),
	}

	if l.config.ResampleQuality != "" && metadata.SampleRate != sampleRate {
		switch l.config.ResampleQuality {
		case "fast":
			args = append(args, "-af", "aresample=resampler=soxr:precision=16")
		case "medium":
			args = append(args, "-af", "aresample=resampler=soxr:precision=20")
		case "high":
			args = append(args, "-af", "aresample=resampler=soxr:precision=28")
		}
	}

	if l.config.MaxDuration > 0 {
		args = append(args, "-t", fmt.Sprintf("%.2f", l.config.MaxDuration.Seconds()))
	}

	args = append(args, "-v", "error", "pipe:1")

	return args
}

// validateMetadata rejects streams outside the workable parameter range
func validateMetadata(metadata *AudioMetadata) error {
	if metadata.SampleRate < minSampleRate || metadata.SampleRate > maxSampleRate {
		return fmt.Errorf("sample rate %d outside supported range [%d, %d]",
			metadata.SampleRate, minSampleRate, maxSampleRate)
	}

	if metadata.Duration <= 0 {
		return fmt.Errorf("audio stream reports no duration")
	}

	if metadata.Channels <= 0 || metadata.Channels > 8 {
		return fmt.Errorf("invalid channel count: %d", metadata.Channels)
	}

	return nil
}

// parseFFprobeOutput parses ffprobe JSON to extract audio metadata
func parseFFprobeOutput(jsonData []byte) (*AudioMetadata, error) {
	var probe struct {
		Streams []struct {
			CodecType     string `json:"codec_type"`
			CodecName     string `json:"codec_name"`
			SampleRate    string `json:"sample_rate"`
			Channels      int    `json:"channels"`
			Duration      string `json:"duration"`
			BitRate       string `json:"bit_rate"`
			CodecLongName string `json:"codec_long_name"`
		} `json:"streams"`
	}

	if err := json.Unmarshal(jsonData, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	if len(probe.Streams) == 0 {
		return nil, fmt.Errorf("no audio streams found")
	}

	stream := probe.Streams[0]

	if stream.CodecType != "audio" {
		return nil, fmt.Errorf("stream is not audio type: %s", stream.CodecType)
	}

	sampleRate, err := strconv.Atoi(stream.SampleRate)
	if err != nil {
		sampleRate = 44100 // Fallback to common sample rate
	}

	duration, err := strconv.ParseFloat(stream.Duration, 64)
	if err != nil {
		duration = 0
	}

	bitrate, err := strconv.Atoi(stream.BitRate)
	if err != nil {
		bitrate = 0
	}

	return &AudioMetadata{
		SampleRate: sampleRate,
		Channels:   stream.Channels,
		Codec:      stream.CodecName,
		Duration:   duration,
		Bitrate:    bitrate,
		Format:     stream.CodecLongName,
	}, nil
}

// bytesToFloat64 converts raw f64le bytes to []float64
func bytesToFloat64(data []byte) []float64 {
	if len(data)%8 != 0 {
		data = data[:len(data)-(len(data)%8)]
	}

	if len(data) == 0 {
		return nil
	}

	sampleCount := len(data) / 8
	samples := make([]float64, sampleCount)

	for i := range sampleCount {
		bits := binary.LittleEndian.Uint64(data[i*8 : i*8+8])
		samples[i] = math.Float64frombits(bits)
	}

	return samples
}
