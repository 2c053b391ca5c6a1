package audio

import (
	"time"
)

// AudioMetadata holds source audio properties reported by ffprobe
type AudioMetadata struct {
	SampleRate int     `json:"sample_rate"`
	Channels   int     `json:"channels"`
	Codec      string  `json:"codec"`
	Duration   float64 `json:"duration"` // Source duration in seconds
	Bitrate    int     `json:"bitrate,omitempty"`
	Format     string  `json:"format,omitempty"`
}

// AudioData represents decoded PCM audio. Samples are interleaved when
// Channels > 1. Stages borrow the buffer and never mutate it.
type AudioData struct {
	Samples    []float64      `json:"-"`
	SampleRate int            `json:"sample_rate"`
	Channels   int            `json:"channels"`
	SourcePath string         `json:"source_path,omitempty"`
	Metadata   *AudioMetadata `json:"metadata,omitempty"`
}

// IsEmpty reports whether the buffer holds no samples
func (a *AudioData) IsEmpty() bool {
	return a == nil || len(a.Samples) == 0
}

// Duration returns the decoded audio length
func (a *AudioData) Duration() time.Duration {
	if a.IsEmpty() || a.SampleRate <= 0 {
		return 0
	}

	channels := max(1, a.Channels)
	samplesPerChannel := len(a.Samples) / channels

	return time.Duration(samplesPerChannel) * time.Second / time.Duration(a.SampleRate)
}

// Seconds returns the decoded audio length in seconds
func (a *AudioData) Seconds() float64 {
	if a.IsEmpty() || a.SampleRate <= 0 {
		return 0
	}

	channels := max(1, a.Channels)
	return float64(len(a.Samples)/channels) / float64(a.SampleRate)
}

// Mono returns a single-channel view of the samples, averaging channels
// when the buffer is multi-channel. Mono input is returned as-is.
func (a *AudioData) Mono() []float64 {
	if a.IsEmpty() {
		return nil
	}

	if a.Channels <= 1 {
		return a.Samples
	}

	channels := a.Channels
	numFrames := len(a.Samples) / channels
	mono := make([]float64, numFrames)

	for i := range numFrames {
		sum := 0.0
		for ch := range channels {
			sum += a.Samples[i*channels+ch]
		}
		mono[i] = sum / float64(channels)
	}

	return mono
}

// Channel extracts one channel (0-based) from interleaved samples
func (a *AudioData) Channel(ch int) []float64 {
	if a.IsEmpty() || ch < 0 || ch >= max(1, a.Channels) {
		return nil
	}

	if a.Channels <= 1 {
		return a.Samples
	}

	channels := a.Channels
	numFrames := len(a.Samples) / channels
	out := make([]float64, numFrames)

	for i := range numFrames {
		out[i] = a.Samples[i*channels+ch]
	}

	return out
}
