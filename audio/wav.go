package audio

import (
	"fmt"
	"math"
	"os"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const wavBitDepth = 16

// WriteWAV encodes the buffer as 16-bit PCM WAV. Samples outside [-1, 1]
// are clipped.
func WriteWAV(path string, data *AudioData) error {
	if data.IsEmpty() {
		return fmt.Errorf("cannot write empty audio buffer to %s", path)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create WAV file: %w", err)
	}
	defer f.Close()

	channels := data.Channels
	if channels < 1 {
		channels = 1
	}

	intData := make([]int, len(data.Samples))
	for i, sample := range data.Samples {
		v := int(math.Round(sample * 32767))
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		intData[i] = v
	}

	enc := wav.NewEncoder(f, data.SampleRate, wavBitDepth, channels, 1)
	buf := &gaudio.IntBuffer{
		Format: &gaudio.Format{
			NumChannels: channels,
			SampleRate:  data.SampleRate,
		},
		Data:           intData,
		SourceBitDepth: wavBitDepth,
	}

	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("failed to encode WAV data: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to finalize WAV file: %w", err)
	}
	return nil
}

// ReadWAV decodes a PCM WAV file into an AudioData buffer with samples
// normalized to [-1, 1]. Unlike Loader.Load this does not shell out to
// ffmpeg, so it is safe for the temp files exchanged with model runners.
func ReadWAV(path string) (*AudioData, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAV file: %w", err)
	}
	defer f.Close()

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		return nil, fmt.Errorf("%s is not a valid WAV file", path)
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to decode WAV data: %w", err)
	}

	bitDepth := int(decoder.BitDepth)
	if buf.SourceBitDepth > 0 {
		bitDepth = buf.SourceBitDepth
	}
	if bitDepth < 8 || bitDepth > 32 {
		bitDepth = wavBitDepth
	}
	scale := float64(int64(1) << (bitDepth - 1))

	samples := make([]float64, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = float64(v) / scale
	}

	channels := buf.Format.NumChannels
	if channels < 1 {
		channels = 1
	}
	sampleRate := buf.Format.SampleRate
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%s reports invalid sample rate %d", path, sampleRate)
	}

	return &AudioData{
		Samples:    samples,
		SampleRate: sampleRate,
		Channels:   channels,
		SourcePath: path,
		Metadata: &AudioMetadata{
			SampleRate: sampleRate,
			Channels:   channels,
			Codec:      fmt.Sprintf("pcm_s%dle", bitDepth),
			Duration:   float64(len(samples)) / float64(channels) / float64(sampleRate),
			Format:     "wav",
		},
	}, nil
}
