package audio

import (
	"math"
	"os"
	"path/filepath"
	"testing"
)

func sineData(freq float64, sampleRate, channels int, seconds float64) *AudioData {
	numFrames := int(float64(sampleRate) * seconds)
	samples := make([]float64, numFrames*channels)
	for i := range numFrames {
		v := 0.5 * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate))
		for ch := range channels {
			samples[i*channels+ch] = v
		}
	}
	return &AudioData{
		Samples:    samples,
		SampleRate: sampleRate,
		Channels:   channels,
	}
}

func TestWriteReadWAVRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")
	original := sineData(440.0, 22050, 1, 0.1)

	if err := WriteWAV(path, original); err != nil {
		t.Fatalf("WriteWAV() error = %v", err)
	}

	decoded, err := ReadWAV(path)
	if err != nil {
		t.Fatalf("ReadWAV() error = %v", err)
	}

	if decoded.SampleRate != 22050 {
		t.Errorf("SampleRate = %d, want 22050", decoded.SampleRate)
	}
	if decoded.Channels != 1 {
		t.Errorf("Channels = %d, want 1", decoded.Channels)
	}
	if len(decoded.Samples) != len(original.Samples) {
		t.Fatalf("len(Samples) = %d, want %d", len(decoded.Samples), len(original.Samples))
	}

	// 16-bit quantization keeps round trip error below one LSB
	for i, want := range original.Samples {
		if math.Abs(decoded.Samples[i]-want) > 1e-3 {
			t.Fatalf("sample %d = %v, want %v", i, decoded.Samples[i], want)
		}
	}

	if decoded.Metadata == nil {
		t.Fatal("Metadata is nil")
	}
	if decoded.Metadata.Format != "wav" {
		t.Errorf("Metadata.Format = %q, want %q", decoded.Metadata.Format, "wav")
	}
	if math.Abs(decoded.Metadata.Duration-0.1) > 1e-3 {
		t.Errorf("Metadata.Duration = %v, want 0.1", decoded.Metadata.Duration)
	}
}

func TestWriteReadWAVStereo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stereo.wav")
	original := sineData(220.0, 44100, 2, 0.05)

	if err := WriteWAV(path, original); err != nil {
		t.Fatalf("WriteWAV() error = %v", err)
	}

	decoded, err := ReadWAV(path)
	if err != nil {
		t.Fatalf("ReadWAV() error = %v", err)
	}

	if decoded.Channels != 2 {
		t.Errorf("Channels = %d, want 2", decoded.Channels)
	}
	if decoded.SampleRate != 44100 {
		t.Errorf("SampleRate = %d, want 44100", decoded.SampleRate)
	}
	if math.Abs(decoded.Seconds()-0.05) > 1e-3 {
		t.Errorf("Seconds() = %v, want 0.05", decoded.Seconds())
	}
}

func TestWriteWAVClipsOutOfRangeSamples(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clipped.wav")
	data := &AudioData{
		Samples:    []float64{2.0, -2.0, 0.0},
		SampleRate: 8000,
		Channels:   1,
	}

	if err := WriteWAV(path, data); err != nil {
		t.Fatalf("WriteWAV() error = %v", err)
	}

	decoded, err := ReadWAV(path)
	if err != nil {
		t.Fatalf("ReadWAV() error = %v", err)
	}

	if math.Abs(decoded.Samples[0]-1.0) > 2e-3 {
		t.Errorf("clipped positive sample = %v, want ~1.0", decoded.Samples[0])
	}
	if math.Abs(decoded.Samples[1]+1.0) > 2e-3 {
		t.Errorf("clipped negative sample = %v, want ~-1.0", decoded.Samples[1])
	}
}

func TestWriteWAVEmptyBuffer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.wav")

	if err := WriteWAV(path, &AudioData{SampleRate: 22050, Channels: 1}); err == nil {
		t.Error("WriteWAV() with empty buffer expected error, got nil")
	}
	if err := WriteWAV(path, nil); err == nil {
		t.Error("WriteWAV() with nil buffer expected error, got nil")
	}
}

func TestReadWAVRejectsNonWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not_audio.wav")
	if err := os.WriteFile(path, []byte("just some text"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := ReadWAV(path); err == nil {
		t.Error("ReadWAV() on non-WAV data expected error, got nil")
	}
}

func TestReadWAVMissingFile(t *testing.T) {
	if _, err := ReadWAV(filepath.Join(t.TempDir(), "missing.wav")); err == nil {
		t.Error("ReadWAV() on missing file expected error, got nil")
	}
}

func TestAudioDataMono(t *testing.T) {
	stereo := &AudioData{
		Samples:    []float64{1.0, 0.0, 0.5, 0.5, -1.0, 1.0},
		SampleRate: 22050,
		Channels:   2,
	}

	mono := stereo.Mono()
	want := []float64{0.5, 0.5, 0.0}
	if len(mono) != len(want) {
		t.Fatalf("len(Mono()) = %d, want %d", len(mono), len(want))
	}
	for i, w := range want {
		if math.Abs(mono[i]-w) > 1e-12 {
			t.Errorf("Mono()[%d] = %v, want %v", i, mono[i], w)
		}
	}
}

func TestAudioDataChannel(t *testing.T) {
	stereo := &AudioData{
		Samples:    []float64{1.0, 0.0, 0.5, 0.25},
		SampleRate: 22050,
		Channels:   2,
	}

	left := stereo.Channel(0)
	right := stereo.Channel(1)
	if len(left) != 2 || left[0] != 1.0 || left[1] != 0.5 {
		t.Errorf("Channel(0) = %v, want [1 0.5]", left)
	}
	if len(right) != 2 || right[0] != 0.0 || right[1] != 0.25 {
		t.Errorf("Channel(1) = %v, want [0 0.25]", right)
	}
	if stereo.Channel(2) != nil {
		t.Error("Channel(2) on stereo buffer expected nil")
	}
	if stereo.Channel(-1) != nil {
		t.Error("Channel(-1) expected nil")
	}
}
