package models

import (
	"context"
	"errors"
	"testing"

	"github.com/zarigata/MP3paraMIDI/audio"
)

func availableBackend(t *testing.T) *Backend {
	t.Helper()
	return ResolveBackend(BackendConfig{
		PythonPath: "/opt/test/bin/python",
		ScriptsDir: scriptsDirWithRunners(t),
	})
}

func TestDefaultDemucsParams(t *testing.T) {
	params := DefaultDemucsParams()

	if params.ModelName != "htdemucs" {
		t.Errorf("ModelName = %q, want %q", params.ModelName, "htdemucs")
	}
	if params.SegmentDuration != 7.8 {
		t.Errorf("SegmentDuration = %v, want 7.8", params.SegmentDuration)
	}
	if params.Overlap != 0.25 {
		t.Errorf("Overlap = %v, want 0.25", params.Overlap)
	}
	if params.Shifts != 1 {
		t.Errorf("Shifts = %d, want 1", params.Shifts)
	}
	if params.Device != "cpu" {
		t.Errorf("Device = %q, want %q", params.Device, "cpu")
	}
}

func TestNewDemucsSeparatorWithParamsDefaults(t *testing.T) {
	s := NewDemucsSeparatorWithParams(nil, DemucsParams{
		ModelName: "htdemucs_ft",
		Overlap:   1.5,
	})

	params := s.Params()
	if params.ModelName != "htdemucs_ft" {
		t.Errorf("ModelName = %q, want explicit value kept", params.ModelName)
	}
	if params.SegmentDuration != 7.8 {
		t.Errorf("SegmentDuration = %v, want default 7.8", params.SegmentDuration)
	}
	if params.Overlap != 0.25 {
		t.Errorf("out-of-range Overlap = %v, want default 0.25", params.Overlap)
	}
	if params.Shifts != 1 {
		t.Errorf("Shifts = %d, want default 1", params.Shifts)
	}
	if params.Device != "cpu" {
		t.Errorf("Device = %q, want default cpu", params.Device)
	}
}

func TestAvailableSeparationModels(t *testing.T) {
	models := AvailableSeparationModels()
	want := []string{"htdemucs", "htdemucs_ft", "htdemucs_6s", "hdemucs_mmi"}

	if len(models) != len(want) {
		t.Fatalf("len = %d, want %d", len(models), len(want))
	}
	for i, w := range want {
		if models[i] != w {
			t.Errorf("models[%d] = %q, want %q", i, models[i], w)
		}
	}
}

func TestStemNamesReturnsCopy(t *testing.T) {
	s := NewDemucsSeparator(nil)

	names := s.StemNames()
	if len(names) != 4 {
		t.Fatalf("len(StemNames()) = %d, want 4", len(names))
	}

	names[0] = "mutated"
	if s.StemNames()[0] != "drums" {
		t.Error("mutating the returned slice changed internal state")
	}
}

func TestEnsureLoadedUnavailableBackend(t *testing.T) {
	s := NewDemucsSeparator(nil)

	err := s.EnsureLoaded(context.Background(), nil)
	if err == nil {
		t.Fatal("EnsureLoaded() with nil backend expected error")
	}

	var loadErr *ModelLoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("error type = %T, want *ModelLoadError", err)
	}
	if loadErr.ModelName != "htdemucs" {
		t.Errorf("ModelName = %q, want %q", loadErr.ModelName, "htdemucs")
	}
}

func TestEnsureLoadedMemoized(t *testing.T) {
	s := NewDemucsSeparator(availableBackend(t))
	s.cache.MarkLoaded("htdemucs", "cpu")

	var values []float64
	var messages []string
	err := s.EnsureLoaded(context.Background(), func(value float64, message string) {
		values = append(values, value)
		messages = append(messages, message)
	})
	if err != nil {
		t.Fatalf("EnsureLoaded() error = %v", err)
	}

	if len(values) != 1 || values[0] != 1.0 {
		t.Fatalf("progress values = %v, want single 1.0 for cached model", values)
	}
	if messages[0] != "Demucs model ready" {
		t.Errorf("message = %q, want %q", messages[0], "Demucs model ready")
	}
}

func TestSeparateEmptyAudio(t *testing.T) {
	s := NewDemucsSeparator(availableBackend(t))
	s.cache.MarkLoaded("htdemucs", "cpu")

	_, err := s.Separate(context.Background(), &audio.AudioData{SampleRate: 44100, Channels: 2}, nil)
	if err == nil {
		t.Fatal("Separate() with empty audio expected error")
	}

	var modelErr *ModelError
	if !errors.As(err, &modelErr) {
		t.Fatalf("error type = %T, want *ModelError", err)
	}
	if modelErr.Message != "Failed to preprocess audio before separation." {
		t.Errorf("Message = %q, want preprocess failure", modelErr.Message)
	}

	// Preprocess failures are not inference failures
	var infErr *InferenceError
	if errors.As(err, &infErr) {
		t.Error("empty audio error should not be an *InferenceError")
	}
}
