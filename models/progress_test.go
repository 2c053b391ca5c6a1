package models

import (
	"testing"

	"github.com/zarigata/MP3paraMIDI/logging"
)

func TestReportProgressClampsValues(t *testing.T) {
	logger := logging.WithFields(logging.Fields{"component": "test"})

	var values []float64
	var messages []string
	progress := func(value float64, message string) {
		values = append(values, value)
		messages = append(messages, message)
	}

	reportProgress(logger, progress, -0.5, "below")
	reportProgress(logger, progress, 0.4, "mid")
	reportProgress(logger, progress, 1.5, "above")

	want := []float64{0.0, 0.4, 1.0}
	if len(values) != len(want) {
		t.Fatalf("callback invoked %d times, want %d", len(values), len(want))
	}
	for i, w := range want {
		if values[i] != w {
			t.Errorf("values[%d] = %v, want %v", i, values[i], w)
		}
	}
	if messages[1] != "mid" {
		t.Errorf("messages[1] = %q, want %q", messages[1], "mid")
	}
}

func TestReportProgressNilCallback(t *testing.T) {
	logger := logging.WithFields(logging.Fields{"component": "test"})
	// Must not panic
	reportProgress(logger, nil, 0.5, "ignored")
}

func TestReportProgressRecoversFromPanic(t *testing.T) {
	logger := logging.WithFields(logging.Fields{"component": "test"})

	calls := 0
	panicky := func(value float64, message string) {
		calls++
		panic("consumer bug")
	}

	reportProgress(logger, panicky, 0.5, "first")
	reportProgress(logger, panicky, 0.6, "second")

	if calls != 2 {
		t.Errorf("callback invoked %d times, want 2 despite panics", calls)
	}
}
