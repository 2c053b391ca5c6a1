package notes

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/zarigata/MP3paraMIDI/audio"
)

func sineSamples(freq, amplitude, duration float64, sampleRate int) []float64 {
	n := int(duration * float64(sampleRate))
	samples := make([]float64, n)
	for i := range samples {
		samples[i] = amplitude * math.Sin(2.0*math.Pi*freq*float64(i)/float64(sampleRate))
	}
	return samples
}

func sineBuffer(freq, amplitude, duration float64, sampleRate int) *audio.AudioData {
	return &audio.AudioData{
		Samples:    sineSamples(freq, amplitude, duration, sampleRate),
		SampleRate: sampleRate,
		Channels:   1,
	}
}

func TestDetectPitchEmptyBuffer(t *testing.T) {
	buffer := &audio.AudioData{SampleRate: 22050, Channels: 1}

	_, err := NewPitchDetector().DetectPitch(buffer)
	if err == nil {
		t.Fatal("expected error for empty buffer")
	}

	var invalid *InvalidInputError
	if !errors.As(err, &invalid) {
		t.Errorf("error type = %T, want *InvalidInputError", err)
	}
	if !strings.Contains(err.Error(), "empty") {
		t.Errorf("error %q does not mention empty input", err)
	}
}

func TestDetectPitchSine(t *testing.T) {
	buffer := sineBuffer(440.0, 0.5, 1.0, 22050)

	frames, err := NewPitchDetector().DetectPitch(buffer)
	if err != nil {
		t.Fatalf("DetectPitch: %v", err)
	}
	if len(frames) == 0 {
		t.Fatal("no pitch frames returned")
	}

	for i := 1; i < len(frames); i++ {
		if frames[i].Time <= frames[i-1].Time {
			t.Fatalf("frame times not ascending at %d: %v then %v", i, frames[i-1].Time, frames[i].Time)
		}
	}

	var voiced []float64
	for _, f := range frames {
		if f.Voiced {
			if f.Frequency == nil {
				t.Fatal("voiced frame with nil frequency")
			}
			voiced = append(voiced, *f.Frequency)
		} else if f.Frequency != nil {
			t.Fatal("unvoiced frame with non-nil frequency")
		}
	}

	if len(voiced) < len(frames)/2 {
		t.Fatalf("only %d of %d frames voiced for a clean sine", len(voiced), len(frames))
	}

	mid := voiced[len(voiced)/2]
	if math.Abs(mid-440.0) > 10.0 {
		t.Errorf("detected frequency %v, want about 440", mid)
	}
}

func TestDetectPitchStereo(t *testing.T) {
	mono := sineSamples(440.0, 0.5, 0.5, 22050)
	interleaved := make([]float64, 0, len(mono)*2)
	for _, s := range mono {
		interleaved = append(interleaved, s, s)
	}
	buffer := &audio.AudioData{Samples: interleaved, SampleRate: 22050, Channels: 2}

	frames, err := NewPitchDetector().DetectPitch(buffer)
	if err != nil {
		t.Fatalf("DetectPitch: %v", err)
	}

	found := false
	for _, f := range frames {
		if f.Voiced && math.Abs(*f.Frequency-440.0) < 10.0 {
			found = true
			break
		}
	}
	if !found {
		t.Error("no frame near 440 Hz detected in stereo input")
	}
}

func TestSegmentNotesSine(t *testing.T) {
	buffer := sineBuffer(440.0, 0.5, 1.0, 22050)
	detector := NewPitchDetector()

	frames, err := detector.DetectPitch(buffer)
	if err != nil {
		t.Fatalf("DetectPitch: %v", err)
	}

	events, err := detector.SegmentNotes(frames, buffer, 0.05)
	if err != nil {
		t.Fatalf("SegmentNotes: %v", err)
	}
	if len(events) == 0 {
		t.Fatal("no notes segmented from a steady sine")
	}

	for i, n := range events {
		if n.EndTime <= n.StartTime {
			t.Errorf("note %d has end %v <= start %v", i, n.EndTime, n.StartTime)
		}
		if n.MidiNote < 68 || n.MidiNote > 70 {
			t.Errorf("note %d pitch %d, want 69 within 1", i, n.MidiNote)
		}
		if n.Velocity < 40 || n.Velocity > 110 {
			t.Errorf("note %d velocity %d outside [40,110]", i, n.Velocity)
		}
		if n.Confidence < 0 || n.Confidence > 1 {
			t.Errorf("note %d confidence %v outside [0,1]", i, n.Confidence)
		}
		if i > 0 && n.StartTime < events[i-1].EndTime-1e-9 {
			t.Errorf("note %d overlaps previous: start %v before end %v", i, n.StartTime, events[i-1].EndTime)
		}
	}

	last := events[len(events)-1]
	if last.EndTime < buffer.Seconds()-1e-9 {
		t.Errorf("last note ends at %v, want full duration %v", last.EndTime, buffer.Seconds())
	}
}

func TestSegmentNotesEmptyFrames(t *testing.T) {
	buffer := sineBuffer(440.0, 0.5, 0.5, 22050)

	events, err := NewPitchDetector().SegmentNotes(nil, buffer, 0.05)
	if err != nil {
		t.Fatalf("SegmentNotes: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("len(events) = %d, want 0 for no frames", len(events))
	}
}

// The final span survives the minimum-duration check so trailing music is
// never dropped.
func TestSegmentNotesKeepsFinalShortSpan(t *testing.T) {
	buffer := sineBuffer(440.0, 0.5, 0.2, 22050)
	detector := NewPitchDetector()

	frames, err := detector.DetectPitch(buffer)
	if err != nil {
		t.Fatalf("DetectPitch: %v", err)
	}
	if len(frames) == 0 {
		t.Fatal("no frames for short sine")
	}

	events, err := detector.SegmentNotes(frames, buffer, 1.0)
	if err != nil {
		t.Fatalf("SegmentNotes: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("len(events) = %d, want exactly the final span", len(events))
	}
	if d := events[0].Duration(); d >= 1.0 {
		t.Errorf("final span duration %v, expected shorter than the minimum", d)
	}
}

func TestComputeVelocity(t *testing.T) {
	detector := NewPitchDetector()
	sampleRate := 22050

	t.Run("silent segment is mezzo-forte", func(t *testing.T) {
		samples := make([]float64, sampleRate)
		if got := detector.computeVelocity(samples, sampleRate, 0.0, 1.0); got != 64 {
			t.Errorf("velocity = %d, want 64", got)
		}
	})

	t.Run("zero length segment is mezzo-forte", func(t *testing.T) {
		samples := make([]float64, sampleRate)
		if got := detector.computeVelocity(samples, sampleRate, 0.5, 0.5); got != 64 {
			t.Errorf("velocity = %d, want 64", got)
		}
	})

	t.Run("segment past the end is mezzo-forte", func(t *testing.T) {
		samples := make([]float64, sampleRate)
		if got := detector.computeVelocity(samples, sampleRate, 2.0, 3.0); got != 64 {
			t.Errorf("velocity = %d, want 64", got)
		}
	})

	t.Run("bounds hold across amplitudes", func(t *testing.T) {
		for _, amplitude := range []float64{1e-4, 0.01, 0.1, 0.5, 0.8, 1.0} {
			samples := sineSamples(440.0, amplitude, 1.0, sampleRate)
			got := detector.computeVelocity(samples, sampleRate, 0.0, 1.0)
			if got < 40 || got > 110 {
				t.Errorf("amplitude %v: velocity %d outside [40,110]", amplitude, got)
			}
		}
	})

	t.Run("louder is faster", func(t *testing.T) {
		quiet := detector.computeVelocity(sineSamples(440.0, 0.05, 1.0, sampleRate), sampleRate, 0.0, 1.0)
		loud := detector.computeVelocity(sineSamples(440.0, 0.8, 1.0, sampleRate), sampleRate, 0.0, 1.0)
		if loud <= quiet {
			t.Errorf("loud velocity %d not above quiet velocity %d", loud, quiet)
		}
	})

	t.Run("attack dominates the blend", func(t *testing.T) {
		sustained := sineSamples(440.0, 0.05, 0.5, sampleRate)

		plucked := sineSamples(440.0, 0.05, 0.5, sampleRate)
		attack := sineSamples(440.0, 0.9, 0.03, sampleRate)
		copy(plucked, attack)

		flat := detector.computeVelocity(sustained, sampleRate, 0.0, 0.5)
		punchy := detector.computeVelocity(plucked, sampleRate, 0.0, 0.5)
		if punchy <= flat {
			t.Errorf("attack-heavy velocity %d not above flat velocity %d", punchy, flat)
		}
	})
}
