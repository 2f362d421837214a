package audio

import (
	"math"
	"testing"

	"github.com/smap/stt-worker/internal/stterr"
)

func TestParseDuration(t *testing.T) {
	output := `Input #0, mp3, from 'input.mp3':
  Metadata:
    encoder         : Lavf58.76.100
  Duration: 01:02:03.45, start: 0.025057, bitrate: 128 kb/s`

	got, ok := parseDuration(output)
	if !ok {
		t.Fatal("expected duration to parse")
	}
	want := 1*3600 + 2*60 + 3 + 0.45
	if math.Abs(got-want) > 0.001 {
		t.Errorf("parseDuration = %f, want %f", got, want)
	}
}

func TestParseDuration_Missing(t *testing.T) {
	if _, ok := parseDuration("no duration here"); ok {
		t.Error("expected parse failure")
	}
}

func TestParseSilences(t *testing.T) {
	output := `[silencedetect @ 0x5555] silence_start: 12.345
[silencedetect @ 0x5555] silence_end: 14.5 | silence_duration: 2.155
[silencedetect @ 0x5555] silence_start: 30
[silencedetect @ 0x5555] silence_end: 33.25 | silence_duration: 3.25`

	got := parseSilences(output)
	if len(got) != 2 {
		t.Fatalf("expected 2 silences, got %d: %v", len(got), got)
	}
	if got[0].StartSec != 12.345 || got[0].EndSec != 14.5 {
		t.Errorf("first silence = %v", got[0])
	}
	if got[1].StartSec != 30 || got[1].EndSec != 33.25 {
		t.Errorf("second silence = %v", got[1])
	}
}

func TestParseSilences_TrailingStartDropped(t *testing.T) {
	output := `silence_start: 5.0
silence_end: 6.0 | silence_duration: 1.0
silence_start: 50.0`

	got := parseSilences(output)
	if len(got) != 1 {
		t.Fatalf("expected 1 silence, got %d", len(got))
	}
}

func TestParseSilences_NegativeStartClamped(t *testing.T) {
	output := `silence_start: -0.01
silence_end: 2.0 | silence_duration: 2.01`

	got := parseSilences(output)
	if len(got) != 1 || got[0].StartSec != 0 {
		t.Errorf("expected clamped start, got %v", got)
	}
}

func TestValidateFormat(t *testing.T) {
	for _, path := range []string{"a.mp3", "b.WAV", "dir/c.m4a", "d.flac", "e.ogg"} {
		if err := ValidateFormat(path); err != nil {
			t.Errorf("ValidateFormat(%q) = %v, want nil", path, err)
		}
	}
}

func TestValidateFormat_Rejected(t *testing.T) {
	for _, path := range []string{"doc.pdf", "noext", "archive.zip", "clip.txt"} {
		err := ValidateFormat(path)
		if err == nil {
			t.Errorf("ValidateFormat(%q) = nil, want error", path)
			continue
		}
		if !stterr.IsPermanent(err) {
			t.Errorf("ValidateFormat(%q) should be permanent, got %v", path, err)
		}
		if stterr.KindOf(err) != stterr.KindInvalidAudioFormat {
			t.Errorf("ValidateFormat(%q) kind = %s", path, stterr.KindOf(err))
		}
	}
}
