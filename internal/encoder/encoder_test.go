package encoder

import "testing"

func TestParseProgressLineExtractsPercent(t *testing.T) {
	// out_time_ms is actually microseconds in ffmpeg's -progress output.
	pct, ok := parseProgressLine("out_time_ms=5000000", 10)
	if !ok {
		t.Fatal("expected a parsed progress value")
	}
	if pct != 50 {
		t.Errorf("expected 50%%, got %v", pct)
	}
}

func TestParseProgressLineClampsAt100(t *testing.T) {
	pct, ok := parseProgressLine("out_time_ms=50000000", 10)
	if !ok {
		t.Fatal("expected a parsed progress value")
	}
	if pct != 100 {
		t.Errorf("expected clamped 100%%, got %v", pct)
	}
}

func TestParseProgressLineIgnoresOtherKeys(t *testing.T) {
	if _, ok := parseProgressLine("frame=120", 10); ok {
		t.Error("a non out_time_ms line must not parse")
	}
	if _, ok := parseProgressLine("progress=continue", 10); ok {
		t.Error("a non out_time_ms line must not parse")
	}
}

func TestParseProgressLineRejectsZeroDuration(t *testing.T) {
	if _, ok := parseProgressLine("out_time_ms=1000000", 0); ok {
		t.Error("a zero total duration must never produce a percentage")
	}
}

func TestFormatSeconds(t *testing.T) {
	if got := formatSeconds(12.5); got != "12.500" {
		t.Errorf("formatSeconds(12.5) = %q", got)
	}
}

func TestNewDefaultsFFmpegBin(t *testing.T) {
	e := New("")
	if e.ffmpegBin != "ffmpeg" {
		t.Errorf("expected default ffmpeg binary, got %q", e.ffmpegBin)
	}
	e2 := New("/usr/local/bin/ffmpeg")
	if e2.ffmpegBin != "/usr/local/bin/ffmpeg" {
		t.Errorf("expected explicit binary to be kept, got %q", e2.ffmpegBin)
	}
}
