package types

import "testing"

func TestNeuralAnalysisBlobValid(t *testing.T) {
	blob := NeuralAnalysisBlob{AnalysisVersion: CurrentAnalysisVersion, DetectionTier: TierSpeakerAware}
	if !blob.Valid(TierBasic) {
		t.Error("a speaker-aware blob should satisfy a basic requirement")
	}
	if blob.Valid(TierCinematic) {
		t.Error("a speaker-aware blob should not satisfy a cinematic requirement")
	}

	stale := NeuralAnalysisBlob{AnalysisVersion: CurrentAnalysisVersion - 1, DetectionTier: TierCinematic}
	if stale.Valid(TierNone) {
		t.Error("a stale analysis_version must never validate, regardless of tier")
	}
}

func TestHighlightsFindScene(t *testing.T) {
	h := Highlights{Highlights: []Highlight{
		{ID: "scene-1", Title: "intro"},
		{ID: "scene-2", Title: "climax"},
	}}

	got, ok := h.FindScene("scene-2")
	if !ok || got.Title != "climax" {
		t.Fatalf("expected to find scene-2, got %+v ok=%v", got, ok)
	}

	_, ok = h.FindScene("missing")
	if ok {
		t.Error("expected missing scene to report not found")
	}
}
