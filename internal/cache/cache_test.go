package cache

import (
	"testing"

	"github.com/vclip/render-pipeline/internal/types"
)

func TestKeyFormat(t *testing.T) {
	got := key("user1", "video1", "scene1")
	want := "user1/video1/neural/scene1.json.gz"
	if got != want {
		t.Errorf("key() = %q, want %q", got, want)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	blob := &types.NeuralAnalysisBlob{
		AnalysisVersion: types.CurrentAnalysisVersion,
		DetectionTier:   types.TierSpeakerAware,
		Frames: []types.FrameAnalysis{
			{TimeS: 1.5, Faces: []types.FaceDetection{{BBox: types.BoundingBox{X: 0.1, Y: 0.2, W: 0.3, H: 0.4}, Score: 0.9}}},
		},
	}

	compressed, err := encode(blob)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(compressed) == 0 {
		t.Fatal("expected non-empty compressed payload")
	}

	decoded, err := decode(compressed)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.AnalysisVersion != blob.AnalysisVersion || decoded.DetectionTier != blob.DetectionTier {
		t.Fatalf("round trip mismatch: got %+v", decoded)
	}
	if len(decoded.Frames) != 1 || decoded.Frames[0].Faces[0].Score != 0.9 {
		t.Fatalf("frame data lost in round trip: %+v", decoded.Frames)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := decode([]byte("not gzip data")); err == nil {
		t.Error("expected an error decoding non-gzip data")
	}
}
