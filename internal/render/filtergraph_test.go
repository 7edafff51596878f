package render

import (
	"strings"
	"testing"

	"github.com/vclip/render-pipeline/internal/types"
)

var aspect916 = types.AspectRatio{W: 9, H: 16}

func TestBuildPlanOriginal(t *testing.T) {
	plan, err := BuildPlan(types.StyleOriginal, types.CropModeCenter, aspect916, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.Panels != 1 {
		t.Errorf("expected 1 panel, got %d", plan.Panels)
	}
	if !strings.Contains(plan.FilterGraph, "scale=") {
		t.Errorf("expected a scale filter, got %q", plan.FilterGraph)
	}
}

func TestBuildPlanSplitHasTwoPanels(t *testing.T) {
	plan, err := BuildPlan(types.StyleSplit, types.CropModeCenter, aspect916, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.Panels != 2 {
		t.Errorf("expected 2 panels, got %d", plan.Panels)
	}
	if !strings.Contains(plan.FilterGraph, "vstack") {
		t.Errorf("expected vstack in split filter, got %q", plan.FilterGraph)
	}
}

func TestBuildPlanIntelligentRequiresAnalysis(t *testing.T) {
	_, err := BuildPlan(types.StyleIntelligent, types.CropModeFaceTrack, aspect916, nil)
	if err == nil {
		t.Fatal("expected an error when a tier-bearing style has no analysis")
	}
}

func TestBuildPlanIntelligentWithAnalysis(t *testing.T) {
	analysis := &types.NeuralAnalysisBlob{
		AnalysisVersion: types.CurrentAnalysisVersion,
		DetectionTier:   types.TierBasic,
		Frames: []types.FrameAnalysis{
			{TimeS: 0, Faces: []types.FaceDetection{{BBox: types.BoundingBox{X: 0.3, Y: 0.2, W: 0.2, H: 0.3}, Score: 0.8}}},
		},
	}
	plan, err := BuildPlan(types.StyleIntelligent, types.CropModeFaceTrack, aspect916, analysis)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(plan.FilterGraph, "crop=") {
		t.Errorf("expected a crop filter, got %q", plan.FilterGraph)
	}
}

func TestBuildPlanUnknownStyle(t *testing.T) {
	_, err := BuildPlan(types.Style("nonsense"), types.CropModeCenter, aspect916, nil)
	if err == nil {
		t.Fatal("expected an error for an unknown style")
	}
}

func TestCenterExprFallsBackWithNoFaces(t *testing.T) {
	analysis := &types.NeuralAnalysisBlob{Frames: []types.FrameAnalysis{{TimeS: 0, Faces: nil}}}
	_, ok := centerExpr(analysis)
	if ok {
		t.Error("expected centerExpr to report no usable detections")
	}
}

func TestBestFacePicksHighestScore(t *testing.T) {
	faces := []types.FaceDetection{
		{Score: 0.2},
		{Score: 0.9},
		{Score: 0.5},
	}
	best := bestFace(faces)
	if best == nil || best.Score != 0.9 {
		t.Fatalf("expected highest-scoring face, got %+v", best)
	}
}

func TestTargetDimsPortrait(t *testing.T) {
	w, h := targetDims(types.AspectRatio{W: 9, H: 16})
	if w >= h {
		t.Errorf("expected a portrait target, got %dx%d", w, h)
	}
}
