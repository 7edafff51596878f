package types

// CurrentAnalysisVersion is bumped whenever the inference pipeline changes in
// a way that invalidates prior NeuralAnalysisBlob entries (spec.md §3).
const CurrentAnalysisVersion = 1

// BoundingBox is a normalized (0..1) face bounding box within a frame.
type BoundingBox struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// FaceDetection is one detected face within a single analyzed frame.
type FaceDetection struct {
	BBox          BoundingBox `json:"bbox"`
	Score         float64     `json:"score"`
	TrackID       *string     `json:"track_id,omitempty"`
	MouthOpenness *float64    `json:"mouth_openness,omitempty"`
}

// FrameAnalysis is the per-frame detection result produced by the ML
// inference step described in spec.md §4.G step 4.
type FrameAnalysis struct {
	TimeS float64         `json:"time_s"`
	Faces []FaceDetection `json:"faces"`
}

// NeuralAnalysisBlob is the gzip-compressed JSON document cached per
// (user, video, scene_id) by the Neural-Analysis Cache (spec.md §3, §4.E).
type NeuralAnalysisBlob struct {
	AnalysisVersion int             `json:"analysis_version"`
	DetectionTier   DetectionTier   `json:"detection_tier"`
	Frames          []FrameAnalysis `json:"frames"`
}

// Valid reports whether a decoded cache entry satisfies the version and
// tier contract for a requested tier (spec.md §4.E: "Validity test").
func (b *NeuralAnalysisBlob) Valid(requiredTier DetectionTier) bool {
	if b.AnalysisVersion != CurrentAnalysisVersion {
		return false
	}
	return b.DetectionTier.AtLeast(requiredTier)
}

// Highlight is a single time range identified by the language-model analysis
// step (spec.md GLOSSARY).
type Highlight struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Start      string   `json:"start"`
	End        string   `json:"end"`
	PadBefore  float64  `json:"pad_before,omitempty"`
	PadAfter   float64  `json:"pad_after,omitempty"`
	Category   *string  `json:"category,omitempty"`
	Reason     *string  `json:"reason,omitempty"`
}

// Highlights is the manifest persisted by AnalyzeVideo and consumed by
// ProcessVideo/ReprocessScenes fan-out (spec.md §4.H, §6).
type Highlights struct {
	VideoURL   string      `json:"video_url"`
	VideoTitle string      `json:"video_title"`
	Highlights []Highlight `json:"highlights"`
}

// FindScene returns the highlight with the given id, or false if unknown.
func (h *Highlights) FindScene(sceneID string) (Highlight, bool) {
	for _, s := range h.Highlights {
		if s.ID == sceneID {
			return s, true
		}
	}
	return Highlight{}, false
}
