package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// JobKind identifies the payload variant carried by a JobEnvelope.
type JobKind string

const (
	KindAnalyzeVideo     JobKind = "AnalyzeVideo"
	KindProcessVideo     JobKind = "ProcessVideo"
	KindReprocessScenes  JobKind = "ReprocessScenes"
	KindRenderSceneStyle JobKind = "RenderSceneStyle"
	KindDownloadSource   JobKind = "DownloadSource"
	KindNeuralAnalysis   JobKind = "NeuralAnalysis"
)

// CropMode selects how an intelligent style frames its subject.
type CropMode string

const (
	CropModeCenter    CropMode = "center"
	CropModeFaceTrack CropMode = "face_track"
	CropModeSpeaker   CropMode = "speaker"
)

// AspectRatio is a rational W:H target aspect, e.g. 9:16.
type AspectRatio struct {
	W int `json:"w"`
	H int `json:"h"`
}

// RenderSceneStyleJob is the payload of a KindRenderSceneStyle JobEnvelope.
// See spec.md §3 for field semantics and the start/end invariant.
type RenderSceneStyleJob struct {
	UserID       string      `json:"user_id"`
	VideoID      string      `json:"video_id"`
	SceneID      string      `json:"scene_id"`
	SceneTitle   string      `json:"scene_title"`
	Style        Style       `json:"style"`
	CropMode     CropMode    `json:"crop_mode"`
	TargetAspect AspectRatio `json:"target_aspect"`
	StartTS      string      `json:"start_ts"`
	EndTS        string      `json:"end_ts"`
	PadBeforeS   float64     `json:"pad_before_s,omitempty"`
	PadAfterS    float64     `json:"pad_after_s,omitempty"`
	ParentJobID  string      `json:"parent_job_id,omitempty"`
}

// Validate enforces parse(start_ts)+pad_before < parse(end_ts)+pad_after.
func (j *RenderSceneStyleJob) Validate() error {
	start, err := ParseTimestamp(j.StartTS)
	if err != nil {
		return fmt.Errorf("invalid start_ts: %w", err)
	}
	end, err := ParseTimestamp(j.EndTS)
	if err != nil {
		return fmt.Errorf("invalid end_ts: %w", err)
	}
	if start+j.PadBeforeS >= end+j.PadAfterS {
		return fmt.Errorf("%w: start+pad_before (%.3f) must be strictly before end+pad_after (%.3f)",
			ErrInvalidTimestamp, start+j.PadBeforeS, end+j.PadAfterS)
	}
	return nil
}

// Window computes the clamped [start, start+duration) render window.
func (j *RenderSceneStyleJob) Window() (start, duration float64, err error) {
	if err := j.Validate(); err != nil {
		return 0, 0, err
	}
	startSec, _ := ParseTimestamp(j.StartTS)
	endSec, _ := ParseTimestamp(j.EndTS)

	start = startSec - j.PadBeforeS
	if start < 0 {
		start = 0
	}
	end := endSec + j.PadAfterS
	duration = end - start
	return start, duration, nil
}

// AnalyzeVideoJob is the payload of a KindAnalyzeVideo JobEnvelope.
type AnalyzeVideoJob struct {
	UserID   string `json:"user_id"`
	VideoID  string `json:"video_id"`
	VideoURL string `json:"video_url"`
}

// ProcessVideoJob is the payload of a KindProcessVideo JobEnvelope: analyze
// (if needed) then fan out one RenderSceneStyle job per (highlight, style).
type ProcessVideoJob struct {
	UserID   string   `json:"user_id"`
	VideoID  string   `json:"video_id"`
	VideoURL string   `json:"video_url"`
	Styles   []Style  `json:"styles"`
}

// ReprocessScenesJob re-renders a subset of already-analyzed scenes.
type ReprocessScenesJob struct {
	UserID   string   `json:"user_id"`
	VideoID  string   `json:"video_id"`
	SceneIDs []string `json:"scene_ids"`
	Styles   []Style  `json:"styles"`
}

// NeuralAnalysisJob requests a standalone precompute of a tier's analysis,
// used for the Cinematic first-class contract (spec.md §4.H).
type NeuralAnalysisJob struct {
	UserID  string        `json:"user_id"`
	VideoID string        `json:"video_id"`
	SceneID string        `json:"scene_id"`
	Tier    DetectionTier `json:"tier"`
}

// JobEnvelope is the wire format appended to the Durable Stream Queue.
type JobEnvelope struct {
	JobID          string      `json:"job_id"`
	Kind           JobKind     `json:"kind"`
	Payload        interface{} `json:"payload"`
	IdempotencyKey string      `json:"idempotency_key"`
	EnqueuedAt     time.Time   `json:"enqueued_at"`
}

// IdempotencyKey derives a deterministic dedup key from kind+user+target, per
// spec.md §3 ("a deterministic function of kind+user+target").
func IdempotencyKey(kind JobKind, userID string, targetParts ...string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s", kind, userID)
	for _, p := range targetParts {
		fmt.Fprintf(h, "|%s", p)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ClipID derives the stable identity of a (video, scene, style) render, per
// spec.md §3 ("clip_id = hash(video, scene, style)").
func ClipID(videoID, sceneID string, style Style) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s", videoID, sceneID, style)))
	return hex.EncodeToString(h[:16])
}
