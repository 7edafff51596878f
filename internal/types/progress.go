package types

// ProgressEventType tags the variant of a ProgressEvent (spec.md §3).
type ProgressEventType string

const (
	EventLog           ProgressEventType = "log"
	EventProgress      ProgressEventType = "progress"
	EventSceneStarted  ProgressEventType = "scene_started"
	EventClipProgress  ProgressEventType = "clip_progress"
	EventClipUploaded  ProgressEventType = "clip_uploaded"
	EventSceneCompleted ProgressEventType = "scene_completed"
	EventDone          ProgressEventType = "done"
	EventError         ProgressEventType = "error"
)

// ClipProgressStep names the stage reported by ClipProgress events.
type ClipProgressStep string

const (
	StepDownloading ClipProgressStep = "downloading"
	StepAnalyzing   ClipProgressStep = "analyzing"
	StepRendering   ClipProgressStep = "rendering"
	StepUploading   ClipProgressStep = "uploading"
)

// ProgressEvent is the tagged union published on the per-job Progress Bus
// channel (spec.md §3, §4.D). Only the fields relevant to Type are set.
type ProgressEvent struct {
	Type ProgressEventType `json:"type"`

	Msg     string `json:"msg,omitempty"`
	Details string `json:"details,omitempty"`

	Pct int `json:"pct,omitempty"`

	VideoID string `json:"video_id,omitempty"`
	SceneID string `json:"scene_id,omitempty"`
	Style   Style  `json:"style,omitempty"`
	Step    ClipProgressStep `json:"step,omitempty"`

	Index   int `json:"index,omitempty"`
	Total   int `json:"total,omitempty"`
	Credits int `json:"credits,omitempty"`
}
