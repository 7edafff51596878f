package types

import "time"

// ClipStatus mirrors the teacher's per-entity status enums
// (internal/models.ClipStatus in the reference repo).
type ClipStatus string

const (
	ClipStatusCompleted ClipStatus = "completed"
	ClipStatusFailed    ClipStatus = "failed"
)

// ClipRecord is persisted to the Document Store exactly once per
// (video, scene, style); a second successful render overwrites it
// idempotently (spec.md §3, §8 invariant 4).
type ClipRecord struct {
	ClipID            string     `json:"clip_id"`
	VideoID           string     `json:"video_id"`
	SceneID           string     `json:"scene_id"`
	Style             Style      `json:"style"`
	Filename          string     `json:"filename"`
	StartTS           string     `json:"start_ts"`
	EndTS             string     `json:"end_ts"`
	DurationS         float64    `json:"duration_s"`
	FileSizeBytes     int64      `json:"file_size_bytes"`
	BlobKey           string     `json:"blob_key"`
	ThumbnailBlobKey  string     `json:"thumbnail_blob_key,omitempty"`
	Status            ClipStatus `json:"status"`
	CreatedAt         time.Time  `json:"created_at"`
	CompletedAt        time.Time `json:"completed_at"`
}

// SourceVideoStatus tracks the lifecycle of the shared source file
// (spec.md §3 SourceVideoState).
type SourceVideoStatus string

const (
	SourceNotStarted SourceVideoStatus = "not_started"
	SourceDownloading SourceVideoStatus = "downloading"
	SourceReady       SourceVideoStatus = "ready"
	SourceFailed      SourceVideoStatus = "failed"
)

// SourceVideoState is owned by the Document Store; one per (user, video).
type SourceVideoState struct {
	Status    SourceVideoStatus `json:"status"`
	R2Key     string            `json:"r2_key,omitempty"`
	ExpiresAt *time.Time        `json:"expires_at,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// Ready reports status=Ready with a still-live TTL, per the invariant
// in spec.md §3: "status = Ready ⇔ r2_key present ∧ expires_at > now".
func (s *SourceVideoState) Ready(now time.Time) bool {
	return s.Status == SourceReady && s.R2Key != "" && s.ExpiresAt != nil && s.ExpiresAt.After(now)
}

// CinematicStatusKind is the state machine in spec.md §3 CinematicAnalysisStatus.
type CinematicStatusKind string

const (
	CinematicNotStarted CinematicStatusKind = "not_started"
	CinematicInProgress CinematicStatusKind = "in_progress"
	CinematicComplete   CinematicStatusKind = "complete"
	CinematicFailed     CinematicStatusKind = "failed"
)

// CinematicAnalysisStatus gates IntelligentCinematic render jobs (spec.md §4.H).
type CinematicAnalysisStatus struct {
	Kind      CinematicStatusKind `json:"kind"`
	StartedAt *time.Time          `json:"started_at,omitempty"`
	Error     string              `json:"error,omitempty"`
	At        *time.Time          `json:"at,omitempty"`
}

// CinematicInProgressTimeout is the 24h bound from spec.md §4.H.
const CinematicInProgressTimeout = 24 * time.Hour
