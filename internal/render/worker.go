// Package render implements the Clip-Pipeline Worker of spec.md §4.G: the
// per-job pipeline that turns one RenderSceneStyleJob into a persisted
// ClipRecord plus uploaded clip (and thumbnail) blob. Structured as the
// teacher's worker.go handleProcessClip: a sequence of recoverable
// checkpoints bounded by semaphores, reporting progress as it goes.
package render

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/vclip/render-pipeline/internal/blobstore"
	"github.com/vclip/render-pipeline/internal/cache"
	"github.com/vclip/render-pipeline/internal/docstore"
	"github.com/vclip/render-pipeline/internal/encoder"
	"github.com/vclip/render-pipeline/internal/progressbus"
	"github.com/vclip/render-pipeline/internal/source"
	"github.com/vclip/render-pipeline/internal/types"
)

// Worker renders RenderSceneStyleJobs, one job per Process call; Process is
// safe to call concurrently from multiple executor goroutines sharing the
// same Worker.
type Worker struct {
	blobs    *blobstore.Store
	docs     *docstore.Store
	source   *source.Coordinator
	cache    *cache.Cache
	bus      *progressbus.Bus
	enc      *encoder.Encoder
	workDir  string
	encoderSem chan struct{} // distinct from cache's ML semaphore, spec.md §4.G step 6
	defaultTimeoutS int
}

// Config bounds the worker's resource pools per spec.md §5.
type Config struct {
	WorkDir          string
	EncoderPermits   int
	EncoderTimeoutS  int
	FFmpegBin        string
}

func New(blobs *blobstore.Store, docs *docstore.Store, coord *source.Coordinator, neuralCache *cache.Cache, bus *progressbus.Bus, cfg Config) *Worker {
	return &Worker{
		blobs:           blobs,
		docs:            docs,
		source:          coord,
		cache:           neuralCache,
		bus:             bus,
		enc:             encoder.New(cfg.FFmpegBin),
		workDir:         cfg.WorkDir,
		encoderSem:      make(chan struct{}, cfg.EncoderPermits),
		defaultTimeoutS: cfg.EncoderTimeoutS,
	}
}

// Process runs the full pipeline for one job. jobID identifies the progress
// bus channel; index/total/credits feed the ClipUploaded event.
func (w *Worker) Process(ctx context.Context, jobID string, job *types.RenderSceneStyleJob, index, total, credits int) (*types.ClipRecord, error) {
	// Step 1: register with the Source-Video Coordinator.
	guard, err := w.source.Begin(ctx, job.UserID, job.VideoID)
	if err != nil {
		return nil, fmt.Errorf("render: begin source guard: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[render] PANIC in job %s, guard finishing defensively: %v", jobID, r)
			guard.Finish(context.Background())
			panic(r)
		}
	}()
	defer guard.Finish(context.Background())

	w.bus.Publish(ctx, jobID, types.ProgressEvent{Type: types.EventClipProgress, VideoID: job.VideoID, SceneID: job.SceneID, Style: job.Style, Step: types.StepDownloading})

	// Step 2: ensure local source is present.
	localPath, err := w.ensureLocalSource(ctx, job.UserID, job.VideoID)
	if err != nil {
		return nil, err
	}

	// Step 3: compute the clamped render window.
	start, duration, err := job.Window()
	if err != nil {
		return nil, fmt.Errorf("%w", err)
	}

	// Step 4: consult the Neural-Analysis Cache for tier-bearing styles.
	w.bus.Publish(ctx, jobID, types.ProgressEvent{Type: types.EventClipProgress, VideoID: job.VideoID, SceneID: job.SceneID, Style: job.Style, Step: types.StepAnalyzing})
	var analysis *types.NeuralAnalysisBlob
	if types.IsTierBearing(job.Style) {
		requiredTier := types.RequiredTier(job.Style)
		analysis, _, err = w.cache.GetOrCompute(ctx, job.UserID, job.VideoID, job.SceneID, requiredTier, func(ctx context.Context) (*types.NeuralAnalysisBlob, error) {
			return computeAnalysis(ctx, localPath, start, duration, requiredTier)
		})
		if err != nil {
			return nil, fmt.Errorf("render: neural analysis: %w", err)
		}
	}

	// Step 5: dispatch to the style's filter strategy.
	plan, err := BuildPlan(job.Style, job.CropMode, job.TargetAspect, analysis)
	if err != nil {
		return nil, err
	}

	// Step 6: acquire encoder permit, run the encode, streaming progress.
	w.bus.Publish(ctx, jobID, types.ProgressEvent{Type: types.EventClipProgress, VideoID: job.VideoID, SceneID: job.SceneID, Style: job.Style, Step: types.StepRendering})
	clipID := types.ClipID(job.VideoID, job.SceneID, job.Style)
	outputPath := filepath.Join(w.workDir, job.VideoID, clipID+".mp4")
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return nil, fmt.Errorf("render: mkdir output dir: %w", err)
	}

	if err := w.encode(ctx, jobID, job, localPath, start, duration, plan, outputPath); err != nil {
		return nil, err
	}

	info, err := os.Stat(outputPath)
	if err != nil {
		return nil, fmt.Errorf("%w: stat output: %v", types.ErrUploadFailed, err)
	}

	// Step 7: upload the clip blob (+ thumbnail).
	w.bus.Publish(ctx, jobID, types.ProgressEvent{Type: types.EventClipProgress, VideoID: job.VideoID, SceneID: job.SceneID, Style: job.Style, Step: types.StepUploading})
	blobKey := fmt.Sprintf("%s/%s/clips/%s.mp4", job.UserID, job.VideoID, clipID)
	if err := w.blobs.PutFile(ctx, blobKey, outputPath, "video/mp4"); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrUploadFailed, err)
	}

	thumbKey, err := w.generateAndUploadThumbnail(ctx, job, outputPath, clipID)
	if err != nil {
		log.Printf("[render] thumbnail generation failed for clip %s (non-fatal): %v", clipID, err)
	}

	// Step 8: write the ClipRecord (create-or-update by clip_id).
	record := &types.ClipRecord{
		ClipID:           clipID,
		VideoID:          job.VideoID,
		SceneID:          job.SceneID,
		Style:            job.Style,
		Filename:         filepath.Base(outputPath),
		StartTS:          job.StartTS,
		EndTS:            job.EndTS,
		DurationS:        duration,
		FileSizeBytes:    info.Size(),
		BlobKey:          blobKey,
		ThumbnailBlobKey: thumbKey,
		Status:           types.ClipStatusCompleted,
		CreatedAt:        time.Now(),
		CompletedAt:      time.Now(),
	}
	if _, err := w.docs.Update(ctx, "clips", clipID, record, docstore.Precondition{}); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrDocWriteFailed, err)
	}

	// Step 9: publish ClipUploaded.
	w.bus.Publish(ctx, jobID, types.ProgressEvent{
		Type: types.EventClipUploaded, VideoID: job.VideoID, Index: index, Total: total, Credits: credits,
	})

	// Step 10: guard decrements via the deferred Finish above.
	_ = os.Remove(outputPath)
	return record, nil
}

// PrecomputeAnalysis drives a standalone NeuralAnalysis job: resolve the
// scene's time window from the cached Highlights manifest, ensure the
// source video is local, and populate the Neural-Analysis Cache at the
// requested tier. Used by the Cinematic first-class contract (spec.md
// §4.H) to precompute analysis ahead of the gated render.
func (w *Worker) PrecomputeAnalysis(ctx context.Context, userID, videoID, sceneID string, tier types.DetectionTier) error {
	doc, err := w.docs.Get(ctx, "highlights", userID+"/"+videoID)
	if err != nil {
		return fmt.Errorf("%w: no cached highlights for %s/%s", types.ErrUnknownScene, userID, videoID)
	}
	var highlights types.Highlights
	if err := json.Unmarshal(doc.Body, &highlights); err != nil {
		return fmt.Errorf("render: decode highlights: %w", err)
	}
	scene, ok := highlights.FindScene(sceneID)
	if !ok {
		return fmt.Errorf("%w: %s", types.ErrUnknownScene, sceneID)
	}

	startSec, err := types.ParseTimestamp(scene.Start)
	if err != nil {
		return fmt.Errorf("invalid start_ts: %w", err)
	}
	endSec, err := types.ParseTimestamp(scene.End)
	if err != nil {
		return fmt.Errorf("invalid end_ts: %w", err)
	}
	start := startSec - scene.PadBefore
	if start < 0 {
		start = 0
	}
	duration := endSec + scene.PadAfter - start

	localPath, err := w.ensureLocalSource(ctx, userID, videoID)
	if err != nil {
		return err
	}

	_, _, err = w.cache.GetOrCompute(ctx, userID, videoID, sceneID, tier, func(ctx context.Context) (*types.NeuralAnalysisBlob, error) {
		return computeAnalysis(ctx, localPath, start, duration, tier)
	})
	return err
}

func (w *Worker) ensureLocalSource(ctx context.Context, userID, videoID string) (string, error) {
	localPath := w.source.LocalPath(videoID)
	if _, err := os.Stat(localPath); err == nil {
		return localPath, nil
	}

	decision, r2Key, token, err := w.source.AcquireOrWait(ctx, userID, videoID)
	if err != nil {
		return "", fmt.Errorf("%w: acquire_or_wait: %v", types.ErrSourceUnavailable, err)
	}

	switch decision {
	case source.UseCache:
		return w.downloadFromBlob(ctx, localPath, r2Key)

	case source.WaitForOther:
		waitDecision, key, err := w.source.WaitForComplete(ctx, userID, videoID, 10*time.Minute)
		if err != nil {
			return "", err
		}
		if waitDecision == source.UseCache {
			return w.downloadFromBlob(ctx, localPath, key)
		}
		return "", fmt.Errorf("%w: unexpected wait outcome", types.ErrSourceUnavailable)

	case source.PerformDownload:
		return w.performDownload(ctx, userID, videoID, localPath, token)

	default:
		return "", fmt.Errorf("%w: unknown acquire decision", types.ErrSourceUnavailable)
	}
}

func (w *Worker) downloadFromBlob(ctx context.Context, localPath, blobKey string) (string, error) {
	if _, err := os.Stat(localPath); err == nil {
		return localPath, nil
	}
	data, err := w.blobs.Get(ctx, blobKey)
	if err != nil {
		return "", fmt.Errorf("%w: %v", types.ErrSourceUnavailable, err)
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return "", fmt.Errorf("%w: mkdir: %v", types.ErrSourceUnavailable, err)
	}
	if err := os.WriteFile(localPath, data, 0o644); err != nil {
		return "", fmt.Errorf("%w: write: %v", types.ErrSourceUnavailable, err)
	}
	return localPath, nil
}

func (w *Worker) performDownload(ctx context.Context, userID, videoID, localPath, token string) (string, error) {
	if err := w.source.MarkDownloading(ctx, userID, videoID); err != nil {
		log.Printf("[render] failed to mark downloading for %s/%s: %v", userID, videoID, err)
	}

	// The actual network fetch of the original upload is performed by the
	// out-of-scope HTTP API surface before this job is enqueued; here the
	// coordinator resolves the already-staged blob key convention.
	blobKey := fmt.Sprintf("%s/%s/source.mp4", userID, videoID)
	localCopy, err := w.downloadFromBlob(ctx, localPath, blobKey)
	if err != nil {
		if markErr := w.source.MarkFailed(ctx, userID, videoID, token, err); markErr != nil {
			log.Printf("[render] failed to mark source failed for %s/%s: %v", userID, videoID, markErr)
		}
		return "", err
	}

	expiresAt := time.Now().Add(24 * time.Hour)
	if err := w.source.MarkReady(ctx, userID, videoID, blobKey, expiresAt); err != nil {
		log.Printf("[render] failed to mark source ready for %s/%s: %v", userID, videoID, err)
	}
	if err := w.source.Release(ctx, userID, videoID, token); err != nil {
		log.Printf("[render] failed to release source lock for %s/%s: %v", userID, videoID, err)
	}
	return localCopy, nil
}

func (w *Worker) encode(ctx context.Context, jobID string, job *types.RenderSceneStyleJob, sourcePath string, start, duration float64, plan Plan, outputPath string) error {
	select {
	case w.encoderSem <- struct{}{}:
	case <-ctx.Done():
		return types.ErrCancelled
	}
	defer func() { <-w.encoderSem }()

	req := encoder.Request{
		SourcePath:   sourcePath,
		Start:        start,
		Duration:     duration,
		FilterGraph:  plan.FilterGraph,
		VideoCodec:   "libx264",
		CRF:          20,
		Preset:       "medium",
		AudioBitrate: "192k",
		OutputPath:   outputPath,
		TimeoutS:     w.defaultTimeoutS,
	}
	return w.enc.Run(ctx, req, func(pct float64) {
		w.bus.Publish(ctx, jobID, types.ProgressEvent{
			Type: types.EventClipProgress, VideoID: job.VideoID, SceneID: job.SceneID, Style: job.Style,
			Step: types.StepRendering, Pct: int(pct),
		})
	})
}

// generateAndUploadThumbnail extracts a single frame at the clip midpoint
// and uploads it, per SPEC_FULL.md's supplemented thumbnail feature.
func (w *Worker) generateAndUploadThumbnail(ctx context.Context, job *types.RenderSceneStyleJob, clipPath, clipID string) (string, error) {
	thumbPath := filepath.Join(filepath.Dir(clipPath), clipID+"_thumb.jpg")
	probe, err := w.enc.Probe(ctx, clipPath)
	if err != nil {
		return "", err
	}
	midpoint := probe.DurationS / 2

	req := encoder.Request{
		SourcePath: clipPath,
		Start:      midpoint,
		Duration:   0.04,
		VideoCodec: "mjpeg",
		CRF:        2,
		Preset:     "",
		AudioBitrate: "0k",
		OutputPath: thumbPath,
	}
	if err := w.enc.Run(ctx, req, nil); err != nil {
		return "", err
	}
	defer os.Remove(thumbPath)

	thumbKey := fmt.Sprintf("%s/%s/thumbnails/%s.jpg", job.UserID, job.VideoID, clipID)
	if err := w.blobs.PutFile(ctx, thumbKey, thumbPath, "image/jpeg"); err != nil {
		return "", err
	}
	return thumbKey, nil
}

// computeAnalysis is the cache-miss compute step for tier-bearing styles.
// It is a stub: it does not decode the source, detect faces, track them or
// score mouth openness. It logs the request and returns a valid analysis at
// the requested tier with no frames, so caching and filter dispatch still
// run end to end.
func computeAnalysis(ctx context.Context, sourcePath string, start, duration float64, tier types.DetectionTier) (*types.NeuralAnalysisBlob, error) {
	id := uuid.NewString()
	log.Printf("[render] computing neural analysis %s for %s [%.2f,+%.2f) tier=%s", id, sourcePath, start, duration, tier)
	return &types.NeuralAnalysisBlob{
		AnalysisVersion: types.CurrentAnalysisVersion,
		DetectionTier:   tier,
		Frames:          nil,
	}, nil
}
