// Package orchestrator implements spec.md §4.H: AnalyzeVideo, ProcessVideo,
// ReprocessScenes, and the Cinematic-analysis first-class gating contract
// that the render worker's entry point consults before an IntelligentCinematic
// job may proceed.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vclip/render-pipeline/internal/clients"
	"github.com/vclip/render-pipeline/internal/docstore"
	"github.com/vclip/render-pipeline/internal/progressbus"
	"github.com/vclip/render-pipeline/internal/queue"
	"github.com/vclip/render-pipeline/internal/types"
)

// enqueueFanoutLimit bounds concurrent enqueue calls when fanning a video out
// into its per-(highlight, style) render jobs, mirroring the teacher's
// per-dependency semaphore sizing in internal/worker/worker.go.
const enqueueFanoutLimit = 8

// Orchestrator fans out high-level jobs into per-scene RenderSceneStyle jobs
// and owns the Highlights/CinematicAnalysisStatus documents.
type Orchestrator struct {
	docs       *docstore.Store
	renderQ    *queue.Queue
	neuralQ    *queue.Queue
	bus        *progressbus.Bus
	lm         *clients.LMClient
	transcript *clients.TranscriptClient
}

func New(docs *docstore.Store, renderQ, neuralQ *queue.Queue, bus *progressbus.Bus, lm *clients.LMClient, transcript *clients.TranscriptClient) *Orchestrator {
	return &Orchestrator{docs: docs, renderQ: renderQ, neuralQ: neuralQ, bus: bus, lm: lm, transcript: transcript}
}

func highlightsID(userID, videoID string) string { return userID + "/" + videoID }

// AnalyzeVideo implements spec.md §4.H's AnalyzeVideo(job): fetch transcript,
// invoke the LM collaborator, persist Highlights, publish Done.
func (o *Orchestrator) AnalyzeVideo(ctx context.Context, job types.AnalyzeVideoJob) error {
	t, err := o.transcript.Fetch(ctx, job.VideoURL)
	if err != nil {
		return fmt.Errorf("%w: fetch transcript: %v", types.ErrSourceUnavailable, err)
	}

	highlights, err := o.lm.ExtractHighlights(ctx, job.VideoURL, t.Transcript)
	if err != nil {
		return fmt.Errorf("orchestrator: extract highlights: %w", err)
	}
	highlights.VideoURL = job.VideoURL
	if highlights.VideoTitle == "" {
		highlights.VideoTitle = t.Title
	}

	if _, err := o.docs.Update(ctx, "highlights", highlightsID(job.UserID, job.VideoID), highlights, docstore.Precondition{}); err != nil {
		return fmt.Errorf("%w: %v", types.ErrDocWriteFailed, err)
	}

	o.bus.Publish(ctx, job.VideoID, types.ProgressEvent{Type: types.EventDone, VideoID: job.VideoID})
	return nil
}

// ProcessVideo implements spec.md §4.H's ProcessVideo(job): analyze if
// needed, then enqueue one RenderSceneStyle job per (highlight, style).
func (o *Orchestrator) ProcessVideo(ctx context.Context, job types.ProcessVideoJob) error {
	highlights, err := o.loadOrAnalyze(ctx, job.UserID, job.VideoID, job.VideoURL)
	if err != nil {
		return err
	}

	parentJobID := job.VideoID
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(enqueueFanoutLimit)
	for _, h := range highlights.Highlights {
		for _, style := range job.Styles {
			h, style := h, style
			g.Go(func() error {
				return o.enqueueRender(gctx, job.UserID, job.VideoID, h, style, parentJobID)
			})
		}
	}
	return g.Wait()
}

// ReprocessScenes implements spec.md §4.H's ReprocessScenes(job): load
// cached Highlights and re-render specific scenes. Refuses unknown scene ids.
func (o *Orchestrator) ReprocessScenes(ctx context.Context, job types.ReprocessScenesJob) error {
	doc, err := o.docs.Get(ctx, "highlights", highlightsID(job.UserID, job.VideoID))
	if err != nil {
		return fmt.Errorf("%w: no cached highlights for %s/%s", types.ErrUnknownScene, job.UserID, job.VideoID)
	}
	var highlights types.Highlights
	if err := decodeDoc(doc, &highlights); err != nil {
		return fmt.Errorf("orchestrator: decode highlights: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(enqueueFanoutLimit)
	for _, sceneID := range job.SceneIDs {
		h, ok := highlights.FindScene(sceneID)
		if !ok {
			return fmt.Errorf("%w: %s", types.ErrUnknownScene, sceneID)
		}
		for _, style := range job.Styles {
			h, style := h, style
			g.Go(func() error {
				return o.enqueueRender(gctx, job.UserID, job.VideoID, h, style, job.VideoID)
			})
		}
	}
	return g.Wait()
}

func (o *Orchestrator) loadOrAnalyze(ctx context.Context, userID, videoID, videoURL string) (*types.Highlights, error) {
	doc, err := o.docs.Get(ctx, "highlights", highlightsID(userID, videoID))
	if err == nil {
		var highlights types.Highlights
		if decodeErr := decodeDoc(doc, &highlights); decodeErr == nil {
			return &highlights, nil
		}
	}

	if err := o.AnalyzeVideo(ctx, types.AnalyzeVideoJob{UserID: userID, VideoID: videoID, VideoURL: videoURL}); err != nil {
		return nil, err
	}

	doc, err = o.docs.Get(ctx, "highlights", highlightsID(userID, videoID))
	if err != nil {
		return nil, fmt.Errorf("orchestrator: highlights missing after analyze: %w", err)
	}
	var highlights types.Highlights
	if err := decodeDoc(doc, &highlights); err != nil {
		return nil, fmt.Errorf("orchestrator: decode highlights: %w", err)
	}
	return &highlights, nil
}

func (o *Orchestrator) enqueueRender(ctx context.Context, userID, videoID string, h types.Highlight, style types.Style, parentJobID string) error {
	renderJob := types.RenderSceneStyleJob{
		UserID: userID, VideoID: videoID, SceneID: h.ID, SceneTitle: h.Title,
		Style: style, StartTS: h.Start, EndTS: h.End,
		PadBeforeS: h.PadBefore, PadAfterS: h.PadAfter, ParentJobID: parentJobID,
	}
	idemKey := types.IdempotencyKey(types.KindRenderSceneStyle, userID, videoID, h.ID, string(style))
	envelope := types.JobEnvelope{
		JobID: types.ClipID(videoID, h.ID, style), Kind: types.KindRenderSceneStyle,
		Payload: renderJob, IdempotencyKey: idemKey, EnqueuedAt: time.Now(),
	}
	_, err := o.renderQ.Enqueue(ctx, envelope)
	if err != nil && !errors.Is(err, types.ErrDuplicateJob) {
		return fmt.Errorf("orchestrator: enqueue render job: %w", err)
	}
	return nil
}

// cinematicID identifies one (video, scene)'s cinematic analysis status.
func cinematicID(userID, videoID, sceneID string) string {
	return userID + "/" + videoID + "/" + sceneID
}

// GateCinematic implements the CinematicAnalysis first-class contract of
// spec.md §4.H. It is called from the render worker's entry point before an
// IntelligentCinematic job proceeds. ok=true means the caller should
// proceed; ok=false means the caller should return (a soft-defer was
// requested or a terminal failure was recorded).
func (o *Orchestrator) GateCinematic(ctx context.Context, userID, videoID, sceneID string) (ok bool, deferred bool, err error) {
	id := cinematicID(userID, videoID, sceneID)
	doc, getErr := o.docs.Get(ctx, "cinematic_status", id)

	var status types.CinematicAnalysisStatus
	if getErr == nil {
		if decodeErr := decodeDoc(doc, &status); decodeErr != nil {
			return false, false, fmt.Errorf("orchestrator: decode cinematic status: %w", decodeErr)
		}
	} else {
		status = types.CinematicAnalysisStatus{Kind: types.CinematicNotStarted}
	}

	switch status.Kind {
	case types.CinematicComplete:
		return true, false, nil

	case types.CinematicInProgress:
		if status.StartedAt != nil && time.Since(*status.StartedAt) < types.CinematicInProgressTimeout {
			return false, true, nil
		}
		status.Kind = types.CinematicFailed
		status.Error = "cinematic analysis timed out"
		if _, err := o.docs.Update(ctx, "cinematic_status", id, status, docstore.Precondition{}); err != nil {
			log.Printf("[orchestrator] failed to mark cinematic status failed for %s: %v", id, err)
		}
		return false, false, fmt.Errorf("%w: cinematic analysis timed out for %s", types.ErrSourceUnavailable, id)

	case types.CinematicNotStarted:
		now := time.Now()
		status = types.CinematicAnalysisStatus{Kind: types.CinematicInProgress, StartedAt: &now}
		if _, err := o.docs.Update(ctx, "cinematic_status", id, status, docstore.Precondition{}); err != nil {
			return false, false, fmt.Errorf("%w: %v", types.ErrDocWriteFailed, err)
		}

		neuralJob := types.NeuralAnalysisJob{UserID: userID, VideoID: videoID, SceneID: sceneID, Tier: types.TierCinematic}
		envelope := types.JobEnvelope{
			JobID:          id,
			Kind:           types.KindNeuralAnalysis,
			Payload:        neuralJob,
			IdempotencyKey: types.IdempotencyKey(types.KindNeuralAnalysis, userID, videoID, sceneID),
			EnqueuedAt:     now,
		}
		if _, err := o.neuralQ.Enqueue(ctx, envelope); err != nil && !errors.Is(err, types.ErrDuplicateJob) {
			return false, false, fmt.Errorf("orchestrator: enqueue neural analysis: %w", err)
		}
		return false, true, nil

	case types.CinematicFailed:
		return false, false, fmt.Errorf("%w: cinematic analysis failed: %s", types.ErrSourceUnavailable, status.Error)

	default:
		return false, false, fmt.Errorf("orchestrator: unknown cinematic status kind %q", status.Kind)
	}
}

// CompleteNeuralAnalysis flips a scene's cinematic status to Complete (or
// Failed), called when the NeuralAnalysis{tier=Cinematic} job finishes.
func (o *Orchestrator) CompleteNeuralAnalysis(ctx context.Context, userID, videoID, sceneID string, cause error) error {
	id := cinematicID(userID, videoID, sceneID)
	now := time.Now()
	status := types.CinematicAnalysisStatus{Kind: types.CinematicComplete, At: &now}
	if cause != nil {
		status = types.CinematicAnalysisStatus{Kind: types.CinematicFailed, Error: cause.Error(), At: &now}
	}
	if _, err := o.docs.Update(ctx, "cinematic_status", id, status, docstore.Precondition{}); err != nil {
		return fmt.Errorf("%w: %v", types.ErrDocWriteFailed, err)
	}
	return nil
}

func decodeDoc(doc *docstore.Doc, v interface{}) error {
	return json.Unmarshal(doc.Body, v)
}
