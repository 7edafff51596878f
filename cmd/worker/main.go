// Command worker is the render pipeline's single binary: it wires every
// internal package together and runs one Executor against the render
// stream and one against the neural-analysis stream, sharing the same
// dependencies (and with them the ML and encoder permit pools); each
// Executor has its own job permit pool. Structured after the teacher's
// standalone-mode main() (see _examples' adverant VideoAgent worker) and
// the teacher's own cmd/api bootstrap for config/dependency wiring order.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vclip/render-pipeline/internal/blobstore"
	"github.com/vclip/render-pipeline/internal/cache"
	"github.com/vclip/render-pipeline/internal/clients"
	"github.com/vclip/render-pipeline/internal/config"
	"github.com/vclip/render-pipeline/internal/docstore"
	"github.com/vclip/render-pipeline/internal/executor"
	"github.com/vclip/render-pipeline/internal/healthz"
	"github.com/vclip/render-pipeline/internal/orchestrator"
	"github.com/vclip/render-pipeline/internal/progressbus"
	"github.com/vclip/render-pipeline/internal/queue"
	"github.com/vclip/render-pipeline/internal/render"
	"github.com/vclip/render-pipeline/internal/source"
	"github.com/vclip/render-pipeline/internal/types"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis: parse url: %v", err)
	}
	rdb := redis.NewClient(opt)
	defer rdb.Close()

	docs, err := docstore.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("docstore: open: %v", err)
	}

	blobs := blobstore.New(cfg.BlobBaseURL, cfg.BlobBucket, cfg.BlobToken)
	bus := progressbus.New(rdb)
	neuralCache := cache.New(blobs, cfg.MaxNeuralConcurrent)
	coord := source.New(rdb, docs, cfg.WorkDir)

	renderQ := queue.New(rdb, cfg.RenderStreamName, cfg.ConsumerGroup)
	neuralQ := queue.New(rdb, cfg.NeuralStreamName, cfg.ConsumerGroup)

	lm := clients.NewLMClient(cfg.OpenAIKey, cfg.LMModel)
	transcript := clients.NewTranscriptClient(cfg.TranscriptURL)
	orch := orchestrator.New(docs, renderQ, neuralQ, bus, lm, transcript)

	renderWorker := render.New(blobs, docs, coord, neuralCache, bus, render.Config{
		WorkDir:         cfg.WorkDir,
		EncoderPermits:  cfg.MaxFFmpegProcesses,
		EncoderTimeoutS: cfg.EncoderTimeoutS,
		FFmpegBin:       cfg.FFmpegBin,
	})

	if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
		log.Fatalf("work dir: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	renderExec := executor.New(renderQ, renderHandler(orch, renderWorker), executor.Config{
		MaxRetries:        cfg.MaxRetries,
		MaxConcurrentJobs: cfg.MaxConcurrentJobs,
	})
	neuralExec := executor.New(neuralQ, neuralHandler(orch, renderWorker), executor.Config{
		MaxRetries:        cfg.MaxRetries,
		MaxConcurrentJobs: cfg.MaxNeuralConcurrent,
	})

	srv := &http.Server{Addr: ":" + cfg.HealthPort, Handler: healthz.NewRouter(rdb, func(checkCtx context.Context) error {
		return docs.Ping(checkCtx)
	})}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[worker] health server: %v", err)
		}
	}()

	errCh := make(chan error, 2)
	go func() { errCh <- renderExec.Run(ctx) }()
	go func() { errCh <- neuralExec.Run(ctx) }()

	log.Printf("[worker] ready: render_stream=%s neural_stream=%s max_concurrent_jobs=%d",
		cfg.RenderStreamName, cfg.NeuralStreamName, cfg.MaxConcurrentJobs)

	select {
	case <-ctx.Done():
		log.Println("[worker] shutdown signal received, draining in-flight jobs...")
		renderExec.Shutdown()
		neuralExec.Shutdown()
	case err := <-errCh:
		if err != nil {
			log.Printf("[worker] executor exited: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)

	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil {
			log.Printf("[worker] executor drain error: %v", err)
		}
	}
	log.Println("[worker] stopped")
}

// renderHandler dispatches render-stream envelopes: high-level video jobs go
// to the orchestrator, per-scene-style jobs go to the render worker, gated
// by the Cinematic first-class contract when the style requires it.
func renderHandler(orch *orchestrator.Orchestrator, rw *render.Worker) executor.Handler {
	return func(ctx context.Context, env types.JobEnvelope) error {
		switch env.Kind {
		case types.KindAnalyzeVideo:
			job, err := decodePayload[types.AnalyzeVideoJob](env.Payload)
			if err != nil {
				return err
			}
			return orch.AnalyzeVideo(ctx, job)

		case types.KindProcessVideo:
			job, err := decodePayload[types.ProcessVideoJob](env.Payload)
			if err != nil {
				return err
			}
			return orch.ProcessVideo(ctx, job)

		case types.KindReprocessScenes:
			job, err := decodePayload[types.ReprocessScenesJob](env.Payload)
			if err != nil {
				return err
			}
			return orch.ReprocessScenes(ctx, job)

		case types.KindRenderSceneStyle:
			job, err := decodePayload[types.RenderSceneStyleJob](env.Payload)
			if err != nil {
				return err
			}
			if types.RequiredTier(job.Style) == types.TierCinematic {
				ok, deferred, err := orch.GateCinematic(ctx, job.UserID, job.VideoID, job.SceneID)
				if err != nil {
					return err
				}
				if !ok {
					if deferred {
						return types.ErrDeferred
					}
					return nil
				}
			}
			_, err = rw.Process(ctx, env.JobID, &job, 0, 1, 0)
			return err

		default:
			log.Printf("[worker] render handler: unknown job kind %q", env.Kind)
			return nil
		}
	}
}

// decodePayload round-trips a JobEnvelope's Payload (decoded by the queue
// as a generic map[string]interface{}) into its concrete struct type.
func decodePayload[T any](payload interface{}) (T, error) {
	var out T
	raw, err := json.Marshal(payload)
	if err != nil {
		return out, fmt.Errorf("worker: re-marshal payload: %w", err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("worker: decode payload: %w", err)
	}
	return out, nil
}

// neuralHandler drives standalone NeuralAnalysis jobs (currently only the
// Cinematic tier precompute triggered by GateCinematic) and reports
// completion back into the orchestrator's status document.
func neuralHandler(orch *orchestrator.Orchestrator, rw *render.Worker) executor.Handler {
	return func(ctx context.Context, env types.JobEnvelope) error {
		if env.Kind != types.KindNeuralAnalysis {
			log.Printf("[worker] neural handler: unknown job kind %q", env.Kind)
			return nil
		}
		job, err := decodePayload[types.NeuralAnalysisJob](env.Payload)
		if err != nil {
			return err
		}
		precomputeErr := rw.PrecomputeAnalysis(ctx, job.UserID, job.VideoID, job.SceneID, job.Tier)
		if completeErr := orch.CompleteNeuralAnalysis(ctx, job.UserID, job.VideoID, job.SceneID, precomputeErr); completeErr != nil {
			return completeErr
		}
		return precomputeErr
	}
}
