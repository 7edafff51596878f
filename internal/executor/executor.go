// Package executor implements the single long-running consumer loop of
// spec.md §4.I: startup init, a reaper sweeping the group's PEL for crash
// recovery, a main loop bounded by the job permit pool, and graceful
// shutdown. Structured after the teacher's queueConsumer start/stop
// lifecycle (see the worker's Start loop in internal/worker/worker.go) and
// the graceful-shutdown signal handling in adverant's cmd/worker/main.go.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/vclip/render-pipeline/internal/queue"
	"github.com/vclip/render-pipeline/internal/types"
)

const (
	reaperInterval  = 30 * time.Second
	reaperMinIdleMs = 300_000
	reaperClaimCount = 5
	pollConsumeBlockMs = 1000
	pollConsumeCount   = 5
	emptyPermitSleep   = 100 * time.Millisecond
	shutdownGrace      = 60 * time.Second
)

// Handler runs one job to completion. Implementations dispatch on
// job.Kind; the orchestrator and render worker together satisfy this.
type Handler func(ctx context.Context, job types.JobEnvelope) error

// MaxRetries is the number of failed attempts after which an entry is
// moved to the DLQ (with 3, the third failure moves it).
type Config struct {
	MaxRetries        int
	MaxConcurrentJobs int
}

// Executor owns the job permit pool and drives one queue to completion.
type Executor struct {
	q            *queue.Queue
	handler      Handler
	consumerName string
	jobPermits   chan struct{}
	maxRetries   int

	shutdown chan struct{}
}

func New(q *queue.Queue, handler Handler, cfg Config) *Executor {
	return &Executor{
		q:            q,
		handler:      handler,
		consumerName: "worker-" + uuid.NewString(),
		jobPermits:   make(chan struct{}, cfg.MaxConcurrentJobs),
		maxRetries:   cfg.MaxRetries,
		shutdown:     make(chan struct{}),
	}
}

// Run blocks until ctx is cancelled or Shutdown is called, then waits up to
// 60s for in-flight jobs before returning.
func (e *Executor) Run(ctx context.Context) error {
	if err := e.q.Init(ctx); err != nil {
		return fmt.Errorf("executor: init: %w", err)
	}
	log.Printf("[executor] %s starting, max_concurrent_jobs=%d", e.consumerName, cap(e.jobPermits))

	go e.reaperLoop(ctx)
	e.mainLoop(ctx)

	return e.waitForDrain()
}

// Shutdown flips the watch: stop accepting new entries. In-flight jobs are
// not cancelled; they may themselves observe ctx cancellation.
func (e *Executor) Shutdown() {
	select {
	case <-e.shutdown:
	default:
		close(e.shutdown)
	}
}

func (e *Executor) stopping() bool {
	select {
	case <-e.shutdown:
		return true
	default:
		return false
	}
}

func (e *Executor) mainLoop(ctx context.Context) {
	for {
		if e.stopping() || ctx.Err() != nil {
			return
		}

		available := cap(e.jobPermits) - len(e.jobPermits)
		if available <= 0 {
			time.Sleep(emptyPermitSleep)
			continue
		}
		count := int64(available)
		if count > pollConsumeCount {
			count = pollConsumeCount
		}

		entries, err := e.q.Consume(ctx, e.consumerName, pollConsumeBlockMs, count)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[executor] consume error: %v", err)
			time.Sleep(emptyPermitSleep)
			continue
		}
		for _, entry := range entries {
			e.dispatch(ctx, entry)
		}
	}
}

func (e *Executor) reaperLoop(ctx context.Context) {
	ticker := time.NewTicker(reaperInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.shutdown:
			return
		case <-ticker.C:
			claimed, err := e.q.ClaimPending(ctx, e.consumerName, reaperMinIdleMs, reaperClaimCount)
			if err != nil {
				log.Printf("[executor] reaper claim_pending error: %v", err)
				continue
			}
			for _, entry := range claimed {
				log.Printf("[executor] reaper reclaimed entry %s", entry.ID)
				e.dispatch(ctx, entry)
			}
		}
	}
}

// dispatch acquires a job permit (unbounded wait) and runs the job in its
// own goroutine, holding the permit for the job's lifetime.
func (e *Executor) dispatch(ctx context.Context, entry queue.Entry) {
	e.jobPermits <- struct{}{}
	go func() {
		defer func() { <-e.jobPermits }()
		e.runOne(ctx, entry)
	}()
}

func (e *Executor) runOne(ctx context.Context, entry queue.Entry) {
	err := e.handler(ctx, entry.Job)
	if err == nil {
		if ackErr := e.q.Ack(ctx, entry.ID); ackErr != nil {
			log.Printf("[executor] ack failed for %s: %v", entry.ID, ackErr)
			return
		}
		if clearErr := e.q.ClearDedup(ctx, entry.Job); clearErr != nil {
			log.Printf("[executor] clear_dedup failed for %s: %v", entry.ID, clearErr)
		}
		return
	}

	if errors.Is(err, types.ErrDeferred) {
		// Cooperative re-enqueue: neither ack nor retry-count; the entry
		// stays in the PEL and is redelivered by the reaper sweep, exactly
		// like any other unacked entry, without consuming a retry.
		log.Printf("[executor] job %s deferred: %v", entry.ID, err)
		return
	}

	if isTerminal(err) {
		// Terminal-user, Terminal-policy, and Terminal-no-retry errors can
		// never succeed on redelivery; route straight to the DLQ instead of
		// spending reaper cycles on a job that will fail identically every
		// time.
		log.Printf("[executor] job %s terminal, skipping retry: %v", entry.ID, err)
		if dlqErr := e.q.DLQ(ctx, entry.ID, entry.Job, err); dlqErr != nil {
			log.Printf("[executor] dlq failed for %s: %v", entry.ID, dlqErr)
			return
		}
		if clearErr := e.q.ClearDedup(ctx, entry.Job); clearErr != nil {
			log.Printf("[executor] clear_dedup failed for %s: %v", entry.ID, clearErr)
		}
		return
	}

	n, incErr := e.q.IncrementRetry(ctx, entry.ID)
	if incErr != nil {
		log.Printf("[executor] increment_retry failed for %s: %v", entry.ID, incErr)
	}
	log.Printf("[executor] job %s failed (attempt %d): %v", entry.ID, n, err)

	if n >= int64(e.maxRetries) {
		if dlqErr := e.q.DLQ(ctx, entry.ID, entry.Job, err); dlqErr != nil {
			log.Printf("[executor] dlq failed for %s: %v", entry.ID, dlqErr)
			return
		}
		if clearErr := e.q.ClearDedup(ctx, entry.Job); clearErr != nil {
			log.Printf("[executor] clear_dedup failed for %s: %v", entry.ID, clearErr)
		}
	}
	// Otherwise: do nothing. The entry stays in the PEL for the next
	// claim_pending sweep.
}

// isTerminal reports whether err belongs to a class that redelivery cannot
// fix: Terminal-user (bad request), Terminal-policy, and Terminal-no-retry.
func isTerminal(err error) bool {
	for _, sentinel := range []error{
		types.ErrInvalidTimestamp,
		types.ErrUnknownScene,
		types.ErrUnsupportedHost,
		types.ErrPayloadTooLarge,
		types.ErrInvalidVideoID,
		types.ErrQuotaExceeded,
		types.ErrForbidden,
		types.ErrCancelled,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

// waitForDrain blocks until the job permit pool returns to empty (no
// in-flight jobs) or shutdownGrace elapses.
func (e *Executor) waitForDrain() error {
	deadline := time.After(shutdownGrace)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		if len(e.jobPermits) == 0 {
			log.Printf("[executor] %s drained, exiting", e.consumerName)
			return nil
		}
		select {
		case <-ticker.C:
		case <-deadline:
			return fmt.Errorf("executor: %d jobs still in flight after %s shutdown grace", len(e.jobPermits), shutdownGrace)
		}
	}
}
