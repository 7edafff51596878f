// Package source implements the Source-Video Coordinator of spec.md §4.F:
// ensures exactly one download of a given source video is in flight across
// the fleet, and that the shared local copy lives exactly as long as any
// worker needs it. Locking follows the teacher's withSemaphore bounded-
// resource idiom (internal/worker/worker.go), generalized from an in-process
// channel to a fleet-wide Redis lock.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/vclip/render-pipeline/internal/docstore"
	"github.com/vclip/render-pipeline/internal/types"
)

const (
	lockTTL     = 1 * time.Hour
	pollInterval = 3 * time.Second
)

// compareAndDelete is the Lua-style release script of spec.md §4.F: only
// the token's own holder may delete the lock, so an expired takeover by
// another worker is never clobbered.
var compareAndDelete = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// Decision is the result of AcquireOrWait.
type Decision int

const (
	UseCache Decision = iota
	WaitForOther
	PerformDownload
)

// Coordinator owns the lock/counter state in Redis and the authoritative
// SourceVideoState in the document store.
type Coordinator struct {
	rdb     *redis.Client
	docs    *docstore.Store
	workDir string
}

func New(rdb *redis.Client, docs *docstore.Store, workDir string) *Coordinator {
	return &Coordinator{rdb: rdb, docs: docs, workDir: workDir}
}

func stateID(userID, videoID string) string { return userID + "/" + videoID }
func lockKey(userID, videoID string) string { return "lock:source:" + userID + "/" + videoID }
func counterKey(userID, videoID string) string { return "activejobs:" + userID + "/" + videoID }

// AcquireOrWait implements the three-step acquire protocol. token is only
// meaningful when the decision is PerformDownload — the caller must hold it
// for the Release call.
func (c *Coordinator) AcquireOrWait(ctx context.Context, userID, videoID string) (Decision, string, string, error) {
	doc, err := c.docs.Get(ctx, "source_video_state", stateID(userID, videoID))
	if err != nil && !errors.Is(err, types.ErrNotFound) {
		return 0, "", "", fmt.Errorf("source: read state: %w", err)
	}
	if doc != nil {
		var state types.SourceVideoState
		if err := unmarshalDoc(doc, &state); err != nil {
			return 0, "", "", fmt.Errorf("source: decode state: %w", err)
		}
		if state.Ready(time.Now()) {
			return UseCache, state.R2Key, "", nil
		}
		if state.Status == types.SourceDownloading {
			return WaitForOther, "", "", nil
		}
	}

	token := uuid.NewString()
	ok, err := c.rdb.SetNX(ctx, lockKey(userID, videoID), token, lockTTL).Result()
	if err != nil {
		return 0, "", "", fmt.Errorf("source: acquire lock: %w", err)
	}
	if !ok {
		return WaitForOther, "", "", nil
	}
	return PerformDownload, "", token, nil
}

// WaitForComplete polls SourceVideoState every 3s until Ready, Failed, or
// timeout elapses.
func (c *Coordinator) WaitForComplete(ctx context.Context, userID, videoID string, timeout time.Duration) (Decision, string, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		doc, err := c.docs.Get(ctx, "source_video_state", stateID(userID, videoID))
		if err == nil {
			var state types.SourceVideoState
			if err := unmarshalDoc(doc, &state); err == nil {
				if state.Ready(time.Now()) {
					return UseCache, state.R2Key, nil
				}
				if state.Status == types.SourceFailed {
					return 0, "", fmt.Errorf("%w: %s", types.ErrSourceUnavailable, state.Error)
				}
			}
		} else if !errors.Is(err, types.ErrNotFound) {
			return 0, "", fmt.Errorf("source: poll state: %w", err)
		}

		if time.Now().After(deadline) {
			return 0, "", fmt.Errorf("%w: wait_for_complete timed out after %s", types.ErrSourceUnavailable, timeout)
		}

		select {
		case <-ctx.Done():
			return 0, "", ctx.Err()
		case <-ticker.C:
		}
	}
}

// Release runs the compare-and-delete script so only the current token
// holder's lock is cleared.
func (c *Coordinator) Release(ctx context.Context, userID, videoID, token string) error {
	if err := compareAndDelete.Run(ctx, c.rdb, []string{lockKey(userID, videoID)}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("source: release lock: %w", err)
	}
	return nil
}

// LocalPath returns the local working copy path for a video.
func (c *Coordinator) LocalPath(videoID string) string {
	return filepath.Join(c.workDir, videoID, "source.mp4")
}

// Guard is the RAII-style reference-counted handle described in spec.md
// §4.F: Begin increments ActiveJobCounter; Finish decrements exactly once on
// every exit path, and the observer of a post-decrement zero removes the
// local working directory.
type Guard struct {
	coord   *Coordinator
	userID  string
	videoID string
	finished bool
}

// Begin atomically increments ActiveJobCounter for (userID, videoID).
func (c *Coordinator) Begin(ctx context.Context, userID, videoID string) (*Guard, error) {
	if err := c.rdb.Incr(ctx, counterKey(userID, videoID)).Err(); err != nil {
		return nil, fmt.Errorf("source: increment active job counter: %w", err)
	}
	return &Guard{coord: c, userID: userID, videoID: videoID}, nil
}

// Finish decrements the counter. It is safe and expected to call this from
// both the success and error arms of the caller (or via defer); calling it
// more than once is a no-op beyond the first. A Guard that is never
// Finish'd leaks a counter slot; nothing detects or logs such a Guard.
func (g *Guard) Finish(ctx context.Context) {
	if g.finished {
		return
	}
	g.finished = true

	remaining, err := g.coord.rdb.Decr(ctx, counterKey(g.userID, g.videoID)).Result()
	if err != nil {
		log.Printf("[source] ERROR: failed to decrement active job counter for %s/%s: %v", g.userID, g.videoID, err)
		return
	}
	if remaining <= 0 {
		dir := filepath.Join(g.coord.workDir, g.videoID)
		if err := os.RemoveAll(dir); err != nil {
			log.Printf("[source] failed to remove working directory %s: %v", dir, err)
		}
	}
}

func unmarshalDoc(doc *docstore.Doc, v interface{}) error {
	return json.Unmarshal(doc.Body, v)
}

// MarkDownloading records the in-progress state before PerformDownload
// starts fetching bytes.
func (c *Coordinator) MarkDownloading(ctx context.Context, userID, videoID string) error {
	state := types.SourceVideoState{Status: types.SourceDownloading}
	_, err := c.docs.Update(ctx, "source_video_state", stateID(userID, videoID), state, docstore.Precondition{})
	if err != nil {
		return fmt.Errorf("source: mark downloading: %w", err)
	}
	return nil
}

// MarkReady records a successful download. Per spec.md §4.F, a Document
// Store write failure after a successful blob upload is log-and-continue
// (the blob is usable by R2 key), but retried up to 3 times with a short
// backoff first.
func (c *Coordinator) MarkReady(ctx context.Context, userID, videoID, r2Key string, expiresAt time.Time) error {
	state := types.SourceVideoState{Status: types.SourceReady, R2Key: r2Key, ExpiresAt: &expiresAt}
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * 200 * time.Millisecond)
		}
		_, err := c.docs.Update(ctx, "source_video_state", stateID(userID, videoID), state, docstore.Precondition{})
		if err == nil {
			return nil
		}
		lastErr = err
	}
	log.Printf("[source] state write failed after retries for %s/%s (blob is usable via r2_key=%s): %v", userID, videoID, r2Key, lastErr)
	return nil
}

// MarkFailed records a download or upload failure and releases the lock, so
// the next acquirer can retry the download instead of waiting forever.
func (c *Coordinator) MarkFailed(ctx context.Context, userID, videoID, token string, cause error) error {
	state := types.SourceVideoState{Status: types.SourceFailed, Error: cause.Error()}
	_, err := c.docs.Update(ctx, "source_video_state", stateID(userID, videoID), state, docstore.Precondition{})
	if err != nil {
		log.Printf("[source] failed to record failure state for %s/%s: %v", userID, videoID, err)
	}
	return c.Release(ctx, userID, videoID, token)
}
