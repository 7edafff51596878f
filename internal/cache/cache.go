// Package cache implements the Neural-Analysis Cache of spec.md §4.E: a
// blob-store-backed memoization layer with a bounded semaphore gating
// concurrent ML inference, grounded on the teacher's withSemaphore pattern
// in internal/worker/worker.go.
package cache

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"

	"github.com/vclip/render-pipeline/internal/blobstore"
	"github.com/vclip/render-pipeline/internal/types"
)

// Cache memoizes per-scene ML analysis and bounds in-flight inference.
type Cache struct {
	blobs *blobstore.Store
	// mlSem is the global ML semaphore: typically 3 permits on an 8-core
	// host (spec.md §4.E).
	mlSem chan struct{}
}

func New(blobs *blobstore.Store, maxConcurrentInference int) *Cache {
	return &Cache{
		blobs: blobs,
		mlSem: make(chan struct{}, maxConcurrentInference),
	}
}

func key(userID, videoID, sceneID string) string {
	return fmt.Sprintf("%s/%s/neural/%s.json.gz", userID, videoID, sceneID)
}

// ComputeFunc runs the expensive ML inference on a cache miss.
type ComputeFunc func(ctx context.Context) (*types.NeuralAnalysisBlob, error)

// GetOrCompute implements the five-step protocol of spec.md §4.E: cache
// check without a permit, acquire a permit, double-check, compute, store.
// bytesWritten is non-nil only when compute() ran and storage accounting
// succeeded.
func (c *Cache) GetOrCompute(ctx context.Context, userID, videoID, sceneID string, requiredTier types.DetectionTier, compute ComputeFunc) (*types.NeuralAnalysisBlob, *int, error) {
	blobKey := key(userID, videoID, sceneID)

	if blob, ok := c.tryRead(ctx, blobKey, requiredTier); ok {
		return blob, nil, nil
	}

	select {
	case c.mlSem <- struct{}{}:
	case <-ctx.Done():
		return nil, nil, fmt.Errorf("cache: cancelled waiting for ML permit: %w", ctx.Err())
	}
	defer func() { <-c.mlSem }()

	if blob, ok := c.tryRead(ctx, blobKey, requiredTier); ok {
		return blob, nil, nil
	}

	blob, err := compute(ctx)
	if err != nil {
		return nil, nil, err
	}

	n, err := c.store(ctx, blobKey, blob)
	if err != nil {
		log.Printf("[cache] storage-accounting failure for %s (non-fatal): %v", blobKey, err)
		return blob, nil, nil
	}
	return blob, &n, nil
}

// tryRead attempts a cache read and validates it against requiredTier. Any
// decode failure, version mismatch, or insufficient tier is logged at debug
// level and treated as a miss, never an error (spec.md §4.E).
func (c *Cache) tryRead(ctx context.Context, blobKey string, requiredTier types.DetectionTier) (*types.NeuralAnalysisBlob, bool) {
	raw, err := c.blobs.Get(ctx, blobKey)
	if err != nil {
		return nil, false
	}
	blob, err := decode(raw)
	if err != nil {
		log.Printf("[cache] debug: decode miss for %s: %v", blobKey, err)
		return nil, false
	}
	if !blob.Valid(requiredTier) {
		log.Printf("[cache] debug: tier/version miss for %s (have=%s want=%s version=%d)", blobKey, blob.DetectionTier, requiredTier, blob.AnalysisVersion)
		return nil, false
	}
	return blob, true
}

func (c *Cache) store(ctx context.Context, blobKey string, blob *types.NeuralAnalysisBlob) (int, error) {
	compressed, err := encode(blob)
	if err != nil {
		return 0, fmt.Errorf("cache: encode: %w", err)
	}
	if err := c.blobs.Put(ctx, blobKey, compressed, "application/gzip"); err != nil {
		return 0, fmt.Errorf("cache: put: %w", err)
	}
	return len(compressed), nil
}

func decode(raw []byte) (*types.NeuralAnalysisBlob, error) {
	gz, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("gzip reader: %w", err)
	}
	defer gz.Close()
	data, err := io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("gzip read: %w", err)
	}
	var blob types.NeuralAnalysisBlob
	if err := json.Unmarshal(data, &blob); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	return &blob, nil
}

func encode(blob *types.NeuralAnalysisBlob) ([]byte, error) {
	data, err := json.Marshal(blob)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(data); err != nil {
		return nil, fmt.Errorf("gzip write: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return buf.Bytes(), nil
}
