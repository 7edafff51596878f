package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vclip/render-pipeline/internal/types"
)

func TestIsBusyGroup(t *testing.T) {
	if !isBusyGroup(errors.New("BUSYGROUP Consumer Group name already exists")) {
		t.Error("expected BUSYGROUP error to be recognized")
	}
	if isBusyGroup(errors.New("some other error")) {
		t.Error("unrelated errors must not be treated as BUSYGROUP")
	}
	if isBusyGroup(nil) {
		t.Error("nil must not be treated as BUSYGROUP")
	}
}

func TestDecodeMessagesWellFormed(t *testing.T) {
	q := &Queue{stream: "test-stream", group: "test-group"}

	job := types.JobEnvelope{
		JobID:          "job-1",
		Kind:           types.KindRenderSceneStyle,
		Payload:        map[string]interface{}{"video_id": "v1"},
		IdempotencyKey: "key-1",
		EnqueuedAt:     time.Now().UTC(),
	}
	raw, err := json.Marshal(job)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	msgs := []redis.XMessage{
		{ID: "1-0", Values: map[string]interface{}{"job": string(raw), "key": job.IdempotencyKey}},
	}

	entries := q.decodeMessages(context.Background(), msgs)
	if len(entries) != 1 {
		t.Fatalf("expected 1 decoded entry, got %d", len(entries))
	}
	if entries[0].ID != "1-0" {
		t.Errorf("expected id 1-0, got %s", entries[0].ID)
	}
	if entries[0].Job.JobID != "job-1" {
		t.Errorf("expected job_id=job-1, got %s", entries[0].Job.JobID)
	}
}

func TestDecodeMessagesDropsMissingField(t *testing.T) {
	// decodeMessages calls ackAndDrop for the malformed message, which would
	// panic on a nil *redis.Client, so this Queue gets a client pointed at an
	// unreachable address (its ack/delete errors are ignored). We can't
	// safely assert on ackAndDrop's Redis calls without a live client, so
	// this only checks that no entry was produced for the bad message mixed
	// with a good one.
	q := &Queue{stream: "test-stream", group: "test-group", rdb: redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})}

	job := types.JobEnvelope{JobID: "job-2", Kind: types.KindAnalyzeVideo}
	raw, _ := json.Marshal(job)

	msgs := []redis.XMessage{
		{ID: "2-0", Values: map[string]interface{}{"no_job_field": "x"}},
		{ID: "2-1", Values: map[string]interface{}{"job": string(raw)}},
	}

	entries := q.decodeMessages(context.Background(), msgs)
	if len(entries) != 1 {
		t.Fatalf("expected only the well-formed message to decode, got %d entries", len(entries))
	}
	if entries[0].ID != "2-1" {
		t.Errorf("expected surviving entry to be 2-1, got %s", entries[0].ID)
	}
}
