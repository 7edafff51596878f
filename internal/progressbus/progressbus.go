// Package progressbus implements the per-job ordered progress channel of
// spec.md §4.D on Redis Pub/Sub, the natural fire-and-forget transport
// given this codebase already depends on redis/go-redis/v9 for the queue.
package progressbus

import (
	"context"
	"encoding/json"
	"log"

	"github.com/redis/go-redis/v9"

	"github.com/vclip/render-pipeline/internal/types"
)

// Bus publishes and subscribes to per-job progress channels.
type Bus struct {
	rdb    *redis.Client
	prefix string
}

func New(rdb *redis.Client) *Bus {
	return &Bus{rdb: rdb, prefix: "progress:"}
}

func (b *Bus) channel(jobID string) string {
	return b.prefix + jobID
}

// Publish sends event on jobID's channel. Publish errors must never fail job
// processing (spec.md §4.D): this method only logs, never returns an error.
func (b *Bus) Publish(ctx context.Context, jobID string, event types.ProgressEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("[progressbus] marshal event for job %s: %v", jobID, err)
		return
	}
	if err := b.rdb.Publish(ctx, b.channel(jobID), data).Err(); err != nil {
		log.Printf("[progressbus] publish to job %s: %v", jobID, err)
	}
}

// Subscribe returns a Subscription handle; events for a given job are read
// through its Join method.
func (b *Bus) Subscribe(ctx context.Context) *Subscription {
	return &Subscription{bus: b}
}

// Subscription is a handle used to join individual job channels. All joins
// share the Bus's redis client; each Join opens its own Pub/Sub
// subscription on it.
type Subscription struct {
	bus *Bus
}

// Join subscribes to jobID and returns a channel of decoded events plus a
// cancel func the caller must invoke once done reading. Late subscribers
// are not guaranteed prior events. The channel closes when ctx is
// cancelled, when cancel is called, or right after a Done or Error event
// has been delivered.
func (s *Subscription) Join(ctx context.Context, jobID string) (<-chan types.ProgressEvent, func(), error) {
	ps := s.bus.rdb.Subscribe(ctx, s.bus.channel(jobID))
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, nil, err
	}

	out := make(chan types.ProgressEvent, 16)
	done := make(chan struct{})
	go func() {
		defer close(out)
		ch := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var event types.ProgressEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					log.Printf("[progressbus] malformed event on job %s: %v", jobID, err)
					continue
				}
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
				if event.Type == types.EventDone || event.Type == types.EventError {
					return
				}
			}
		}
	}()

	cancel := func() {
		close(done)
		ps.Close()
	}
	return out, cancel, nil
}
