package events

import (
	"context"
	"encoding/json"

	backend "github.com/redis/go-redis/v9"

	"github.com/vk/agentgridgo/internal/ctxlog"
)

// RedisEmitter appends events to a Redis stream via XADD. Consumers read
// the stream with consumer groups, giving at-least-once delivery; the
// emitter itself never blocks on consumers.
type RedisEmitter struct {
	client *backend.Client
	stream string
	maxLen int64
}

// NewRedisEmitter creates an emitter publishing to the named stream. The
// stream is capped approximately at maxLen entries; zero means uncapped.
func NewRedisEmitter(client *backend.Client, stream string, maxLen int64) *RedisEmitter {
	return &RedisEmitter{client: client, stream: stream, maxLen: maxLen}
}

func (r *RedisEmitter) Emit(ctx context.Context, e Event) {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		ctxlog.FromContext(ctx).Warn("Dropping unserializable event.", "kind", e.Kind, "error", err)
		return
	}
	args := &backend.XAddArgs{
		Stream: r.stream,
		Values: map[string]any{"kind": e.Kind, "at": e.At.UnixNano(), "payload": payload},
	}
	if r.maxLen > 0 {
		args.MaxLen = r.maxLen
		args.Approx = true
	}
	if err := r.client.XAdd(ctx, args).Err(); err != nil {
		// Fire-and-forget: log and move on.
		ctxlog.FromContext(ctx).Warn("Event emission failed.", "kind", e.Kind, "error", err)
	}
}
