package relay

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"scenerender/internal/pkg/errors"
)

// Publisher is the worker side of the relay.
type Publisher struct {
	rdb *redis.Client
}

// NewPublisher creates a publisher on an existing client.
func NewPublisher(rdb *redis.Client) *Publisher {
	return &Publisher{rdb: rdb}
}

// RenderProgress publishes progress for a glb or rop render.
func (p *Publisher) RenderProgress(ctx context.Context, socketID, nodePath string, progress float64) error {
	pct := Percent(progress)
	return p.publish(ctx, ChannelRenderProgress, RenderProgress{
		SocketID: socketID,
		NodePath: nodePath,
		Progress: &pct,
	})
}

// ThumbProgress publishes progress for a thumbnail render.
func (p *Publisher) ThumbProgress(ctx context.Context, socketID, nodePath string, progress float64) error {
	pct := Percent(progress)
	return p.publish(ctx, ChannelThumbProgress, ThumbProgress{
		SocketID: socketID,
		NodePath: nodePath,
		Progress: &pct,
	})
}

// Complete announces a finished artifact.
func (p *Publisher) Complete(ctx context.Context, c Completion) error {
	return p.publish(ctx, ChannelCompletion, c)
}

func (p *Publisher) publish(ctx context.Context, channel string, msg any) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "relay.publish", "encode "+channel+" message")
	}
	if err := p.rdb.Publish(ctx, channel, body).Err(); err != nil {
		return errors.WrapWithCode(err, errors.CodeUnavailable, "relay.publish", "publish to "+channel)
	}
	return nil
}
