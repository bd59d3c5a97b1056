package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"scenerender/internal/pkg/logger"
)

// Emitter delivers an event to every connection in a room. Emitting to a room
// with no connections is a no-op.
type Emitter interface {
	Emit(room, event string, payload any) error
}

// Listener subscribes to the worker channels and forwards each message to the
// session room named by its socket_id.
type Listener struct {
	rdb        *redis.Client
	emitter    Emitter
	log        *logger.Logger
	minBackoff time.Duration
	maxBackoff time.Duration
}

// ListenerOption configures a Listener.
type ListenerOption func(*Listener)

// WithBackoff bounds the delay between resubscription attempts.
func WithBackoff(initial, limit time.Duration) ListenerOption {
	return func(l *Listener) {
		l.minBackoff = initial
		l.maxBackoff = limit
	}
}

// NewListener creates a listener. Nothing is subscribed until Run.
func NewListener(rdb *redis.Client, emitter Emitter, log *logger.Logger, opts ...ListenerOption) *Listener {
	if log == nil {
		log = logger.Discard()
	}
	l := &Listener{
		rdb:        rdb,
		emitter:    emitter,
		log:        log.WithComponent("relay"),
		minBackoff: 250 * time.Millisecond,
		maxBackoff: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run keeps one subscription alive until ctx is canceled, resubscribing with
// exponential backoff whenever it drops.
func (l *Listener) Run(ctx context.Context) error {
	backoff := l.minBackoff
	for {
		started := time.Now()
		err := l.listen(ctx)
		if ctx.Err() != nil {
			l.log.Info("relay listener stopped")
			return nil
		}
		// A subscription that held for a while starts the backoff over.
		if time.Since(started) > l.maxBackoff {
			backoff = l.minBackoff
		}

		l.log.Warn("relay subscription lost", "error", err, "retry_in", backoff.String())
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > l.maxBackoff {
			backoff = l.maxBackoff
		}
	}
}

func (l *Listener) listen(ctx context.Context) error {
	sub := l.rdb.Subscribe(ctx, ChannelCompletion, ChannelRenderProgress, ChannelThumbProgress)
	defer sub.Close()
	// ReceiveMessage does not watch ctx while blocked on the socket.
	stop := context.AfterFunc(ctx, func() { _ = sub.Close() })
	defer stop()

	// The first reply confirms the subscription.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	l.log.Info("relay listener subscribed")

	for {
		msg, err := sub.ReceiveMessage(ctx)
		if err != nil {
			return err
		}
		l.Handle(msg.Channel, msg.Payload)
	}
}

// Handle routes one raw message. Invalid messages are logged and dropped.
func (l *Listener) Handle(channel, payload string) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("relay handler panicked", "channel", channel, "panic", fmt.Sprint(r))
		}
	}()

	if payload == "" {
		l.log.Error("empty relay message", "channel", channel)
		return
	}

	var (
		room, event string
		body        any
	)
	switch channel {
	case ChannelRenderProgress:
		m, err := decodeRenderProgress(payload)
		if err != nil {
			l.drop(channel, err)
			return
		}
		room, event = m.SocketID, EventRenderProgress
		body = ProgressEvent{NodePath: m.NodePath, Progress: float64(*m.Progress)}

	case ChannelThumbProgress:
		m, err := decodeThumbProgress(payload)
		if err != nil {
			l.drop(channel, err)
			return
		}
		room, event = m.SocketID, EventThumbProgress
		body = ProgressEvent{NodePath: m.NodePath, Progress: float64(*m.Progress)}

	case ChannelCompletion:
		m, err := decodeCompletion(payload)
		if err != nil {
			l.drop(channel, err)
			return
		}
		room = m.SocketID
		event, body = finishedEvent(m)

	default:
		l.log.Error("message on unknown channel", "channel", channel)
		return
	}

	if err := l.emitter.Emit(room, event, body); err != nil {
		l.log.Warn("relay emit failed", "event", event, "socket_id", room, "error", err)
	}
}

func (l *Listener) drop(channel string, err error) {
	l.log.Error("invalid relay message dropped", "channel", channel, "error", err)
}
