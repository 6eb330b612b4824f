package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-tracking/internal/dispatch"
	"github.com/example/ride-tracking/internal/models"
)

const channelPrefix = "ride-"

// Channel is the pub/sub channel observers of a ride listen on.
func Channel(rideID string) string { return channelPrefix + rideID }

type message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// RedisPublisher publishes ride positions and observer events on the
// ride's channel so every server instance can relay them.
type RedisPublisher struct {
	client *redis.Client
	log    *slog.Logger
}

func NewRedisPublisher(client *redis.Client, log *slog.Logger) *RedisPublisher {
	if log == nil {
		log = slog.Default()
	}
	return &RedisPublisher{client: client, log: log}
}

func (p *RedisPublisher) publish(ctx context.Context, rideID, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b, err := json.Marshal(message{Event: event, Data: data})
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, Channel(rideID), b).Err()
}

func (p *RedisPublisher) PublishLocation(ctx context.Context, u models.LocationUpdate) error {
	return p.publish(ctx, u.RideID, dispatch.EventLocationUpdate, u)
}

func (p *RedisPublisher) Emit(e models.Event) {
	if err := p.publish(context.Background(), e.RideID, string(e.Type), e); err != nil {
		p.log.Warn("event publish failed", "ride_id", e.RideID, "event", e.Type, "error", err)
	}
}

// Broadcaster delivers a frame to the local observers of a ride.
type Broadcaster interface {
	Broadcast(rideID string, env dispatch.Envelope) int
}

// RedisRelay forwards ride-* channel messages to local observer sockets.
type RedisRelay struct {
	client *redis.Client
	out    Broadcaster
	log    *slog.Logger
}

func NewRedisRelay(client *redis.Client, out Broadcaster, log *slog.Logger) *RedisRelay {
	if log == nil {
		log = slog.Default()
	}
	return &RedisRelay{client: client, out: out, log: log}
}

// Run blocks until ctx is done.
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.client.PSubscribe(ctx, channelPrefix+"*")
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("psubscribe: %w", err)
	}
	r.log.Info("observer relay subscribed", "pattern", channelPrefix+"*")
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.Forward(msg.Channel, []byte(msg.Payload))
		}
	}
}

// Forward relays one raw channel payload. Malformed payloads are dropped.
func (r *RedisRelay) Forward(channel string, payload []byte) {
	rideID, ok := strings.CutPrefix(channel, channelPrefix)
	if !ok || rideID == "" {
		return
	}
	var m message
	if err := json.Unmarshal(payload, &m); err != nil || m.Event == "" {
		r.log.Warn("dropping malformed relay message", "channel", channel, "error", err)
		return
	}
	r.out.Broadcast(rideID, dispatch.Envelope{Event: m.Event, Data: m.Data})
}
