package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/opscribe/internal/metrics"
)

// DefaultChannel is the pub/sub channel used when none is configured.
const DefaultChannel = "opscribe:updates"

const (
	relayQueue       = 256
	relayConcurrency = 4
)

type envelope struct {
	Instance  string          `json:"instance"`
	MeetingID string          `json:"meeting_id"`
	Payload   json.RawMessage `json:"payload"`
}

type outbound struct {
	meetingID string
	payload   []byte
}

// RedisRelay mirrors hub traffic between daemon instances sharing a Redis
// server. Each instance ignores its own messages.
type RedisRelay struct {
	client   *redis.Client
	channel  string
	instance string
	hub      *Hub
	out      chan outbound
	logger   *slog.Logger
}

// ConnectRedis dials addr and verifies the connection.
func ConnectRedis(ctx context.Context, addr, channel string, hub *Hub) (*RedisRelay, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
	}
	return NewRedisRelay(client, channel, hub), nil
}

// NewRedisRelay wraps an existing client and registers the relay as the
// hub's forwarder.
func NewRedisRelay(client *redis.Client, channel string, hub *Hub) *RedisRelay {
	if channel == "" {
		channel = DefaultChannel
	}
	r := &RedisRelay{
		client:   client,
		channel:  channel,
		instance: uuid.New().String(),
		hub:      hub,
		out:      make(chan outbound, relayQueue),
		logger:   slog.Default(),
	}
	hub.SetForwarder(r)
	return r
}

// Forward queues a message for publication. When the queue is full the
// message is dropped.
func (r *RedisRelay) Forward(meetingID string, payload []byte) {
	select {
	case r.out <- outbound{meetingID: meetingID, payload: payload}:
	default:
		metrics.RelayErrors.Inc()
		r.logger.Warn("relay queue full, dropping message", "meeting_id", meetingID)
	}
}

// Run subscribes to the channel and publishes queued messages until ctx is
// cancelled.
func (r *RedisRelay) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.subscribe(gCtx) })
	g.Go(func() error { return r.publish(gCtx) })
	err := g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// Close releases the redis client.
func (r *RedisRelay) Close() error {
	return r.client.Close()
}

func (r *RedisRelay) subscribe(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribing to %s: %w", r.channel, err)
	}
	r.logger.Info("relay subscribed", "channel", r.channel, "instance", r.instance)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(msg.Payload)
		}
	}
}

// handle delivers a message received from another instance.
func (r *RedisRelay) handle(raw string) {
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		r.logger.Warn("malformed relay message", "error", err)
		return
	}
	if env.Instance == r.instance || env.MeetingID == "" {
		return
	}
	r.hub.Deliver(env.MeetingID, env.Payload)
}

func (r *RedisRelay) publish(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(relayConcurrency)

	for {
		select {
		case <-ctx.Done():
			return g.Wait()
		case m := <-r.out:
			g.Go(func() error {
				if err := r.send(gCtx, m); err != nil {
					metrics.RelayErrors.Inc()
					r.logger.Warn("relay publish failed", "meeting_id", m.meetingID, "error", err)
				}
				return nil
			})
		}
	}
}

func (r *RedisRelay) send(ctx context.Context, m outbound) error {
	b, err := r.encode(m)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel, b).Err()
}

func (r *RedisRelay) encode(m outbound) ([]byte, error) {
	payload := m.payload
	if !json.Valid(payload) {
		quoted, err := json.Marshal(string(payload))
		if err != nil {
			return nil, err
		}
		payload = quoted
	}
	return json.Marshal(envelope{Instance: r.instance, MeetingID: m.meetingID, Payload: payload})
}
