package hub

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"wastenav/internal/events"
)

// RedisRelay mirrors published frames across nodes over Redis pub/sub so a
// client connected to one API node still sees events produced on another.
// Each topic maps to the channel "wastenav:<topic>".
type RedisRelay struct {
	rdb    *redis.Client
	nodeID string
}

// relayEnvelope wraps a frame with the originating node so a node skips its
// own echoes.
type relayEnvelope struct {
	Node  string       `json:"node"`
	Topic string       `json:"topic"`
	Frame events.Frame `json:"frame"`
}

func NewRedisRelay(url string) (*RedisRelay, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &RedisRelay{rdb: redis.NewClient(opt), nodeID: uuid.New().String()}, nil
}

// Relay publishes the frame to the topic's Redis channel. Best-effort,
// bounded; a Redis hiccup costs cross-node delivery for that frame only.
func (r *RedisRelay) Relay(topic string, f events.Frame) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	data, _ := json.Marshal(relayEnvelope{Node: r.nodeID, Topic: topic, Frame: f})
	_ = r.rdb.Publish(ctx, r.chanName(topic), data).Err()
}

// Run subscribes to every topic channel and re-fans remote frames out to
// this node's local connections. Blocks until ctx is done.
func (r *RedisRelay) Run(ctx context.Context, h *Hub) {
	ps := r.rdb.PSubscribe(ctx, "wastenav:*")
	defer func() { _ = ps.Close() }()
	// initial consume to ensure subscription
	_, _ = ps.Receive(ctx)
	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env relayEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				log.Printf("relay: bad envelope: %v", err)
				continue
			}
			if env.Node == r.nodeID {
				continue
			}
			h.publishFrame(env.Topic, env.Frame)
		}
	}
}

func (r *RedisRelay) chanName(topic string) string { return "wastenav:" + topic }
