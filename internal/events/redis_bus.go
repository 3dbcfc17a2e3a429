package events

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisChannelPrefix = "events:"

// envelope wraps an event for the redis wire together with its fabric
// channel and the publishing node, so a node can ignore its own echoes.
type envelope struct {
	Node    string `json:"node"`
	Channel string `json:"channel"`
	Event   Event  `json:"event"`
}

// RedisBus fans events out across nodes: local delivery goes straight to the
// hub, and a copy is published on redis pub/sub so hubs on other nodes can
// reach their own subscribers. Redis failures degrade to local-only delivery.
type RedisBus struct {
	client *redis.Client
	local  *Hub
	node   string
	logger *zap.SugaredLogger
}

func NewRedisBus(client *redis.Client, local *Hub, logger *zap.SugaredLogger) *RedisBus {
	b := make([]byte, 8)
	rand.Read(b)
	return &RedisBus{
		client: client,
		local:  local,
		node:   hex.EncodeToString(b),
		logger: logger,
	}
}

func (r *RedisBus) Publish(channel string, e Event) {
	r.local.Publish(channel, e)

	data, err := json.Marshal(envelope{Node: r.node, Channel: channel, Event: e})
	if err != nil {
		r.logger.Errorw("marshal envelope", "err", err)
		return
	}
	if err := r.client.Publish(context.Background(), redisChannelPrefix+channel, data).Err(); err != nil {
		r.logger.Warnw("redis publish failed, delivered locally only", "channel", channel, "err", err)
	}
}

// Run consumes the redis side of the fabric until ctx is cancelled,
// republishing remote events into the local hub.
func (r *RedisBus) Run(ctx context.Context) {
	sub := r.client.PSubscribe(ctx, redisChannelPrefix+"*")
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Channel():
			if !ok {
				return
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				r.logger.Warnw("bad envelope on redis channel", "channel", msg.Channel, "err", err)
				continue
			}
			if env.Node == r.node {
				continue // our own echo
			}
			channel := env.Channel
			if channel == "" {
				channel = strings.TrimPrefix(msg.Channel, redisChannelPrefix)
			}
			r.local.Publish(channel, env.Event)
		}
	}
}
