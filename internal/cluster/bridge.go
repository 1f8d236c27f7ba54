// Package cluster fans chat payloads out across relay instances over Redis pub/sub.
package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DeliverFunc hands a payload from another instance to local room members.
type DeliverFunc func(room string, payload []byte)

type frame struct {
	Origin  string          `json:"origin"`
	Room    string          `json:"room"`
	Payload json.RawMessage `json:"payload"`
}

// Bridge publishes local chats and replays remote ones.
type Bridge struct {
	client  redis.UniversalClient
	channel string
	origin  string
	log     *zerolog.Logger
}

// NewBridge builds a bridge using channel as the pub/sub prefix.
func NewBridge(client redis.UniversalClient, channel string, logger *zerolog.Logger) *Bridge {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Bridge{
		client:  client,
		channel: channel,
		origin:  uuid.NewString(),
		log:     logger,
	}
}

// Origin identifies this instance on the wire.
func (b *Bridge) Origin() string {
	return b.origin
}

func (b *Bridge) topic(room string) string {
	return b.channel + ":" + room
}

// Publish sends payload for room to every other instance.
func (b *Bridge) Publish(ctx context.Context, room string, payload []byte) error {
	data, err := json.Marshal(frame{Origin: b.origin, Room: room, Payload: payload})
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	if err := b.client.Publish(ctx, b.topic(room), data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", room, err)
	}
	return nil
}

// Run subscribes to every room topic and calls deliver for frames from other
// instances. It blocks until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context, deliver DeliverFunc) error {
	sub := b.client.PSubscribe(ctx, b.channel+":*")
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	b.log.Info().Str("channel", b.channel).Str("origin", b.origin).Msg("cluster bridge subscribed")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.handle(msg, deliver)
		}
	}
}

func (b *Bridge) handle(msg *redis.Message, deliver DeliverFunc) {
	room, payload, ok := b.decode(msg.Channel, []byte(msg.Payload))
	if !ok {
		return
	}
	deliver(room, payload)
}

// decode returns the room and payload of a frame published by another instance.
func (b *Bridge) decode(channel string, data []byte) (string, []byte, bool) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		b.log.Warn().Err(err).Str("channel", channel).Msg("discarding malformed cluster frame")
		return "", nil, false
	}
	if f.Origin == b.origin {
		return "", nil, false
	}
	room := strings.TrimPrefix(channel, b.channel+":")
	if f.Room != "" && f.Room != room {
		b.log.Warn().Str("channel", channel).Str("room", f.Room).Msg("cluster frame room mismatch")
		return "", nil, false
	}
	return room, f.Payload, true
}
