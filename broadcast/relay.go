package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/Sadik-Sami/ToDo-DnD/domain"
)

// Relay carries change events between server instances over a Redis channel.
// Published events reach the local Hub through the subscription loop in Run,
// so every instance delivers them from a single goroutine in channel order.
type Relay struct {
	client  *redis.Client
	channel string
	hub     *Hub
	backoff time.Duration

	readyOnce sync.Once
	ready     chan struct{}
}

func NewRelay(client *redis.Client, channel string, hub *Hub) *Relay {
	return &Relay{
		client:  client,
		channel: channel,
		hub:     hub,
		backoff: time.Second,
		ready:   make(chan struct{}),
	}
}

// Ready is closed once the first subscription is confirmed by Redis.
func (r *Relay) Ready() <-chan struct{} { return r.ready }

// Publish sends ev to every instance. If Redis rejects the publish the event
// is delivered to the local hub only.
func (r *Relay) Publish(ctx context.Context, ev domain.ChangeEvent) {
	if ev.IsZero() {
		return
	}
	data, err := sonic.Marshal(ev)
	if err == nil {
		err = r.client.Publish(ctx, r.channel, data).Err()
	}
	if err != nil {
		log.WithFields(log.Fields{"channel": r.channel, "owner": ev.Owner, "error": err}).Warn("relay publish failed, delivering locally")
		relayFallbacks.Inc()
		r.hub.Publish(ctx, ev)
	}
}

// Run subscribes to the relay channel and feeds decoded events into the hub
// until ctx is cancelled, reconnecting when the subscription drops.
func (r *Relay) Run(ctx context.Context) {
	for {
		sub := r.client.Subscribe(ctx, r.channel)
		if _, err := sub.Receive(ctx); err != nil {
			_ = sub.Close()
			if ctx.Err() != nil {
				return
			}
			log.WithFields(log.Fields{"channel": r.channel, "error": err}).Error("relay subscribe failed, retrying")
			if !r.sleep(ctx) {
				return
			}
			continue
		}
		r.readyOnce.Do(func() { close(r.ready) })
		r.consume(ctx, sub.Channel())
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		log.WithField("channel", r.channel).Error("pubsub channel closed, reconnecting")
		if !r.sleep(ctx) {
			return
		}
	}
}

func (r *Relay) consume(ctx context.Context, ch <-chan *redis.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev domain.ChangeEvent
			if err := sonic.UnmarshalString(msg.Payload, &ev); err != nil {
				log.WithFields(log.Fields{"channel": r.channel, "error": err}).Error("unable to parse relayed event")
				continue
			}
			r.hub.Publish(ctx, ev)
		}
	}
}

func (r *Relay) sleep(ctx context.Context) bool {
	t := time.NewTimer(r.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
