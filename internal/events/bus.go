package events

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/temzero/chatter-sub006/internal/model"
	redisclient "github.com/temzero/chatter-sub006/internal/redis"
	"github.com/temzero/chatter-sub006/internal/ws"
)

// Dispatcher delivers server events to users and to single connections.
// Components depend on this interface rather than on the Bus so tests can
// record deliveries.
type Dispatcher interface {
	ToUser(userID string, ev model.ServerEvent)
	ToUsers(userIDs []string, ev model.ServerEvent)
	ToConn(connID string, ev model.ServerEvent)
}

// Bus routes events to the user's handles on this node and, through Redis
// pub/sub, to handles held by other nodes. A pub/sub subscription exists per
// locally-connected user, started on the user's first handle and stopped on
// the last.
type Bus struct {
	registry *ws.Registry
	redis    *redisclient.Client

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	cancels map[string]context.CancelFunc

	regEvents <-chan ws.Event
	done      chan struct{}
}

// NewBus wires the bus to the registry. redisClient may be nil, in which case
// delivery is local to this process.
func NewBus(registry *ws.Registry, redisClient *redisclient.Client) *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		registry: registry,
		redis:    redisClient,
		ctx:      ctx,
		cancel:   cancel,
		cancels:  make(map[string]context.CancelFunc),
		done:     make(chan struct{}),
	}
	if redisClient != nil {
		b.regEvents = registry.Subscribe(256)
	}
	return b
}

// Start begins managing per-user pub/sub subscriptions. It is a no-op without
// a Redis client.
func (b *Bus) Start() {
	if b.redis == nil {
		return
	}
	go b.run()
}

func (b *Bus) run() {
	for {
		select {
		case <-b.ctx.Done():
			return
		case ev, ok := <-b.regEvents:
			if !ok {
				return
			}
			switch {
			case ev.Type == ws.EventRegistered && ev.First:
				b.startSubscription(ev.UserID)
			case ev.Type == ws.EventUnregistered && ev.Last:
				b.stopSubscription(ev.UserID)
			}
		}
	}
}

func (b *Bus) startSubscription(userID string) {
	ctx, cancel := context.WithCancel(b.ctx)

	b.mu.Lock()
	if _, exists := b.cancels[userID]; exists {
		b.mu.Unlock()
		cancel()
		return
	}
	b.cancels[userID] = cancel
	b.mu.Unlock()

	go b.subscribeLoop(ctx, userID)
}

func (b *Bus) stopSubscription(userID string) {
	b.mu.Lock()
	cancel, ok := b.cancels[userID]
	if ok {
		delete(b.cancels, userID)
	}
	b.mu.Unlock()

	if ok {
		cancel()
	}
}

func (b *Bus) subscribeLoop(ctx context.Context, userID string) {
	channel := redisclient.EventChannel(userID)
	pubsub := b.redis.Subscribe(ctx, channel)
	defer pubsub.Close()

	log.Debug().
		Str("userId", userID).
		Str("channel", channel).
		Msg("event pubsub subscribed")

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}

			var ev model.ServerEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.Error().Err(err).Msg("failed to unmarshal event")
				continue
			}

			b.registry.Send(userID, ev)
		}
	}
}

// ToUser delivers an event to every handle of the user, on any node.
func (b *Bus) ToUser(userID string, ev model.ServerEvent) {
	if b.redis == nil {
		b.registry.Send(userID, ev)
		return
	}

	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("type", ev.Type).Msg("failed to marshal event")
		return
	}

	if err := b.redis.Publish(b.ctx, redisclient.EventChannel(userID), data).Err(); err != nil {
		log.Warn().Err(err).Str("userId", userID).Msg("event publish failed, delivering locally")
		b.registry.Send(userID, ev)
	}
}

// ToUsers delivers an event to each of the given users in order.
func (b *Bus) ToUsers(userIDs []string, ev model.ServerEvent) {
	for _, id := range userIDs {
		b.ToUser(id, ev)
	}
}

// ToConn delivers an event to one connection on this node.
func (b *Bus) ToConn(connID string, ev model.ServerEvent) {
	b.registry.SendTo(connID, ev)
}

func (b *Bus) Close() {
	b.cancel()
	close(b.done)
}
