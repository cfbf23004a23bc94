package services

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"echomind/internal/models"
)

// contextChannel carries fresh synthesized contexts between instances.
const contextChannel = "cognition:context"

// contextEnvelope is the published message shape.
type contextEnvelope struct {
	InstanceID string                    `json:"instance_id"`
	Context    models.SynthesizedContext `json:"context"`
}

// ContextBus fans fresh synthesized contexts out over Redis pub/sub so
// reply-path replicas can warm their local rotating cache. Publishing is
// best-effort; a failure is logged and the local cache is still current.
type ContextBus struct {
	redis      *RedisService
	instanceID string
	cancel     context.CancelFunc
}

// NewContextBus creates a context bus on an established Redis connection.
func NewContextBus(redisService *RedisService, instanceID string) *ContextBus {
	return &ContextBus{redis: redisService, instanceID: instanceID}
}

// PublishContext broadcasts one synthesized context.
func (b *ContextBus) PublishContext(ctx *models.SynthesizedContext) {
	payload, err := json.Marshal(contextEnvelope{InstanceID: b.instanceID, Context: *ctx})
	if err != nil {
		log.Printf("⚠️  [PUBSUB] failed to marshal context: %v", err)
		return
	}

	pubCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := b.redis.Client().Publish(pubCtx, contextChannel, payload).Err(); err != nil {
		log.Printf("⚠️  [PUBSUB] failed to publish context: %v", err)
		return
	}
	log.Printf("📡 [PUBSUB] context published (instance: %s)", b.instanceID)
}

// Start subscribes to the context channel and pushes contexts from other
// instances into the local cache. Runs until Stop is called.
func (b *ContextBus) Start(cache *ContextCache) error {
	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel

	pubsub := b.redis.Client().Subscribe(ctx, contextChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		return err
	}

	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var envelope contextEnvelope
				if err := json.Unmarshal([]byte(msg.Payload), &envelope); err != nil {
					log.Printf("⚠️  [PUBSUB] failed to decode context message: %v", err)
					continue
				}
				if envelope.InstanceID == b.instanceID {
					continue // our own publish
				}
				remote := envelope.Context
				cache.Push(&remote)
				log.Printf("📡 [PUBSUB] context received from instance %s", envelope.InstanceID)
			}
		}
	}()

	log.Printf("✅ [PUBSUB] listening for contexts (instance: %s)", b.instanceID)
	return nil
}

// Stop ends the subscription loop.
func (b *ContextBus) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
}
