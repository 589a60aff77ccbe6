// Package events publishes mirror change notifications so external
// consumers can react to cache updates without polling the store.
package events

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Event types emitted by the sync engine.
const (
	EntityCreated = "entity.created"
	EntityUpdated = "entity.updated"
	EntityDeleted = "entity.deleted"
	MutualCreated = "mutual.created"
	MutualUpdated = "mutual.updated"
	MutualDeleted = "mutual.deleted"
)

// Emitter receives mirror change notifications. Emission failures never
// affect cache consistency; the engine logs and moves on.
type Emitter interface {
	EmitEntity(ctx context.Context, eventType string, entity models.Entity) error
	EmitMutual(ctx context.Context, eventType string, mutual models.Mutual) error
}

type noopEmitter struct{}

func (noopEmitter) EmitEntity(context.Context, string, models.Entity) error { return nil }
func (noopEmitter) EmitMutual(context.Context, string, models.Mutual) error { return nil }

// Noop returns an emitter that drops every event.
func Noop() Emitter {
	return noopEmitter{}
}

// KafkaEmitter publishes change events through a Kafka producer.
type KafkaEmitter struct {
	producer *kafka.Producer
	logger   ectologger.Logger
}

// NewKafkaEmitter creates a Kafka backed emitter.
func NewKafkaEmitter(producer *kafka.Producer, logger ectologger.Logger) *KafkaEmitter {
	return &KafkaEmitter{
		producer: producer,
		logger:   logger,
	}
}

// EmitEntity publishes an entity change event.
func (e *KafkaEmitter) EmitEntity(ctx context.Context, eventType string, entity models.Entity) error {
	ctx, span := tracing.StartSpan(ctx, "events.KafkaEmitter.EmitEntity")
	defer span.End()

	event := &kafka.CacheEvent{
		EventType:  eventType,
		EntityType: entity.EntityType,
		EntityID:   entity.ID,
		Data:       entity.Data,
	}

	if err := e.producer.PublishCacheEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Errorf("Failed to emit %s event", eventType)
		return err
	}
	return nil
}

// EmitMutual publishes a relation change event from the owner's
// perspective.
func (e *KafkaEmitter) EmitMutual(ctx context.Context, eventType string, mutual models.Mutual) error {
	ctx, span := tracing.StartSpan(ctx, "events.KafkaEmitter.EmitMutual")
	defer span.End()

	event := &kafka.CacheEvent{
		EventType:    eventType,
		EntityType:   mutual.EntityType,
		EntityID:     mutual.EntityID,
		ByEntityType: mutual.ByEntityType,
		ByEntityID:   mutual.ByEntityID,
		Data:         mutual.MutualData,
	}

	if err := e.producer.PublishCacheEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Errorf("Failed to emit %s event", eventType)
		return err
	}
	return nil
}
