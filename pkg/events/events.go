// Package events publishes pipeline lifecycle events.
package events

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Londondannyboy/quest-sub003/pkg/models"
)

// Publisher is the transport events go out on.
type Publisher interface {
	Publish(ctx context.Context, key string, eventType string, payload any) error
}

// EntityEvent is the payload for entity lifecycle events.
type EntityEvent struct {
	EntityID  string    `json:"entity_id"`
	Kind      string    `json:"kind"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// MergeEvent is the payload for entity.merged events.
type MergeEvent struct {
	SourceID  string    `json:"source_id"`
	TargetID  string    `json:"target_id"`
	Timestamp time.Time `json:"timestamp"`
}

// RunEvent is the payload for run lifecycle events.
type RunEvent struct {
	RunID            string    `json:"run_id"`
	RecordsIn        int       `json:"records_in"`
	RecordsPersisted int       `json:"records_persisted"`
	ErrorCount       int       `json:"error_count"`
	Timestamp        time.Time `json:"timestamp"`
}

// Emitter publishes pipeline events. Emission is best effort: a publish
// failure is logged and never fails the operation that triggered it.
type Emitter struct {
	publisher Publisher
	logger    ectologger.Logger
}

// NewEmitter creates a new event emitter
func NewEmitter(publisher Publisher, logger ectologger.Logger) *Emitter {
	return &Emitter{
		publisher: publisher,
		logger:    logger,
	}
}

// EntityCreated publishes an entity.created event.
func (e *Emitter) EntityCreated(ctx context.Context, entity *models.CanonicalEntity) {
	event := EntityEvent{
		EntityID:  entity.ID.String(),
		Kind:      string(entity.Kind),
		Name:      entity.Name,
		Status:    string(entity.Status),
		Timestamp: time.Now().UTC(),
	}
	if err := e.publisher.Publish(ctx, entity.ID.String(), "entity.created", event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Warn("Failed to emit entity.created")
	}
}

// EntityValidated publishes an entity.validated event after a review
// decision.
func (e *Emitter) EntityValidated(ctx context.Context, entity *models.CanonicalEntity) {
	event := EntityEvent{
		EntityID:  entity.ID.String(),
		Kind:      string(entity.Kind),
		Name:      entity.Name,
		Status:    string(entity.Status),
		Timestamp: time.Now().UTC(),
	}
	if err := e.publisher.Publish(ctx, entity.ID.String(), "entity.validated", event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Warn("Failed to emit entity.validated")
	}
}

// EntityMerged publishes an entity.merged event.
func (e *Emitter) EntityMerged(ctx context.Context, sourceID, targetID string) {
	event := MergeEvent{
		SourceID:  sourceID,
		TargetID:  targetID,
		Timestamp: time.Now().UTC(),
	}
	if err := e.publisher.Publish(ctx, sourceID, "entity.merged", event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Warn("Failed to emit entity.merged")
	}
}

// RunCompleted publishes a run.completed event.
func (e *Emitter) RunCompleted(ctx context.Context, result *models.RunResult) {
	event := RunEvent{
		RunID:            result.RunID.String(),
		RecordsIn:        result.RecordsIn,
		RecordsPersisted: result.RecordsPersisted,
		ErrorCount:       len(result.Errors),
		Timestamp:        time.Now().UTC(),
	}
	if err := e.publisher.Publish(ctx, result.RunID.String(), "run.completed", event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Warn("Failed to emit run.completed")
	}
}
