package main

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/angelmondragon/tablesync-backend/pkg/db/models"
	"github.com/angelmondragon/tablesync-backend/pkg/enums"
	"github.com/angelmondragon/tablesync-backend/pkg/outbox"
	"github.com/angelmondragon/tablesync-backend/pkg/outbox/registry"
)

type drainStats struct {
	claimed      int
	published    int
	retried      int
	deadLettered int
	// deferred rows share an ordering key with a row that failed earlier in
	// the same batch. They stay untouched so the next poll sends them in order.
	deferred int
}

func (d drainStats) fields() map[string]any {
	return map[string]any{
		"claimed":       d.claimed,
		"published":     d.published,
		"retried":       d.retried,
		"dead_lettered": d.deadLettered,
		"deferred":      d.deferred,
	}
}

func (s *Service) drain(ctx context.Context) (drainStats, error) {
	var stats drainStats
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := s.repo.FetchUnpublishedForPublish(tx, s.batchSize, s.maxAttempts)
		if err != nil {
			return fmt.Errorf("claim outbox rows: %w", err)
		}
		stats.claimed = len(events)

		held := map[string]struct{}{}
		for _, event := range events {
			if err := s.dispatch(ctx, tx, event, held, &stats); err != nil {
				return err
			}
		}
		return nil
	})
	if err == nil && stats.claimed > 0 {
		s.logg.Info(s.logg.WithFields(ctx, stats.fields()), "outbox batch drained")
	}
	return stats, err
}

func (s *Service) dispatch(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, held map[string]struct{}, stats *drainStats) error {
	resolved, err := s.registry.Resolve(event)
	if err != nil {
		stats.deadLettered++
		return s.deadLetter(ctx, tx, event, "", enums.OutboxDLQReasonNonRetryable, err)
	}

	key := orderingKey(event, resolved.Envelope)
	if _, blocked := held[key]; blocked {
		stats.deferred++
		return nil
	}

	sendErr := s.send(ctx, event, resolved, key)
	if sendErr == nil {
		if err := s.repo.MarkPublishedTx(tx, event.ID); err != nil {
			return fmt.Errorf("mark published %s: %w", event.ID, err)
		}
		stats.published++
		return nil
	}

	topic := resolved.Descriptor.Topic
	var nonRetryable registry.NonRetryableError
	if errors.As(sendErr, &nonRetryable) {
		stats.deadLettered++
		return s.deadLetter(ctx, tx, event, topic, enums.OutboxDLQReasonNonRetryable, sendErr)
	}
	if event.AttemptCount+1 >= s.maxAttempts {
		stats.deadLettered++
		return s.deadLetter(ctx, tx, event, topic, enums.OutboxDLQReasonMaxAttempts, fmt.Errorf("max publish attempts reached: %w", sendErr))
	}

	held[key] = struct{}{}
	stats.retried++
	logCtx := s.logg.WithFields(ctx, eventFields(event, resolved.Envelope, topic))
	logCtx = s.logg.WithFields(logCtx, map[string]any{"error": sendErr.Error(), "ordering_key": key})
	s.logg.Warn(logCtx, "outbox publish failed, holding ordering key")
	if err := s.repo.MarkFailedTx(tx, event.ID, sendErr); err != nil {
		return fmt.Errorf("mark failure %s: %w", event.ID, err)
	}
	return nil
}

func (s *Service) deadLetter(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, topic string, reason enums.OutboxDLQErrorReason, cause error) error {
	fields := eventFields(event, outbox.PayloadEnvelope{}, topic)
	fields["error_reason"] = reason
	fields["error"] = cause.Error()
	s.logg.Warn(s.logg.WithFields(ctx, fields), "outbox event dead-lettered")

	entry := models.DeadLetter(event, reason, cause, s.now())
	if err := s.dlq.InsertTx(tx, entry); err != nil {
		return fmt.Errorf("insert dlq %s: %w", event.ID, err)
	}
	if err := s.repo.MarkTerminalTx(tx, event.ID, cause, s.maxAttempts); err != nil {
		return fmt.Errorf("mark terminal %s: %w", event.ID, err)
	}
	return nil
}

func eventFields(event models.OutboxEvent, envelope outbox.PayloadEnvelope, topic string) map[string]any {
	fields := map[string]any{
		"outbox_id":      event.ID.String(),
		"event_type":     event.EventType,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID.String(),
		"attempt_count":  event.AttemptCount,
	}
	if envelope.EventID != "" {
		fields["event_id"] = envelope.EventID
	}
	if topic != "" {
		fields["topic"] = topic
	}
	return fields
}
