package services

import (
	"context"
	"encoding/json"
	"example.com/backstage/services/orderbot/internal/models"
	"example.com/backstage/services/orderbot/internal/saga"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// DefaultRecoveryBatchSize bounds the sagas resumed per run
const DefaultRecoveryBatchSize = 100

// RecoveryResult counts what one recovery run did
type RecoveryResult struct {
	Resumed   int
	Completed int
	Failed    int
}

// RecoverConfirmations resumes confirmations left in progress for longer than
// staleAfter. Every step re-checks what is already persisted.
func (c *Confirmer) RecoverConfirmations(ctx context.Context, staleAfter time.Duration, batchSize int) (RecoveryResult, error) {
	var result RecoveryResult
	if batchSize <= 0 {
		batchSize = DefaultRecoveryBatchSize
	}

	txn := c.tracer.StartTransaction("recover-confirmations")
	defer c.tracer.EndTransaction(txn)

	stale, err := c.store.Sagas.ListStale(ctx, c.now().Add(-staleAfter), batchSize)
	if err != nil {
		c.tracer.RecordError(txn, err)
		return result, errors.Wrap(err, "failed to list stale confirmations")
	}

	for i := range stale {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		record := stale[i]
		result.Resumed++

		run := &confirmationRun{c: c, saga: &record, txn: txn}
		if err := json.Unmarshal(record.Payload, &run.payload); err != nil {
			log.Error().Err(err).Str("saga_id", record.ID.String()).Msg("Unreadable confirmation payload, marking failed")
			record.Status = models.SagaStatusFailed
			record.LastError = errors.Wrap(err, "failed to decode payload").Error()
			if updateErr := c.store.Sagas.Update(ctx, &record); updateErr != nil {
				log.Error().Err(updateErr).Str("saga_id", record.ID.String()).Msg("Failed to mark saga failed")
			}
			result.Failed++
			c.metrics.RecordSagaRecovery("failed")
			continue
		}

		log.Info().
			Str("saga_id", record.ID.String()).
			Str("conversation_id", record.ConversationID).
			Str("resume_after", record.Step).
			Msg("Resuming stale confirmation")

		if err := saga.Run(ctx, run, run.steps(), record.Step); err != nil {
			_ = run.failure(err)
			result.Failed++
			c.metrics.RecordSagaRecovery("failed")
			continue
		}

		result.Completed++
		c.metrics.RecordSagaRecovery("completed")
	}

	if result.Resumed > 0 {
		log.Info().
			Int("resumed", result.Resumed).
			Int("completed", result.Completed).
			Int("failed", result.Failed).
			Msg("Confirmation recovery finished")
	}
	return result, nil
}
