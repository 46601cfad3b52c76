// Package jobs wires background task processing over Asynq.
package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeDraftCleanup drops abandoned empty invoice drafts.
	TaskTypeDraftCleanup = "invoicing:draft_cleanup"
)

// DraftCleanupPayload parameterizes a cleanup run.
type DraftCleanupPayload struct {
	OlderThanHours int `json:"older_than_hours"`
}

// NewDraftCleanupTask constructs an Asynq task.
func NewDraftCleanupTask(payload DraftCleanupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeDraftCleanup, data), nil
}

// DraftCleaner removes stale empty drafts across all users.
type DraftCleaner interface {
	CleanupAbandonedDrafts(ctx context.Context, olderThan time.Duration) (int, error)
}

// NewDraftCleanupHandler returns the handler processing TaskTypeDraftCleanup.
func NewDraftCleanupHandler(cleaner DraftCleaner, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload DraftCleanupPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		olderThan := time.Duration(payload.OlderThanHours) * time.Hour
		if olderThan <= 0 {
			olderThan = 24 * time.Hour
		}
		deleted, err := cleaner.CleanupAbandonedDrafts(ctx, olderThan)
		if err != nil {
			logger.Error("draft cleanup", slog.Any("error", err))
			return err
		}
		logger.Info("draft cleanup done", slog.Int("deleted", deleted))
		return nil
	}
}
