package services

import (
	"context"

	"qbanksync/logger"
)

// RegisterSyncObservers hooks the sync service onto question lifecycle
// events. Creation and update reconcile only while listenevents is on;
// deletion always cleans up. Questions imported as variant copies do not
// trigger a nested pass.
func RegisterSyncObservers(events *EventDispatcher, sync *SyncService, settings *SettingsService, log *logger.Logger) {
	log = log.With("component", "SyncObservers")

	reconcile := func(ctx context.Context, event QuestionEvent) error {
		if inMaterializing(ctx) {
			return nil
		}
		enabled, err := settings.ListenEvents(ctx)
		if err != nil {
			return err
		}
		if !enabled {
			return nil
		}
		log.Debug("Reconciling after question event", "event", event.Name, "question_id", event.QuestionID)
		_, err = sync.ReconcileMissing(ctx, event.ActorID)
		return err
	}

	events.Subscribe(EventQuestionCreated, reconcile)
	events.Subscribe(EventQuestionUpdated, reconcile)
	events.Subscribe(EventQuestionDeleted, func(ctx context.Context, event QuestionEvent) error {
		_, err := sync.PurgeDangling(ctx)
		return err
	})
}
