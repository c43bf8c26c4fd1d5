package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"affiliate-leaderboard/models"

	"github.com/gosimple/slug"
	"github.com/pkg/errors"
)

const EventSyncCompleted = "affiliate.sync.completed"

// EventPublisher matches events.SyncEventPublisher.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, payload []byte, partitionKey string) error
}

// EventHook announces every finished cycle on the event bus.
type EventHook struct {
	publisher EventPublisher
	now       func() time.Time
}

func NewEventHook(p EventPublisher) *EventHook {
	return &EventHook{publisher: p, now: time.Now}
}

func (h *EventHook) HookName() string { return "sync-events" }

func (h *EventHook) AfterCycle(ctx context.Context, report ReconciliationReport) error {
	payload, err := json.Marshal(struct {
		ReconciliationReport
		OccurredAt time.Time `json:"occurredAt"`
	}{report, h.now().UTC()})
	if err != nil {
		return errors.Wrap(err, "marshal sync event")
	}
	return h.publisher.Publish(ctx, EventSyncCompleted, payload, report.Source)
}

// SnapshotUploader matches utils.SnapshotArchive.
type SnapshotUploader interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// SnapshotHook archives the default leaderboard page of a source after each
// cycle, once under a timestamped key and once as latest.json.
type SnapshotHook struct {
	leaderboard *LeaderboardService
	uploader    SnapshotUploader
	now         func() time.Time
}

func NewSnapshotHook(lb *LeaderboardService, uploader SnapshotUploader) *SnapshotHook {
	return &SnapshotHook{leaderboard: lb, uploader: uploader, now: time.Now}
}

func (h *SnapshotHook) HookName() string { return "leaderboard-snapshot" }

type leaderboardSnapshot struct {
	Source      string                  `json:"source"`
	GeneratedAt time.Time               `json:"generatedAt"`
	Entries     []models.ReferralRecord `json:"entries"`
}

func (h *SnapshotHook) AfterCycle(ctx context.Context, report ReconciliationReport) error {
	records, err := h.leaderboard.Query(ctx, report.Source, LeaderboardFilter{}, h.leaderboard.DefaultLimit())
	if err != nil {
		return err
	}
	now := h.now().UTC()
	body, err := json.Marshal(leaderboardSnapshot{Source: report.Source, GeneratedAt: now, Entries: records})
	if err != nil {
		return errors.Wrap(err, "marshal leaderboard snapshot")
	}

	prefix := "leaderboards/" + slug.Make(report.Source)
	for _, key := range []string{
		fmt.Sprintf("%s/%s.json", prefix, now.Format("20060102T150405Z")),
		prefix + "/latest.json",
	} {
		if _, err := h.uploader.Upload(ctx, key, body, "application/json"); err != nil {
			return err
		}
	}
	return nil
}
