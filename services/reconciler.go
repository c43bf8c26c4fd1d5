package services

import (
	"context"
	"strings"

	"affiliate-leaderboard/models"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// RecordStore is the write side the reconciler needs.
type RecordStore interface {
	Upsert(ctx context.Context, rec *models.ReferralRecord) (bool, error)
}

// ReconciliationReport summarizes one pass over a feed page.
type ReconciliationReport struct {
	Source  string                `json:"source"`
	Fetched int                   `json:"fetched"`
	Created int                   `json:"created"`
	Updated int                   `json:"updated"`
	Skipped int                   `json:"skipped"`
	Merged  int                   `json:"merged"`
	Errors  []ReconciliationError `json:"errors,omitempty"`
}

// Reconciler maps feed items onto referral records. Metrics are running
// totals reported by the partner, so each upsert overwrites and never sums.
type Reconciler struct {
	store       RecordStore
	concurrency int
}

func NewReconciler(store RecordStore, concurrency int) *Reconciler {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Reconciler{store: store, concurrency: concurrency}
}

type pendingItem struct {
	index int
	item  models.FeedItem
}

type upsertResult struct {
	created bool
	err     error
}

// Reconcile upserts every well-formed item of a page. Per-item failures are
// reported, not returned; the error is non-nil only when the store rejected
// every write, which means the store itself is unavailable.
func (r *Reconciler) Reconcile(ctx context.Context, source string, items []models.FeedItem) (ReconciliationReport, error) {
	report := ReconciliationReport{Source: source, Fetched: len(items)}

	pending, order := r.collapse(items, &report)

	results := make([]upsertResult, len(order))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, userID := range order {
		i, p := i, pending[userID]
		g.Go(func() error {
			rec := toRecord(source, p.item)
			created, err := r.store.Upsert(gctx, &rec)
			results[i] = upsertResult{created: created, err: err}
			return nil
		})
	}
	_ = g.Wait()

	var storeFailures int
	var lastErr error
	for i, res := range results {
		p := pending[order[i]]
		if res.err != nil {
			storeFailures++
			lastErr = res.err
			report.Skipped++
			report.Errors = append(report.Errors, ReconciliationError{Index: p.index, UserID: p.item.UserID, Reason: res.err.Error()})
			continue
		}
		if res.created {
			report.Created++
		} else {
			report.Updated++
		}
	}

	if len(order) > 0 && storeFailures == len(order) {
		return report, errors.Wrapf(lastErr, "all %d upserts failed", storeFailures)
	}
	return report, nil
}

// collapse drops malformed items and folds repeated identities within one
// page into a single write, so parallel upserts never share a key. Folding
// applies the same policy as sequential upserts: later values win, except a
// missing acquisition time keeps the earlier one.
func (r *Reconciler) collapse(items []models.FeedItem, report *ReconciliationReport) (map[string]pendingItem, []string) {
	pending := make(map[string]pendingItem, len(items))
	order := make([]string, 0, len(items))

	for i, item := range items {
		if item.Malformed != "" {
			report.Skipped++
			report.Errors = append(report.Errors, ReconciliationError{Index: i, Reason: item.Malformed})
			continue
		}
		item.UserID = strings.TrimSpace(item.UserID)
		if item.UserID == "" {
			report.Skipped++
			report.Errors = append(report.Errors, ReconciliationError{Index: i, Reason: "missing user identity"})
			continue
		}

		prev, seen := pending[item.UserID]
		if !seen {
			pending[item.UserID] = pendingItem{index: i, item: item}
			order = append(order, item.UserID)
			continue
		}
		if item.ReferredAt == nil {
			item.ReferredAt = prev.item.ReferredAt
		}
		pending[item.UserID] = pendingItem{index: i, item: item}
		report.Merged++
		log.WithFields(log.Fields{"source": report.Source, "user_id": item.UserID}).
			Debug("[SYNC] duplicate identity in feed page, keeping latest")
	}
	return pending, order
}

func toRecord(source string, item models.FeedItem) models.ReferralRecord {
	return models.ReferralRecord{
		Source:           source,
		UserID:           item.UserID,
		DisplayName:      item.DisplayName,
		XP:               item.XP,
		WagerAmount:      item.WagerAmount,
		DepositAmount:    item.DepositAmount,
		CommissionAmount: item.CommissionAmount,
		ReferredAt:       item.ReferredAt,
	}
}
