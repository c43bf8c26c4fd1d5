// services/scheduler.go
package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"affiliate-leaderboard/models"
	"affiliate-leaderboard/workers"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

type SyncState string

const (
	SyncIdle    SyncState = "idle"
	SyncRunning SyncState = "running"
	SyncFailed  SyncState = "failed"
)

// CycleHook runs after every successful cycle. Errors are logged only.
type CycleHook interface {
	HookName() string
	AfterCycle(ctx context.Context, report ReconciliationReport) error
}

// FailureHook is implemented by hooks that also run after a failed cycle.
// A failed cycle may still have written some records before it stopped.
type FailureHook interface {
	AfterFailedCycle(ctx context.Context, report ReconciliationReport, cycleErr error) error
}

// RunRecorder persists the outcome of each cycle.
type RunRecorder interface {
	RecordRun(ctx context.Context, run *models.SyncRun) error
}

type SchedulerConfig struct {
	Interval time.Duration
	Cron     string
	Lookback time.Duration
}

// SyncStatus is the externally visible view of one source's job.
type SyncStatus struct {
	Source        string                `json:"source"`
	State         SyncState             `json:"state"`
	LastRunAt     *time.Time            `json:"lastRunAt,omitempty"`
	LastSuccessAt *time.Time            `json:"lastSuccessAt,omitempty"`
	LastError     string                `json:"lastError,omitempty"`
	LastReport    *ReconciliationReport `json:"lastReport,omitempty"`
	NextRunAt     *time.Time            `json:"nextRunAt,omitempty"`
}

// syncJob owns the state machine of one source. Only begin and finish move
// it, both under mu.
type syncJob struct {
	client workers.FeedClient

	mu            sync.Mutex
	state         SyncState
	runs          int
	lastRunAt     time.Time
	lastSuccessAt time.Time
	lastError     string
	lastReport    *ReconciliationReport
	cronJob       gocron.Job
}

func (j *syncJob) begin(now time.Time) (first bool, ok bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state == SyncRunning {
		return false, false
	}
	j.state = SyncRunning
	j.runs++
	j.lastRunAt = now
	return j.runs == 1, true
}

func (j *syncJob) finish(now time.Time, report *ReconciliationReport, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.lastReport = report
	if err != nil {
		j.state = SyncFailed
		j.lastError = err.Error()
		return
	}
	j.state = SyncIdle
	j.lastError = ""
	j.lastSuccessAt = now
}

// SyncScheduler drives one reconciliation job per partner source, on a timer
// and on demand, never running two cycles of the same source at once.
type SyncScheduler struct {
	cfg        SchedulerConfig
	reconciler *Reconciler
	runs       RunRecorder
	hooks      []CycleHook
	jobs       map[string]*syncJob
	sched      gocron.Scheduler
	now        func() time.Time
}

func NewSyncScheduler(cfg SchedulerConfig, reconciler *Reconciler, runs RunRecorder, clients ...workers.FeedClient) *SyncScheduler {
	jobs := make(map[string]*syncJob, len(clients))
	for _, c := range clients {
		jobs[c.Source()] = &syncJob{client: c, state: SyncIdle}
	}
	return &SyncScheduler{
		cfg:        cfg,
		reconciler: reconciler,
		runs:       runs,
		jobs:       jobs,
		now:        time.Now,
	}
}

// AddHook registers a post-cycle hook. Call before Start.
func (s *SyncScheduler) AddHook(h CycleHook) {
	s.hooks = append(s.hooks, h)
}

func (s *SyncScheduler) Sources() []string {
	out := make([]string, 0, len(s.jobs))
	for src := range s.jobs {
		out = append(out, src)
	}
	sort.Strings(out)
	return out
}

func (s *SyncScheduler) definition() gocron.JobDefinition {
	if s.cfg.Cron != "" {
		return gocron.CronJob(s.cfg.Cron, false)
	}
	return gocron.DurationJob(s.cfg.Interval)
}

// Start registers every source with gocron and runs each once immediately.
func (s *SyncScheduler) Start() error {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return errors.Wrap(err, "create scheduler")
	}

	for _, source := range s.Sources() {
		job, err := sched.NewJob(
			s.definition(),
			gocron.NewTask(s.runScheduled, source),
			gocron.WithName("sync:"+source),
			gocron.WithTags(source),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
			gocron.WithStartAt(gocron.WithStartImmediately()),
		)
		if err != nil {
			_ = sched.Shutdown()
			return errors.Wrapf(err, "schedule %s sync", source)
		}
		j := s.jobs[source]
		j.mu.Lock()
		j.cronJob = job
		j.mu.Unlock()
		log.WithField("source", source).Infof("[SCHEDULER] 🔁 %s sync scheduled (interval=%s cron=%q)", source, s.cfg.Interval, s.cfg.Cron)
	}

	sched.Start()
	s.sched = sched
	return nil
}

func (s *SyncScheduler) Shutdown() error {
	if s.sched == nil {
		return nil
	}
	log.Info("[SCHEDULER] ⏹️ stopping sync jobs")
	return s.sched.Shutdown()
}

func (s *SyncScheduler) runScheduled(source string) {
	// Errors are already logged and recorded inside Trigger.
	_, _ = s.trigger(context.Background(), source, "")
}

// Trigger runs one cycle for source synchronously, on behalf of a manual
// refresh. It returns ErrSyncInProgress without side effects if a cycle of
// that source is already running.
func (s *SyncScheduler) Trigger(ctx context.Context, source string) (ReconciliationReport, error) {
	return s.trigger(ctx, source, models.SyncTriggerManual)
}

func (s *SyncScheduler) trigger(ctx context.Context, source, trigger string) (ReconciliationReport, error) {
	job, ok := s.jobs[source]
	if !ok {
		return ReconciliationReport{}, &ValidationError{Field: "source", Message: "no sync job for " + source}
	}

	started := s.now()
	first, ok := job.begin(started)
	if !ok {
		log.WithFields(log.Fields{"source": source, "trigger": trigger}).
			Warn("[SCHEDULER] ⏭️ cycle already running, dropping trigger")
		return ReconciliationReport{}, ErrSyncInProgress
	}
	if trigger == "" {
		trigger = models.SyncTriggerSchedule
		if first {
			trigger = models.SyncTriggerStartup
		}
	}

	// A cycle is never cancelled halfway; only the feed call has a deadline.
	ctx = context.WithoutCancel(ctx)
	runID := uuid.NewString()
	logger := log.WithFields(log.Fields{"source": source, "run_id": runID, "trigger": trigger})
	logger.Info("[SYNC] 📡 cycle started")

	report, err := s.cycle(ctx, job)
	finished := s.now()
	job.finish(finished, &report, err)

	run := &models.SyncRun{
		ID:         runID,
		Source:     source,
		Trigger:    trigger,
		Status:     models.SyncRunSucceeded,
		Fetched:    report.Fetched,
		Created:    report.Created,
		Updated:    report.Updated,
		Skipped:    report.Skipped,
		StartedAt:  started,
		FinishedAt: finished,
	}
	if err != nil {
		run.Status = models.SyncRunFailed
		run.Error = err.Error()
		logger.WithError(err).Error("[SYNC] ❌ cycle failed")
	} else {
		logger.WithFields(log.Fields{
			"fetched": report.Fetched,
			"created": report.Created,
			"updated": report.Updated,
			"skipped": report.Skipped,
			"took":    finished.Sub(started).String(),
		}).Info("[SYNC] ✅ cycle finished")
	}
	if s.runs != nil {
		if rerr := s.runs.RecordRun(ctx, run); rerr != nil {
			logger.WithError(rerr).Warn("[SYNC] ⚠️ failed to record sync run")
		}
	}
	s.runHooks(ctx, report, err, logger)
	return report, err
}

func (s *SyncScheduler) cycle(ctx context.Context, job *syncJob) (ReconciliationReport, error) {
	source := job.client.Source()
	items, err := job.client.FetchFeed(ctx, s.window())
	if err != nil {
		return ReconciliationReport{Source: source}, err
	}
	report, err := s.reconciler.Reconcile(ctx, source, items)
	if err != nil {
		return report, err
	}
	for _, rerr := range report.Errors {
		log.WithField("source", source).Warnf("[SYNC] ⚠️ skipped %s", rerr.Error())
	}
	return report, nil
}

func (s *SyncScheduler) window() *workers.Window {
	if s.cfg.Lookback <= 0 {
		return nil
	}
	now := s.now()
	return &workers.Window{From: now.Add(-s.cfg.Lookback).UnixMilli(), To: now.UnixMilli()}
}

// runHooks runs every hook after a success, and only FailureHooks after a
// failure.
func (s *SyncScheduler) runHooks(ctx context.Context, report ReconciliationReport, cycleErr error, logger *log.Entry) {
	for _, h := range s.hooks {
		var run func(context.Context) error
		if cycleErr == nil {
			run = func(hctx context.Context) error { return h.AfterCycle(hctx, report) }
		} else if fh, ok := h.(FailureHook); ok {
			run = func(hctx context.Context) error { return fh.AfterFailedCycle(hctx, report, cycleErr) }
		} else {
			continue
		}
		hctx, cancel := context.WithTimeout(ctx, 15*time.Second)
		if err := run(hctx); err != nil {
			logger.WithError(err).WithField("hook", h.HookName()).Warn("[SYNC] ⚠️ post-cycle hook failed")
		}
		cancel()
	}
}

// Status reports the state of source's job.
func (s *SyncScheduler) Status(source string) (SyncStatus, error) {
	job, ok := s.jobs[source]
	if !ok {
		return SyncStatus{}, &ValidationError{Field: "source", Message: "no sync job for " + source}
	}
	job.mu.Lock()
	defer job.mu.Unlock()

	st := SyncStatus{Source: source, State: job.state, LastError: job.lastError, LastReport: job.lastReport}
	if !job.lastRunAt.IsZero() {
		t := job.lastRunAt
		st.LastRunAt = &t
	}
	if !job.lastSuccessAt.IsZero() {
		t := job.lastSuccessAt
		st.LastSuccessAt = &t
	}
	if job.cronJob != nil {
		if next, err := job.cronJob.NextRun(); err == nil && !next.IsZero() {
			st.NextRunAt = &next
		}
	}
	return st, nil
}
