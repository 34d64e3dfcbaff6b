package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/haasonsaas/vibekit/internal/runs"
	"github.com/haasonsaas/vibekit/internal/store"
	"github.com/haasonsaas/vibekit/pkg/models"
)

const msgInterrupted = "Run interrupted before completion."

// DefaultReconcileSchedule runs the stale-run sweep once a minute.
const DefaultReconcileSchedule = "@every 1m"

// cronParser accepts standard five-field specs, an optional seconds field
// and descriptors such as @every.
var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// Reconciler finalizes runs that were left in the running state by a
// process that stopped before writing their terminal status.
type Reconciler struct {
	projects ProjectStore
	registry *runs.Registry
	ttl      time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

// NewReconciler creates a reconciler. ttl is the age after which a running
// entry without a registry slot is considered abandoned by the periodic
// sweep.
func NewReconciler(projects ProjectStore, registry *runs.Registry, ttl time.Duration, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	if registry == nil {
		registry = runs.NewRegistry()
	}
	return &Reconciler{
		projects: projects,
		registry: registry,
		ttl:      ttl,
		logger:   logger.With("component", "reconciler"),
		now:      time.Now,
	}
}

// Sweep finalizes running projects that hold no registry slot and whose
// running entry is at least olderThan old. Zero finalizes all of them,
// which is what startup wants since nothing can be in flight yet.
func (r *Reconciler) Sweep(ctx context.Context, olderThan time.Duration) (int, error) {
	projects, err := r.projects.ListByStatus(ctx, models.AgentStatusRunning)
	if err != nil {
		return 0, fmt.Errorf("list running projects: %w", err)
	}

	var errs []error
	swept := 0
	for _, p := range projects {
		ok, err := r.finalize(ctx, p.ID, olderThan)
		if err != nil {
			errs = append(errs, fmt.Errorf("project %s: %w", p.ID, err))
			continue
		}
		if ok {
			swept++
			r.logger.Warn("finalized interrupted run", "project_id", p.ID)
		}
	}
	return swept, errors.Join(errs...)
}

// finalize marks one project's run as interrupted. It holds the run slot
// for the write and re-reads the project under it, so a run admitted after
// the listing is left alone.
func (r *Reconciler) finalize(ctx context.Context, projectID string, olderThan time.Duration) (bool, error) {
	permit, ok := r.registry.TryAcquire(projectID)
	if !ok {
		return false, nil
	}
	defer permit.Release()

	p, err := r.projects.Get(ctx, projectID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if p.AgentStatus != models.AgentStatusRunning {
		return false, nil
	}
	now := r.now()
	if olderThan > 0 && now.Sub(runningSince(p)) < olderThan {
		return false, nil
	}
	chat := interruptRunning(p.AgentChat, msgInterrupted, now)
	if err := r.projects.UpdateChatAndStatus(ctx, projectID, chat, models.AgentStatusError); err != nil {
		return false, err
	}
	return true, nil
}

// Start schedules the periodic sweep.
func (r *Reconciler) Start(ctx context.Context, schedule string) error {
	if schedule == "" {
		schedule = DefaultReconcileSchedule
	}
	sched, err := cronParser.Parse(schedule)
	if err != nil {
		return fmt.Errorf("invalid reconcile schedule %q: %w", schedule, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cron != nil {
		return errors.New("reconciler already started")
	}
	c := cron.New(cron.WithParser(cronParser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Schedule(sched, cron.FuncJob(func() {
		n, err := r.Sweep(ctx, r.ttl)
		if err != nil {
			r.logger.Error("stale run sweep failed", "error", err)
			return
		}
		if n > 0 {
			r.logger.Info("stale run sweep", "finalized", n)
		}
	}))
	c.Start()
	r.cron = c
	return nil
}

// Stop halts the schedule and waits for a sweep in progress.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
}

// runningSince is the timestamp of the newest running entry, or the
// project's update time when the chat has none.
func runningSince(p *models.Project) time.Time {
	for i := len(p.AgentChat) - 1; i >= 0; i-- {
		if e := p.AgentChat[i]; e.IsRunning() {
			return time.UnixMilli(e.Timestamp)
		}
	}
	return p.UpdatedAt
}

// interruptRunning returns a copy of chat with every running entry
// finalized as an error carrying message.
func interruptRunning(chat []models.ChatEntry, message string, now time.Time) []models.ChatEntry {
	out := models.CloneEntries(chat)
	for i := range out {
		e := &out[i]
		if !e.IsRunning() {
			continue
		}
		if e.Content == "" {
			e.Content = "Error: " + message
		}
		e.Status = models.RunStatusError
		e.Error = message
		e.Timestamp = models.NowMillis(now)
	}
	return out
}
