package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/haasonsaas/vibekit/internal/projects"
	"github.com/haasonsaas/vibekit/internal/runs"
	"github.com/haasonsaas/vibekit/internal/store"
	"github.com/haasonsaas/vibekit/pkg/models"
)

func seedRunning(t *testing.T, repo *projects.Repository, id string, startedAt time.Time) {
	t.Helper()
	ctx := context.Background()
	if _, err := repo.Create(ctx, projects.CreateInput{ID: id, Name: id}); err != nil {
		t.Fatal(err)
	}
	chat := []models.ChatEntry{
		{Role: models.RoleUser, Content: "build it", Timestamp: models.NowMillis(startedAt)},
		{Role: models.RoleAssistant, Status: models.RunStatusRunning, StreamItems: []models.StreamItem{}, Timestamp: models.NowMillis(startedAt)},
	}
	if err := repo.UpdateChatAndStatus(ctx, id, chat, models.AgentStatusRunning); err != nil {
		t.Fatal(err)
	}
}

func TestReconcilerStartupSweep(t *testing.T) {
	repo := projects.NewRepository(store.NewMemoryStore())
	registry := runs.NewRegistry()
	now := time.Now()
	seedRunning(t, repo, "stale", now)
	seedRunning(t, repo, "live", now)
	if _, err := repo.Create(context.Background(), projects.CreateInput{ID: "idle", Name: "idle"}); err != nil {
		t.Fatal(err)
	}
	permit, _ := registry.TryAcquire("live")
	defer permit.Release()

	r := NewReconciler(repo, registry, time.Minute, nil)
	n, err := r.Sweep(context.Background(), 0)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("swept = %d, want 1", n)
	}

	stale, _ := repo.Get(context.Background(), "stale")
	if stale.AgentStatus != models.AgentStatusError {
		t.Fatalf("stale status = %q", stale.AgentStatus)
	}
	tail := stale.AgentChat[len(stale.AgentChat)-1]
	if tail.Status != models.RunStatusError || tail.Error != msgInterrupted || tail.Content != "Error: "+msgInterrupted {
		t.Fatalf("tail = %+v", tail)
	}

	live, _ := repo.Get(context.Background(), "live")
	if live.AgentStatus != models.AgentStatusRunning || !live.AgentChat[1].IsRunning() {
		t.Fatalf("live project was touched: %+v", live)
	}
}

func TestReconcilerRespectsTTL(t *testing.T) {
	repo := projects.NewRepository(store.NewMemoryStore())
	now := time.Now()
	seedRunning(t, repo, "old", now.Add(-time.Hour))
	seedRunning(t, repo, "fresh", now.Add(-time.Second))

	r := NewReconciler(repo, runs.NewRegistry(), 15*time.Minute, nil)
	n, err := r.Sweep(context.Background(), 15*time.Minute)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("swept = %d, want 1", n)
	}
	fresh, _ := repo.Get(context.Background(), "fresh")
	if fresh.AgentStatus != models.AgentStatusRunning {
		t.Fatalf("fresh run was finalized")
	}
}

func TestReconcilerSchedule(t *testing.T) {
	repo := projects.NewRepository(store.NewMemoryStore())
	seedRunning(t, repo, "old", time.Now().Add(-time.Hour))

	r := NewReconciler(repo, runs.NewRegistry(), time.Minute, nil)
	if err := r.Start(context.Background(), "not a schedule"); err == nil {
		t.Fatalf("expected schedule parse error")
	}
	if err := r.Start(context.Background(), "@every 1s"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer r.Stop()
	if err := r.Start(context.Background(), "@every 1s"); err == nil {
		t.Fatalf("expected error on second Start")
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		p, err := repo.Get(context.Background(), "old")
		if err != nil {
			t.Fatal(err)
		}
		if p.AgentStatus == models.AgentStatusError {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("scheduled sweep never ran")
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// listThenAct runs afterList once the sweep has taken its listing, standing
// in for a request that lands between the listing and the write.
type listThenAct struct {
	*projects.Repository
	afterList func()
}

func (l *listThenAct) ListByStatus(ctx context.Context, status models.AgentStatus) ([]*models.Project, error) {
	list, err := l.Repository.ListByStatus(ctx, status)
	if l.afterList != nil {
		l.afterList()
	}
	return list, err
}

func TestReconcilerLeavesRunAdmittedAfterListing(t *testing.T) {
	ctx := context.Background()
	repo := projects.NewRepository(store.NewMemoryStore())
	registry := runs.NewRegistry()
	seedRunning(t, repo, "p1", time.Now().Add(-time.Hour))

	var permit *runs.Permit
	wrapped := &listThenAct{Repository: repo, afterList: func() {
		permit, _ = registry.TryAcquire("p1")
		p, _ := repo.Get(ctx, "p1")
		chat := append(p.AgentChat,
			models.ChatEntry{Role: models.RoleUser, Content: "again"},
			models.ChatEntry{Role: models.RoleAssistant, Status: models.RunStatusRunning},
		)
		if err := repo.UpdateChatAndStatus(ctx, "p1", chat, models.AgentStatusRunning); err != nil {
			t.Error(err)
		}
	}}
	defer func() { permit.Release() }()

	n, err := NewReconciler(wrapped, registry, time.Minute, nil).Sweep(ctx, 0)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if n != 0 {
		t.Fatalf("swept = %d, want 0", n)
	}
	p, _ := repo.Get(ctx, "p1")
	if p.AgentStatus != models.AgentStatusRunning || len(p.AgentChat) != 4 || !p.AgentChat[3].IsRunning() {
		t.Fatalf("in-flight run was overwritten: status=%q chat=%+v", p.AgentStatus, p.AgentChat)
	}
}

func TestReconcilerRereadsProjectUnderSlot(t *testing.T) {
	ctx := context.Background()
	repo := projects.NewRepository(store.NewMemoryStore())
	seedRunning(t, repo, "p1", time.Now().Add(-time.Hour))

	// A run that started and finished between the listing and the sweep.
	wrapped := &listThenAct{Repository: repo, afterList: func() {
		p, _ := repo.Get(ctx, "p1")
		chat := models.CloneEntries(p.AgentChat)
		chat[1].Status = models.RunStatusComplete
		chat[1].Content = "done"
		if err := repo.UpdateChatAndStatus(ctx, "p1", chat, models.AgentStatusIdle); err != nil {
			t.Error(err)
		}
	}}

	n, err := NewReconciler(wrapped, runs.NewRegistry(), time.Minute, nil).Sweep(ctx, 0)
	if err != nil || n != 0 {
		t.Fatalf("Sweep() = %d, %v", n, err)
	}
	p, _ := repo.Get(ctx, "p1")
	if p.AgentStatus != models.AgentStatusIdle || p.AgentChat[1].Content != "done" {
		t.Fatalf("finished run was rewritten: %+v", p)
	}
}
