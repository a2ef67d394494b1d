package workflow

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"videoforge/internal/assets"
	"videoforge/internal/catalog"
	"videoforge/internal/config"
	"videoforge/internal/flow"
	"videoforge/internal/logging"
	"videoforge/internal/progress"
	"videoforge/internal/queue"
	"videoforge/internal/stage"
	"videoforge/internal/testsupport"
)

type stubHandler struct {
	name string
	mu   sync.Mutex
	runs []string
	fail bool
}

func (s *stubHandler) Stage() string { return s.name }

func (s *stubHandler) Execute(ctx context.Context, req *stage.Request) error {
	s.mu.Lock()
	s.runs = append(s.runs, req.Job.ID)
	s.mu.Unlock()
	if s.fail {
		return errors.New(s.name + " exploded")
	}
	req.Progress.Report(50, s.name+" halfway")
	return nil
}

func (s *stubHandler) HealthCheck(ctx context.Context) error { return nil }

func (s *stubHandler) runCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runs)
}

type fixture struct {
	manager  *Manager
	queue    *queue.Store
	catalog  *catalog.Store
	registry *assets.Registry
	hub      *progress.Hub
	cfg      *config.Config
	handlers map[string]*stubHandler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cfg.Workflow.MaxConcurrent = 2

	queueStore := testsupport.MustOpenQueue(t, cfg)
	catalogStore := testsupport.MustOpenCatalog(t, cfg)

	stubs := map[string]*stubHandler{}
	var handlers []stage.Handler
	for _, name := range flow.DefaultGraph().Stages() {
		s := &stubHandler{name: name}
		stubs[name] = s
		handlers = append(handlers, s)
	}

	registry := assets.NewRegistry()
	hub := progress.NewHub()
	m := NewManager(cfg, queueStore, catalogStore, registry, hub, handlers, logging.NewNop())
	return &fixture{
		manager: m, queue: queueStore, catalog: catalogStore,
		registry: registry, hub: hub, cfg: cfg, handlers: stubs,
	}
}

func (f *fixture) enqueueRun(t *testing.T) (int64, string) {
	t.Helper()
	ctx := context.Background()
	sub, err := f.catalog.CreateSubmission(ctx, catalog.Submission{
		UserID: "u", Title: "t", SourcePath: "v.mp4", GenerateBroll: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	jobs, rootID := flow.DefaultGraph().Jobs(sub.ID)
	if err := f.queue.EnqueueGraph(ctx, jobs); err != nil {
		t.Fatal(err)
	}
	repo, err := assets.Init(f.cfg.Paths.StagingDir, rootID)
	if err != nil {
		t.Fatal(err)
	}
	f.registry.Register(repo)
	return sub.ID, rootID
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestManagerDrainsRunToCompletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, rootID := f.enqueueRun(t)

	events, cancel := f.hub.Subscribe(rootID)
	defer cancel()

	f.manager.Start(ctx)
	defer f.manager.Stop()

	waitFor(t, 15*time.Second, func() bool {
		job, err := f.queue.GetByID(ctx, rootID)
		return err == nil && job != nil && job.Status == queue.StatusCompleted
	})

	for _, name := range flow.DefaultGraph().Stages() {
		if f.handlers[name].runCount() != 1 {
			t.Errorf("stage %s ran %d times", name, f.handlers[name].runCount())
		}
	}

	// The terminal stage's completion event reached subscribers.
	sawFinal := false
	for !sawFinal {
		select {
		case e := <-events:
			if e.Name == progress.EventCompleted && e.Stage == flow.StageFinalize {
				sawFinal = true
			}
		case <-time.After(2 * time.Second):
			t.Fatal("no finalize completion event")
		}
	}
}

func TestManagerFailureStopsDependents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.handlers[flow.StageBroll].fail = true
	_, rootID := f.enqueueRun(t)

	f.manager.Start(ctx)
	defer f.manager.Stop()

	waitFor(t, 15*time.Second, func() bool {
		job, err := f.queue.GetByID(ctx, rootID)
		return err == nil && job != nil && job.Status == queue.StatusFailed
	})

	if f.handlers[flow.StageCaptions].runCount() != 0 {
		t.Error("captions must not run after broll failed")
	}
	if f.handlers[flow.StageFinalize].runCount() != 0 {
		t.Error("finalize must not run after broll failed")
	}

	root, err := f.queue.GetByID(ctx, rootID)
	if err != nil {
		t.Fatal(err)
	}
	if root.ErrorMessage == "" {
		t.Error("root job should carry the failure reason")
	}
}

func TestManagerFailureDestroysStaging(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.handlers[flow.StageBroll].fail = true
	_, rootID := f.enqueueRun(t)

	f.manager.Start(ctx)
	defer f.manager.Stop()

	waitFor(t, 15*time.Second, func() bool {
		job, err := f.queue.GetByID(ctx, rootID)
		return err == nil && job != nil && job.Status == queue.StatusFailed
	})

	// The registry entry is released so stale cleanup can never be blocked
	// by a dead run, and the staging directory itself is gone.
	waitFor(t, 5*time.Second, func() bool {
		_, active := f.registry.Lookup(rootID)
		return !active
	})
	dir := filepath.Join(f.cfg.Paths.StagingDir, assets.DirName(rootID))
	waitFor(t, 5*time.Second, func() bool {
		_, err := os.Stat(dir)
		return os.IsNotExist(err)
	})
}

func TestManagerReopensRepositoryAfterRestart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, rootID := f.enqueueRun(t)

	// Simulate a restart: in-memory registry lost, staging dir intact.
	f.registry.Release(rootID)

	f.manager.Start(ctx)
	defer f.manager.Stop()

	waitFor(t, 15*time.Second, func() bool {
		job, err := f.queue.GetByID(ctx, rootID)
		return err == nil && job != nil && job.Status == queue.StatusCompleted
	})
}

func TestManagerProgressEventsReachHub(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, rootID := f.enqueueRun(t)

	events, cancel := f.hub.Subscribe(rootID)
	defer cancel()

	f.manager.Start(ctx)
	defer f.manager.Stop()

	sawProgress := false
	deadline := time.After(15 * time.Second)
	for !sawProgress {
		select {
		case e := <-events:
			if e.Name == progress.EventProgress && e.Percent == 50 {
				sawProgress = true
			}
		case <-deadline:
			t.Fatal("no progress event observed")
		}
	}
}

func TestRateLimiterWindow(t *testing.T) {
	r := newRateLimiter(2, time.Hour)
	if !r.canStart() {
		t.Fatal("fresh limiter should allow")
	}
	r.recordStart()
	r.recordStart()
	if r.canStart() {
		t.Fatal("limiter at capacity should refuse")
	}

	// Unlimited configurations always allow.
	unlimited := newRateLimiter(0, 0)
	for i := 0; i < 100; i++ {
		if !unlimited.canStart() {
			t.Fatal("unlimited limiter refused")
		}
	}
}
