package queue

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenPath(context.Background(), filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// chainJobs builds a root job plus a linear chain of stage jobs.
func chainJobs(submissionID int64, stages ...string) []*Job {
	rootID := uuid.NewString()
	jobs := []*Job{{
		ID:           rootID,
		RootID:       rootID,
		SubmissionID: submissionID,
		Stage:        "process_video",
		Status:       StatusProcessing,
	}}
	var prev string
	for _, stage := range stages {
		job := &Job{
			ID:           uuid.NewString(),
			RootID:       rootID,
			SubmissionID: submissionID,
			Stage:        stage,
		}
		if prev != "" {
			job.DependsOn = []string{prev}
		}
		jobs = append(jobs, job)
		prev = job.ID
	}
	return jobs
}

func TestEnqueueGraphAndClaimOrder(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	jobs := chainJobs(1, "setup", "generate_broll", "finalize")
	if err := store.EnqueueGraph(ctx, jobs); err != nil {
		t.Fatalf("EnqueueGraph: %v", err)
	}

	first, err := store.NextRunnable(ctx)
	if err != nil {
		t.Fatalf("NextRunnable: %v", err)
	}
	if first.Stage != "setup" {
		t.Fatalf("first claimed stage = %q, want setup", first.Stage)
	}
	if first.Status != StatusProcessing {
		t.Fatalf("claimed job status = %q", first.Status)
	}

	// Chain successor is blocked until setup completes.
	if _, err := store.NextRunnable(ctx); !errors.Is(err, ErrNoJob) {
		t.Fatalf("expected ErrNoJob while dependency incomplete, got %v", err)
	}

	if err := store.SetStatus(ctx, first.ID, StatusCompleted); err != nil {
		t.Fatal(err)
	}
	second, err := store.NextRunnable(ctx)
	if err != nil {
		t.Fatalf("NextRunnable after completion: %v", err)
	}
	if second.Stage != "generate_broll" {
		t.Fatalf("second claimed stage = %q, want generate_broll", second.Stage)
	}
}

func TestRootJobNeverClaimed(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	rootID := uuid.NewString()
	err := store.EnqueueGraph(ctx, []*Job{{
		ID: rootID, RootID: rootID, SubmissionID: 1, Stage: "process_video",
	}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.NextRunnable(ctx); !errors.Is(err, ErrNoJob) {
		t.Fatalf("root job must not be claimable, got %v", err)
	}
}

func TestActiveRootForSubmission(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	jobs := chainJobs(7, "setup")
	if err := store.EnqueueGraph(ctx, jobs); err != nil {
		t.Fatal(err)
	}

	rootID, err := store.ActiveRootForSubmission(ctx, 7)
	if err != nil {
		t.Fatalf("ActiveRootForSubmission: %v", err)
	}
	if rootID != jobs[0].RootID {
		t.Fatalf("rootID = %q, want %q", rootID, jobs[0].RootID)
	}

	if err := store.SetStatus(ctx, jobs[0].ID, StatusCompleted); err != nil {
		t.Fatal(err)
	}
	rootID, err = store.ActiveRootForSubmission(ctx, 7)
	if err != nil {
		t.Fatal(err)
	}
	if rootID != "" {
		t.Fatalf("completed run should not count as active, got %q", rootID)
	}
}

func TestSetFailedRecordsMessage(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	jobs := chainJobs(2, "setup")
	if err := store.EnqueueGraph(ctx, jobs); err != nil {
		t.Fatal(err)
	}
	stageJob := jobs[1]
	if err := store.SetFailed(ctx, stageJob.ID, "ffprobe reported no duration"); err != nil {
		t.Fatalf("SetFailed: %v", err)
	}

	got, err := store.GetByID(ctx, stageJob.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusFailed || got.ErrorMessage != "ffprobe reported no duration" {
		t.Fatalf("unexpected job after SetFailed: %+v", got)
	}
	if got.LastHeartbeat != nil {
		t.Fatal("heartbeat should be cleared on failure")
	}
}

func TestReclaimStale(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	jobs := chainJobs(3, "setup")
	if err := store.EnqueueGraph(ctx, jobs); err != nil {
		t.Fatal(err)
	}
	claimed, err := store.NextRunnable(ctx)
	if err != nil {
		t.Fatal(err)
	}

	// Fresh heartbeat: nothing to reclaim.
	reclaimed, err := store.ReclaimStale(ctx, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if len(reclaimed) != 0 {
		t.Fatalf("reclaimed %d fresh jobs", len(reclaimed))
	}

	// Zero timeout makes every heartbeat stale.
	time.Sleep(10 * time.Millisecond)
	reclaimed, err = store.ReclaimStale(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(reclaimed) != 1 || reclaimed[0].ID != claimed.ID {
		t.Fatalf("unexpected reclaim result: %+v", reclaimed)
	}

	got, err := store.GetByID(ctx, claimed.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusAdded {
		t.Fatalf("reclaimed job status = %q, want added", got.Status)
	}
}

func TestStats(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	jobs := chainJobs(4, "setup", "finalize")
	if err := store.EnqueueGraph(ctx, jobs); err != nil {
		t.Fatal(err)
	}
	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Total != 3 || stats.Added != 1 || stats.Waiting != 1 || stats.Processing != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestHeartbeatOnlyTouchesProcessing(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	jobs := chainJobs(5, "setup")
	if err := store.EnqueueGraph(ctx, jobs); err != nil {
		t.Fatal(err)
	}
	stageJob := jobs[1]

	if err := store.UpdateHeartbeat(ctx, stageJob.ID); err != nil {
		t.Fatal(err)
	}
	got, err := store.GetByID(ctx, stageJob.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.LastHeartbeat != nil {
		t.Fatal("heartbeat must not be set on a job that is not processing")
	}
}
