package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"videoforge/internal/assets"
	"videoforge/internal/catalog"
	"videoforge/internal/flow"
	"videoforge/internal/logging"
	"videoforge/internal/progress"
	"videoforge/internal/queue"
)

type apiFixture struct {
	server  *APIServer
	catalog *catalog.Store
	queue   *queue.Store
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	dir := t.TempDir()
	ctx := context.Background()

	catalogStore, err := catalog.OpenPath(ctx, filepath.Join(dir, "catalog.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { catalogStore.Close() })

	queueStore, err := queue.OpenPath(ctx, filepath.Join(dir, "queue.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { queueStore.Close() })

	staging := filepath.Join(dir, "staging")
	if err := os.MkdirAll(staging, 0o755); err != nil {
		t.Fatal(err)
	}

	producer := flow.NewProducer(catalogStore, queueStore, assets.NewRegistry(), staging, logging.NewNop())
	server := NewAPIServer("127.0.0.1:0", catalogStore, queueStore, producer, progress.NewHub(), nil, logging.NewNop())
	return &apiFixture{server: server, catalog: catalogStore, queue: queueStore}
}

func (f *apiFixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestCreateAndProcessSubmission(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/submissions",
		`{"userId":"u1","title":"demo","sourcePath":"/uploads/demo.mp4","generateBroll":true}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body)
	}
	var created map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	id := int64(created["id"].(float64))
	if id == 0 {
		t.Fatal("expected assigned submission id")
	}

	rec = f.do(t, http.MethodPost, "/api/submissions/1/process", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("process status = %d: %s", rec.Code, rec.Body)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["rootJobId"] == "" {
		t.Fatal("expected rootJobId")
	}

	// Duplicate run is rejected with 409.
	rec = f.do(t, http.MethodPost, "/api/submissions/1/process", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate process status = %d", rec.Code)
	}
}

func TestProcessOverridesSubmissionFlags(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()

	sub, err := f.catalog.CreateSubmission(ctx, catalog.Submission{
		UserID: "u", Title: "t", SourcePath: "v.mp4",
		GenerateCaptions: false, GenerateBroll: true,
	})
	if err != nil {
		t.Fatal(err)
	}

	rec := f.do(t, http.MethodPost, "/api/submissions/1/process",
		`{"generateCaptions":true,"generateBroll":false}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("process status = %d: %s", rec.Code, rec.Body)
	}

	updated, err := f.catalog.GetSubmission(ctx, sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !updated.GenerateCaptions || updated.GenerateBroll {
		t.Fatalf("flags = captions:%v broll:%v", updated.GenerateCaptions, updated.GenerateBroll)
	}
}

func TestProcessRejectsMalformedBody(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodPost, "/api/submissions/1/process", `{"generateCaptions":`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
}

func TestCreateSubmissionValidation(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodPost, "/api/submissions", `{"title":"no user"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestProcessUnknownSubmission(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodPost, "/api/submissions/99/process", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
}

func TestEventsUnknownRoot(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodGet, "/api/submissions/1/events?root=nope", "")
	body := rec.Body.String()
	if !strings.Contains(body, "event: error") {
		t.Fatalf("expected error event, got %q", body)
	}
	if !strings.Contains(body, "unknown run nope") {
		t.Fatalf("body = %q", body)
	}
}

func TestEventsInitialStateForFinishedRun(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()

	sub, err := f.catalog.CreateSubmission(ctx, catalog.Submission{
		UserID: "u", Title: "t", SourcePath: "v.mp4",
	})
	if err != nil {
		t.Fatal(err)
	}
	jobs, rootID := flow.DefaultGraph().Jobs(sub.ID)
	if err := f.queue.EnqueueGraph(ctx, jobs); err != nil {
		t.Fatal(err)
	}
	for _, job := range jobs {
		if err := f.queue.SetStatus(ctx, job.ID, queue.StatusCompleted); err != nil {
			t.Fatal(err)
		}
	}

	rec := f.do(t, http.MethodGet, "/api/submissions/1/events?root="+rootID, "")
	body := rec.Body.String()
	if !strings.Contains(body, "event: initial_state") {
		t.Fatalf("body = %q", body)
	}
	if !strings.Contains(body, `"done":true`) {
		t.Fatalf("finished run should be done in initial state: %q", body)
	}
}

func TestQueueEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()

	sub, err := f.catalog.CreateSubmission(ctx, catalog.Submission{
		UserID: "u", Title: "t", SourcePath: "v.mp4",
	})
	if err != nil {
		t.Fatal(err)
	}
	jobs, _ := flow.DefaultGraph().Jobs(sub.ID)
	if err := f.queue.EnqueueGraph(ctx, jobs); err != nil {
		t.Fatal(err)
	}

	rec := f.do(t, http.MethodGet, "/api/queue", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("queue list status = %d", rec.Code)
	}
	var list struct {
		Jobs []map[string]any `json:"jobs"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if len(list.Jobs) != 5 {
		t.Fatalf("got %d jobs", len(list.Jobs))
	}

	rec = f.do(t, http.MethodGet, "/api/queue/"+jobs[1].ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("queue get status = %d", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/api/queue/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing job status = %d", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/api/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status endpoint = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"healthy":true`) {
		t.Fatalf("status body = %q", rec.Body)
	}
}

func TestStateFromJobsMixedStatuses(t *testing.T) {
	jobs, rootID := flow.DefaultGraph().Jobs(1)
	stageJobs := jobs[1:]
	stageJobs[0].Status = queue.StatusCompleted
	stageJobs[1].Status = queue.StatusProcessing
	stageJobs[1].ProgressPercent = 40
	stageJobs[2].Status = queue.StatusWaiting
	stageJobs[3].Status = queue.StatusWaiting

	state := stateFromJobs(rootID, jobs)
	if len(state.Stages) != 4 {
		t.Fatalf("stages = %+v", state.Stages)
	}
	if state.Stages[0].Status != "completed" {
		t.Fatalf("stage 0 = %+v", state.Stages[0])
	}
	if state.Stages[1].Status != "processing" || state.Stages[1].Percent != 40 {
		t.Fatalf("stage 1 = %+v", state.Stages[1])
	}
	if state.Stages[2].Status != "waiting" {
		t.Fatalf("stage 2 = %+v", state.Stages[2])
	}
	if state.Done || state.Failed {
		t.Fatal("run in flight must not be done")
	}
}
