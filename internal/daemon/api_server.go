package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"videoforge/internal/catalog"
	"videoforge/internal/flow"
	"videoforge/internal/logging"
	"videoforge/internal/progress"
	"videoforge/internal/queue"
	"videoforge/internal/services"
)

// APIServer exposes the daemon's HTTP interface: submission intake, run
// control, progress streaming and queue inspection.
type APIServer struct {
	catalog  *catalog.Store
	queue    *queue.Store
	producer *flow.Producer
	hub      *progress.Hub
	health   func(context.Context) map[string]error
	logger   *slog.Logger
	server   *http.Server
}

func NewAPIServer(
	bind string,
	catalogStore *catalog.Store,
	queueStore *queue.Store,
	producer *flow.Producer,
	hub *progress.Hub,
	health func(context.Context) map[string]error,
	logger *slog.Logger,
) *APIServer {
	s := &APIServer{
		catalog:  catalogStore,
		queue:    queueStore,
		producer: producer,
		hub:      hub,
		health:   health,
		logger:   logging.NewComponentLogger(logger, "api"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/submissions", s.handleCreateSubmission)
	mux.HandleFunc("GET /api/submissions/{id}", s.handleGetSubmission)
	mux.HandleFunc("POST /api/submissions/{id}/process", s.handleProcess)
	mux.HandleFunc("GET /api/submissions/{id}/events", s.handleEvents)
	mux.HandleFunc("GET /api/queue", s.handleQueueList)
	mux.HandleFunc("GET /api/queue/{id}", s.handleQueueGet)
	mux.HandleFunc("GET /api/status", s.handleStatus)

	s.server = &http.Server{
		Addr:        bind,
		Handler:     mux,
		ReadTimeout: 30 * time.Second,
	}
	return s
}

// Start begins serving in a background goroutine.
func (s *APIServer) Start() {
	go func() {
		s.logger.Info("api listening", logging.String("bind", s.server.Addr))
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("api server stopped", logging.Error(err))
		}
	}()
}

// Stop shuts the server down gracefully.
func (s *APIServer) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler exposes the mux for tests.
func (s *APIServer) Handler() http.Handler { return s.server.Handler }

type submissionRequest struct {
	UserID           string `json:"userId"`
	Title            string `json:"title"`
	Description      string `json:"description"`
	SourcePath       string `json:"sourcePath"`
	GenerateCaptions bool   `json:"generateCaptions"`
	GenerateBroll    bool   `json:"generateBroll"`
}

func (s *APIServer) handleCreateSubmission(w http.ResponseWriter, r *http.Request) {
	var req submissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.UserID == "" || req.Title == "" || req.SourcePath == "" {
		writeError(w, http.StatusBadRequest, "userId, title and sourcePath are required")
		return
	}

	sub, err := s.catalog.CreateSubmission(r.Context(), catalog.Submission{
		UserID:           req.UserID,
		Title:            req.Title,
		Description:      req.Description,
		SourcePath:       req.SourcePath,
		GenerateCaptions: req.GenerateCaptions,
		GenerateBroll:    req.GenerateBroll,
	})
	if err != nil {
		s.logger.Error("create submission failed", logging.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create submission")
		return
	}
	writeJSON(w, http.StatusCreated, submissionView(sub))
}

func (s *APIServer) handleGetSubmission(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	sub, err := s.catalog.GetSubmission(r.Context(), id)
	if err != nil {
		if services.IsKind(err, services.KindNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load submission")
		return
	}
	records, err := s.catalog.AssetsBySubmission(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load assets")
		return
	}

	view := submissionView(sub)
	assetViews := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		assetViews = append(assetViews, map[string]any{
			"id":           rec.ID,
			"kind":         rec.Kind,
			"storageKey":   rec.StorageKey,
			"integrityTag": rec.IntegrityTag,
			"publicUrl":    rec.PublicURL,
			"createdAt":    rec.CreatedAt,
		})
	}
	view["assets"] = assetViews
	writeJSON(w, http.StatusOK, view)
}

// processRequest optionally overrides the submission's processing flags.
// An empty body keeps whatever was chosen at submission time.
type processRequest struct {
	GenerateCaptions *bool `json:"generateCaptions"`
	GenerateBroll    *bool `json:"generateBroll"`
}

func (s *APIServer) handleProcess(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req processRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.GenerateCaptions != nil || req.GenerateBroll != nil {
		if err := s.catalog.UpdateSubmissionFlags(r.Context(), id, req.GenerateCaptions, req.GenerateBroll); err != nil {
			if services.IsKind(err, services.KindNotFound) {
				writeError(w, http.StatusNotFound, err.Error())
				return
			}
			s.logger.Error("update submission flags failed", logging.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to update submission")
			return
		}
	}

	rootID, err := s.producer.StartProcessing(r.Context(), id)
	if err != nil {
		switch services.KindOf(err) {
		case services.KindNotFound:
			writeError(w, http.StatusNotFound, err.Error())
		case services.KindDuplicateJob:
			writeError(w, http.StatusConflict, err.Error())
		default:
			s.logger.Error("start processing failed", logging.Error(err))
			writeError(w, http.StatusInternalServerError, services.Details(err))
		}
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"rootJobId": rootID})
}

// handleEvents streams run progress as server-sent events. The connection
// sends a reduced initial_state first, then forwards live events until the
// run reaches a terminal state or the client disconnects.
func (s *APIServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	rootID := r.URL.Query().Get("root")
	if rootID == "" {
		writeError(w, http.StatusBadRequest, "root query parameter is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	root, err := s.queue.GetByID(r.Context(), rootID)
	if err != nil || root == nil || !root.IsRoot() {
		writeSSE(w, flusher, progress.Event{
			Name: progress.EventError, RootID: rootID,
			Reason: fmt.Sprintf("unknown run %s", rootID),
		})
		return
	}

	// Subscribe before reading records so no events fall in the gap.
	events, cancel := s.hub.Subscribe(rootID)
	defer cancel()

	jobs, err := s.queue.JobsByRoot(r.Context(), rootID)
	if err != nil {
		writeSSE(w, flusher, progress.Event{
			Name: progress.EventError, RootID: rootID, Reason: "failed to load run state",
		})
		return
	}
	state := stateFromJobs(rootID, jobs)
	writeSSE(w, flusher, progress.Event{
		Name: progress.EventInitialState, RootID: rootID, State: &state,
	})
	if state.Done {
		return
	}

	finalStage := flow.DefaultGraph().TerminalStage()
	for {
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			writeSSE(w, flusher, e)
			if progress.Terminal(e, finalStage) {
				return
			}
		}
	}
}

func (s *APIServer) handleQueueList(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	jobs, err := s.queue.List(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	views := make([]map[string]any, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, jobView(job))
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": views})
}

func (s *APIServer) handleQueueGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	job, err := s.queue.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	if job == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("job %s not found", id))
		return
	}
	writeJSON(w, http.StatusOK, jobView(job))
}

func (s *APIServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.queue.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read queue stats")
		return
	}

	healthy := true
	checks := map[string]string{}
	if s.health != nil {
		for name, err := range s.health(r.Context()) {
			if err != nil {
				healthy = false
				checks[name] = err.Error()
			} else {
				checks[name] = "ok"
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"healthy": healthy,
		"queue":   stats,
		"checks":  checks,
	})
}

// stateFromJobs rebuilds the reduced run state from persisted job records,
// replaying them through the same reducer the live stream uses.
func stateFromJobs(rootID string, jobs []*queue.Job) progress.State {
	state := progress.State{RootID: rootID}
	for _, job := range jobs {
		if job.IsRoot() {
			continue
		}
		base := progress.Event{JobID: job.ID, RootID: rootID, Stage: job.Stage}
		switch job.Status {
		case queue.StatusProcessing:
			e := base
			e.Name = progress.EventProgress
			e.Percent = job.ProgressPercent
			e.Message = job.ProgressMessage
			state = progress.Reduce(state, e)
		case queue.StatusCompleted:
			e := base
			e.Name = progress.EventCompleted
			state = progress.Reduce(state, e)
		case queue.StatusFailed:
			e := base
			e.Name = progress.EventFailed
			e.Reason = job.ErrorMessage
			state = progress.Reduce(state, e)
		default:
			e := base
			e.Name = progress.EventActive
			state = progress.Reduce(state, e)
			state.Stages[len(state.Stages)-1].Status = string(job.Status)
		}
	}

	// A fully completed run is done even though no single stage event says so.
	if !state.Failed {
		done := len(state.Stages) > 0
		for _, st := range state.Stages {
			if st.Status != "completed" {
				done = false
				break
			}
		}
		state.Done = done
	}
	return state
}

func submissionView(sub *catalog.Submission) map[string]any {
	return map[string]any{
		"id":               sub.ID,
		"userId":           sub.UserID,
		"title":            sub.Title,
		"description":      sub.Description,
		"sourcePath":       sub.SourcePath,
		"generateCaptions": sub.GenerateCaptions,
		"generateBroll":    sub.GenerateBroll,
		"createdAt":        sub.CreatedAt,
	}
}

func jobView(job *queue.Job) map[string]any {
	return map[string]any{
		"id":              job.ID,
		"rootJobId":       job.RootID,
		"submissionId":    job.SubmissionID,
		"stage":           job.Stage,
		"status":          string(job.Status),
		"progressPercent": job.ProgressPercent,
		"progressMessage": job.ProgressMessage,
		"errorMessage":    job.ErrorMessage,
		"createdAt":       job.CreatedAt,
		"updatedAt":       job.UpdatedAt,
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid submission id")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, e progress.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Name, data)
	flusher.Flush()
}
