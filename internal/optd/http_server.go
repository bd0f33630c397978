package optd

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/regenheat/optimization-engine/pkg/config"
	"github.com/regenheat/optimization-engine/pkg/logger"
	"github.com/regenheat/optimization-engine/pkg/models"
)

// HTTPServer exposes the job engine API: scenario registration, job
// submission and inspection, the convergence ledger, live event streams
// (NDJSON and WebSocket) and final results.
type HTTPServer struct {
	mux       *http.ServeMux
	store     Store
	scenarios *ScenarioStore
	scheduler *Scheduler
	bus       *Broadcaster
	upgrader  websocket.Upgrader
}

func NewHTTPServer(store Store, scenarios *ScenarioStore, scheduler *Scheduler, bus *Broadcaster) *HTTPServer {
	s := &HTTPServer{
		mux:       http.NewServeMux(),
		store:     store,
		scenarios: scenarios,
		scheduler: scheduler,
		bus:       bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The daemon sits behind the deployment's ingress; origin policy
			// is enforced there.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	s.mux.HandleFunc("/healthz", s.handleHealthz)
	s.mux.HandleFunc("/v1/scenarios", s.handleScenarios)
	s.mux.HandleFunc("/v1/scenarios/", s.handleScenarioByID)
	s.mux.HandleFunc("/v1/jobs", s.handleJobs)
	s.mux.HandleFunc("/v1/jobs/", s.handleJobByID)

	return s
}

func (s *HTTPServer) Handler() http.Handler {
	return s.mux
}

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"queue":     s.scheduler.QueueDepth(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleScenarios handles /v1/scenarios
func (s *HTTPServer) handleScenarios(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleRegisterScenario(w, r)
	case http.MethodGet:
		s.handleListScenarios(w, r)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleScenarioByID handles /v1/scenarios/{id}
func (s *HTTPServer) handleScenarioByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/scenarios/")
	if id == "" {
		s.writeError(w, http.StatusBadRequest, "scenario ID is required")
		return
	}
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	scenario, err := s.scenarios.Get(id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"scenario": scenario})
}

// handleRegisterScenario handles POST /v1/scenarios
func (s *HTTPServer) handleRegisterScenario(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScenarioYAML string           `json:"scenario_yaml,omitempty"`
		Scenario     *models.Scenario `json:"scenario,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	var scenario *models.Scenario
	switch {
	case req.ScenarioYAML != "":
		parsed, err := config.ParseScenarioYAML([]byte(req.ScenarioYAML))
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		scenario = parsed
	case req.Scenario != nil:
		scenario = req.Scenario
	default:
		s.writeError(w, http.StatusBadRequest, "scenario_yaml or scenario is required")
		return
	}

	registered, err := s.scenarios.Register(scenario)
	if err != nil {
		var verr *ValidationError
		switch {
		case errors.As(err, &verr):
			s.writeError(w, http.StatusBadRequest, err.Error())
		case strings.Contains(err.Error(), "already registered"):
			s.writeError(w, http.StatusConflict, err.Error())
		default:
			s.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	logger.Info("scenario registered", "scenario_id", registered.ID, "name", registered.Name)
	s.writeJSON(w, http.StatusCreated, map[string]any{"scenario": registered})
}

// handleListScenarios handles GET /v1/scenarios
func (s *HTTPServer) handleListScenarios(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"scenarios": s.scenarios.List(),
	})
}

// handleJobs handles /v1/jobs
func (s *HTTPServer) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateJob(w, r)
	case http.MethodGet:
		s.handleListJobs(w, r)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleJobByID handles /v1/jobs/{id} and its sub-resources
func (s *HTTPServer) handleJobByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/jobs/")
	if path == "" {
		s.writeError(w, http.StatusBadRequest, "job ID is required")
		return
	}

	if strings.HasSuffix(path, "/cancel") {
		jobID := strings.TrimSuffix(path, "/cancel")
		if r.Method == http.MethodPost {
			s.handleCancelJob(w, r, jobID)
		} else {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
		return
	}

	if strings.HasSuffix(path, "/iterations") {
		jobID := strings.TrimSuffix(path, "/iterations")
		if r.Method == http.MethodGet {
			s.handleIterations(w, r, jobID)
		} else {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
		return
	}

	if strings.HasSuffix(path, "/events/ws") {
		jobID := strings.TrimSuffix(path, "/events/ws")
		if r.Method == http.MethodGet {
			s.handleEventsWebSocket(w, r, jobID)
		} else {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
		return
	}

	if strings.HasSuffix(path, "/events") {
		jobID := strings.TrimSuffix(path, "/events")
		if r.Method == http.MethodGet {
			s.handleEventsNDJSON(w, r, jobID)
		} else {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
		return
	}

	if strings.HasSuffix(path, "/results") {
		jobID := strings.TrimSuffix(path, "/results")
		if r.Method == http.MethodGet {
			s.handleResults(w, r, jobID)
		} else {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.handleGetJob(w, r, path)
	case http.MethodDelete:
		s.handleDeleteJob(w, r, path)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleCreateJob handles POST /v1/jobs
func (s *HTTPServer) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScenarioID   string             `json:"scenario_id,omitempty"`
		ScenarioYAML string             `json:"scenario_yaml,omitempty"`
		Overrides    map[string]float64 `json:"overrides,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	var scenario *models.Scenario
	switch {
	case req.ScenarioID != "":
		found, err := s.scenarios.Get(req.ScenarioID)
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		scenario = found
	case req.ScenarioYAML != "":
		// Inline scenarios are registered on the fly so re-runs can refer
		// back to them.
		parsed, err := config.ParseScenarioYAML([]byte(req.ScenarioYAML))
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		registered, err := s.scenarios.Register(parsed)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		scenario = registered
	default:
		s.writeError(w, http.StatusBadRequest, "scenario_id or scenario_yaml is required")
		return
	}

	scenario, err := WithOverrides(scenario, req.Overrides)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// One active job per scenario: the store enforces it atomically, so a
	// second submission is rejected, not queued behind the first.
	rec, err := s.store.CreateJob(scenario)
	if errors.Is(err, ErrAlreadyRunning) {
		active, _ := s.store.ActiveJobForScenario(scenario.ID)
		s.writeJSON(w, http.StatusConflict, map[string]any{
			"error":         err.Error(),
			"active_job_id": active,
		})
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.scheduler.Submit(rec.Job.ID)

	logger.Info("job created", "job_id", rec.Job.ID, "scenario_id", scenario.ID)
	s.writeJSON(w, http.StatusCreated, map[string]any{
		"job": jobToJSON(rec.Job),
	})
}

// handleListJobs handles GET /v1/jobs with pagination and status filtering
func (s *HTTPServer) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
			if limit > 1000 {
				limit = 1000
			}
		}
	}
	offset := 0
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if parsed, err := strconv.Atoi(offsetStr); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	var status models.JobStatus
	if statusStr := r.URL.Query().Get("status"); statusStr != "" {
		status = models.JobStatus(strings.ToLower(statusStr))
	}

	records, err := s.store.ListJobs(limit, offset, status)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	jobs := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		jobs = append(jobs, jobToJSON(rec.Job))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"jobs": jobs,
		"pagination": map[string]any{
			"limit":  limit,
			"offset": offset,
			"count":  len(jobs),
		},
	})
}

// handleGetJob handles GET /v1/jobs/{id}
func (s *HTTPServer) handleGetJob(w http.ResponseWriter, _ *http.Request, jobID string) {
	rec, err := s.store.GetJob(jobID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"job":      jobToJSON(rec.Job),
		"scenario": rec.Scenario,
	})
}

// handleDeleteJob handles DELETE /v1/jobs/{id}; only terminal jobs go.
func (s *HTTPServer) handleDeleteJob(w http.ResponseWriter, _ *http.Request, jobID string) {
	if err := s.store.DeleteJob(jobID); err != nil {
		s.writeStoreError(w, err)
		return
	}
	logger.Info("job deleted", "job_id", jobID)
	w.WriteHeader(http.StatusNoContent)
}

// handleCancelJob handles POST /v1/jobs/{id}/cancel
func (s *HTTPServer) handleCancelJob(w http.ResponseWriter, _ *http.Request, jobID string) {
	rec, err := s.scheduler.Cancel(jobID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]any{
		"job": jobToJSON(rec.Job),
	})
}

// handleIterations handles GET /v1/jobs/{id}/iterations?limit=N
func (s *HTTPServer) handleIterations(w http.ResponseWriter, r *http.Request, jobID string) {
	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	records, err := s.store.Iterations(jobID, limit)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"job_id":     jobID,
		"iterations": records,
		"count":      len(records),
	})
}

// handleResults handles GET /v1/jobs/{id}/results
func (s *HTTPServer) handleResults(w http.ResponseWriter, _ *http.Request, jobID string) {
	rs, err := s.store.GetResult(jobID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"results": rs,
	})
}

// handleEventsNDJSON handles GET /v1/jobs/{id}/events. The stream opens
// with a snapshot of the job's current state and then relays live events
// as newline-delimited JSON until the job reaches a terminal status or the
// client goes away.
func (s *HTTPServer) handleEventsNDJSON(w http.ResponseWriter, r *http.Request, jobID string) {
	rec, err := s.store.GetJob(jobID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	// Subscribe before the snapshot so no event between snapshot and
	// stream start is lost.
	events, unsubscribe := s.bus.Subscribe(jobID)
	defer unsubscribe()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)

	writeEvent := func(event *models.EventMessage) bool {
		if err := enc.Encode(event); err != nil {
			return false
		}
		if flusher != nil {
			flusher.Flush()
		}
		return true
	}

	if !writeEvent(snapshotEvent(rec.Job)) {
		return
	}
	if rec.Job.Status.Terminal() {
		writeEvent(terminalEvent(rec.Job))
		return
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				// Broadcaster closed the stream after a terminal event.
				return
			}
			if !writeEvent(event) {
				return
			}
			if event.Type.Terminal() {
				return
			}
		}
	}
}

// handleEventsWebSocket handles GET /v1/jobs/{id}/events/ws with the same
// snapshot-then-live contract as the NDJSON stream.
func (s *HTTPServer) handleEventsWebSocket(w http.ResponseWriter, r *http.Request, jobID string) {
	rec, err := s.store.GetJob(jobID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	events, unsubscribe := s.bus.Subscribe(jobID)
	defer unsubscribe()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", "job_id", jobID, "error", err)
		return
	}
	defer conn.Close()

	// Drain client frames so pings and close messages are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := conn.WriteJSON(snapshotEvent(rec.Job)); err != nil {
		return
	}
	if rec.Job.Status.Terminal() {
		_ = conn.WriteJSON(terminalEvent(rec.Job))
		return
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				return
			}
			if event.Type.Terminal() {
				return
			}
		}
	}
}

// snapshotEvent reports the job's state at stream connect time.
func snapshotEvent(job *models.Job) *models.EventMessage {
	return &models.EventMessage{
		Type:  models.EventProgress,
		JobID: job.ID,
		Payload: map[string]any{
			"snapshot":  true,
			"status":    string(job.Status),
			"iteration": job.CurrentIteration,
			"objective": job.CurrentObjective,
			"best":      job.BestObjective,
			"progress":  job.Progress,
		},
		AtUnixMs: time.Now().UTC().UnixMilli(),
	}
}

// terminalEvent reconstructs the closing event for clients that connect
// after the job already finished.
func terminalEvent(job *models.Job) *models.EventMessage {
	var t models.EventType
	switch job.Status {
	case models.JobStatusCompleted:
		t = models.EventCompleted
	case models.JobStatusFailed:
		t = models.EventFailed
	default:
		t = models.EventCancelled
	}
	payload := map[string]any{
		"iteration": job.CurrentIteration,
	}
	if job.Error != "" {
		payload["error_kind"] = job.ErrorKind
		payload["error"] = job.Error
	}
	return &models.EventMessage{
		Type:     t,
		JobID:    job.ID,
		Payload:  payload,
		AtUnixMs: time.Now().UTC().UnixMilli(),
	}
}

// Helper functions

func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode JSON response", "error", err)
	}
}

func (s *HTTPServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]any{
		"error": message,
	})
}

// writeStoreError maps engine errors onto HTTP statuses.
func (s *HTTPServer) writeStoreError(w http.ResponseWriter, err error) {
	var verr *ValidationError
	switch {
	case errors.Is(err, ErrJobNotFound), errors.Is(err, ErrScenarioNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrAlreadyRunning), errors.Is(err, ErrInvalidState),
		errors.Is(err, ErrJobNotTerminal), errors.Is(err, ErrResultNotReady):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrJobIDMissing), errors.As(err, &verr):
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func jobToJSON(job *models.Job) map[string]any {
	out := map[string]any{
		"id":                 job.ID,
		"scenario_id":        job.ScenarioID,
		"status":             string(job.Status),
		"progress":           job.Progress,
		"current_iteration":  job.CurrentIteration,
		"current_objective":  job.CurrentObjective,
		"best_objective":     job.BestObjective,
		"created_at_unix_ms": job.CreatedAtUnixMs,
		"started_at_unix_ms": job.StartedAtUnixMs,
		"ended_at_unix_ms":   job.EndedAtUnixMs,
	}
	if job.BestPoint != nil {
		out["best_point"] = job.BestPoint
	}
	if job.Error != "" {
		out["error_kind"] = job.ErrorKind
		out["error"] = job.Error
	}
	return out
}
