package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/lychee-technology/strata"
	"github.com/lychee-technology/strata/internal"
)

// fleetEvents is implemented by registries that accept worker events over the API.
type fleetEvents interface {
	Register(w strata.Worker) (*internal.WorkerWrapper, error)
	AssignTask(host, taskID string) error
	CompleteTask(host, taskID string) bool
}

type registerWorkerRequest struct {
	Host     string `json:"host"`
	IP       string `json:"ip"`
	Capacity int    `json:"capacity"`
	Version  string `json:"version"`
}

type assignTaskRequest struct {
	TaskID string `json:"task_id"`
}

type terminateRequest struct {
	Hosts []string `json:"hosts"`
}

type workerView struct {
	Host          string   `json:"host"`
	IP            string   `json:"ip"`
	Capacity      int      `json:"capacity"`
	Version       string   `json:"version,omitempty"`
	State         string   `json:"state"`
	Tasks         []string `json:"tasks"`
	Saturation    float64  `json:"saturation"`
	LastCompleted string   `json:"last_completed,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeSuccess(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleProvision handles POST /api/v1/scaling/provision
func (s *Server) handleProvision(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	result, err := s.manager.Provision(r.Context())
	if err != nil {
		writeError(w, errorStatus(err), fmt.Sprintf("provision failed: %v", err))
		return
	}
	writeSuccess(w, http.StatusOK, result)
}

// handleTerminate handles POST /api/v1/scaling/terminate
func (s *Server) handleTerminate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req terminateRequest
	if err := readJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid json body: %v", err))
		return
	}

	result, err := s.manager.Terminate(r.Context(), req.Hosts)
	if err != nil {
		writeError(w, errorStatus(err), fmt.Sprintf("terminate failed: %v", err))
		return
	}
	writeSuccess(w, http.StatusOK, result)
}

// workersHandler handles GET and POST /api/v1/workers
func (s *Server) workersHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListWorkers(w, r)
	case http.MethodPost:
		s.handleRegisterWorker(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// workerHandler routes /api/v1/workers/{host}/tasks[/{task_id}]
func (s *Server) workerHandler(w http.ResponseWriter, r *http.Request) {
	host, taskID, err := parseWorkerPath(r.URL.Path)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid path: %v", err))
		return
	}

	switch {
	case r.Method == http.MethodPost && taskID == "":
		s.handleAssignTask(w, r, host)
	case r.Method == http.MethodDelete && taskID != "":
		s.handleCompleteTask(w, r, host, taskID)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	snapshots, err := s.registry.Workers(r.Context())
	if err != nil {
		writeError(w, errorStatus(err), fmt.Sprintf("list workers failed: %v", err))
		return
	}
	writeSuccess(w, http.StatusOK, toWorkerViews(snapshots))
}

func (s *Server) handleRegisterWorker(w http.ResponseWriter, r *http.Request) {
	events, ok := s.events()
	if !ok {
		writeError(w, http.StatusNotImplemented, "registry does not accept worker events")
		return
	}

	var req registerWorkerRequest
	if err := readJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid json body: %v", err))
		return
	}

	wrapper, err := events.Register(strata.Worker{
		Host:     req.Host,
		IP:       req.IP,
		Capacity: req.Capacity,
		Version:  req.Version,
	})
	if err != nil {
		writeError(w, errorStatus(err), fmt.Sprintf("register failed: %v", err))
		return
	}
	writeSuccess(w, http.StatusCreated, toWorkerView(wrapper.Snapshot()))
}

func (s *Server) handleAssignTask(w http.ResponseWriter, r *http.Request, host string) {
	events, ok := s.events()
	if !ok {
		writeError(w, http.StatusNotImplemented, "registry does not accept worker events")
		return
	}

	var req assignTaskRequest
	if err := readJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid json body: %v", err))
		return
	}
	if req.TaskID == "" {
		writeError(w, http.StatusBadRequest, "task_id is required")
		return
	}

	if err := events.AssignTask(host, req.TaskID); err != nil {
		writeError(w, errorStatus(err), fmt.Sprintf("assign failed: %v", err))
		return
	}
	s.writeWorker(w, r.Context(), host, http.StatusCreated)
}

func (s *Server) handleCompleteTask(w http.ResponseWriter, r *http.Request, host, taskID string) {
	events, ok := s.events()
	if !ok {
		writeError(w, http.StatusNotImplemented, "registry does not accept worker events")
		return
	}

	if !events.CompleteTask(host, taskID) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("task %s not running on %s", taskID, host))
		return
	}
	s.writeWorker(w, r.Context(), host, http.StatusOK)
}

func (s *Server) events() (fleetEvents, bool) {
	events, ok := s.registry.(fleetEvents)
	return events, ok
}

func (s *Server) writeWorker(w http.ResponseWriter, ctx context.Context, host string, status int) {
	snapshots, err := s.registry.Workers(ctx)
	if err != nil {
		writeError(w, errorStatus(err), fmt.Sprintf("list workers failed: %v", err))
		return
	}
	for _, snap := range snapshots {
		if snap.Descriptor.Host == host {
			writeSuccess(w, status, toWorkerView(snap))
			return
		}
	}
	writeError(w, http.StatusNotFound, "unknown worker "+host)
}
