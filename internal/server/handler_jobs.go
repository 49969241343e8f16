package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/me/qsync/internal/backend"
	"github.com/me/qsync/pkg/model"
)

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var job model.Job
	if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("invalid JSON: "+err.Error()))
		return
	}
	if job.RemoteCommand == "" {
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("remote_command is required"))
		return
	}
	// Pool bookkeeping belongs to the client.
	job.ID, job.FailureCount, job.Attempts = "", 0, 0

	id, err := s.conn.Submit(r.Context(), &job)
	if err != nil {
		s.logger.Info("job rejected", "source", job.Source, "error", err)
		respondError(w, reqID, http.StatusUnprocessableEntity, &model.APIError{Code: model.ErrRejected, Message: err.Error()})
		return
	}
	s.logger.Info("job submitted", "id", id, "source", job.Source, "command", job.RemoteCommand)
	respondCreated(w, reqID, model.SubmitResponse{ID: id})
}

func (s *Server) handleSynchronize(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var req model.SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("invalid JSON: "+err.Error()))
		return
	}
	if req.TimeoutSeconds <= 0 {
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("timeout_seconds must be positive"))
		return
	}
	timeout := time.Duration(req.TimeoutSeconds * float64(time.Second))
	if timeout > maxSyncTimeout {
		timeout = maxSyncTimeout
	}

	if err := s.conn.Synchronize(r.Context(), req.IDs, timeout); err != nil {
		s.respondBackendError(w, reqID, "", err)
		return
	}
	respondOK(w, reqID, nil)
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	state, err := s.conn.Status(r.Context(), id)
	if err != nil {
		s.respondBackendError(w, reqID, id, err)
		return
	}
	respondOK(w, reqID, model.StatusResponse{ID: id, State: state})
}

func (s *Server) handleJobTermination(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	info, err := s.conn.Wait(r.Context(), id)
	if err != nil {
		s.respondBackendError(w, reqID, id, err)
		return
	}
	respondOK(w, reqID, info)
}

func (s *Server) handleTerminateAll(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	if err := s.conn.TerminateAll(r.Context()); err != nil {
		s.respondBackendError(w, reqID, "", err)
		return
	}
	s.logger.Info("all jobs terminated", "request_id", reqID)
	respondOK(w, reqID, nil)
}

// respondBackendError maps backend sentinels onto API error codes.
func (s *Server) respondBackendError(w http.ResponseWriter, reqID, id string, err error) {
	switch {
	case errors.Is(err, backend.ErrUnknownJob):
		if id == "" {
			respondError(w, reqID, http.StatusNotFound, &model.APIError{Code: model.ErrNotFound, Message: err.Error()})
			return
		}
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("job", id))
	case errors.Is(err, backend.ErrNotTerminated):
		respondError(w, reqID, http.StatusConflict, &model.APIError{Code: model.ErrNotTerminated, Message: err.Error()})
	default:
		s.logger.Error("backend error", "request_id", reqID, "error", err)
		respondError(w, reqID, http.StatusInternalServerError, &model.APIError{Code: model.ErrInternal, Message: err.Error()})
	}
}
