package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/me/qsync/internal/backend/backendtest"
	"github.com/me/qsync/internal/config"
	"github.com/me/qsync/pkg/model"
)

func testServer(fake *backendtest.Fake) *Server {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
	return New(config.DefaultServerConfig(), fake, logger)
}

// envelope is used to decode the standard response envelope.
type envelope struct {
	Status    string          `json:"status"`
	RequestID string          `json:"request_id"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
	Error     *model.APIError `json:"error"`
}

func do(t *testing.T, srv *Server, method, path, body string, wantStatus int) envelope {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != wantStatus {
		t.Fatalf("%s %s: status=%d, want %d, body=%s", method, path, w.Code, wantStatus, w.Body.String())
	}
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("%s %s: invalid JSON: %v", method, path, err)
	}
	return env
}

func TestDiscovery(t *testing.T) {
	srv := testServer(backendtest.New(nil))
	env := do(t, srv, "GET", "/api/v1/", "", http.StatusOK)
	if env.Status != "ok" {
		t.Errorf("status = %q, want ok", env.Status)
	}
	if env.RequestID == "" {
		t.Error("request_id is empty")
	}

	var data discoveryResponse
	json.Unmarshal(env.Data, &data)
	if data.Backend != "fake" {
		t.Errorf("backend = %q, want fake", data.Backend)
	}
	if len(data.Endpoints) != 5 {
		t.Errorf("endpoints count = %d, want 5", len(data.Endpoints))
	}
}

func TestHealth(t *testing.T) {
	srv := testServer(backendtest.New(nil))
	env := do(t, srv, "GET", "/api/v1/health", "", http.StatusOK)

	var data healthResponse
	json.Unmarshal(env.Data, &data)
	if data.Status != "healthy" {
		t.Errorf("status = %q, want healthy", data.Status)
	}
	if data.GoVersion == "" {
		t.Error("go_version is empty")
	}
}

func TestRequestIDPropagation(t *testing.T) {
	srv := testServer(backendtest.New(nil))
	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "req_client1")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "req_client1" {
		t.Errorf("X-Request-ID = %q, want req_client1", got)
	}
}

func TestSubmitStatusTermination(t *testing.T) {
	fake := backendtest.New(backendtest.BySource(map[string][]backendtest.Behavior{
		"jobs.txt:1": {backendtest.Exit(4, 1)},
	}))
	srv := testServer(fake)

	env := do(t, srv, "POST", "/api/v1/jobs", `{"remote_command":"./run.sh","args":["x"],"source":"jobs.txt:1"}`, http.StatusCreated)
	var sub model.SubmitResponse
	json.Unmarshal(env.Data, &sub)
	if sub.ID != "fake-1" {
		t.Fatalf("id = %q, want fake-1", sub.ID)
	}

	env = do(t, srv, "GET", "/api/v1/jobs/fake-1", "", http.StatusOK)
	var st model.StatusResponse
	json.Unmarshal(env.Data, &st)
	if st.State != model.JobStateRunning {
		t.Errorf("state = %s, want RUNNING", st.State)
	}

	env = do(t, srv, "GET", "/api/v1/jobs/fake-1/termination", "", http.StatusConflict)
	if env.Error == nil || env.Error.Code != model.ErrNotTerminated {
		t.Errorf("error = %+v, want NOT_TERMINATED", env.Error)
	}

	do(t, srv, "POST", "/api/v1/jobs/sync", `{"ids":["fake-1"],"timeout_seconds":1}`, http.StatusOK)

	env = do(t, srv, "GET", "/api/v1/jobs/fake-1", "", http.StatusOK)
	json.Unmarshal(env.Data, &st)
	if st.State != model.JobStateDone {
		t.Errorf("state after sync = %s, want DONE", st.State)
	}

	env = do(t, srv, "GET", "/api/v1/jobs/fake-1/termination", "", http.StatusOK)
	var info model.TerminationInfo
	json.Unmarshal(env.Data, &info)
	if !info.HasExited || info.ExitStatus != 4 {
		t.Errorf("termination = %+v, want exit 4", info)
	}
}

func TestSubmitValidation(t *testing.T) {
	srv := testServer(backendtest.New(nil))

	env := do(t, srv, "POST", "/api/v1/jobs", `{not json`, http.StatusBadRequest)
	if env.Error == nil || env.Error.Code != model.ErrValidation {
		t.Errorf("error = %+v, want VALIDATION_ERROR", env.Error)
	}
	env = do(t, srv, "POST", "/api/v1/jobs", `{"args":["x"]}`, http.StatusBadRequest)
	if env.Error == nil || env.Error.Code != model.ErrValidation {
		t.Errorf("error = %+v, want VALIDATION_ERROR", env.Error)
	}
}

func TestSubmitRejected(t *testing.T) {
	fake := backendtest.New(nil)
	fake.SubmitErr = func(*model.Job) error { return errors.New("queue closed") }
	srv := testServer(fake)

	env := do(t, srv, "POST", "/api/v1/jobs", `{"remote_command":"true"}`, http.StatusUnprocessableEntity)
	if env.Error == nil || env.Error.Code != model.ErrRejected {
		t.Fatalf("error = %+v, want REJECTED", env.Error)
	}
	if !strings.Contains(env.Error.Message, "queue closed") {
		t.Errorf("message = %q", env.Error.Message)
	}
}

func TestUnknownJob(t *testing.T) {
	srv := testServer(backendtest.New(nil))

	env := do(t, srv, "GET", "/api/v1/jobs/nope", "", http.StatusNotFound)
	if env.Error == nil || env.Error.Code != model.ErrNotFound {
		t.Errorf("error = %+v, want NOT_FOUND", env.Error)
	}
	do(t, srv, "GET", "/api/v1/jobs/nope/termination", "", http.StatusNotFound)
}

func TestSyncValidation(t *testing.T) {
	srv := testServer(backendtest.New(nil))
	do(t, srv, "POST", "/api/v1/jobs/sync", `{"ids":[],"timeout_seconds":0}`, http.StatusBadRequest)
	do(t, srv, "POST", "/api/v1/jobs/sync", `[]`, http.StatusBadRequest)
}

func TestTerminateAll(t *testing.T) {
	fake := backendtest.New(func(*model.Job, int) backendtest.Behavior {
		return backendtest.Behavior{Never: true}
	})
	srv := testServer(fake)
	do(t, srv, "POST", "/api/v1/jobs", `{"remote_command":"sleep","args":["100"]}`, http.StatusCreated)

	do(t, srv, "DELETE", "/api/v1/jobs", "", http.StatusOK)
	if fake.Terminated() != 1 {
		t.Errorf("terminated = %d, want 1", fake.Terminated())
	}

	env := do(t, srv, "GET", "/api/v1/jobs/fake-1/termination", "", http.StatusOK)
	var info model.TerminationInfo
	json.Unmarshal(env.Data, &info)
	if !info.WasAborted {
		t.Errorf("termination = %+v, want aborted", info)
	}
}
