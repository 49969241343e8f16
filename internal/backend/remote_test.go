package backend_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/me/qsync/internal/backend"
	"github.com/me/qsync/internal/config"
	"github.com/me/qsync/internal/server"
	"github.com/me/qsync/pkg/model"
)

// gateway starts a qsync gateway backed by a Local connection and returns a
// Remote pointed at it.
func gateway(t *testing.T) *backend.Remote {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	local := backend.NewLocal(t.TempDir(), 2, logger)
	srv := httptest.NewServer(server.New(config.DefaultServerConfig(), local, logger))
	t.Cleanup(func() {
		local.TerminateAll(context.Background())
		srv.Close()
	})
	return backend.NewRemote(srv.URL+"/", logger)
}

func TestRemote_RoundTrip(t *testing.T) {
	r := gateway(t)
	ctx := context.Background()

	id, err := r.Submit(ctx, &model.Job{RemoteCommand: "sh", Args: []string{"-c", "exit 5"}, Source: "a"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := r.Synchronize(ctx, []string{id}, 10*time.Second); err != nil {
		t.Fatalf("Synchronize: %v", err)
	}
	state, err := r.Status(ctx, id)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if state != model.JobStateDone {
		t.Fatalf("state = %s, want DONE", state)
	}
	info, err := r.Wait(ctx, id)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if info.ExitStatus != 5 || info.Classify() != model.ReasonNonzeroExit {
		t.Errorf("info = %+v, want exit 5", info)
	}
}

func TestRemote_NotTerminatedAndTerminate(t *testing.T) {
	r := gateway(t)
	ctx := context.Background()

	id, err := r.Submit(ctx, &model.Job{RemoteCommand: "sleep", Args: []string{"30"}})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := r.Wait(ctx, id); !errors.Is(err, backend.ErrNotTerminated) {
		t.Fatalf("Wait err = %v, want ErrNotTerminated", err)
	}

	if err := r.TerminateAll(ctx); err != nil {
		t.Fatalf("TerminateAll: %v", err)
	}
	if err := r.Synchronize(ctx, []string{id}, 10*time.Second); err != nil {
		t.Fatalf("Synchronize: %v", err)
	}
	info, err := r.Wait(ctx, id)
	if err != nil {
		t.Fatalf("Wait after terminate: %v", err)
	}
	if info.Classify() != model.ReasonAborted {
		t.Errorf("Classify = %q, want aborted", info.Classify())
	}
}

func TestRemote_Errors(t *testing.T) {
	r := gateway(t)
	ctx := context.Background()

	if _, err := r.Status(ctx, "missing"); !errors.Is(err, backend.ErrUnknownJob) {
		t.Errorf("Status err = %v, want ErrUnknownJob", err)
	}
	_, err := r.Submit(ctx, &model.Job{RemoteCommand: "true", NativeOptions: "-pe smp 4"})
	if err == nil {
		t.Fatal("Submit with unsupported native option: expected error")
	}
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrRejected {
		t.Errorf("err = %v, want REJECTED API error", err)
	}
	if !strings.Contains(err.Error(), "unsupported native option") {
		t.Errorf("err = %v, should carry the backend message", err)
	}
}

func TestRemote_Unreachable(t *testing.T) {
	r := backend.NewRemote("http://127.0.0.1:1", slog.New(slog.NewTextHandler(io.Discard, nil)))
	if _, err := r.Submit(context.Background(), &model.Job{RemoteCommand: "true"}); err == nil {
		t.Fatal("expected error")
	}
}

// hungGateway accepts requests and never answers them.
func hungGateway(t *testing.T) *backend.Remote {
	t.Helper()
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	r := backend.NewRemote(srv.URL, slog.New(slog.NewTextHandler(io.Discard, nil)))
	r.RequestTimeout = 50 * time.Millisecond
	return r
}

func TestRemote_HungGatewayTimesOut(t *testing.T) {
	r := hungGateway(t)
	ctx := context.Background()

	calls := []struct {
		name string
		call func() error
	}{
		{"status", func() error { _, err := r.Status(ctx, "x"); return err }},
		{"wait", func() error { _, err := r.Wait(ctx, "x"); return err }},
		{"submit", func() error { _, err := r.Submit(ctx, &model.Job{RemoteCommand: "true"}); return err }},
		{"terminate", func() error { return r.TerminateAll(ctx) }},
		{"synchronize", func() error { return r.Synchronize(ctx, []string{"x"}, 20*time.Millisecond) }},
	}
	for _, c := range calls {
		t.Run(c.name, func(t *testing.T) {
			start := time.Now()
			if err := c.call(); err == nil {
				t.Fatal("expected error from a gateway that never answers")
			}
			if elapsed := time.Since(start); elapsed > 5*time.Second {
				t.Errorf("call took %s", elapsed)
			}
		})
	}
}

func TestRemote_SynchronizeGetsItsTimeout(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(150 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"status":"ok","data":null}`)
	}))
	t.Cleanup(srv.Close)

	r := backend.NewRemote(srv.URL, logger)
	r.RequestTimeout = 100 * time.Millisecond
	if err := r.Synchronize(context.Background(), []string{"x"}, time.Second); err != nil {
		t.Fatalf("Synchronize: %v", err)
	}
	if _, err := r.Status(context.Background(), "x"); err == nil {
		t.Fatal("Status: expected timeout")
	}
}
