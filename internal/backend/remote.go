package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/me/qsync/pkg/model"
)

// DefaultRequestTimeout bounds every gateway call except Synchronize, which
// gets its own timeout plus this much on top.
const DefaultRequestTimeout = 30 * time.Second

// Remote talks to a qsync gateway (cmd/qsync-server) over its JSON API.
type Remote struct {
	BaseURL        string
	HTTPClient     *http.Client
	RequestTimeout time.Duration
	logger         *slog.Logger
}

// NewRemote creates a Remote connection for the gateway at baseURL.
func NewRemote(baseURL string, logger *slog.Logger) *Remote {
	return &Remote{
		BaseURL:        strings.TrimRight(baseURL, "/"),
		HTTPClient:     &http.Client{},
		RequestTimeout: DefaultRequestTimeout,
		logger:         logger.With("component", "remote-backend"),
	}
}

// Name returns "remote".
func (r *Remote) Name() string {
	return "remote"
}

// apiResponse is the parsed envelope.
type apiResponse struct {
	Status    string          `json:"status"`
	RequestID string          `json:"request_id"`
	Data      json.RawMessage `json:"data"`
	Error     *model.APIError `json:"error"`
}

// do performs an HTTP request and decodes the envelope's data into out.
// The request is abandoned after extra plus RequestTimeout.
func (r *Remote) do(ctx context.Context, method, path string, extra time.Duration, body, out any) error {
	u := r.BaseURL + path

	timeout := r.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, extra+timeout)
	defer cancel()

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	r.logger.Debug("HTTP request", "method", method, "url", u)

	resp, err := r.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	r.logger.Debug("HTTP response", "status", resp.StatusCode, "body", string(respBody))

	var apiResp apiResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return fmt.Errorf("parse response (status %d): %w", resp.StatusCode, err)
	}
	if apiResp.Status == "error" && apiResp.Error != nil {
		return mapAPIError(apiResp.Error)
	}
	if out != nil {
		if err := json.Unmarshal(apiResp.Data, out); err != nil {
			return fmt.Errorf("parse response data: %w", err)
		}
	}
	return nil
}

// mapAPIError turns gateway error codes back into the package sentinels.
func mapAPIError(apiErr *model.APIError) error {
	switch apiErr.Code {
	case model.ErrNotFound:
		return fmt.Errorf("%w: %s", ErrUnknownJob, apiErr.Message)
	case model.ErrNotTerminated:
		return fmt.Errorf("%w: %s", ErrNotTerminated, apiErr.Message)
	}
	return apiErr
}

// Submit posts the job to the gateway.
func (r *Remote) Submit(ctx context.Context, job *model.Job) (string, error) {
	var out model.SubmitResponse
	if err := r.do(ctx, http.MethodPost, "/api/v1/jobs", 0, job, &out); err != nil {
		return "", fmt.Errorf("remote submit: %w", err)
	}
	if out.ID == "" {
		return "", errors.New("remote submit: gateway returned an empty job id")
	}
	return out.ID, nil
}

// Synchronize asks the gateway to wait for ids for at most timeout.
func (r *Remote) Synchronize(ctx context.Context, ids []string, timeout time.Duration) error {
	req := model.SyncRequest{IDs: ids, TimeoutSeconds: timeout.Seconds()}
	if err := r.do(ctx, http.MethodPost, "/api/v1/jobs/sync", timeout, req, nil); err != nil {
		return fmt.Errorf("remote synchronize: %w", err)
	}
	return nil
}

// Status fetches the state of one job.
func (r *Remote) Status(ctx context.Context, id string) (model.JobState, error) {
	var out model.StatusResponse
	if err := r.do(ctx, http.MethodGet, "/api/v1/jobs/"+url.PathEscape(id), 0, nil, &out); err != nil {
		return model.JobStateUndetermined, fmt.Errorf("remote status: %w", err)
	}
	return out.State, nil
}

// Wait fetches the termination info of a finished job.
func (r *Remote) Wait(ctx context.Context, id string) (*model.TerminationInfo, error) {
	var out model.TerminationInfo
	if err := r.do(ctx, http.MethodGet, "/api/v1/jobs/"+url.PathEscape(id)+"/termination", 0, nil, &out); err != nil {
		return nil, fmt.Errorf("remote wait: %w", err)
	}
	return &out, nil
}

// TerminateAll asks the gateway to kill all of its jobs.
func (r *Remote) TerminateAll(ctx context.Context) error {
	if err := r.do(ctx, http.MethodDelete, "/api/v1/jobs", 0, nil, nil); err != nil {
		return fmt.Errorf("remote terminate: %w", err)
	}
	return nil
}
