package server

import "net/http"

type endpointInfo struct {
	Path        string   `json:"path"`
	Methods     []string `json:"methods"`
	Description string   `json:"description"`
}

type discoveryResponse struct {
	Name        string         `json:"name"`
	Version     string         `json:"version"`
	Description string         `json:"description"`
	Backend     string         `json:"backend"`
	Endpoints   []endpointInfo `json:"endpoints"`
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	respondOK(w, reqID, discoveryResponse{
		Name:        "qsync gateway",
		Version:     "v1",
		Description: "Batch job submission and synchronization",
		Backend:     s.conn.Name(),
		Endpoints: []endpointInfo{
			{"/api/v1/jobs", []string{"POST", "DELETE"}, "Submit a job; DELETE terminates every job of this gateway"},
			{"/api/v1/jobs/sync", []string{"POST"}, "Wait until the given jobs finish or the timeout elapses"},
			{"/api/v1/jobs/{id}", []string{"GET"}, "Scheduler state of one job"},
			{"/api/v1/jobs/{id}/termination", []string{"GET"}, "Exit status, signal and abort flag of a finished job"},
			{"/api/v1/health", []string{"GET"}, "Server health and version"},
		},
	})
}
