package server

import (
	"net/http"
	"runtime"
	"time"
)

type healthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	Uptime    string `json:"uptime"`
	Backend   string `json:"backend"`
	Slots     int    `json:"slots,omitempty"`
	Active    int    `json:"active"`
}

// capacity is implemented by backends that report their slot usage.
type capacity interface {
	Slots() int
	Active() int
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	resp := healthResponse{
		Status:    "healthy",
		Version:   Version,
		GoVersion: runtime.Version(),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Backend:   s.conn.Name(),
	}
	if c, ok := s.conn.(capacity); ok {
		resp.Slots = c.Slots()
		resp.Active = c.Active()
	}
	respondOK(w, reqID, resp)
}
