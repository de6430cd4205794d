package httpserver

import (
	"context"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/lexatlas/lexatlas/internal/config"
	"github.com/lexatlas/lexatlas/internal/monitoring"
	"github.com/lexatlas/lexatlas/internal/usecase"
)

// ReadinessCheck is a single readiness probe result.
type ReadinessCheck struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Details string `json:"details,omitempty"`
}

// ReadinessFunc runs all configured readiness probes.
type ReadinessFunc func(ctx context.Context) []ReadinessCheck

// Server bundles the HTTP handlers with their services.
type Server struct {
	Cfg      config.Config
	Dispatch usecase.DispatchService
	Bulk     *usecase.BulkService
	Recorder *monitoring.Recorder
	Ready    ReadinessFunc

	validate *validator.Validate
}

// NewServer constructs a Server.
func NewServer(cfg config.Config, dispatch usecase.DispatchService, bulk *usecase.BulkService, rec *monitoring.Recorder, ready ReadinessFunc) *Server {
	return &Server{
		Cfg:      cfg,
		Dispatch: dispatch,
		Bulk:     bulk,
		Recorder: rec,
		Ready:    ready,
		validate: validator.New(),
	}
}

// ReadyzHandler answers 200 when every readiness probe passes, 503 otherwise.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := []ReadinessCheck{}
		if s.Ready != nil {
			checks = s.Ready(r.Context())
		}
		status := http.StatusOK
		for _, c := range checks {
			if !c.OK {
				status = http.StatusServiceUnavailable
				break
			}
		}
		writeJSON(w, status, map[string]any{"checks": checks, "ok": status == http.StatusOK})
	}
}
