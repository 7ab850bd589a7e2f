// Package api implements the qsynth HTTP handlers.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/onkernel/qsynth/cmd/api/config"
	"github.com/onkernel/qsynth/lib/synth"
)

// ApiService serves synthesis over HTTP.
type ApiService struct {
	Config       *config.Config
	SynthManager synth.Manager
}

// New creates a new ApiService
func New(config *config.Config, synthManager synth.Manager) *ApiService {
	return &ApiService{
		Config:       config,
		SynthManager: synthManager,
	}
}

// Routes mounts the authenticated API endpoints.
func (s *ApiService) Routes(r chi.Router) {
	r.Post("/synthesize", s.Synthesize)
	r.Get("/capabilities", s.GetCapabilities)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
