package api

import (
	"net/http"

	"github.com/onkernel/qsynth/lib/caps"
)

// CapabilitiesResponse describes the capability set synthesis runs against.
type CapabilitiesResponse struct {
	Version  string                                `json:"version"`
	Flags    []caps.Flag                           `json:"flags"`
	Defaults map[caps.DefaultKey]map[string]string `json:"defaults,omitempty"`
}

// GetCapabilities returns the active capability set.
func (s *ApiService) GetCapabilities(w http.ResponseWriter, r *http.Request) {
	set := s.SynthManager.Capabilities()
	writeJSON(w, http.StatusOK, CapabilitiesResponse{
		Version:  set.Version(),
		Flags:    set.Flags(),
		Defaults: set.Defaults(),
	})
}
