package api

import "net/http"

// GetHealth implements health check endpoint
func (s *ApiService) GetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
