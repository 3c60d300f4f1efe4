package core

import (
	"encoding/json"
	"net/http"
	"net/url"
)

// RedirectServer receives loopback redirects for desktop hosts and hands
// them to the manager.
type RedirectServer struct {
	manager *Manager
	// Base is the external base (scheme and host) of the server, e.g.
	// http://127.0.0.1:8765. Request URLs are rebuilt against it so they
	// match the configured redirect URL.
	base *url.URL
}

func NewRedirectServer(manager *Manager, base string) (*RedirectServer, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, err
	}
	return &RedirectServer{manager: manager, base: u}, nil
}

func (s *RedirectServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.HandleHealth)
	mux.HandleFunc("/", s.HandleRedirect)
	return mux
}

func (s *RedirectServer) HandleRedirect(w http.ResponseWriter, r *http.Request) {
	if !validateMethod(w, r, http.MethodGet) {
		return
	}

	callback := *s.base
	callback.Path = r.URL.Path
	callback.RawQuery = r.URL.RawQuery

	outcome := s.manager.HandleRedirect(r.Context(), callback.String())
	if outcome == nil {
		respondError(w, http.StatusNotFound, "unknown_redirect", "Not a recognized redirect URL")
		return
	}

	switch outcome.Kind {
	case OutcomeSuccess:
		respondJSON(w, http.StatusOK, map[string]string{
			"status": "linked",
			"uid":    outcome.Credential.UserID,
		})
	case OutcomeCancelled:
		respondJSON(w, http.StatusOK, map[string]string{
			"status": "cancelled",
		})
	default:
		respondError(w, http.StatusBadRequest, string(outcome.ErrorKind), outcome.Message)
	}
}

func (s *RedirectServer) HandleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func validateMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	respondJSON(w, statusCode, map[string]string{
		"error":   errorCode,
		"message": message,
	})
}
