package monitor

import (
	"encoding/json"
	"net/http"

	"treewatch/internal/logging"
)

type apiError struct {
	Status  int
	Message string
}

type apiHandler func(http.ResponseWriter, *http.Request) *apiError

type errorResponse struct {
	Error string `json:"error"`
}

const cacheControlNoStore = "no-store, must-revalidate"

func securityHeadersHandler(cacheControl string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		headers := w.Header()
		headers.Set("X-Content-Type-Options", "nosniff")
		if cacheControl != "" {
			headers.Set("Cache-Control", cacheControl)
		}
		next(w, r)
	}
}

func jsonErrorMiddleware(next apiHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := next(w, r); err != nil {
			writeJSON(w, err.Status, errorResponse{Error: err.Message})
		}
	}
}

func loggingMiddleware(logger *logging.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Debug("monitor request", map[string]string{
			"method": r.Method,
			"path":   r.URL.Path,
		})
		next.ServeHTTP(w, r)
	})
}

func restHandler(handler apiHandler) http.HandlerFunc {
	return securityHeadersHandler(cacheControlNoStore, jsonErrorMiddleware(handler))
}

func requireGet(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return nil
	}
	w.Header().Set("Allow", "GET, HEAD")
	return &apiError{Status: http.StatusMethodNotAllowed, Message: "method not allowed"}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
