package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	sddErrors "github.com/harunnryd/sdd/internal/errors"
	"github.com/harunnryd/sdd/internal/logger"
	"github.com/harunnryd/sdd/internal/metrics"
)

type errorDetail struct {
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
	ID      string `json:"id,omitempty"`
}

type errorBody struct {
	Detail errorDetail `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := sddErrors.HTTPStatus(err)
	category := sddErrors.Category(err)
	metrics.Error(category)

	detail := errorDetail{Message: err.Error(), Kind: category}
	if e, ok := sddErrors.As(err); ok {
		detail.ID = e.ID
		if e.Message != "" {
			detail.Message = e.Message
		}
	}

	log := logger.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		log.Warn("Request failed", "path", r.URL.Path, "status", status, "error", err)
	} else {
		log.Debug("Request rejected", "path", r.URL.Path, "status", status, "error", err)
	}

	writeJSON(w, status, errorBody{Detail: detail})
}

func requiredParam(r *http.Request, name string) (string, error) {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		return "", sddErrors.InvalidInput("missing query parameter " + name)
	}
	return v, nil
}

// tailParam returns nil when absent, meaning the whole log.
func tailParam(r *http.Request) (*int, error) {
	raw := r.URL.Query().Get("tail")
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, sddErrors.InvalidInput("tail must be an integer")
	}
	return &n, nil
}

func boolParam(r *http.Request, name string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(name))
	return err == nil && v
}

func pathParam(r *http.Request) string {
	if p := r.URL.Query().Get("path"); p != "" {
		return p
	}
	return "/"
}
