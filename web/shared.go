package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/RezaEskandarii/shotfire/custom_errors"
)

const (
	PageSize    = 15
	maxPageSize = 200
	// ownerHeader carries the caller identity set by the upstream gateway.
	ownerHeader = "X-Owner-ID"
)

type errorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeServiceError maps the errors returned by the job manager and the
// scheduler onto status codes. Anything unrecognised is logged and hidden.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var verr *custom_errors.ValidationError
	switch {
	case errors.As(err, &verr):
		details := make([]string, 0, len(verr.Errors))
		for _, e := range verr.Errors {
			details = append(details, e.Error())
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation failed", Details: details})
	case errors.Is(err, custom_errors.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, custom_errors.ErrUnknownTask):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, custom_errors.ErrTaskRunning), errors.Is(err, custom_errors.ErrSchedulerState):
		writeError(w, http.StatusConflict, err.Error())
	default:
		logger.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func getPageNumber(r *http.Request) int {
	return queryInt(r, "page", 1, 1<<31-1)
}

func getPageSize(r *http.Request) int {
	return queryInt(r, "pageSize", PageSize, maxPageSize)
}

func queryInt(r *http.Request, key string, fallback, upper int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v < 1 {
		return fallback
	}
	return min(v, upper)
}

func printBanner(addr string) {
	width := 46
	fmt.Println("##############################################")
	fmt.Printf("# %-*s #\n", width-4, "")
	fmt.Printf("# %-*s #\n", width-4, "Shotfire API started")
	fmt.Printf("# %-*s #\n", width-4, fmt.Sprintf("Listening on %s", addr))
	fmt.Printf("# %-*s #\n", width-4, "")
	fmt.Println("##############################################")
}
