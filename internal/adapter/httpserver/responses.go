// Package httpserver contains HTTP handlers and middleware.
//
// It provides the REST API of the orchestrator facade: job submission,
// status reads, artifact deletion and health. HTTP concerns stay here;
// orchestration logic lives in the usecase package.
package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fairyhunter13/gpu-task-orchestrator/internal/domain"
)

type errorEnvelope struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, _ *http.Request, err error, details interface{}) {
	code := http.StatusInternalServerError
	codeStr := "INTERNAL"
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		code = http.StatusBadRequest
		codeStr = "INVALID_ARGUMENT"
	case errors.Is(err, domain.ErrNotFound):
		code = http.StatusNotFound
		codeStr = "NOT_FOUND"
	case errors.Is(err, domain.ErrConflict):
		code = http.StatusConflict
		codeStr = "CONFLICT"
	}
	writeJSON(w, code, errorEnvelope{Error: apiError{Code: codeStr, Message: err.Error(), Details: details}})
}

// jobEnvelope is the public projection of a job record.
type jobEnvelope struct {
	JobID     string  `json:"job_id"`
	Status    string  `json:"status"`
	ResultURL *string `json:"result_url"`
	Error     *string `json:"error"`
}

func buildJobEnvelope(j domain.Job) jobEnvelope {
	env := jobEnvelope{JobID: j.ID, Status: string(j.Status)}
	if j.ResultURL != "" {
		env.ResultURL = &j.ResultURL
	}
	if j.ErrorMessage != "" {
		env.Error = &j.ErrorMessage
	}
	return env
}
