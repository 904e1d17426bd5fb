// Package apierr carries the worker's error taxonomy (spec.md §7) and the
// HTTP-facing error writers, following the shape of the teacher's errors
// package (APIError + writeHttpError + Unretriable wrapper).
package apierr

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/autoclip/worker/internal/logx"
)

// Kind enumerates the error classes from spec.md §7.
type Kind string

const (
	BadRequest          Kind = "BAD_REQUEST"
	Unauthorized        Kind = "UNAUTHORIZED"
	Busy                Kind = "BUSY"
	NotFound            Kind = "NOT_FOUND"
	DependencyFailure   Kind = "DEPENDENCY_FAILURE"
	Timeout             Kind = "TIMEOUT"
	StorageFailure      Kind = "STORAGE_FAILURE"
	RendererUnavailable Kind = "RENDERER_UNAVAILABLE"
	TransientSTT        Kind = "TRANSIENT_STT"
	FatalSTT            Kind = "FATAL_STT"
)

type APIError struct {
	Msg    string `json:"message"`
	Status int    `json:"status"`
	Kind   Kind   `json:"kind"`
	Err    error  `json:"-"`
}

func (e APIError) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e APIError) Unwrap() error { return e.Err }

func writeHTTPError(w http.ResponseWriter, msg string, status int, kind Kind, err error) APIError {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	body := map[string]string{"error": msg}
	if err != nil {
		body["error_detail"] = err.Error()
	}
	if encErr := json.NewEncoder(w).Encode(body); encErr != nil {
		logx.LogNoJobID("error writing HTTP error body", "msg", msg, "err", encErr)
	}
	return APIError{Msg: msg, Status: status, Kind: kind, Err: err}
}

func WriteUnauthorized(w http.ResponseWriter, msg string) APIError {
	return writeHTTPError(w, msg, http.StatusUnauthorized, Unauthorized, nil)
}

func WriteBadRequest(w http.ResponseWriter, msg string) APIError {
	return writeHTTPError(w, msg, http.StatusBadRequest, BadRequest, nil)
}

func WriteBusy(w http.ResponseWriter, msg string) APIError {
	return writeHTTPError(w, msg, http.StatusTooManyRequests, Busy, nil)
}

func WriteNotFound(w http.ResponseWriter, msg string) APIError {
	return writeHTTPError(w, msg, http.StatusNotFound, NotFound, nil)
}

func WriteInternalServerError(w http.ResponseWriter, msg string, err error) APIError {
	return writeHTTPError(w, msg, http.StatusInternalServerError, DependencyFailure, err)
}

// WriteHTTPError re-emits an already-classified APIError (e.g. one
// surfaced from internal/scheduler or internal/render) as its original
// status/kind rather than collapsing it to a generic 500.
func WriteHTTPError(w http.ResponseWriter, apiErr APIError) APIError {
	return writeHTTPError(w, apiErr.Msg, apiErr.Status, apiErr.Kind, apiErr.Err)
}

// UnretriableError wraps an error to mark it as not eligible for the
// scheduler's transient-job retry, mirroring the teacher's UnretriableError.
type UnretriableError struct{ error }

func Unretriable(err error) error {
	if err == nil {
		return nil
	}
	return UnretriableError{err}
}

func (e UnretriableError) Unwrap() error { return e.error }

func IsUnretriable(err error) bool {
	var u UnretriableError
	return errors.As(err, &u)
}

// ObjectNotFoundError signals a missing key/session in the storage layer.
type ObjectNotFoundError struct {
	msg   string
	cause error
}

func (e ObjectNotFoundError) Error() string { return e.msg }
func (e ObjectNotFoundError) Unwrap() error { return e.cause }

func NewObjectNotFoundError(msg string, cause error) error {
	if cause != nil {
		return ObjectNotFoundError{msg: msg + ": " + cause.Error(), cause: cause}
	}
	return ObjectNotFoundError{msg: msg}
}

func IsObjectNotFound(err error) bool {
	var o ObjectNotFoundError
	return errors.As(err, &o)
}
