package httputil

import (
	"encoding/json"
	"net/http"
	"time"
)

// ProblemContentType is the media type of error bodies
const ProblemContentType = "application/problem+json"

// Machine-readable error codes carried in Problem.Code
const (
	CodeValidation   = "VALIDATION_ERROR"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeForbidden    = "FORBIDDEN"
	CodeNotFound     = "NOT_FOUND"
	CodeConflict     = "CONFLICT"
	CodeUnavailable  = "SERVICE_UNAVAILABLE"
	CodeInternal     = "INTERNAL_ERROR"
)

// Problem is an RFC 7807 error document
type Problem struct {
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Status    int       `json:"status"`
	Detail    string    `json:"detail,omitempty"`
	Code      string    `json:"code"`
	Timestamp time.Time `json:"timestamp"`
}

var statusCodes = map[int]string{
	http.StatusBadRequest:          CodeValidation,
	http.StatusUnauthorized:        CodeUnauthorized,
	http.StatusForbidden:           CodeForbidden,
	http.StatusNotFound:            CodeNotFound,
	http.StatusConflict:            CodeConflict,
	http.StatusServiceUnavailable:  CodeUnavailable,
	http.StatusInternalServerError: CodeInternal,
}

// WriteJSON writes data as JSON with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteErrorMessage writes a problem document for status with detail
func WriteErrorMessage(w http.ResponseWriter, status int, detail string) {
	code, ok := statusCodes[status]
	if !ok {
		code = http.StatusText(status)
	}
	w.Header().Set("Content-Type", ProblemContentType)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(Problem{
		Type:      "about:blank",
		Title:     http.StatusText(status),
		Status:    status,
		Detail:    detail,
		Code:      code,
		Timestamp: time.Now().UTC(),
	})
}

// WriteSuccess writes data with 200 OK
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteCreated writes data with 201 Created
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, data)
}

// WriteNoContent writes 204 No Content
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

func WriteBadRequest(w http.ResponseWriter, detail string) {
	WriteErrorMessage(w, http.StatusBadRequest, detail)
}

func WriteUnauthorized(w http.ResponseWriter, detail string) {
	WriteErrorMessage(w, http.StatusUnauthorized, detail)
}

func WriteForbidden(w http.ResponseWriter, detail string) {
	WriteErrorMessage(w, http.StatusForbidden, detail)
}

func WriteNotFound(w http.ResponseWriter, detail string) {
	WriteErrorMessage(w, http.StatusNotFound, detail)
}

func WriteConflict(w http.ResponseWriter, detail string) {
	WriteErrorMessage(w, http.StatusConflict, detail)
}

// WriteServiceUnavailable is used for StoreUnavailable failures. It is never a
// denial: clients should retry.
func WriteServiceUnavailable(w http.ResponseWriter, detail string) {
	WriteErrorMessage(w, http.StatusServiceUnavailable, detail)
}

// WriteInternalError writes a 500 without leaking the underlying error
func WriteInternalError(w http.ResponseWriter) {
	WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
}
