package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"movt.app/backend/internal/core"
	"movt.app/backend/internal/store"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

const (
	codeUnauthorized = "UNAUTHORIZED"
	codeInvalidBody  = "INVALID_BODY"
	codeEmailTaken   = "EMAIL_TAKEN"
)

var kindStatus = map[core.Kind]struct {
	status int
	title  string
}{
	core.KindMissingField:          {http.StatusBadRequest, "Missing required field"},
	core.KindInvalidInput:          {http.StatusBadRequest, "Invalid input"},
	core.KindEmptyMessage:          {http.StatusBadRequest, "Empty message"},
	core.KindNotEligible:           {http.StatusBadRequest, "Not eligible"},
	core.KindNotFound:              {http.StatusNotFound, "Not found"},
	core.KindIdentityNotFound:      {http.StatusNotFound, "Identity not found"},
	core.KindForbidden:             {http.StatusForbidden, "Forbidden"},
	core.KindNoAvailabilityThisDay: {http.StatusConflict, "No availability on this day"},
	core.KindOutsideAvailability:   {http.StatusConflict, "Outside availability"},
	core.KindSlotConflict:          {http.StatusConflict, "Slot conflict"},
	core.KindAlreadyRated:          {http.StatusConflict, "Already rated"},
	core.KindUpstream:              {http.StatusServiceUnavailable, "Service unavailable"},
	core.KindInternal:              {http.StatusInternalServerError, "Internal server error"},
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func writeErrorResponse(w http.ResponseWriter, status int, code, title, message string, details any) {
	writeJSON(w, status, ErrorResponse{Error: title, Message: message, Code: code, Details: details})
}

// writeError maps a service error to its HTTP status. Untyped errors are
// internal; their text is surfaced to the caller.
func writeError(w http.ResponseWriter, err error) {
	var typed *core.Error
	if !errors.As(err, &typed) {
		typed = &core.Error{Kind: core.KindInternal, Message: "internal error", Err: err}
	}
	mapping, ok := kindStatus[typed.Kind]
	if !ok {
		mapping = kindStatus[core.KindInternal]
	}

	message := typed.Message
	switch typed.Kind {
	case core.KindInternal:
		log.Printf("Internal error: %v", err)
		message = err.Error()
	case core.KindUpstream:
		log.Printf("Upstream unavailable: %v", err)
	}

	var details any
	if len(typed.Details) > 0 {
		details = typed.Details
	}
	writeErrorResponse(w, mapping.status, string(typed.Kind), mapping.title, message, details)
}

// storeFailure classifies a store error raised outside the core services:
// Upstream when the database is unreachable, Internal otherwise.
func storeFailure(op string, err error) error {
	if store.IsUnavailable(err) {
		return &core.Error{Kind: core.KindUpstream, Message: core.ErrUpstream.Message, Err: fmt.Errorf("%s: %w", op, err)}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeErrorResponse(w, http.StatusUnauthorized, codeUnauthorized, "Unauthorized", message, nil)
}

func writeInvalidBody(w http.ResponseWriter, err error) {
	writeErrorResponse(w, http.StatusBadRequest, codeInvalidBody, "Invalid request body", err.Error(), nil)
}
