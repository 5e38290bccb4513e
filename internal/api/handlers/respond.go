// Package handlers provides HTTP handlers for the clinic API.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/drfirst/go-dispensary/internal/api/middleware"
	"github.com/drfirst/go-dispensary/internal/domain"
)

const maxBodyBytes = 1 << 20

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decode(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return domain.Invalid("", "request body is required")
		}
		return domain.Invalid("", "invalid request body: %v", err)
	}
	return nil
}

// errorMapping decides how a domain error is reported. notFound overrides
// the status for missing references, which some endpoints treat as bad input.
type errorMapping struct {
	notFound int
}

var defaultMapping = errorMapping{notFound: http.StatusNotFound}

// writeError maps the domain error taxonomy to a status and code. Storage
// failures are logged with detail and reported generically.
func writeError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	defaultMapping.write(w, r, logger, err)
}

func (m errorMapping) write(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	var (
		notFound     *domain.NotFoundError
		insufficient *domain.InsufficientStockError
		invalid      *domain.ValidationError
		conflict     *domain.ConflictError
	)

	switch {
	case errors.As(err, &invalid):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: invalid.Error(), Code: "validation"})
	case errors.As(err, &insufficient):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: insufficient.Error(), Code: "insufficient_stock"})
	case errors.As(err, &notFound):
		writeJSON(w, m.notFound, ErrorResponse{Error: notFound.Error(), Code: "not_found"})
	case errors.Is(err, domain.ErrAlreadyDispensed):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: domain.ErrAlreadyDispensed.Error(), Code: "already_dispensed"})
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: conflict.Error(), Code: "conflict"})
	case errors.Is(err, domain.ErrUnauthorized):
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "invalid username or password", Code: "unauthorized"})
	default:
		logger.Error("request failed",
			zap.Error(err),
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetRequestID(r.Context())),
		)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error: "internal error, the operation was not applied",
			Code:  "internal",
		})
	}
}

// actorFrom returns the authenticated caller. Routes are mounted behind
// Authenticate, so a missing actor is a wiring bug.
func actorFrom(r *http.Request) (domain.Actor, error) {
	actor, ok := middleware.GetActor(r.Context())
	if !ok {
		return domain.Actor{}, fmt.Errorf("no authenticated actor on %s", r.URL.Path)
	}
	return actor, nil
}

func orNop(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

// listOf keeps empty collections encoding as [] rather than null
func listOf[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
