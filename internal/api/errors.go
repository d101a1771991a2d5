package api

import (
	"context"
	"errors"
	"net/http"

	domain "github.com/ahrav/scan-acquisition/internal/domain/acquisition"
)

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Error string           `json:"error"`
	Kind  domain.ErrorKind `json:"kind,omitempty"`
}

var kindStatus = map[domain.ErrorKind]int{
	domain.KindNoDevice:            http.StatusNotFound,
	domain.KindConnectionLost:      http.StatusServiceUnavailable,
	domain.KindHardwareUnavailable: http.StatusServiceUnavailable,
	domain.KindPropertyRejected:    http.StatusUnprocessableEntity,
	domain.KindTransferFailed:      http.StatusBadGateway,
	domain.KindInvalidArgument:     http.StatusBadRequest,
}

// statusFor maps a service error onto an HTTP status and error kind.
func statusFor(err error) (int, domain.ErrorKind) {
	if kind, ok := domain.KindOf(err); ok {
		if status, ok := kindStatus[kind]; ok {
			return status, kind
		}
	}

	switch {
	case errors.Is(err, domain.ErrHardwareUnavailable):
		return http.StatusServiceUnavailable, domain.KindHardwareUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// The caller gave up waiting for the device.
		return http.StatusServiceUnavailable, ""
	default:
		return http.StatusInternalServerError, ""
	}
}

func (s *Server) writeAcquisitionError(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := statusFor(err)
	s.writeError(w, r, status, kind, err)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, kind domain.ErrorKind, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Error(r.Context(), "API: request failed", "status", status, "kind", kind, "error", err)
	} else {
		s.logger.Warn(r.Context(), "API: request rejected", "status", status, "kind", kind, "error", err)
	}
	s.writeJSON(w, r, status, errorResponse{Error: err.Error(), Kind: kind})
}
