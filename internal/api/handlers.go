package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ahrav/scan-acquisition/internal/app/acquisition"
	"github.com/ahrav/scan-acquisition/internal/config"
	domain "github.com/ahrav/scan-acquisition/internal/domain/acquisition"
)

// HeaderAcquisitionID carries the id of the acquisition that produced a response.
const HeaderAcquisitionID = "X-Acquisition-ID"

// maxRequestBody bounds the JSON body of an acquisition request.
const maxRequestBody = 64 << 10

type healthResponse struct {
	Status string `json:"status"`
	Build  string `json:"build"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, healthResponse{Status: "ok", Build: s.build})
}

type readyResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, readyResponse{Status: "ready"})
}

type profilesResponse struct {
	Profiles map[string]config.ScanSettings `json:"profiles"`
}

func (s *Server) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, profilesResponse{Profiles: s.profiles})
}

type scannersResponse struct {
	Scanners []domain.DeviceDescriptor `json:"scanners"`
}

func (s *Server) handleListScanners(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil && !s.limiter.Allow() {
		if s.metrics != nil {
			s.metrics.IncRateLimited("/v1/scanners")
		}
		w.Header().Set("Retry-After", "1")
		s.writeError(w, r, http.StatusTooManyRequests, "", errors.New("device enumeration rate limit exceeded"))
		return
	}

	devices, err := s.service.Devices(r.Context())
	if err != nil {
		s.writeAcquisitionError(w, r, err)
		return
	}

	s.writeJSON(w, r, http.StatusOK, scannersResponse{Scanners: devices})
}

// acquireRequest is the body of an acquisition request. Every field is optional;
// missing fields come from the named profile and then from the defaults.
type acquireRequest struct {
	config.ScanSettings
	Profile string `json:"profile,omitempty"`
}

func (s *Server) handleAcquire(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	deviceID := chi.URLParam(r, "deviceID")

	var req acquireRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, r, http.StatusBadRequest, domain.KindInvalidArgument, fmt.Errorf("decoding request: %w", err))
		return
	}

	if err := s.validate.Struct(req.ScanSettings); err != nil {
		s.writeError(w, r, http.StatusBadRequest, domain.KindInvalidArgument, err)
		return
	}

	cfg, err := s.profiles.Resolve(req.Profile, req.ScanSettings)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, domain.KindInvalidArgument, err)
		return
	}

	acquisitionID := uuid.New().String()
	w.Header().Set(HeaderAcquisitionID, acquisitionID)

	data, err := s.service.Acquire(acquisition.WithAcquisitionID(ctx, acquisitionID), deviceID, cfg)
	if err != nil {
		s.writeAcquisitionError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", cfg.ImageFormat.MIMEType())
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Content-Disposition", fmt.Sprintf(`inline; filename="%s%s"`, acquisitionID, cfg.ImageFormat.Extension()))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.logger.Warn(ctx, "API: failed to write image", "acquisition_id", acquisitionID, "error", err)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error(r.Context(), "API: failed to encode response", "error", err)
	}
}
