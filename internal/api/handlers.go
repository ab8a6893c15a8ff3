package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/geb16/prodtracker/internal/domain"
)

type pairRequest struct {
	DeviceID string `json:"device_id"`
	Name     string `json:"name"`
	Token    string `json:"token,omitempty"`
}

type pairResponse struct {
	DeviceID string `json:"device_id"`
	Secret   string `json:"secret"`
}

// handlePair runs the full pairing flow in one request: begin with a
// fresh secret, then confirm via pairing token or admin credential.
func (s *Server) handlePair(w http.ResponseWriter, r *http.Request) {
	var req pairRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DeviceID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	// The credential (token or admin header) is verified before any
	// device state is created; a rejected request leaves no trace.
	var (
		secret string
		err    error
	)
	if req.Token != "" {
		secret, err = s.registry.PairWithToken(r.Context(), req.DeviceID, req.Name, req.Token)
	} else {
		if !s.admin.Check(r) {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		secret, err = s.registry.BeginPairing(r.Context(), req.DeviceID, req.Name)
		if err == nil {
			err = s.registry.ConfirmPairingAdmin(r.Context(), req.DeviceID)
		}
	}
	if err != nil {
		s.writeMapped(w, err)
		return
	}

	writeJSON(w, http.StatusOK, pairResponse{DeviceID: req.DeviceID, Secret: secret})
}

type heartbeatResponse struct {
	OK      bool   `json:"ok"`
	Verdict string `json:"verdict"`
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var hb domain.Heartbeat
	if err := json.NewDecoder(r.Body).Decode(&hb); err != nil || hb.DeviceID == "" {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	cls, err := s.pipeline.Ingest(r.Context(), hb)
	if err != nil {
		s.writeMapped(w, err)
		return
	}
	writeJSON(w, http.StatusOK, heartbeatResponse{OK: true, Verdict: string(cls.Verdict)})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("device_id")
	if deviceID == "" {
		writeError(w, http.StatusBadRequest, "device_id required")
		return
	}
	minutes, err := strconv.Atoi(r.URL.Query().Get("minutes"))
	if err != nil || minutes <= 0 {
		minutes = 60
	}

	summary, err := s.pipeline.Summary(r.Context(), deviceID, minutes)
	if err != nil {
		s.writeMapped(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleBlock(w http.ResponseWriter, r *http.Request) {
	state, err := s.blocker.Activate(r.Context(), "manual", "manual", nil)
	if err != nil {
		s.writeMapped(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleUnblock(w http.ResponseWriter, r *http.Request) {
	state, err := s.blocker.Deactivate(r.Context(), "manual", "manual")
	if err != nil {
		s.writeMapped(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

type deviceView struct {
	DeviceID string `json:"device_id"`
	Name     string `json:"name"`
	State    string `json:"state"`
	LastSeen string `json:"last_seen,omitempty"`
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.registry.List(r.Context())
	if err != nil {
		s.writeMapped(w, err)
		return
	}

	// Secrets never leave the store through this endpoint.
	views := make([]deviceView, 0, len(devices))
	for _, d := range devices {
		v := deviceView{DeviceID: d.DeviceID, Name: d.Name, State: string(d.State)}
		if !d.LastSeen.IsZero() {
			v.LastSeen = d.LastSeen.UTC().Format("2006-01-02T15:04:05Z")
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 || limit > 500 {
		limit = 50
	}
	records, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		s.writeMapped(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

type revokeRequest struct {
	DeviceID string `json:"device_id"`
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	var req revokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DeviceID == "" {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if err := s.registry.Revoke(r.Context(), req.DeviceID); err != nil {
		s.writeMapped(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

// writeMapped translates core errors into HTTP responses following the
// propagation policy: auth-class failures are indistinguishable from
// each other, transient store failures invite a retry, and blocker
// permission errors are surfaced verbatim for the operator.
func (s *Server) writeMapped(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrAuthentication),
		errors.Is(err, domain.ErrUnknownDevice),
		errors.Is(err, domain.ErrReplay):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, domain.ErrDeviceExists):
		writeError(w, http.StatusConflict, "device already exists")
	case errors.Is(err, domain.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "too many requests")
	case errors.Is(err, domain.ErrBlockerPermission):
		writeError(w, http.StatusInternalServerError, err.Error())
	case errors.Is(err, domain.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, "temporarily unavailable")
	default:
		s.logger.Error("unhandled error at boundary", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
