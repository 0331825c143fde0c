package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/FairForge/meridian/internal/region"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.startTime).String(),
	})
}

func (s *Server) handleListRegions(w http.ResponseWriter, r *http.Request) {
	regions, err := s.store.ListRegions(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	type regionView struct {
		*region.Region
		Status region.Status `json:"status"`
	}
	out := make([]regionView, 0, len(regions))
	for _, reg := range regions {
		out = append(out, regionView{Region: reg, Status: reg.Status()})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetRegion(w http.ResponseWriter, r *http.Request) {
	reg, err := s.store.GetRegion(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, struct {
		*region.Region
		Status region.Status `json:"status"`
	}{Region: reg, Status: reg.Status()})
}

func (s *Server) handleRegionChecks(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 20)
	checks, err := s.store.RecentChecks(r.Context(), mux.Vars(r)["id"], limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, checks)
}

func (s *Server) handleCheckAndTrigger(w http.ResponseWriter, r *http.Request) {
	result, err := s.orchestrator.CheckAndTriggerFailover(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	if result == nil {
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"triggered": false})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"triggered": true, "result": result})
}

func (s *Server) handleExecuteFailover(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FromRegionID string `json:"from_region_id"`
		ToRegionID   string `json:"to_region_id"`
		Reason       string `json:"reason"`
		TriggeredBy  string `json:"triggered_by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, region.Validationf("invalid request body: %v", err))
		return
	}
	if req.Reason == "" {
		req.Reason = string(region.ReasonManual)
	}
	if req.TriggeredBy == "" {
		req.TriggeredBy = "operator"
	}

	result, err := s.orchestrator.ExecuteFailover(r.Context(),
		req.FromRegionID, req.ToRegionID, region.Reason(req.Reason), req.TriggeredBy)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleFailoverStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.orchestrator.Status(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleFailoverHistory(w http.ResponseWriter, r *http.Request) {
	events, err := s.orchestrator.History(r.Context(), queryLimit(r, 50))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleScheduleFailover(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RegionID          string    `json:"region_id"`
		ScheduledTime     time.Time `json:"scheduled_time"`
		EstimatedDuration string    `json:"estimated_duration"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, region.Validationf("invalid request body: %v", err))
		return
	}
	estimated, err := time.ParseDuration(req.EstimatedDuration)
	if err != nil {
		s.writeError(w, region.Validationf("invalid estimated_duration: %v", err))
		return
	}

	result, err := s.orchestrator.ScheduleMaintenanceFailover(r.Context(),
		req.RegionID, req.ScheduledTime, estimated)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRollbackFailover(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, region.Validationf("invalid event id: %v", err))
		return
	}
	result, err := s.orchestrator.RollbackFailover(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCancelFailover(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, region.Validationf("invalid event id: %v", err))
		return
	}
	cancelled, err := s.orchestrator.CancelFailover(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", zap.Error(err))
	}
}

// writeError maps the error taxonomy onto HTTP statuses: validation 400,
// conflict 409, external service 502, everything else 500.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	kind := "internal"

	var validation *region.ValidationError
	var conflict *region.ConflictError
	var external *region.ExternalServiceError
	switch {
	case errors.As(err, &validation):
		status, kind = http.StatusBadRequest, "validation"
	case errors.As(err, &conflict):
		status, kind = http.StatusConflict, "conflict"
	case errors.As(err, &external):
		status, kind = http.StatusBadGateway, "external_service"
	}

	if status >= 500 {
		s.logger.Error("request failed", zap.Error(err))
	}
	s.writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"kind":  kind,
	})
}

func queryLimit(r *http.Request, def int) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
