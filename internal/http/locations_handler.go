package httpapi

import (
	"net/http"
	"time"

	"fieldops/common/errors"
	"fieldops/internal/service"

	"go.uber.org/zap"
)

// LocationsHandler /team-locations
type LocationsHandler struct {
	auth      *Authenticator
	locations *service.LocationService
	logger    *zap.Logger
}

// NewLocationsHandler 创建定位 Handler
func NewLocationsHandler(auth *Authenticator, locations *service.LocationService, logger *zap.Logger) *LocationsHandler {
	return &LocationsHandler{auth: auth, locations: locations, logger: logger}
}

// ServeHTTP 路由分发
func (h *LocationsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/team-locations", "/team-locations/":
		switch r.Method {
		case http.MethodPost:
			h.RecordLocation(w, r)
		case http.MethodGet:
			h.GetLocations(w, r)
		case http.MethodDelete:
			h.DeleteHistory(w, r)
		default:
			methodNotAllowed(w)
		}
	case "/team-locations/history":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		h.ListHistory(w, r)
	default:
		notFound(w)
	}
}

// RecordLocation POST /team-locations
func (h *LocationsHandler) RecordLocation(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.auth.Actor(w, r)
	if !ok {
		return
	}
	var req service.RecordLocationRequest
	if err := readBodyJSON(r, maxJSONBody, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	req.Actor = actor
	req.Source = service.LocationSourceHTTP

	loc, err := h.locations.RecordLocation(r.Context(), req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"location": loc})
}

// GetLocations GET /team-locations?teamMemberId= | ?companyId=
func (h *LocationsHandler) GetLocations(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.auth.Actor(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	if tm := q.Get("teamMemberId"); tm != "" {
		loc, err := h.locations.GetLatestLocation(r.Context(), actor, tm)
		if err != nil {
			writeError(w, r, h.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"location": loc})
		return
	}
	if company := q.Get("companyId"); company != "" {
		locs, err := h.locations.GetCompanyLocations(r.Context(), actor, company)
		if err != nil {
			writeError(w, r, h.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"locations": locs})
		return
	}
	writeError(w, r, h.logger, errors.Validationf("teamMemberId or companyId is required"))
}

// DeleteHistory DELETE /team-locations?teamMemberId=
func (h *LocationsHandler) DeleteHistory(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.auth.Actor(w, r)
	if !ok {
		return
	}
	n, err := h.locations.DeleteHistory(r.Context(), actor, r.URL.Query().Get("teamMemberId"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "deleted": n})
}

// ListHistory GET /team-locations/history?teamMemberId=&since=&limit=
func (h *LocationsHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.auth.Actor(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	limit, err := parseInt(q.Get("limit"), 0)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	req := service.ListHistoryRequest{Actor: actor, TeamMemberID: q.Get("teamMemberId"), Limit: limit}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, r, h.logger, errors.Validationf("invalid since %q, expected RFC3339", v))
			return
		}
		req.Since = &since
	}

	locs, err := h.locations.ListHistory(r.Context(), req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"locations": locs})
}
