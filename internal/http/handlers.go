package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/example/roadside-dispatch/internal/apperr"
	"github.com/example/roadside-dispatch/internal/auth"
	"github.com/example/roadside-dispatch/internal/geo"
	"github.com/example/roadside-dispatch/internal/lifecycle"
	"github.com/example/roadside-dispatch/internal/models"
	"github.com/example/roadside-dispatch/internal/observability"
	"github.com/example/roadside-dispatch/internal/storage"
)

type errorBody struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func statusFor(err error) int {
	switch {
	case apperr.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, auth.ErrBadSecret):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := errorBody{Error: http.StatusText(status), Details: err.Error()}
	switch status {
	case http.StatusConflict:
		body.Error = "status changed concurrently, reload and retry"
	case http.StatusInternalServerError:
		s.logger.Error("request failed", "path", r.URL.Path, "request_id", requestIDFromContext(r.Context()), "error", err)
		body.Details = "please try again"
	}
	writeJSON(w, status, body)
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperr.Invalid("body", err.Error())
	}
	return nil
}

type createdResponse struct {
	AssignmentID string        `json:"assignmentId"`
	HelpID       string        `json:"helpId"`
	HelpCode     string        `json:"helpCode"`
	Status       models.Status `json:"status"`
	CreatedAt    time.Time     `json:"createdAt"`
}

func (s *Server) handleCreateAssignment(w http.ResponseWriter, r *http.Request) {
	var req lifecycle.CreateRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	a, err := s.Lifecycle.Create(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, createdResponse{
		AssignmentID: a.ID,
		HelpID:       a.HelpID,
		HelpCode:     a.HelpCode,
		Status:       a.Status,
		CreatedAt:    a.CreatedAt,
	})
}

func (s *Server) handleListAssignments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := storage.ListFilter{HelpID: strings.TrimSpace(q.Get("helpId")), DriverID: strings.TrimSpace(q.Get("driverId"))}
	if v := q.Get("status"); v != "" {
		st, err := models.ParseStatus(v)
		if err != nil {
			s.writeError(w, r, apperr.Invalid("status", err.Error()))
			return
		}
		f.Status = st
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, r, apperr.Invalid("limit", "must be a non-negative integer"))
			return
		}
		f.Limit = n
	}
	views, err := s.Lifecycle.List(r.Context(), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetAssignment(w http.ResponseWriter, r *http.Request) {
	v, err := s.Lifecycle.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type updateRequest struct {
	Status         *models.Status `json:"status"`
	ExpectedStatus *models.Status `json:"expectedStatus"`
	UserPhone      *string        `json:"userPhone"`
	Notes          *string        `json:"notes"`
}

func (s *Server) handleUpdateAssignment(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req updateRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Status == nil && req.UserPhone == nil && req.Notes == nil {
		s.writeError(w, r, apperr.Invalid("body", "nothing to update"))
		return
	}
	ctx := r.Context()
	// status first: a rejected or lost transition leaves the details untouched
	if req.Status != nil {
		next, err := models.ParseStatus(string(*req.Status))
		if err != nil {
			s.writeError(w, r, apperr.Invalid("status", err.Error()))
			return
		}
		if _, err := s.Lifecycle.Transition(ctx, id, req.ExpectedStatus, next); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	if req.UserPhone != nil || req.Notes != nil {
		if _, err := s.Lifecycle.UpdateDetails(ctx, id, req.UserPhone, req.Notes); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	v, err := s.Lifecycle.Get(ctx, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleDeleteAssignment(w http.ResponseWriter, r *http.Request) {
	if err := s.Lifecycle.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListDrivers ranks the roster around lat/lon for customers. Without
// coordinates it returns the raw roster, which is admin only.
func (s *Server) handleListDrivers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ctx := r.Context()
	if q.Get("lat") == "" && q.Get("lon") == "" {
		if !s.isAdmin(r) {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized"})
			return
		}
		drivers, err := s.Drivers.List(ctx, q.Get("includeArchived") == "true")
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, drivers)
		return
	}

	lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
	lon, errLon := strconv.ParseFloat(q.Get("lon"), 64)
	user := models.Coord{Lat: lat, Lon: lon}
	if errLat != nil || errLon != nil || !geo.ValidCoord(user) {
		s.writeError(w, r, apperr.Invalid("lat/lon", "coordinates missing or out of range"))
		return
	}
	var radius float64
	if v := q.Get("radiusKm"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			s.writeError(w, r, apperr.Invalid("radiusKm", "must be a positive number"))
			return
		}
		radius = f
	}

	roster, err := s.Drivers.List(ctx, false)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	online := 0
	for _, d := range roster {
		if d.ManuallyOnline {
			online++
		}
	}
	observability.DriversOnline.Set(float64(online))

	ranked := s.Ranker.Rank(ctx, user, roster, radius)
	writeJSON(w, http.StatusOK, ranked)
}

func (s *Server) handleUpsertDriver(w http.ResponseWriter, r *http.Request) {
	var d models.Driver
	if err := decodeBody(r, &d); err != nil {
		s.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(d.ID) == "" {
		s.writeError(w, r, apperr.Invalid("id", "required"))
		return
	}
	if (d.Loc != models.Coord{}) && !geo.ValidCoord(d.Loc) {
		s.writeError(w, r, apperr.Invalid("loc", "coordinates out of range"))
		return
	}
	if d.Rating < 0 || d.Rating > 5 {
		s.writeError(w, r, apperr.Invalid("rating", "must be between 0 and 5"))
		return
	}
	saved, err := s.Drivers.Upsert(r.Context(), d)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleSetOnline(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Online *bool `json:"online"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	if body.Online == nil {
		s.writeError(w, r, apperr.Invalid("online", "required"))
		return
	}
	id := mux.Vars(r)["id"]
	if err := s.Drivers.SetOnline(r.Context(), id, *body.Online); err != nil {
		s.writeError(w, r, err)
		return
	}
	d, err := s.Drivers.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Secret string `json:"secret"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	token, exp, err := s.Sessions.Login(body.Secret)
	if err != nil {
		s.logger.Warn("admin login failed", "remote_addr", s.clientIP(r))
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "expiresAt": exp})
}
