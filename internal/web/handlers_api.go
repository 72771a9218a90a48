package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"device-console/internal/console"
	"device-console/internal/location"
	"device-console/internal/remote"
)

type locationRequest struct {
	Name        string `json:"name"`
	Icon        string `json:"icon"`
	Description string `json:"description"`
}

// label prefers the separate icon field; without one, a leading icon in name is split off.
func (req locationRequest) label() location.Label {
	if req.Icon == "" {
		return location.ParseLabel(req.Name)
	}
	return location.NewLabel(req.Icon, req.Name)
}

func (s *Server) handleAPIListLocations(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, siteViews(s.console.Tree()))
}

func (s *Server) handleAPIReload(w http.ResponseWriter, r *http.Request) {
	if err := s.console.Reload(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, siteViews(s.console.Tree()))
}

func (s *Server) handleAPICreateSite(w http.ResponseWriter, r *http.Request) {
	s.createLocation(w, r, location.KindSite, 0)
}

func (s *Server) handleAPICreateFloor(w http.ResponseWriter, r *http.Request) {
	siteID, ok := s.pathID(w, r)
	if !ok {
		return
	}
	s.createLocation(w, r, location.KindFloor, siteID)
}

func (s *Server) handleAPICreateRoom(w http.ResponseWriter, r *http.Request) {
	floorID, ok := s.pathID(w, r)
	if !ok {
		return
	}
	s.createLocation(w, r, location.KindRoom, floorID)
}

func (s *Server) createLocation(w http.ResponseWriter, r *http.Request, kind location.Kind, parentID int) {
	var req locationRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	rec, err := s.console.Create(r.Context(), kind, parentID, req.label(), req.Description)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, nodeView(rec))
}

func (s *Server) handleAPIUpdateLocation(w http.ResponseWriter, r *http.Request) {
	kind, id, ok := s.pathKindID(w, r)
	if !ok {
		return
	}
	var req locationRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	rec, err := s.console.Update(r.Context(), kind, id, req.label(), req.Description)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, nodeView(rec))
}

func (s *Server) handleAPIDeleteLocation(w http.ResponseWriter, r *http.Request) {
	kind, id, ok := s.pathKindID(w, r)
	if !ok {
		return
	}
	if err := s.console.Delete(r.Context(), kind, id); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) pathID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || id <= 0 {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

func (s *Server) pathKindID(w http.ResponseWriter, r *http.Request) (location.Kind, int, bool) {
	kind, err := location.ParseKind(r.PathValue("kind"))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return "", 0, false
	}
	id, ok := s.pathID(w, r)
	return kind, id, ok
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return false
	}
	return true
}

// writeError maps console, location and remote errors onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var re *remote.RemoteError
	switch {
	case errors.Is(err, location.ErrNotFound):
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, location.ErrInvalidSelection), errors.Is(err, remote.ErrTwinRejected):
		s.writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	case errors.Is(err, location.ErrEmptyName), errors.Is(err, location.ErrInvalidIcon),
		errors.Is(err, console.ErrInvalidInput):
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.As(err, &re):
		msg := re.Detail()
		if msg == "" {
			msg = http.StatusText(re.Status)
		}
		s.writeJSON(w, http.StatusBadGateway, map[string]any{"error": msg, "remote_status": re.Status})
	case errors.Is(err, remote.ErrUnavailable), errors.Is(err, location.ErrLoad):
		s.writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
	default:
		s.logger.Error("request failed", "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("writeJSON encode failed", "err", err)
	}
}
