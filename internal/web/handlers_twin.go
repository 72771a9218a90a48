package web

import (
	"net/http"

	"device-console/internal/console"
	"device-console/internal/location"
	"device-console/internal/remote"
)

type selectionRequest struct {
	SiteID      int    `json:"site_id"`
	FloorID     int    `json:"floor_id"`
	RoomID      int    `json:"room_id"`
	Model       string `json:"model"`
	CurrentName string `json:"current_name"`
}

func (req selectionRequest) selection() location.Selection {
	return location.Selection{SiteID: req.SiteID, FloorID: req.FloorID, RoomID: req.RoomID}
}

func (s *Server) handleAPISelection(w http.ResponseWriter, r *http.Request) {
	var req selectionRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	view, err := s.console.Select(req.selection(), req.Model, req.CurrentName)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleAPIDeviceTypes(w http.ResponseWriter, r *http.Request) {
	types, err := s.console.DeviceTypes(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if types == nil {
		types = []remote.DeviceType{}
	}
	s.writeJSON(w, http.StatusOK, types)
}

func (s *Server) handleAPICategories(w http.ResponseWriter, r *http.Request) {
	cats, err := s.console.Categories(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if cats == nil {
		cats = []string{}
	}
	s.writeJSON(w, http.StatusOK, cats)
}

func (s *Server) handleAPIOrphans(w http.ResponseWriter, r *http.Request) {
	orphans, err := s.console.Orphans(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if orphans == nil {
		orphans = []remote.Orphan{}
	}
	s.writeJSON(w, http.StatusOK, orphans)
}

type twinRequest struct {
	DeviceID     string        `json:"device_id"`
	DeviceTypeID remote.FlexID `json:"device_type_id"`
	Name         string        `json:"name"`
	SiteID       int           `json:"site_id"`
	FloorID      int           `json:"floor_id"`
	RoomID       int           `json:"room_id"`
}

func (s *Server) handleAPITwin(w http.ResponseWriter, r *http.Request) {
	var req twinRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	res, err := s.console.Twin(r.Context(), console.TwinInput{
		DeviceID:     req.DeviceID,
		DeviceTypeID: string(req.DeviceTypeID),
		Name:         req.Name,
		Selection:    location.Selection{SiteID: req.SiteID, FloorID: req.FloorID, RoomID: req.RoomID},
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}
