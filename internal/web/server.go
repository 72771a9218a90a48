package web

import (
	"bytes"
	"crypto/subtle"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"device-console/internal/console"
	"device-console/internal/location"
	"device-console/internal/metrics"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

// ServerOption configures the web server.
type ServerOption func(*Server)

// WithAPIKey enables API key authentication.
func WithAPIKey(key string) ServerOption {
	return func(s *Server) {
		s.apiKey = key
	}
}

// WithAllowedOrigins sets allowed CORS and WebSocket origin patterns.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// WithVersion sets the application version string shown in the UI.
func WithVersion(v string) ServerOption {
	return func(s *Server) {
		s.version = v
	}
}

// WithMetrics exposes rec on GET /metrics.
func WithMetrics(rec *metrics.Recorder) ServerOption {
	return func(s *Server) {
		s.metrics = rec
	}
}

// Server is the HTTP server for the location and twinning pages.
type Server struct {
	console        *console.Console
	templates      map[string]*template.Template
	wsHub          *WSHub
	logger         *slog.Logger
	mux            *http.ServeMux
	apiKey         string
	allowedOrigins []string
	metrics        *metrics.Recorder
	version        string
	wg             sync.WaitGroup
	unsubEvents    func()
}

// SiteView is a site as rendered by the pages and the locations API.
type SiteView struct {
	ID          int         `json:"id"`
	Name        string      `json:"name"`
	Icon        string      `json:"icon,omitempty"`
	DisplayName string      `json:"display_name"`
	Description string      `json:"description,omitempty"`
	Floors      []FloorView `json:"floors"`
}

// FloorView is a floor as rendered by the pages and the locations API.
type FloorView struct {
	ID          int        `json:"id"`
	Name        string     `json:"name"`
	Icon        string     `json:"icon,omitempty"`
	DisplayName string     `json:"display_name"`
	Description string     `json:"description,omitempty"`
	Rooms       []RoomView `json:"rooms"`
}

// RoomView is a room as rendered by the pages and the locations API.
type RoomView struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Icon        string `json:"icon,omitempty"`
	DisplayName string `json:"display_name"`
	Description string `json:"description,omitempty"`
}

// NodeView is a single location returned after a write.
type NodeView struct {
	Kind        location.Kind `json:"kind"`
	ID          int           `json:"id"`
	ParentID    int           `json:"parent_id,omitempty"`
	Name        string        `json:"name"`
	Icon        string        `json:"icon,omitempty"`
	DisplayName string        `json:"display_name"`
	Description string        `json:"description,omitempty"`
}

// NewServer creates a new web server.
func NewServer(con *console.Console, logger *slog.Logger, opts ...ServerOption) (*Server, error) {
	// Each page gets its own clone of the layout so their {{define "content"}} blocks don't collide.
	base, err := template.ParseFS(templateFS, "templates/layout.html")
	if err != nil {
		return nil, fmt.Errorf("parse layout: %w", err)
	}
	pages := []string{"twin.html", "locations.html"}
	tmpl := make(map[string]*template.Template, len(pages))
	for _, page := range pages {
		cloned, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("clone layout for %s: %w", page, err)
		}
		t, err := cloned.ParseFS(templateFS, "templates/"+page)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", page, err)
		}
		tmpl[page] = t
	}

	s := &Server{
		console:   con,
		templates: tmpl,
		logger:    logger.With("component", "web"),
		mux:       http.NewServeMux(),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.wsHub = NewWSHub(s.logger)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.wsHub.Run()
	}()

	// Forward every console event to open pages.
	s.unsubEvents = con.Events().OnAll(func(event console.Event) {
		s.wsHub.Broadcast(event)
	})

	s.routes()
	return s, nil
}

// Stop gracefully shuts down the WebSocket hub and waits for goroutines.
func (s *Server) Stop() {
	if s.unsubEvents != nil {
		s.unsubEvents()
	}
	s.wsHub.Stop()
	s.wg.Wait()
}

func (s *Server) routes() {
	s.mux.Handle("GET /static/", http.FileServer(http.FS(staticFS)))

	// HTML pages
	s.mux.HandleFunc("GET /{$}", s.handleTwinPage)
	s.mux.HandleFunc("GET /locations", s.handleLocationsPage)

	// Locations
	s.mux.HandleFunc("GET /api/locations", s.handleAPIListLocations)
	s.mux.HandleFunc("POST /api/locations/reload", s.handleAPIReload)
	s.mux.HandleFunc("POST /api/sites", s.handleAPICreateSite)
	s.mux.HandleFunc("POST /api/sites/{id}/floors", s.handleAPICreateFloor)
	s.mux.HandleFunc("POST /api/floors/{id}/rooms", s.handleAPICreateRoom)
	s.mux.HandleFunc("PUT /api/locations/{kind}/{id}", s.handleAPIUpdateLocation)
	s.mux.HandleFunc("DELETE /api/locations/{kind}/{id}", s.handleAPIDeleteLocation)

	// Twinning
	s.mux.HandleFunc("POST /api/selection", s.handleAPISelection)
	s.mux.HandleFunc("GET /api/device-types", s.handleAPIDeviceTypes)
	s.mux.HandleFunc("GET /api/categories", s.handleAPICategories)
	s.mux.HandleFunc("GET /api/orphans", s.handleAPIOrphans)
	s.mux.HandleFunc("POST /api/twin", s.handleAPITwin)

	s.mux.HandleFunc("GET /api/version", s.handleAPIVersion)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}

	s.mux.HandleFunc("GET /ws", s.handleWS)
}

// ServeHTTP implements http.Handler, applying auth and CORS middleware.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// CORS: check Origin on mutating requests to prevent CSRF.
	if len(s.allowedOrigins) > 0 {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if r.Method == http.MethodOptions {
				if s.isOriginAllowed(origin) {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
					w.Header().Set("Access-Control-Max-Age", "3600")
					w.WriteHeader(http.StatusNoContent)
					return
				}
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			if r.Method != http.MethodGet {
				if !s.isOriginAllowed(origin) {
					http.Error(w, "Forbidden", http.StatusForbidden)
					return
				}
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}
		}
	}

	// Pages, static files, metrics and the WebSocket stay open: browsers cannot
	// send custom headers on navigation or WS upgrade.
	if s.apiKey != "" && strings.HasPrefix(r.URL.Path, "/api/") {
		key := r.Header.Get("X-API-Key")
		if subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) != 1 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
	}
	s.mux.ServeHTTP(w, r)
}

func (s *Server) isOriginAllowed(origin string) bool {
	for _, allowed := range s.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// Page handlers

func (s *Server) handleTwinPage(w http.ResponseWriter, r *http.Request) {
	sites := siteViews(s.console.Tree())
	s.renderTemplate(w, "twin.html", map[string]any{
		"PageTitle": "Twin devices",
		"Sites":     sites,
	})
}

func (s *Server) handleLocationsPage(w http.ResponseWriter, r *http.Request) {
	sites := siteViews(s.console.Tree())
	nodes := 0
	for _, site := range sites {
		nodes++
		for _, f := range site.Floors {
			nodes += 1 + len(f.Rooms)
		}
	}
	s.renderTemplate(w, "locations.html", map[string]any{
		"PageTitle": "Locations",
		"Sites":     sites,
		"NodeCount": nodes,
	})
}

func (s *Server) handleAPIVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

// renderTemplate renders to a buffer first, so partial write failures don't corrupt the response.
func (s *Server) renderTemplate(w http.ResponseWriter, name string, data any) {
	t, ok := s.templates[name]
	if !ok {
		s.logger.Error("template not found", "name", name)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if m, ok := data.(map[string]any); ok {
		m["Version"] = s.version
		if s.apiKey != "" {
			m["APIKey"] = s.apiKey
		}
	}
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, name, data); err != nil {
		s.logger.Error("render template", "name", name, "err", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := w.Write(buf.Bytes()); err != nil {
		s.logger.Debug("write template response", "name", name, "err", err)
	}
}

func siteViews(records []location.SiteRecord) []SiteView {
	sites := make([]SiteView, 0, len(records))
	for _, sr := range records {
		sv := SiteView{
			ID:          sr.ID,
			Name:        sr.Label.Name,
			Icon:        sr.Label.Icon,
			DisplayName: sr.Label.Display(),
			Description: sr.Description,
			Floors:      make([]FloorView, 0, len(sr.Floors)),
		}
		for _, fr := range sr.Floors {
			fv := FloorView{
				ID:          fr.ID,
				Name:        fr.Label.Name,
				Icon:        fr.Label.Icon,
				DisplayName: fr.Label.Display(),
				Description: fr.Description,
				Rooms:       make([]RoomView, 0, len(fr.Rooms)),
			}
			for _, rr := range fr.Rooms {
				fv.Rooms = append(fv.Rooms, RoomView{
					ID:          rr.ID,
					Name:        rr.Label.Name,
					Icon:        rr.Label.Icon,
					DisplayName: rr.Label.Display(),
					Description: rr.Description,
				})
			}
			sv.Floors = append(sv.Floors, fv)
		}
		sites = append(sites, sv)
	}
	return sites
}

func nodeView(rec location.NodeRecord) NodeView {
	return NodeView{
		Kind:        rec.Kind,
		ID:          rec.ID,
		ParentID:    rec.ParentID,
		Name:        rec.Label.Name,
		Icon:        rec.Label.Icon,
		DisplayName: rec.Label.Display(),
		Description: rec.Description,
	}
}
