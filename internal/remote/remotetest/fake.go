// Package remotetest provides an in-memory device/location API for tests.
package remotetest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"sync"
)

// Node is one stored location. In the embedded shape Name carries the icon.
type Node struct {
	Kind        string
	ID          int
	Parent      int
	Name        string
	Icon        string
	Description string
}

// Server is a fake remote API speaking either the "embedded" or the "flat" shape.
type Server struct {
	*httptest.Server

	mu          sync.Mutex
	flat        bool
	nodes       []*Node
	nextID      int
	deviceTypes []map[string]any
	orphans     []map[string]any
	twins       []map[string]any
	requests    []string
	requestIDs  []string
	failStatus  int
	failBody    string
	rawLocs     *string
}

// NewServer starts a fake API. shape is "embedded" or "flat". The server is
// closed when the test ends.
func NewServer(t interface{ Cleanup(func()) }, shape string) *Server {
	s := &Server{flat: shape == "flat", nextID: 1}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /locations", s.listLocations)
	mux.HandleFunc("POST /locations", s.create("site"))
	mux.HandleFunc("PUT /locations/{id}", s.update("site"))
	mux.HandleFunc("DELETE /locations/{id}", s.remove("site"))
	mux.HandleFunc("POST /locations/{id}/floors", s.create("floor"))
	mux.HandleFunc("PUT /floors/{id}", s.update("floor"))
	mux.HandleFunc("DELETE /floors/{id}", s.remove("floor"))
	mux.HandleFunc("POST /floors/{id}/rooms", s.create("room"))
	mux.HandleFunc("PUT /rooms/{id}", s.update("room"))
	mux.HandleFunc("DELETE /rooms/{id}", s.remove("room"))
	mux.HandleFunc("GET /device-types", s.listDeviceTypes)
	mux.HandleFunc("GET /orphans", s.listOrphans)
	mux.HandleFunc("POST /twin-device", s.twin)

	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, r.Method+" "+r.URL.Path)
		s.requestIDs = append(s.requestIDs, r.Header.Get("X-Request-ID"))
		status, body := s.failStatus, s.failBody
		s.failStatus, s.failBody = 0, ""
		s.mu.Unlock()
		if status != 0 {
			w.WriteHeader(status)
			w.Write([]byte(body))
			return
		}
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(s.Close)
	return s
}

// Add stores a node and returns its id. Ids share one counter across kinds.
func (s *Server) Add(kind string, parent int, name, icon, description string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLocked(kind, parent, name, icon, description)
}

func (s *Server) addLocked(kind string, parent int, name, icon, description string) int {
	id := s.nextID
	s.nextID++
	s.nodes = append(s.nodes, &Node{Kind: kind, ID: id, Parent: parent, Name: name, Icon: icon, Description: description})
	return id
}

// SetDeviceTypes replaces the device-type catalog.
func (s *Server) SetDeviceTypes(types ...map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deviceTypes = types
}

// SetOrphans replaces the orphan list. Each orphan needs a device_id or deveui.
func (s *Server) SetOrphans(orphans ...map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orphans = orphans
}

// FailNext makes the next request answer with status and body.
func (s *Server) FailNext(status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failStatus, s.failBody = status, body
}

// SetRawLocations makes GET /locations return body verbatim.
func (s *Server) SetRawLocations(body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rawLocs = &body
}

// Node returns a copy of the stored node, or nil.
func (s *Server) Node(kind string, id int) *Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := s.find(kind, id); n != nil {
		cp := *n
		return &cp
	}
	return nil
}

// Count returns the number of stored nodes.
func (s *Server) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.nodes)
}

// Requests returns "METHOD /path" for every request received.
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.requests)
}

// RequestIDs returns the X-Request-ID header of every request received.
func (s *Server) RequestIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.requestIDs)
}

// Twins returns the bodies of accepted twin requests.
func (s *Server) Twins() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.twins)
}

func (s *Server) find(kind string, id int) *Node {
	for _, n := range s.nodes {
		if n.Kind == kind && n.ID == id {
			return n
		}
	}
	return nil
}

func (s *Server) children(kind string, parent int) []*Node {
	var out []*Node
	for _, n := range s.nodes {
		if n.Kind == kind && n.Parent == parent {
			out = append(out, n)
		}
	}
	return out
}

func ref(kind string, id int) string { return kind + ":" + strconv.Itoa(id) }

func (s *Server) render(n *Node) map[string]any {
	if s.flat {
		m := map[string]any{"id": ref(n.Kind, n.ID), "name": n.Name, "icon": n.Icon, "description": n.Description}
		switch n.Kind {
		case "floor":
			m["parent_id"] = ref("site", n.Parent)
		case "room":
			m["parent_id"] = ref("floor", n.Parent)
		}
		return m
	}
	return map[string]any{"id": n.ID, "name": n.Name, "description": n.Description}
}

func (s *Server) listLocations(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rawLocs != nil {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(*s.rawLocs))
		return
	}
	out := []map[string]any{}
	if s.flat {
		for _, n := range s.nodes {
			out = append(out, s.render(n))
		}
		writeJSON(w, http.StatusOK, out)
		return
	}
	for _, site := range s.children("site", 0) {
		sm := s.render(site)
		floors := []map[string]any{}
		for _, floor := range s.children("floor", site.ID) {
			fm := s.render(floor)
			rooms := []map[string]any{}
			for _, room := range s.children("room", floor.ID) {
				rooms = append(rooms, s.render(room))
			}
			fm["rooms"] = rooms
			floors = append(floors, fm)
		}
		sm["floors"] = floors
		out = append(out, sm)
	}
	writeJSON(w, http.StatusOK, out)
}

type body struct {
	Name        string `json:"name"`
	Icon        string `json:"icon"`
	Description string `json:"description"`
}

func parentKind(kind string) string {
	switch kind {
	case "floor":
		return "site"
	case "room":
		return "floor"
	}
	return ""
}

func (s *Server) create(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var b body
		if err := json.NewDecoder(r.Body).Decode(&b); err != nil || b.Name == "" {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "name is required"})
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		parent := 0
		if pk := parentKind(kind); pk != "" {
			parent, _ = strconv.Atoi(r.PathValue("id"))
			if s.find(pk, parent) == nil {
				writeJSON(w, http.StatusNotFound, map[string]string{"detail": fmt.Sprintf("%s not found", pk)})
				return
			}
		}
		id := s.addLocked(kind, parent, b.Name, b.Icon, b.Description)
		writeJSON(w, http.StatusCreated, s.render(s.find(kind, id)))
	}
}

func (s *Server) update(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var b body
		if err := json.NewDecoder(r.Body).Decode(&b); err != nil || b.Name == "" {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "name is required"})
			return
		}
		id, _ := strconv.Atoi(r.PathValue("id"))
		s.mu.Lock()
		defer s.mu.Unlock()
		n := s.find(kind, id)
		if n == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"detail": kind + " not found"})
			return
		}
		n.Name, n.Icon, n.Description = b.Name, b.Icon, b.Description
		writeJSON(w, http.StatusOK, s.render(n))
	}
}

func (s *Server) remove(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _ := strconv.Atoi(r.PathValue("id"))
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.find(kind, id) == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"detail": kind + " not found"})
			return
		}
		s.cascade(kind, id)
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) cascade(kind string, id int) {
	switch kind {
	case "site":
		for _, f := range s.children("floor", id) {
			s.cascade("floor", f.ID)
		}
	case "floor":
		for _, r := range s.children("room", id) {
			s.cascade("room", r.ID)
		}
	}
	s.nodes = slices.DeleteFunc(s.nodes, func(n *Node) bool { return n.Kind == kind && n.ID == id })
}

func (s *Server) listDeviceTypes(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.deviceTypes
	if out == nil {
		out = []map[string]any{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) listOrphans(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.orphans
	if out == nil {
		out = []map[string]any{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) twin(w http.ResponseWriter, r *http.Request) {
	var req map[string]any
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid body"})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id, _ := req["device_id"].(string)
	i := slices.IndexFunc(s.orphans, func(o map[string]any) bool {
		return o["device_id"] == id || o["deveui"] == id
	})
	if i < 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "device " + id + " not found"})
		return
	}
	s.orphans = slices.Delete(s.orphans, i, i+1)
	s.twins = append(s.twins, req)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "detail": "device twinned"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
