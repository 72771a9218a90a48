package location

import (
	"fmt"
	"slices"
)

// Store owns the in-memory site → floor → room tree.
//
// All methods are synchronous and perform no I/O. Store is not safe for
// concurrent use; callers serialize access (see console.Console).
type Store struct {
	scope IDScope
	sites []*Site
}

// NewStore creates an empty store. An empty scope means ScopeTree.
func NewStore(scope IDScope) *Store {
	if scope == "" {
		scope = ScopeTree
	}
	return &Store{scope: scope}
}

// Scope returns the identifier scope the store assigns and validates against.
func (s *Store) Scope() IDScope { return s.scope }

// Load replaces the entire tree with the given snapshot. On malformed input the
// tree is left empty and a *LoadError is returned; a partial tree is never kept.
func (s *Store) Load(records []SiteRecord) error {
	s.sites = nil

	seen := make(map[Kind]map[int]bool, 3)
	claim := func(kind Kind, id int) error {
		if id <= 0 {
			return &LoadError{Reason: fmt.Sprintf("%s has non-positive id %d", kind, id)}
		}
		key := kind
		if s.scope == ScopeTree {
			key = KindSite
		}
		if seen[key] == nil {
			seen[key] = make(map[int]bool)
		}
		if seen[key][id] {
			return &LoadError{Reason: fmt.Sprintf("duplicate %s id %d", kind, id)}
		}
		seen[key][id] = true
		return nil
	}
	checkName := func(kind Kind, id int, l Label) error {
		if l.Name == "" {
			return &LoadError{Reason: fmt.Sprintf("%s %d has no name", kind, id)}
		}
		return nil
	}

	sites := make([]*Site, 0, len(records))
	for _, sr := range records {
		if err := claim(KindSite, sr.ID); err != nil {
			return err
		}
		if err := checkName(KindSite, sr.ID, sr.Label); err != nil {
			return err
		}
		site := &Site{ID: sr.ID, Label: sr.Label, Description: sr.Description}
		for _, fr := range sr.Floors {
			if err := claim(KindFloor, fr.ID); err != nil {
				return err
			}
			if err := checkName(KindFloor, fr.ID, fr.Label); err != nil {
				return err
			}
			floor := &Floor{ID: fr.ID, Label: fr.Label, Description: fr.Description, Site: site}
			for _, rr := range fr.Rooms {
				if err := claim(KindRoom, rr.ID); err != nil {
					return err
				}
				if err := checkName(KindRoom, rr.ID, rr.Label); err != nil {
					return err
				}
				floor.Rooms = append(floor.Rooms, &Room{ID: rr.ID, Label: rr.Label, Description: rr.Description, Floor: floor})
			}
			site.Floors = append(site.Floors, floor)
		}
		sites = append(sites, site)
	}
	s.sites = sites
	return nil
}

// Reset empties the tree.
func (s *Store) Reset() { s.sites = nil }

// AddSite appends a new site with the next unused identifier.
func (s *Store) AddSite(label Label) (*Site, error) {
	if err := label.Validate(); err != nil {
		return nil, err
	}
	site := &Site{ID: s.nextID(KindSite), Label: label}
	s.sites = append(s.sites, site)
	return site, nil
}

// AddFloor appends a new floor to the given site.
func (s *Store) AddFloor(siteID int, label Label) (*Floor, error) {
	site := s.Site(siteID)
	if site == nil {
		return nil, &NotFoundError{Kind: KindSite, ID: siteID}
	}
	if err := label.Validate(); err != nil {
		return nil, err
	}
	floor := &Floor{ID: s.nextID(KindFloor), Label: label, Site: site}
	site.Floors = append(site.Floors, floor)
	return floor, nil
}

// AddRoom appends a new room to the given floor, searched across all sites.
func (s *Store) AddRoom(floorID int, label Label) (*Room, error) {
	floor := s.Floor(floorID)
	if floor == nil {
		return nil, &NotFoundError{Kind: KindFloor, ID: floorID}
	}
	if err := label.Validate(); err != nil {
		return nil, err
	}
	room := &Room{ID: s.nextID(KindRoom), Label: label, Floor: floor}
	floor.Rooms = append(floor.Rooms, room)
	return room, nil
}

// Update replaces the label of an entity in place. Identifier and position are kept.
func (s *Store) Update(kind Kind, id int, label Label) error {
	if s.Resolve(kind, id) == nil {
		return &NotFoundError{Kind: kind, ID: id}
	}
	if err := label.Validate(); err != nil {
		return err
	}
	switch kind {
	case KindSite:
		s.Site(id).Label = label
	case KindFloor:
		s.Floor(id).Label = label
	case KindRoom:
		s.Room(id).Label = label
	}
	return nil
}

// Describe sets the free-text description of an entity.
func (s *Store) Describe(kind Kind, id int, description string) error {
	switch kind {
	case KindSite:
		if site := s.Site(id); site != nil {
			site.Description = description
			return nil
		}
	case KindFloor:
		if floor := s.Floor(id); floor != nil {
			floor.Description = description
			return nil
		}
	case KindRoom:
		if room := s.Room(id); room != nil {
			room.Description = description
			return nil
		}
	}
	return &NotFoundError{Kind: kind, ID: id}
}

// Remove deletes an entity and everything below it. Unknown ids are a no-op.
// Removed nodes are detached from their parent so stale references cannot walk back into the tree.
func (s *Store) Remove(kind Kind, id int) {
	switch kind {
	case KindSite:
		i := slices.IndexFunc(s.sites, func(site *Site) bool { return site.ID == id })
		if i < 0 {
			return
		}
		for _, f := range s.sites[i].Floors {
			f.Site = nil
		}
		s.sites = slices.Delete(s.sites, i, i+1)
	case KindFloor:
		floor := s.Floor(id)
		if floor == nil {
			return
		}
		site := floor.Site
		i := slices.Index(site.Floors, floor)
		site.Floors = slices.Delete(site.Floors, i, i+1)
		floor.Site = nil
	case KindRoom:
		room := s.Room(id)
		if room == nil {
			return
		}
		floor := room.Floor
		i := slices.Index(floor.Rooms, room)
		floor.Rooms = slices.Delete(floor.Rooms, i, i+1)
		room.Floor = nil
	}
}

// Rebind changes the identifier of an entity, typically to adopt the identifier
// the remote API assigned on create. The new identifier must be positive and unused.
func (s *Store) Rebind(kind Kind, oldID, newID int) error {
	e := s.Resolve(kind, oldID)
	if e == nil {
		return &NotFoundError{Kind: kind, ID: oldID}
	}
	if oldID == newID {
		return nil
	}
	if newID <= 0 {
		return fmt.Errorf("rebind %s %d: invalid id %d", kind, oldID, newID)
	}
	if s.idTaken(kind, newID) {
		return fmt.Errorf("rebind %s %d: id %d already in use", kind, oldID, newID)
	}
	switch n := e.(type) {
	case *Site:
		n.ID = newID
	case *Floor:
		n.ID = newID
	case *Room:
		n.ID = newID
	}
	return nil
}

// Resolve looks an entity up by kind and identifier. It returns nil when absent.
func (s *Store) Resolve(kind Kind, id int) Entity {
	switch kind {
	case KindSite:
		if site := s.Site(id); site != nil {
			return site
		}
	case KindFloor:
		if floor := s.Floor(id); floor != nil {
			return floor
		}
	case KindRoom:
		if room := s.Room(id); room != nil {
			return room
		}
	}
	return nil
}

// Site returns the site with the given id, or nil.
func (s *Store) Site(id int) *Site {
	for _, site := range s.sites {
		if site.ID == id {
			return site
		}
	}
	return nil
}

// Floor returns the floor with the given id from any site, or nil.
func (s *Store) Floor(id int) *Floor {
	for _, site := range s.sites {
		for _, floor := range site.Floors {
			if floor.ID == id {
				return floor
			}
		}
	}
	return nil
}

// Room returns the room with the given id from any floor, or nil.
func (s *Store) Room(id int) *Room {
	for _, site := range s.sites {
		for _, floor := range site.Floors {
			for _, room := range floor.Rooms {
				if room.ID == id {
					return room
				}
			}
		}
	}
	return nil
}

// NamePath resolves the plain names of a room's ancestors. It reports false if the
// room is unknown or any link in the chain is broken.
func (s *Store) NamePath(roomID int) (NamePath, bool) {
	room := s.Room(roomID)
	if room == nil || room.Floor == nil || room.Floor.Site == nil {
		return NamePath{}, false
	}
	return NamePath{
		Site:  room.Floor.Site.Label.Name,
		Floor: room.Floor.Label.Name,
		Room:  room.Label.Name,
	}, true
}

// Sites returns the sites in order. The slice is a copy; the nodes are not.
func (s *Store) Sites() []*Site {
	return slices.Clone(s.sites)
}

// Len returns the total number of sites, floors and rooms.
func (s *Store) Len() int {
	n := 0
	for _, site := range s.sites {
		n++
		for _, floor := range site.Floors {
			n += 1 + len(floor.Rooms)
		}
	}
	return n
}

// Snapshot returns a detached copy of the whole tree.
func (s *Store) Snapshot() []SiteRecord {
	out := make([]SiteRecord, 0, len(s.sites))
	for _, site := range s.sites {
		sr := SiteRecord{ID: site.ID, Label: site.Label, Description: site.Description, Floors: []FloorRecord{}}
		for _, floor := range site.Floors {
			fr := FloorRecord{ID: floor.ID, Label: floor.Label, Description: floor.Description, Rooms: []RoomRecord{}}
			for _, room := range floor.Rooms {
				fr.Rooms = append(fr.Rooms, RoomRecord{ID: room.ID, Label: room.Label, Description: room.Description})
			}
			sr.Floors = append(sr.Floors, fr)
		}
		out = append(out, sr)
	}
	return out
}

func (s *Store) nextID(kind Kind) int {
	max := 0
	s.each(func(k Kind, id int) {
		if s.scope == ScopePerKind && k != kind {
			return
		}
		if id > max {
			max = id
		}
	})
	return max + 1
}

func (s *Store) idTaken(kind Kind, id int) bool {
	taken := false
	s.each(func(k Kind, existing int) {
		if s.scope == ScopePerKind && k != kind {
			return
		}
		if existing == id {
			taken = true
		}
	})
	return taken
}

func (s *Store) each(fn func(Kind, int)) {
	for _, site := range s.sites {
		fn(KindSite, site.ID)
		for _, floor := range site.Floors {
			fn(KindFloor, floor.ID)
			for _, room := range floor.Rooms {
				fn(KindRoom, room.ID)
			}
		}
	}
}
