package location

import (
	"errors"
	"testing"
)

func sampleRecords() []SiteRecord {
	return []SiteRecord{
		{ID: 1, Label: Label{Icon: "🏡", Name: "Home"}, Floors: []FloorRecord{
			{ID: 2, Label: Label{Name: "Ground Floor"}, Rooms: []RoomRecord{
				{ID: 3, Label: Label{Name: "Kitchen"}},
				{ID: 4, Label: Label{Name: "Living Room"}},
			}},
			{ID: 5, Label: Label{Name: "First Floor"}, Rooms: []RoomRecord{
				{ID: 6, Label: Label{Name: "Bedroom"}},
			}},
		}},
		{ID: 7, Label: Label{Name: "Office"}, Floors: []FloorRecord{
			{ID: 8, Label: Label{Name: "Level 1"}, Rooms: []RoomRecord{
				{ID: 9, Label: Label{Name: "Lab"}},
			}},
		}},
	}
}

func loadedStore(t *testing.T, scope IDScope) *Store {
	t.Helper()
	s := NewStore(scope)
	if err := s.Load(sampleRecords()); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestLoad(t *testing.T) {
	s := loadedStore(t, ScopeTree)
	if s.Len() != 9 {
		t.Fatalf("len = %d, want 9", s.Len())
	}
	room := s.Room(3)
	if room == nil {
		t.Fatal("room 3 not found")
	}
	if room.Floor.ID != 2 || room.Floor.Site.ID != 1 {
		t.Errorf("room 3 parents = floor %d site %d, want 2, 1", room.Floor.ID, room.Floor.Site.ID)
	}
	if got := s.Site(1).DisplayName(); got != "🏡 Home" {
		t.Errorf("display = %q, want %q", got, "🏡 Home")
	}
}

func TestLoadMalformedLeavesEmptyTree(t *testing.T) {
	tests := []struct {
		name    string
		scope   IDScope
		records []SiteRecord
	}{
		{"zero id", ScopeTree, []SiteRecord{{ID: 0, Label: Label{Name: "A"}}}},
		{"duplicate site", ScopeTree, []SiteRecord{{ID: 1, Label: Label{Name: "A"}}, {ID: 1, Label: Label{Name: "B"}}}},
		{"empty name", ScopeTree, []SiteRecord{{ID: 1, Floors: nil}}},
		{"floor shares site id", ScopeTree, []SiteRecord{{ID: 1, Label: Label{Name: "A"}, Floors: []FloorRecord{{ID: 1, Label: Label{Name: "F"}}}}}},
		{"duplicate room per kind", ScopePerKind, []SiteRecord{{ID: 1, Label: Label{Name: "A"}, Floors: []FloorRecord{
			{ID: 1, Label: Label{Name: "F"}, Rooms: []RoomRecord{{ID: 4, Label: Label{Name: "R"}}, {ID: 4, Label: Label{Name: "S"}}}},
		}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := loadedStore(t, tt.scope)
			err := s.Load(tt.records)
			if err == nil {
				t.Fatal("expected error")
			}
			var le *LoadError
			if !errors.As(err, &le) {
				t.Errorf("err = %T, want *LoadError", err)
			}
			if !errors.Is(err, ErrLoad) {
				t.Error("errors.Is(err, ErrLoad) = false")
			}
			if s.Len() != 0 {
				t.Errorf("len = %d, want 0 after failed load", s.Len())
			}
		})
	}
}

func TestLoadPerKindAllowsSharedNumbers(t *testing.T) {
	s := NewStore(ScopePerKind)
	err := s.Load([]SiteRecord{{ID: 1, Label: Label{Name: "A"}, Floors: []FloorRecord{
		{ID: 1, Label: Label{Name: "F"}, Rooms: []RoomRecord{{ID: 1, Label: Label{Name: "R"}}}},
	}}})
	if err != nil {
		t.Fatal(err)
	}
	if s.Len() != 3 {
		t.Errorf("len = %d, want 3", s.Len())
	}
}

func TestAddAssignsUniqueIDs(t *testing.T) {
	s := NewStore(ScopeTree)
	seen := map[int]bool{}
	track := func(id int) {
		if seen[id] {
			t.Fatalf("id %d assigned twice", id)
		}
		seen[id] = true
	}
	for i := 0; i < 3; i++ {
		site, err := s.AddSite(Label{Name: "Site"})
		if err != nil {
			t.Fatal(err)
		}
		track(site.ID)
		for j := 0; j < 3; j++ {
			floor, err := s.AddFloor(site.ID, Label{Name: "Floor"})
			if err != nil {
				t.Fatal(err)
			}
			track(floor.ID)
			for k := 0; k < 2; k++ {
				room, err := s.AddRoom(floor.ID, Label{Name: "Room"})
				if err != nil {
					t.Fatal(err)
				}
				track(room.ID)
			}
		}
	}
	if len(seen) != s.Len() {
		t.Errorf("unique ids = %d, nodes = %d", len(seen), s.Len())
	}
}

func TestAddFirstIDIsOne(t *testing.T) {
	s := NewStore("")
	site, err := s.AddSite(Label{Name: "Home"})
	if err != nil {
		t.Fatal(err)
	}
	if site.ID != 1 {
		t.Errorf("id = %d, want 1", site.ID)
	}
}

func TestAddPerKindScope(t *testing.T) {
	s := loadedStore(t, ScopePerKind)
	site, _ := s.AddSite(Label{Name: "New"})
	if site.ID != 8 {
		t.Errorf("site id = %d, want 8 (max site id 7 + 1)", site.ID)
	}
	floor, _ := s.AddFloor(1, Label{Name: "Attic"})
	if floor.ID != 9 {
		t.Errorf("floor id = %d, want 9", floor.ID)
	}

	tree := loadedStore(t, ScopeTree)
	site, _ = tree.AddSite(Label{Name: "New"})
	if site.ID != 10 {
		t.Errorf("tree site id = %d, want 10", site.ID)
	}
}

func TestAddMissingParent(t *testing.T) {
	s := loadedStore(t, ScopeTree)

	_, err := s.AddFloor(99, Label{Name: "X"})
	var nf *NotFoundError
	if !errors.As(err, &nf) || nf.Kind != KindSite || nf.ID != 99 {
		t.Errorf("AddFloor err = %v, want site 99 not found", err)
	}
	_, err = s.AddRoom(1, Label{Name: "X"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("AddRoom on a site id err = %v, want ErrNotFound", err)
	}
	if s.Len() != 9 {
		t.Errorf("len = %d, want 9", s.Len())
	}
}

func TestAddEmptyName(t *testing.T) {
	s := loadedStore(t, ScopeTree)
	if _, err := s.AddSite(Label{Icon: "🏡"}); !errors.Is(err, ErrEmptyName) {
		t.Errorf("err = %v, want ErrEmptyName", err)
	}
	if _, err := s.AddRoom(2, Label{}); !errors.Is(err, ErrEmptyName) {
		t.Errorf("err = %v, want ErrEmptyName", err)
	}
}

func TestAddInvalidIcon(t *testing.T) {
	s := loadedStore(t, ScopeTree)
	before := s.Len()
	for _, icon := range []string{"HQ", "A1", "#", "🏡x"} {
		if _, err := s.AddSite(Label{Icon: icon, Name: "Home"}); !errors.Is(err, ErrInvalidIcon) {
			t.Errorf("AddSite icon %q: err = %v, want ErrInvalidIcon", icon, err)
		}
	}
	if _, err := s.AddFloor(1, Label{Icon: "B2", Name: "Basement"}); !errors.Is(err, ErrInvalidIcon) {
		t.Errorf("AddFloor: err = %v, want ErrInvalidIcon", err)
	}
	if _, err := s.AddRoom(2, Label{Icon: "WC", Name: "Toilet"}); !errors.Is(err, ErrInvalidIcon) {
		t.Errorf("AddRoom: err = %v, want ErrInvalidIcon", err)
	}
	if err := s.Update(KindSite, 1, Label{Icon: "HQ", Name: "Home"}); !errors.Is(err, ErrInvalidIcon) {
		t.Errorf("Update: err = %v, want ErrInvalidIcon", err)
	}
	if s.Len() != before || s.Site(1).Label.Icon != "🏡" {
		t.Errorf("rejected labels changed the tree: len %d, site 1 %+v", s.Len(), s.Site(1).Label)
	}
}

func TestAddRoomSearchesAllSites(t *testing.T) {
	s := loadedStore(t, ScopeTree)
	room, err := s.AddRoom(8, Label{Name: "Server Room"})
	if err != nil {
		t.Fatal(err)
	}
	if room.Floor.Site.ID != 7 {
		t.Errorf("site = %d, want 7", room.Floor.Site.ID)
	}
	rooms := s.Floor(8).Rooms
	if rooms[len(rooms)-1] != room {
		t.Error("room not appended at the end")
	}
}

func TestUpdatePreservesPosition(t *testing.T) {
	s := loadedStore(t, ScopeTree)
	if err := s.Update(KindRoom, 3, Label{Icon: "🍳", Name: "Cuisine"}); err != nil {
		t.Fatal(err)
	}
	rooms := s.Floor(2).Rooms
	if rooms[0].ID != 3 || rooms[0].Label.Name != "Cuisine" || rooms[0].Label.Icon != "🍳" {
		t.Errorf("rooms[0] = %d %+v", rooms[0].ID, rooms[0].Label)
	}
	if rooms[1].ID != 4 {
		t.Errorf("rooms[1] = %d, want 4", rooms[1].ID)
	}

	if err := s.Update(KindFloor, 3, Label{Name: "X"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("update floor with room id err = %v, want ErrNotFound", err)
	}
	if err := s.Update(KindSite, 1, Label{}); !errors.Is(err, ErrEmptyName) {
		t.Errorf("err = %v, want ErrEmptyName", err)
	}
	if s.Site(1).Label.Name != "Home" {
		t.Error("failed update changed the label")
	}
}

func TestDescribe(t *testing.T) {
	s := loadedStore(t, ScopeTree)
	if err := s.Describe(KindFloor, 5, "bedrooms"); err != nil {
		t.Fatal(err)
	}
	if got := s.Floor(5).Description; got != "bedrooms" {
		t.Errorf("description = %q", got)
	}
	if err := s.Describe(KindRoom, 42, "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestRemoveCascades(t *testing.T) {
	tests := []struct {
		name    string
		kind    Kind
		id      int
		removed int
		gone    []int
	}{
		{"site", KindSite, 1, 6, []int{1, 2, 3, 4, 5, 6}},
		{"floor", KindFloor, 2, 3, []int{2, 3, 4}},
		{"room", KindRoom, 6, 1, []int{6}},
		{"unknown", KindSite, 42, 0, nil},
		{"wrong kind", KindSite, 2, 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := loadedStore(t, ScopeTree)
			before := s.Len()
			s.Remove(tt.kind, tt.id)
			if got := before - s.Len(); got != tt.removed {
				t.Errorf("removed %d nodes, want %d", got, tt.removed)
			}
			for _, id := range tt.gone {
				for _, k := range []Kind{KindSite, KindFloor, KindRoom} {
					if e := s.Resolve(k, id); e != nil {
						t.Errorf("Resolve(%s, %d) = %v after remove", k, id, e)
					}
				}
			}
		})
	}
}

func TestRemoveKeepsSiblingOrder(t *testing.T) {
	s := loadedStore(t, ScopeTree)
	s.AddRoom(2, Label{Name: "Pantry"})
	s.Remove(KindRoom, 4)
	var names []string
	for _, r := range s.Floor(2).Rooms {
		names = append(names, r.Label.Name)
	}
	if len(names) != 2 || names[0] != "Kitchen" || names[1] != "Pantry" {
		t.Errorf("rooms = %v, want [Kitchen Pantry]", names)
	}
}

func TestResolveAbsentIsUntypedNil(t *testing.T) {
	s := loadedStore(t, ScopeTree)
	if e := s.Resolve(KindRoom, 2); e != nil {
		t.Errorf("Resolve(room, 2) = %#v, want nil", e)
	}
	e := s.Resolve(KindFloor, 2)
	if e == nil || e.Kind() != KindFloor || e.EntityID() != 2 || e.PlainName() != "Ground Floor" {
		t.Errorf("Resolve(floor, 2) = %#v", e)
	}
}

func TestRebind(t *testing.T) {
	s := loadedStore(t, ScopeTree)
	room, _ := s.AddRoom(2, Label{Name: "Pantry"})
	if err := s.Rebind(KindRoom, room.ID, 120); err != nil {
		t.Fatal(err)
	}
	if s.Room(120) != room {
		t.Error("room not found under new id")
	}
	if err := s.Rebind(KindRoom, 120, 3); err == nil {
		t.Error("rebind onto a used id should fail")
	}
	if err := s.Rebind(KindRoom, 999, 1000); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if err := s.Rebind(KindRoom, 120, 120); err != nil {
		t.Errorf("rebind to same id: %v", err)
	}
}

func TestNamePath(t *testing.T) {
	s := loadedStore(t, ScopeTree)
	p, ok := s.NamePath(3)
	if !ok {
		t.Fatal("NamePath(3) = false")
	}
	if p.Site != "Home" || p.Floor != "Ground Floor" || p.Room != "Kitchen" {
		t.Errorf("path = %+v", p)
	}
	if _, ok := s.NamePath(2); ok {
		t.Error("NamePath of a floor id should be false")
	}

	room := s.Room(6)
	s.Remove(KindFloor, 5)
	if room.Floor.Site != nil {
		t.Error("removed floor still references its site")
	}
	if _, ok := s.NamePath(6); ok {
		t.Error("NamePath of removed room should be false")
	}
}

func TestSnapshotIsDetached(t *testing.T) {
	s := loadedStore(t, ScopeTree)
	snap := s.Snapshot()
	snap[0].Label.Name = "Changed"
	snap[0].Floors[0].Rooms = nil
	if s.Site(1).Label.Name != "Home" || len(s.Floor(2).Rooms) != 2 {
		t.Error("snapshot shares state with the store")
	}

	other := NewStore(ScopeTree)
	if err := other.Load(s.Snapshot()); err != nil {
		t.Fatal(err)
	}
	if other.Len() != s.Len() {
		t.Errorf("reloaded len = %d, want %d", other.Len(), s.Len())
	}
}

func TestParseKindAndScope(t *testing.T) {
	if k, err := ParseKind("floor"); err != nil || k != KindFloor {
		t.Errorf("ParseKind(floor) = %q, %v", k, err)
	}
	if _, err := ParseKind("zone"); err == nil {
		t.Error("ParseKind(zone) should fail")
	}
	if sc, err := ParseIDScope(""); err != nil || sc != ScopeTree {
		t.Errorf("ParseIDScope(\"\") = %q, %v", sc, err)
	}
	if _, err := ParseIDScope("global"); err == nil {
		t.Error("ParseIDScope(global) should fail")
	}
	if KindSite.Child() != KindFloor || KindRoom.Parent() != KindFloor || KindRoom.Child() != "" {
		t.Error("kind navigation broken")
	}
}
