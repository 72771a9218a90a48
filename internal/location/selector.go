package location

import "strings"

// LabelSeparator joins the parts of a composite device label.
const LabelSeparator = " | "

// SelectionState is the depth of the current cascading selection.
type SelectionState int

const (
	NoSiteSelected SelectionState = iota
	SiteSelected
	SiteAndFloorSelected
	FullySelected
)

func (s SelectionState) String() string {
	switch s {
	case SiteSelected:
		return "site_selected"
	case SiteAndFloorSelected:
		return "site_and_floor_selected"
	case FullySelected:
		return "fully_selected"
	default:
		return "no_site_selected"
	}
}

// Selection holds the selected identifiers. Zero means unset.
type Selection struct {
	SiteID  int `json:"site_id,omitempty"`
	FloorID int `json:"floor_id,omitempty"`
	RoomID  int `json:"room_id,omitempty"`
}

// Selector tracks a dependent site → floor → room selection over a Store.
// It only keeps identifiers and re-resolves them against the Store on every read,
// so a level whose entity was removed or moved reads as unset.
type Selector struct {
	store *Store
	sel   Selection
}

// NewSelector creates a selector with nothing selected.
func NewSelector(store *Store) *Selector {
	return &Selector{store: store}
}

// SelectSite selects a site and clears floor and room. Zero clears everything.
func (s *Selector) SelectSite(id int) error {
	if id == 0 {
		s.sel = Selection{}
		return nil
	}
	if s.store.Site(id) == nil {
		return &InvalidSelectionError{Kind: KindSite, ID: id, Reason: "site does not exist"}
	}
	s.sel = Selection{SiteID: id}
	return nil
}

// SelectFloor selects a floor of the selected site and clears the room.
// Zero clears floor and room.
func (s *Selector) SelectFloor(id int) error {
	cur := s.Selection()
	if id == 0 {
		s.sel = Selection{SiteID: cur.SiteID}
		return nil
	}
	if cur.SiteID == 0 {
		return &InvalidSelectionError{Kind: KindFloor, ID: id, Reason: "no site selected"}
	}
	floor := s.store.Floor(id)
	if floor == nil {
		return &InvalidSelectionError{Kind: KindFloor, ID: id, Reason: "floor does not exist"}
	}
	if floor.Site == nil || floor.Site.ID != cur.SiteID {
		return &InvalidSelectionError{Kind: KindFloor, ID: id, Reason: "floor does not belong to the selected site"}
	}
	s.sel = Selection{SiteID: cur.SiteID, FloorID: id}
	return nil
}

// SelectRoom selects a room of the selected floor. Zero clears the room.
func (s *Selector) SelectRoom(id int) error {
	cur := s.Selection()
	if id == 0 {
		s.sel = Selection{SiteID: cur.SiteID, FloorID: cur.FloorID}
		return nil
	}
	if cur.FloorID == 0 {
		return &InvalidSelectionError{Kind: KindRoom, ID: id, Reason: "no floor selected"}
	}
	room := s.store.Room(id)
	if room == nil {
		return &InvalidSelectionError{Kind: KindRoom, ID: id, Reason: "room does not exist"}
	}
	if room.Floor == nil || room.Floor.ID != cur.FloorID {
		return &InvalidSelectionError{Kind: KindRoom, ID: id, Reason: "room does not belong to the selected floor"}
	}
	s.sel = Selection{SiteID: cur.SiteID, FloorID: cur.FloorID, RoomID: id}
	return nil
}

// Apply replays a whole selection level by level. If any level is rejected the
// previous selection is restored and the error returned.
func (s *Selector) Apply(sel Selection) error {
	prev := s.sel
	steps := []struct {
		id       int
		selectFn func(int) error
	}{
		{sel.SiteID, s.SelectSite},
		{sel.FloorID, s.SelectFloor},
		{sel.RoomID, s.SelectRoom},
	}
	for _, st := range steps {
		if err := st.selectFn(st.id); err != nil {
			s.sel = prev
			return err
		}
	}
	return nil
}

// Clear returns to NoSiteSelected.
func (s *Selector) Clear() { s.sel = Selection{} }

// Selection returns the current selection after re-resolving each level.
func (s *Selector) Selection() Selection {
	site := s.store.Site(s.sel.SiteID)
	if site == nil {
		return Selection{}
	}
	out := Selection{SiteID: site.ID}
	floor := s.store.Floor(s.sel.FloorID)
	if floor == nil || floor.Site != site {
		return out
	}
	out.FloorID = floor.ID
	room := s.store.Room(s.sel.RoomID)
	if room == nil || room.Floor != floor {
		return out
	}
	out.RoomID = room.ID
	return out
}

// State reports how deep the current selection goes.
func (s *Selector) State() SelectionState {
	sel := s.Selection()
	switch {
	case sel.RoomID != 0:
		return FullySelected
	case sel.FloorID != 0:
		return SiteAndFloorSelected
	case sel.SiteID != 0:
		return SiteSelected
	default:
		return NoSiteSelected
	}
}

// AvailableFloors returns the floors of the selected site in order, or nil.
func (s *Selector) AvailableFloors() []*Floor {
	sel := s.Selection()
	if sel.SiteID == 0 {
		return nil
	}
	return append([]*Floor(nil), s.store.Site(sel.SiteID).Floors...)
}

// AvailableRooms returns the rooms of the selected floor in order, or nil.
func (s *Selector) AvailableRooms() []*Room {
	sel := s.Selection()
	if sel.FloorID == 0 {
		return nil
	}
	return append([]*Room(nil), s.store.Floor(sel.FloorID).Rooms...)
}

// CompositeLabel builds "<model> | <site> | <floor> | <room>" from plain names when
// all three levels are selected. Otherwise it returns the trimmed model, which may be empty.
func (s *Selector) CompositeLabel(model string) string {
	model = strings.TrimSpace(model)
	if model == "" {
		return ""
	}
	sel := s.Selection()
	if sel.RoomID == 0 {
		return model
	}
	path, ok := s.store.NamePath(sel.RoomID)
	if !ok {
		return model
	}
	return strings.Join([]string{model, path.Site, path.Floor, path.Room}, LabelSeparator)
}

// AutoName decides the device name after a selection change. The generated label
// replaces current only when current is blank or was itself generated (contains
// LabelSeparator); a manually entered name is kept.
func AutoName(current, label string) string {
	if strings.TrimSpace(current) == "" || strings.Contains(current, LabelSeparator) {
		return label
	}
	return current
}
