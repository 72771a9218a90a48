package location

import "fmt"

// Kind identifies one level of the location hierarchy.
type Kind string

const (
	KindSite  Kind = "site"
	KindFloor Kind = "floor"
	KindRoom  Kind = "room"
)

// ParseKind validates a kind name received from a URL or request body.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindSite, KindFloor, KindRoom:
		return k, nil
	default:
		return "", fmt.Errorf("unknown location kind %q", s)
	}
}

// Child returns the kind one level below k, or "" for rooms.
func (k Kind) Child() Kind {
	switch k {
	case KindSite:
		return KindFloor
	case KindFloor:
		return KindRoom
	default:
		return ""
	}
}

// Parent returns the kind one level above k, or "" for sites.
func (k Kind) Parent() Kind {
	switch k {
	case KindFloor:
		return KindSite
	case KindRoom:
		return KindFloor
	default:
		return ""
	}
}

// IDScope selects how identifiers are assigned and checked for uniqueness.
type IDScope string

const (
	// ScopeTree uses one identifier space across sites, floors and rooms.
	ScopeTree IDScope = "tree"
	// ScopePerKind gives each kind its own identifier space.
	ScopePerKind IDScope = "per_kind"
)

// ParseIDScope validates a configured identifier scope. Empty means ScopeTree.
func ParseIDScope(s string) (IDScope, error) {
	switch IDScope(s) {
	case "", ScopeTree:
		return ScopeTree, nil
	case ScopePerKind:
		return ScopePerKind, nil
	default:
		return "", fmt.Errorf("unknown id scope %q (supported: tree, per_kind)", s)
	}
}

// Entity is any node of the tree.
type Entity interface {
	Kind() Kind
	EntityID() int
	DisplayName() string
	PlainName() string
}

// Site is the root level of the hierarchy.
type Site struct {
	ID          int
	Label       Label
	Description string
	Floors      []*Floor
}

// Floor belongs to exactly one Site.
type Floor struct {
	ID          int
	Label       Label
	Description string
	Site        *Site
	Rooms       []*Room
}

// Room belongs to exactly one Floor.
type Room struct {
	ID          int
	Label       Label
	Description string
	Floor       *Floor
}

func (s *Site) Kind() Kind          { return KindSite }
func (s *Site) EntityID() int       { return s.ID }
func (s *Site) DisplayName() string { return s.Label.Display() }
func (s *Site) PlainName() string   { return s.Label.Name }

func (f *Floor) Kind() Kind          { return KindFloor }
func (f *Floor) EntityID() int       { return f.ID }
func (f *Floor) DisplayName() string { return f.Label.Display() }
func (f *Floor) PlainName() string   { return f.Label.Name }

func (r *Room) Kind() Kind          { return KindRoom }
func (r *Room) EntityID() int       { return r.ID }
func (r *Room) DisplayName() string { return r.Label.Display() }
func (r *Room) PlainName() string   { return r.Label.Name }

// SiteRecord is a detached copy of a site subtree, used for loading and rendering.
type SiteRecord struct {
	ID          int           `json:"id"`
	Label       Label         `json:"label"`
	Description string        `json:"description,omitempty"`
	Floors      []FloorRecord `json:"floors"`
}

// FloorRecord is a detached copy of a floor subtree.
type FloorRecord struct {
	ID          int          `json:"id"`
	Label       Label        `json:"label"`
	Description string       `json:"description,omitempty"`
	Rooms       []RoomRecord `json:"rooms"`
}

// RoomRecord is a detached copy of a room.
type RoomRecord struct {
	ID          int    `json:"id"`
	Label       Label  `json:"label"`
	Description string `json:"description,omitempty"`
}

// NodeRecord is a single node as returned by the remote API after a write.
type NodeRecord struct {
	Kind        Kind   `json:"kind"`
	ID          int    `json:"id"`
	ParentID    int    `json:"parent_id,omitempty"`
	Label       Label  `json:"label"`
	Description string `json:"description,omitempty"`
}

// NamePath is the plain-name ancestor chain of a room.
type NamePath struct {
	Site  string
	Floor string
	Room  string
}
