package remote

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"device-console/internal/location"
)

// Shape names the record layout the remote API speaks.
type Shape string

const (
	// ShapeEmbedded nests floors in sites and rooms in floors, with the icon
	// embedded as the leading token of name ("🏡 Home").
	ShapeEmbedded Shape = "embedded"
	// ShapeFlat is a flat list of records with composite ids ("floor:3"),
	// a separate icon field and a parent_id reference.
	ShapeFlat Shape = "flat"
)

// ParseShape validates a configured shape. Empty means ShapeEmbedded.
func ParseShape(s string) (Shape, error) {
	switch Shape(s) {
	case "", ShapeEmbedded:
		return ShapeEmbedded, nil
	case ShapeFlat:
		return ShapeFlat, nil
	default:
		return "", fmt.Errorf("unknown remote shape %q (supported: embedded, flat)", s)
	}
}

// codec converts between the Store's records and one wire shape.
// Icon/name encoding happens here and nowhere else.
type codec interface {
	decodeHierarchy(body []byte) ([]location.SiteRecord, error)
	encodeNode(kind location.Kind, parentID int, label location.Label, description string) any
	// decodeNode overlays the response on sent; fields the response omits keep the sent values.
	decodeNode(body []byte, sent location.NodeRecord) (location.NodeRecord, error)
}

func codecFor(shape Shape) codec {
	if shape == ShapeFlat {
		return flatCodec{}
	}
	return embeddedCodec{}
}

type embeddedRoom struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type embeddedFloor struct {
	ID          int            `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Rooms       []embeddedRoom `json:"rooms"`
}

type embeddedSite struct {
	ID          int             `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Floors      []embeddedFloor `json:"floors"`
}

type embeddedBody struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type embeddedCodec struct{}

func (embeddedCodec) decodeHierarchy(body []byte) ([]location.SiteRecord, error) {
	var sites []embeddedSite
	if err := json.Unmarshal(body, &sites); err != nil {
		return nil, fmt.Errorf("decode locations: %w", err)
	}
	out := make([]location.SiteRecord, 0, len(sites))
	for _, s := range sites {
		sr := location.SiteRecord{ID: s.ID, Label: location.ParseLabel(s.Name), Description: s.Description}
		for _, f := range s.Floors {
			fr := location.FloorRecord{ID: f.ID, Label: location.ParseLabel(f.Name), Description: f.Description}
			for _, r := range f.Rooms {
				fr.Rooms = append(fr.Rooms, location.RoomRecord{ID: r.ID, Label: location.ParseLabel(r.Name), Description: r.Description})
			}
			sr.Floors = append(sr.Floors, fr)
		}
		out = append(out, sr)
	}
	return out, nil
}

func (embeddedCodec) encodeNode(_ location.Kind, _ int, label location.Label, description string) any {
	return embeddedBody{Name: label.Display(), Description: description}
}

func (embeddedCodec) decodeNode(body []byte, sent location.NodeRecord) (location.NodeRecord, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return sent, nil
	}
	var rec embeddedRoom
	if err := json.Unmarshal(body, &rec); err != nil {
		return location.NodeRecord{}, fmt.Errorf("decode %s: %w", sent.Kind, err)
	}
	out := sent
	if rec.ID != 0 {
		out.ID = rec.ID
	}
	if rec.Name != "" {
		out.Label = location.ParseLabel(rec.Name)
	}
	if rec.Description != "" {
		out.Description = rec.Description
	}
	return out, nil
}

type flatRecord struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Icon        string `json:"icon,omitempty"`
	Description string `json:"description,omitempty"`
	ParentID    string `json:"parent_id,omitempty"`
}

type flatBody struct {
	Name        string `json:"name"`
	Icon        string `json:"icon"`
	Description string `json:"description"`
	ParentID    string `json:"parent_id,omitempty"`
}

// FormatRef builds a composite identifier such as "floor:3".
func FormatRef(kind location.Kind, id int) string {
	return string(kind) + ":" + strconv.Itoa(id)
}

// ParseRef splits a composite identifier into kind and numeric id.
func ParseRef(ref string) (location.Kind, int, error) {
	k, n, ok := strings.Cut(ref, ":")
	if !ok {
		return "", 0, fmt.Errorf("composite id %q: missing kind prefix", ref)
	}
	kind, err := location.ParseKind(k)
	if err != nil {
		return "", 0, fmt.Errorf("composite id %q: %w", ref, err)
	}
	id, err := strconv.Atoi(n)
	if err != nil {
		return "", 0, fmt.Errorf("composite id %q: %w", ref, err)
	}
	return kind, id, nil
}

type flatCodec struct{}

func (flatCodec) decodeHierarchy(body []byte) ([]location.SiteRecord, error) {
	var recs []flatRecord
	if err := json.Unmarshal(body, &recs); err != nil {
		return nil, fmt.Errorf("decode locations: %w", err)
	}

	type parsed struct {
		kind   location.Kind
		id     int
		parent string
		label  location.Label
		desc   string
	}
	byKind := map[location.Kind][]parsed{}
	for _, r := range recs {
		kind, id, err := ParseRef(r.ID)
		if err != nil {
			return nil, err
		}
		byKind[kind] = append(byKind[kind], parsed{kind, id, r.ParentID, location.NewLabel(r.Icon, r.Name), r.Description})
	}

	sites := make([]location.SiteRecord, 0, len(byKind[location.KindSite]))
	siteIdx := map[string]int{}
	for _, p := range byKind[location.KindSite] {
		siteIdx[FormatRef(p.kind, p.id)] = len(sites)
		sites = append(sites, location.SiteRecord{ID: p.id, Label: p.label, Description: p.desc})
	}

	type floorPos struct{ site, floor int }
	floorIdx := map[string]floorPos{}
	for _, p := range byKind[location.KindFloor] {
		si, ok := siteIdx[p.parent]
		if !ok {
			return nil, fmt.Errorf("floor:%d: unknown parent %q", p.id, p.parent)
		}
		floorIdx[FormatRef(p.kind, p.id)] = floorPos{si, len(sites[si].Floors)}
		sites[si].Floors = append(sites[si].Floors, location.FloorRecord{ID: p.id, Label: p.label, Description: p.desc})
	}

	for _, p := range byKind[location.KindRoom] {
		pos, ok := floorIdx[p.parent]
		if !ok {
			return nil, fmt.Errorf("room:%d: unknown parent %q", p.id, p.parent)
		}
		floor := &sites[pos.site].Floors[pos.floor]
		floor.Rooms = append(floor.Rooms, location.RoomRecord{ID: p.id, Label: p.label, Description: p.desc})
	}
	return sites, nil
}

func (flatCodec) encodeNode(kind location.Kind, parentID int, label location.Label, description string) any {
	b := flatBody{Name: label.Name, Icon: label.Icon, Description: description}
	if parentID != 0 && kind.Parent() != "" {
		b.ParentID = FormatRef(kind.Parent(), parentID)
	}
	return b
}

func (flatCodec) decodeNode(body []byte, sent location.NodeRecord) (location.NodeRecord, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return sent, nil
	}
	var rec flatRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return location.NodeRecord{}, fmt.Errorf("decode %s: %w", sent.Kind, err)
	}
	out := sent
	if rec.ID != "" {
		kind, id, err := ParseRef(rec.ID)
		if err != nil {
			return location.NodeRecord{}, err
		}
		if kind != sent.Kind {
			return location.NodeRecord{}, fmt.Errorf("decode %s: response is a %s", sent.Kind, kind)
		}
		out.ID = id
	}
	if rec.Name != "" {
		out.Label = location.NewLabel(rec.Icon, rec.Name)
	}
	if rec.Description != "" {
		out.Description = rec.Description
	}
	if rec.ParentID != "" {
		if _, pid, err := ParseRef(rec.ParentID); err == nil {
			out.ParentID = pid
		}
	}
	return out, nil
}
