//go:build !no_mqtt

package mqtt

import (
	"encoding/json"
	"strings"
	"time"

	"device-console/internal/console"
	"device-console/internal/location"
)

// message is one MQTT publication.
type message struct {
	Topic    string
	Payload  []byte
	Retained bool
}

// snapshot is the retained hierarchy document consumers read on subscribe.
type snapshot struct {
	UpdatedAt string                `json:"updated_at"`
	Sites     []location.SiteRecord `json:"sites"`
	Rooms     []roomPath            `json:"rooms"`
}

// roomPath flattens a room and its ancestors for consumers that do not walk the tree.
type roomPath struct {
	ID      int    `json:"id"`
	SiteID  int    `json:"site_id"`
	FloorID int    `json:"floor_id"`
	Site    string `json:"site"`
	Floor   string `json:"floor"`
	Room    string `json:"room"`
	Path    string `json:"path"`
}

func bridgeStateTopic(prefix string) string { return prefix + "/bridge/state" }
func reloadTopic(prefix string) string      { return prefix + "/bridge/reload" }
func locationsTopic(prefix string) string   { return prefix + "/locations" }

func eventTopic(prefix, eventType string) string {
	return prefix + "/events/" + eventType
}

func buildSnapshot(prefix string, sites []location.SiteRecord, now time.Time) message {
	if sites == nil {
		sites = []location.SiteRecord{}
	}
	doc := snapshot{
		UpdatedAt: now.UTC().Format(time.RFC3339),
		Sites:     sites,
		Rooms:     []roomPath{},
	}
	for _, s := range sites {
		for _, f := range s.Floors {
			for _, r := range f.Rooms {
				doc.Rooms = append(doc.Rooms, roomPath{
					ID:      r.ID,
					SiteID:  s.ID,
					FloorID: f.ID,
					Site:    s.Label.Name,
					Floor:   f.Label.Name,
					Room:    r.Label.Name,
					Path:    strings.Join([]string{s.Label.Name, f.Label.Name, r.Label.Name}, " / "),
				})
			}
		}
	}
	return message{Topic: locationsTopic(prefix), Payload: mustJSON(doc), Retained: true}
}

// buildEvent wraps a console event. Only device_twinned is retained, so a late
// subscriber sees the most recent twin.
func buildEvent(prefix string, ev console.Event, now time.Time) message {
	payload := mustJSON(struct {
		Type string `json:"type"`
		Time string `json:"time"`
		Data any    `json:"data,omitempty"`
	}{ev.Type, now.UTC().Format(time.RFC3339), ev.Data})
	return message{
		Topic:    eventTopic(prefix, ev.Type),
		Payload:  payload,
		Retained: ev.Type == console.EventDeviceTwinned,
	}
}

// changesHierarchy reports whether ev invalidates the retained snapshot.
func changesHierarchy(eventType string) bool {
	switch eventType {
	case console.EventHierarchyLoaded, console.EventLocationCreated,
		console.EventLocationUpdated, console.EventLocationDeleted:
		return true
	}
	return false
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
