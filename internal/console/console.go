// Package console ties the location tree, the cascading selector and the
// remote API together into one session that serves the admin pages.
package console

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"device-console/internal/location"
	"device-console/internal/metrics"
	"device-console/internal/remote"
)

// ErrInvalidInput is returned for requests missing required fields.
var ErrInvalidInput = errors.New("invalid input")

// Remote is the subset of the remote API the console drives.
type Remote interface {
	Pull(ctx context.Context) remote.Snapshot
	PushCreate(ctx context.Context, kind location.Kind, parentID int, label location.Label, description string) (location.NodeRecord, error)
	PushUpdate(ctx context.Context, kind location.Kind, id int, label location.Label, description string) (location.NodeRecord, error)
	PushDelete(ctx context.Context, kind location.Kind, id int) error
	DeviceTypes(ctx context.Context) ([]remote.DeviceType, error)
	Orphans(ctx context.Context) ([]remote.Orphan, error)
	Twin(ctx context.Context, req remote.TwinRequest) (remote.TwinResult, error)
}

// Console owns the location tree for the lifetime of the process. The Store
// and Selector are only touched under mu, and mu is never held across a remote
// call: a gesture mutates the tree, releases the lock for the round trip, then
// locks again to reconcile with the answer. Pages keep reading the tree while a
// write is in flight. Events are emitted after the mutex is released; handlers
// may call back into the console.
type Console struct {
	mu      sync.Mutex
	store   *location.Store
	remote  Remote
	events  *EventBus
	metrics *metrics.Recorder
	logger  *slog.Logger
}

// New creates a console over an empty store. Call Reload to populate it.
func New(store *location.Store, rem Remote, rec *metrics.Recorder, logger *slog.Logger) *Console {
	logger = logger.With("component", "console")
	return &Console{
		store:   store,
		remote:  rem,
		events:  NewEventBus(logger),
		metrics: rec,
		logger:  logger,
	}
}

// Events returns the console's event bus.
func (c *Console) Events() *EventBus { return c.events }

// Reload replaces the tree with the remote hierarchy. On failure the tree is
// left empty, sync_failed is emitted and the *location.LoadError returned.
func (c *Console) Reload(ctx context.Context) error {
	snap := c.remote.Pull(ctx)

	var (
		err = snap.Err
		ev  Event
	)
	c.locked(func() {
		if err == nil {
			err = c.store.Load(snap.Sites)
		}
		if err != nil {
			c.store.Reset()
		}
		c.metrics.SetNodes(c.store.Len())
		if err != nil {
			c.logger.Warn("hierarchy reload failed, tree is empty", "err", err)
			ev = syncFailed("reload", "", 0, err)
			return
		}
		c.logger.Info("hierarchy loaded", "sites", len(c.store.Sites()), "nodes", c.store.Len())
		ev = Event{Type: EventHierarchyLoaded, Data: HierarchyEvent{Sites: len(c.store.Sites()), Nodes: c.store.Len()}}
	})
	c.emit(ev)
	return err
}

// Tree returns a detached snapshot of the current hierarchy.
func (c *Console) Tree() []location.SiteRecord {
	var out []location.SiteRecord
	c.locked(func() { out = c.store.Snapshot() })
	return out
}

// Create adds an entity locally and mirrors it to the remote API. parentID is
// ignored for sites. When the remote assigns a different id, the local entity
// adopts it. A *remote.RemoteError leaves the local entity in place; callers
// reload to resynchronize.
func (c *Console) Create(ctx context.Context, kind location.Kind, parentID int, label location.Label, description string) (location.NodeRecord, error) {
	var (
		localID int
		err     error
	)
	description = strings.TrimSpace(description)
	c.locked(func() {
		var ent location.Entity
		if ent, err = c.addLocal(kind, parentID, label); err != nil {
			return
		}
		localID = ent.EntityID()
		_ = c.store.Describe(kind, localID, description)
		c.metrics.SetNodes(c.store.Len())
	})
	if err != nil {
		return location.NodeRecord{}, err
	}

	rec, err := c.remote.PushCreate(ctx, kind, parentID, label, description)
	if err != nil {
		c.logger.Error("push create failed", "kind", kind, "id", localID, "err", err)
		c.emit(syncFailed("create", kind, localID, err))
		return rec, err
	}
	c.locked(func() {
		rec = c.adopt(rec, kind, localID)
		rec = c.overlay(rec, label, description)
	})
	rec.ParentID = parentID
	c.emit(locationEvent(EventLocationCreated, rec))
	return rec, nil
}

// Update renames an entity and sets its description, then mirrors the change.
// A label or description the remote normalized replaces the local one.
func (c *Console) Update(ctx context.Context, kind location.Kind, id int, label location.Label, description string) (location.NodeRecord, error) {
	var err error
	description = strings.TrimSpace(description)
	c.locked(func() {
		if err = c.store.Update(kind, id, label); err != nil {
			return
		}
		_ = c.store.Describe(kind, id, description)
	})
	if err != nil {
		return location.NodeRecord{}, err
	}

	rec, err := c.remote.PushUpdate(ctx, kind, id, label, description)
	if err != nil {
		c.logger.Error("push update failed", "kind", kind, "id", id, "err", err)
		c.emit(syncFailed("update", kind, id, err))
		return rec, err
	}
	rec.Kind, rec.ID = kind, id
	c.locked(func() { rec = c.overlay(rec, label, description) })
	c.emit(locationEvent(EventLocationUpdated, rec))
	return rec, nil
}

// Delete removes an entity and its subtree locally and asks the remote API to
// delete it. An unknown id is a silent no-op and nothing is sent.
func (c *Console) Delete(ctx context.Context, kind location.Kind, id int) error {
	var (
		rec   location.NodeRecord
		found bool
	)
	c.locked(func() {
		ent := c.store.Resolve(kind, id)
		if ent == nil {
			return
		}
		found = true
		rec = location.NodeRecord{Kind: kind, ID: id, Label: labelOf(ent)}
		c.store.Remove(kind, id)
		c.metrics.SetNodes(c.store.Len())
	})
	if !found {
		c.logger.Debug("delete of unknown entity ignored", "kind", kind, "id", id)
		return nil
	}

	if err := c.remote.PushDelete(ctx, kind, id); err != nil {
		c.logger.Error("push delete failed", "kind", kind, "id", id, "err", err)
		c.emit(syncFailed("delete", kind, id, err))
		return err
	}
	c.emit(locationEvent(EventLocationDeleted, rec))
	return nil
}

// Option is one entry of a dependent dropdown.
type Option struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
}

// SelectionView is the derived state of a cascading selection.
type SelectionView struct {
	State     string             `json:"state"`
	Selection location.Selection `json:"selection"`
	Sites     []Option           `json:"sites"`
	Floors    []Option           `json:"floors"`
	Rooms     []Option           `json:"rooms"`
	Label     string             `json:"label"`
	Name      string             `json:"name"`
}

// Select evaluates a selection sent by a page: it replays site, floor and room
// against the current tree and derives the dropdown choices, the composite label
// for model and the device name after applying the overwrite rule to currentName.
// A rejected level returns *location.InvalidSelectionError.
func (c *Console) Select(sel location.Selection, model, currentName string) (SelectionView, error) {
	var (
		view SelectionView
		err  error
	)
	c.locked(func() {
		s := location.NewSelector(c.store)
		if err = s.Apply(sel); err != nil {
			return
		}
		view = c.viewLocked(s, model, currentName)
	})
	return view, err
}

func (c *Console) viewLocked(s *location.Selector, model, currentName string) SelectionView {
	view := SelectionView{
		State:     s.State().String(),
		Selection: s.Selection(),
		Sites:     []Option{},
		Floors:    []Option{},
		Rooms:     []Option{},
	}
	for _, site := range c.store.Sites() {
		view.Sites = append(view.Sites, option(site))
	}
	for _, f := range s.AvailableFloors() {
		view.Floors = append(view.Floors, option(f))
	}
	for _, r := range s.AvailableRooms() {
		view.Rooms = append(view.Rooms, option(r))
	}
	view.Label = s.CompositeLabel(model)
	view.Name = location.AutoName(currentName, view.Label)
	return view
}

// DeviceTypes returns the device types of one category, or all when category is empty.
func (c *Console) DeviceTypes(ctx context.Context, category string) ([]remote.DeviceType, error) {
	types, err := c.remote.DeviceTypes(ctx)
	if err != nil {
		return nil, err
	}
	return remote.FilterByCategory(types, category), nil
}

// Categories returns the distinct device-type categories.
func (c *Console) Categories(ctx context.Context) ([]string, error) {
	types, err := c.remote.DeviceTypes(ctx)
	if err != nil {
		return nil, err
	}
	return remote.Categories(types), nil
}

// Orphans returns devices waiting to be twinned.
func (c *Console) Orphans(ctx context.Context) ([]remote.Orphan, error) {
	return c.remote.Orphans(ctx)
}

// TwinInput is a twin gesture from the twinning page.
type TwinInput struct {
	DeviceID     string
	DeviceTypeID string
	Name         string
	Selection    location.Selection
}

// Twin validates the input and selection against the tree and submits the twin request.
func (c *Console) Twin(ctx context.Context, in TwinInput) (remote.TwinResult, error) {
	var (
		res remote.TwinResult
		err error
	)
	in.DeviceID = strings.TrimSpace(in.DeviceID)
	in.DeviceTypeID = strings.TrimSpace(in.DeviceTypeID)
	in.Name = strings.TrimSpace(in.Name)
	switch {
	case in.DeviceID == "":
		return res, fmt.Errorf("%w: device_id is required", ErrInvalidInput)
	case in.DeviceTypeID == "":
		return res, fmt.Errorf("%w: device_type_id is required", ErrInvalidInput)
	case in.Name == "":
		return res, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}

	var sel location.Selection
	c.locked(func() {
		s := location.NewSelector(c.store)
		if err = s.Apply(in.Selection); err == nil {
			sel = s.Selection()
		}
	})
	if err != nil {
		return res, err
	}

	req := remote.TwinRequest{
		DeviceID:     in.DeviceID,
		DeviceTypeID: remote.FlexID(in.DeviceTypeID),
		Name:         in.Name,
		SiteID:       sel.SiteID,
		FloorID:      sel.FloorID,
		RoomID:       sel.RoomID,
	}
	res, err = c.remote.Twin(ctx, req)
	if err != nil {
		c.logger.Error("twin failed", "device", in.DeviceID, "err", err)
		c.emit(Event{Type: EventSyncFailed, Data: SyncFailedEvent{Op: "twin", Error: err.Error()}})
		return res, err
	}
	c.logger.Info("device twinned", "device", in.DeviceID, "type", in.DeviceTypeID, "name", in.Name)
	c.emit(Event{Type: EventDeviceTwinned, Data: TwinEvent{
		DeviceID:     in.DeviceID,
		DeviceTypeID: in.DeviceTypeID,
		Name:         in.Name,
		SiteID:       sel.SiteID,
		FloorID:      sel.FloorID,
		RoomID:       sel.RoomID,
	}})
	return res, nil
}

func (c *Console) locked(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn()
}

func (c *Console) emit(e Event) {
	c.metrics.CountEvent(e.Type)
	c.events.Emit(e)
}

func (c *Console) addLocal(kind location.Kind, parentID int, label location.Label) (location.Entity, error) {
	var (
		ent location.Entity
		err error
	)
	switch kind {
	case location.KindSite:
		var s *location.Site
		if s, err = c.store.AddSite(label); err == nil {
			ent = s
		}
	case location.KindFloor:
		var f *location.Floor
		if f, err = c.store.AddFloor(parentID, label); err == nil {
			ent = f
		}
	case location.KindRoom:
		var r *location.Room
		if r, err = c.store.AddRoom(parentID, label); err == nil {
			ent = r
		}
	default:
		err = fmt.Errorf("%w: unknown location kind %q", ErrInvalidInput, kind)
	}
	return ent, err
}

// adopt moves the entity created under localID to the id the remote assigned.
// The entity may have been removed or reloaded away while the push was in
// flight; the record then keeps the id it was answered with.
func (c *Console) adopt(rec location.NodeRecord, kind location.Kind, localID int) location.NodeRecord {
	rec.Kind = kind
	if rec.ID <= 0 {
		c.logger.Warn("remote create returned no id, keeping local id", "kind", kind, "id", localID)
		rec.ID = localID
	}
	if rec.ID != localID {
		if err := c.store.Rebind(kind, localID, rec.ID); err != nil {
			c.logger.Warn("cannot adopt remote id", "kind", kind, "local", localID, "remote", rec.ID, "err", err)
			if c.store.Resolve(kind, localID) != nil {
				rec.ID = localID
			}
		}
	}
	return rec
}

// overlay applies the label and description the remote answered with when
// they differ from what was sent.
func (c *Console) overlay(rec location.NodeRecord, sent location.Label, description string) location.NodeRecord {
	if rec.Label != sent {
		if err := c.store.Update(rec.Kind, rec.ID, rec.Label); err != nil {
			c.logger.Warn("remote label not applied", "kind", rec.Kind, "id", rec.ID, "label", rec.Label.Display(), "err", err)
			rec.Label = sent
		}
	}
	if rec.Description != description {
		_ = c.store.Describe(rec.Kind, rec.ID, rec.Description)
	}
	return rec
}

func labelOf(e location.Entity) location.Label {
	switch n := e.(type) {
	case *location.Site:
		return n.Label
	case *location.Floor:
		return n.Label
	case *location.Room:
		return n.Label
	}
	return location.Label{}
}

func option(e location.Entity) Option {
	return Option{ID: e.EntityID(), Name: e.PlainName(), DisplayName: e.DisplayName()}
}

func locationEvent(eventType string, rec location.NodeRecord) Event {
	return Event{Type: eventType, Data: LocationEvent{
		Kind:        string(rec.Kind),
		ID:          rec.ID,
		ParentID:    rec.ParentID,
		Name:        rec.Label.Name,
		Icon:        rec.Label.Icon,
		DisplayName: rec.Label.Display(),
	}}
}

func syncFailed(op string, kind location.Kind, id int, err error) Event {
	return Event{Type: EventSyncFailed, Data: SyncFailedEvent{Op: op, Kind: string(kind), ID: id, Error: err.Error()}}
}
