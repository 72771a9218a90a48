package remote_test

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"device-console/internal/location"
	"device-console/internal/metrics"
	"device-console/internal/remote"
	"device-console/internal/remote/remotetest"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newClient(t *testing.T, shape remote.Shape) (*remote.Client, *remotetest.Server) {
	t.Helper()
	srv := remotetest.NewServer(t, string(shape))
	c, err := remote.New(remote.Config{BaseURL: srv.URL + "/", Shape: shape, Timeout: 5 * time.Second}, metrics.New(), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	return c, srv
}

func TestNewValidation(t *testing.T) {
	if _, err := remote.New(remote.Config{}, nil, testLogger()); err == nil {
		t.Error("expected error for empty base url")
	}
	if _, err := remote.New(remote.Config{BaseURL: "http://x", Shape: "xml"}, nil, testLogger()); err == nil {
		t.Error("expected error for unknown shape")
	}
	c, err := remote.New(remote.Config{BaseURL: "http://x"}, nil, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if c.Shape() != remote.ShapeEmbedded {
		t.Errorf("shape = %q, want embedded", c.Shape())
	}
}

func TestPullEmbedded(t *testing.T) {
	c, srv := newClient(t, remote.ShapeEmbedded)
	home := srv.Add("site", 0, "🏡 Home", "", "main house")
	ground := srv.Add("floor", home, "Ground Floor", "", "")
	srv.Add("room", ground, "🍳 Kitchen", "", "")

	snap := c.Pull(context.Background())
	if snap.Err != nil {
		t.Fatal(snap.Err)
	}
	if len(snap.Sites) != 1 {
		t.Fatalf("sites = %d, want 1", len(snap.Sites))
	}
	site := snap.Sites[0]
	if site.Label != (location.Label{Icon: "🏡", Name: "Home"}) || site.Description != "main house" {
		t.Errorf("site = %+v", site)
	}
	if len(site.Floors) != 1 || len(site.Floors[0].Rooms) != 1 {
		t.Fatalf("floors = %+v", site.Floors)
	}
	if got := site.Floors[0].Rooms[0].Label; got.Icon != "🍳" || got.Name != "Kitchen" {
		t.Errorf("room label = %+v", got)
	}
}

func TestPullFlat(t *testing.T) {
	c, srv := newClient(t, remote.ShapeFlat)
	home := srv.Add("site", 0, "Home", "🏡", "")
	ground := srv.Add("floor", home, "Ground Floor", "", "")
	srv.Add("room", ground, "Kitchen", "🍳", "")
	srv.Add("room", ground, "Hall", "", "")

	snap := c.Pull(context.Background())
	if snap.Err != nil {
		t.Fatal(snap.Err)
	}
	store := location.NewStore(location.ScopeTree)
	if err := store.Load(snap.Sites); err != nil {
		t.Fatal(err)
	}
	if store.Len() != 4 {
		t.Errorf("len = %d, want 4", store.Len())
	}
	p, ok := store.NamePath(3)
	if !ok || p != (location.NamePath{Site: "Home", Floor: "Ground Floor", Room: "Kitchen"}) {
		t.Errorf("path = %+v, %v", p, ok)
	}
	if store.Room(3).Label.Icon != "🍳" {
		t.Errorf("room icon = %q", store.Room(3).Label.Icon)
	}
}

func TestPullDegradesToEmpty(t *testing.T) {
	tests := []struct {
		name  string
		shape remote.Shape
		setup func(*remotetest.Server)
	}{
		{"server error", remote.ShapeEmbedded, func(s *remotetest.Server) { s.FailNext(http.StatusInternalServerError, "boom") }},
		{"not json", remote.ShapeEmbedded, func(s *remotetest.Server) { s.SetRawLocations("<html>") }},
		{"wrong json type", remote.ShapeEmbedded, func(s *remotetest.Server) { s.SetRawLocations(`{"sites": []}`) }},
		{"flat bad ref", remote.ShapeFlat, func(s *remotetest.Server) { s.SetRawLocations(`[{"id": "7", "name": "Home"}]`) }},
		{"flat orphan floor", remote.ShapeFlat, func(s *remotetest.Server) {
			s.SetRawLocations(`[{"id": "floor:2", "name": "F", "parent_id": "site:9"}]`)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, srv := newClient(t, tt.shape)
			srv.Add("site", 0, "Home", "", "")
			tt.setup(srv)

			snap := c.Pull(context.Background())
			if len(snap.Sites) != 0 {
				t.Errorf("sites = %d, want 0", len(snap.Sites))
			}
			var le *location.LoadError
			if !errors.As(snap.Err, &le) {
				t.Fatalf("err = %v, want *location.LoadError", snap.Err)
			}
		})
	}
}

func TestPullUnreachable(t *testing.T) {
	c, err := remote.New(remote.Config{BaseURL: "http://127.0.0.1:1", Timeout: time.Second}, nil, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	snap := c.Pull(context.Background())
	if snap.Err == nil || len(snap.Sites) != 0 {
		t.Errorf("snap = %+v, want empty with error", snap)
	}
	if !errors.Is(snap.Err, location.ErrLoad) {
		t.Errorf("errors.Is(err, ErrLoad) = false for %v", snap.Err)
	}
}

func TestPushCreateThenPullRoundTrip(t *testing.T) {
	for _, shape := range []remote.Shape{remote.ShapeEmbedded, remote.ShapeFlat} {
		t.Run(string(shape), func(t *testing.T) {
			c, _ := newClient(t, shape)
			ctx := context.Background()

			site, err := c.PushCreate(ctx, location.KindSite, 0, location.Label{Icon: "🏡", Name: "Home"}, "main")
			if err != nil {
				t.Fatal(err)
			}
			if site.ID <= 0 {
				t.Fatalf("site id = %d", site.ID)
			}
			floor, err := c.PushCreate(ctx, location.KindFloor, site.ID, location.Label{Name: "Ground Floor"}, "")
			if err != nil {
				t.Fatal(err)
			}
			room, err := c.PushCreate(ctx, location.KindRoom, floor.ID, location.Label{Icon: "🍳", Name: "Kitchen"}, "")
			if err != nil {
				t.Fatal(err)
			}

			snap := c.Pull(ctx)
			if snap.Err != nil {
				t.Fatal(snap.Err)
			}
			got := snap.Sites[0]
			if got.ID != site.ID || got.Label != (location.Label{Icon: "🏡", Name: "Home"}) || got.Description != "main" {
				t.Errorf("site = %+v", got)
			}
			r := got.Floors[0].Rooms[0]
			if r.ID != room.ID || r.Label != (location.Label{Icon: "🍳", Name: "Kitchen"}) {
				t.Errorf("room = %+v", r)
			}
		})
	}
}

func TestRoundTripMultiRuneIcons(t *testing.T) {
	labels := []location.Label{
		{Icon: "🛋️", Name: "Living Room"},
		{Icon: "👨‍🍳", Name: "Chef Kitchen"},
		{Icon: "♨", Name: "Sauna"},
	}
	for _, shape := range []remote.Shape{remote.ShapeEmbedded, remote.ShapeFlat} {
		t.Run(string(shape), func(t *testing.T) {
			c, _ := newClient(t, shape)
			ctx := context.Background()
			for _, l := range labels {
				if err := l.Validate(); err != nil {
					t.Fatalf("label %+v: %v", l, err)
				}
				if _, err := c.PushCreate(ctx, location.KindSite, 0, l, ""); err != nil {
					t.Fatal(err)
				}
			}
			snap := c.Pull(ctx)
			if snap.Err != nil {
				t.Fatal(snap.Err)
			}
			if len(snap.Sites) != len(labels) {
				t.Fatalf("sites = %d, want %d", len(snap.Sites), len(labels))
			}
			for i, l := range labels {
				if snap.Sites[i].Label != l {
					t.Errorf("site %d label = %+v, want %+v", i, snap.Sites[i].Label, l)
				}
			}
		})
	}
}

func TestPushCreateSendsShape(t *testing.T) {
	c, srv := newClient(t, remote.ShapeEmbedded)
	rec, err := c.PushCreate(context.Background(), location.KindSite, 0, location.Label{Icon: "🏢", Name: "Office"}, "")
	if err != nil {
		t.Fatal(err)
	}
	n := srv.Node("site", rec.ID)
	if n == nil || n.Name != "🏢 Office" || n.Icon != "" {
		t.Errorf("stored = %+v, want embedded name", n)
	}

	fc, fsrv := newClient(t, remote.ShapeFlat)
	rec, err = fc.PushCreate(context.Background(), location.KindSite, 0, location.Label{Icon: "🏢", Name: "Office"}, "")
	if err != nil {
		t.Fatal(err)
	}
	n = fsrv.Node("site", rec.ID)
	if n == nil || n.Name != "Office" || n.Icon != "🏢" {
		t.Errorf("stored = %+v, want separate icon", n)
	}
}

func TestPushCreateMissingParent(t *testing.T) {
	c, _ := newClient(t, remote.ShapeEmbedded)
	_, err := c.PushCreate(context.Background(), location.KindFloor, 99, location.Label{Name: "F"}, "")
	var re *remote.RemoteError
	if !errors.As(err, &re) {
		t.Fatalf("err = %v, want *RemoteError", err)
	}
	if re.Status != http.StatusNotFound {
		t.Errorf("status = %d, want 404", re.Status)
	}
	if re.Detail() != "site not found" {
		t.Errorf("detail = %q", re.Detail())
	}
	if !errors.Is(err, remote.ErrRemote) {
		t.Error("errors.Is(err, ErrRemote) = false")
	}
}

func TestPushUpdateAndDelete(t *testing.T) {
	c, srv := newClient(t, remote.ShapeEmbedded)
	ctx := context.Background()
	home := srv.Add("site", 0, "Home", "", "")
	floor := srv.Add("floor", home, "Ground", "", "")
	srv.Add("room", floor, "Kitchen", "", "")

	rec, err := c.PushUpdate(ctx, location.KindFloor, floor, location.Label{Icon: "🧱", Name: "Ground Floor"}, "slab")
	if err != nil {
		t.Fatal(err)
	}
	if rec.ID != floor || rec.Label.Name != "Ground Floor" || rec.Label.Icon != "🧱" {
		t.Errorf("record = %+v", rec)
	}
	if n := srv.Node("floor", floor); n.Name != "🧱 Ground Floor" || n.Description != "slab" {
		t.Errorf("stored = %+v", n)
	}

	if err := c.PushDelete(ctx, location.KindSite, home); err != nil {
		t.Fatal(err)
	}
	if srv.Count() != 0 {
		t.Errorf("remote count = %d, want 0 after cascade", srv.Count())
	}
	for _, r := range srv.Requests() {
		if strings.HasPrefix(r, "DELETE /floors") || strings.HasPrefix(r, "DELETE /rooms") {
			t.Errorf("client sent child delete %q", r)
		}
	}

	err = c.PushDelete(ctx, location.KindRoom, 1234)
	var re *remote.RemoteError
	if !errors.As(err, &re) || re.Status != http.StatusNotFound {
		t.Errorf("err = %v, want 404 RemoteError", err)
	}
}

func TestRequestsCarryRequestID(t *testing.T) {
	c, srv := newClient(t, remote.ShapeEmbedded)
	c.Pull(context.Background())
	c.Pull(context.Background())
	ids := srv.RequestIDs()
	if len(ids) != 2 || ids[0] == "" || ids[0] == ids[1] {
		t.Errorf("request ids = %v, want two distinct", ids)
	}
}

func TestNoRetries(t *testing.T) {
	c, srv := newClient(t, remote.ShapeEmbedded)
	srv.FailNext(http.StatusServiceUnavailable, `{"detail": "down"}`)
	_, err := c.PushCreate(context.Background(), location.KindSite, 0, location.Label{Name: "A"}, "")
	if err == nil {
		t.Fatal("expected error")
	}
	if n := len(srv.Requests()); n != 1 {
		t.Errorf("requests = %d, want 1", n)
	}
}

func TestPushCreateCancelledContext(t *testing.T) {
	c, _ := newClient(t, remote.ShapeEmbedded)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.PushCreate(ctx, location.KindSite, 0, location.Label{Name: "A"}, ""); err == nil {
		t.Error("expected error with cancelled context")
	}
}

func TestTransportErrorIsUnavailable(t *testing.T) {
	c, err := remote.New(remote.Config{BaseURL: "http://127.0.0.1:1", Timeout: time.Second}, nil, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	err = c.PushDelete(context.Background(), location.KindRoom, 1)
	if !errors.Is(err, remote.ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
	if errors.Is(err, remote.ErrRemote) {
		t.Error("transport error must not match ErrRemote")
	}
}
