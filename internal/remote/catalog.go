package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
)

// ErrTwinRejected is returned when the remote API answers a twin request with
// a 2xx status but success=false.
var ErrTwinRejected = errors.New("twin rejected")

// FlexID is an identifier the remote API sends either as a JSON number or a string.
type FlexID string

func (id *FlexID) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = FlexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	*id = FlexID(n.String())
	return nil
}

// MarshalJSON emits numeric ids as numbers and everything else as strings.
func (id FlexID) MarshalJSON() ([]byte, error) {
	if n, err := strconv.ParseInt(string(id), 10, 64); err == nil {
		return []byte(strconv.FormatInt(n, 10)), nil
	}
	return json.Marshal(string(id))
}

// DeviceType is a device-type definition. Category is normalized from either
// category or decoder_function.
type DeviceType struct {
	ID             FlexID          `json:"id"`
	Name           string          `json:"name"`
	Category       string          `json:"category"`
	Description    string          `json:"description,omitempty"`
	Manufacturer   string          `json:"manufacturer,omitempty"`
	Model          string          `json:"model,omitempty"`
	DecoderVersion string          `json:"decoder_version,omitempty"`
	SampleDecoded  json.RawMessage `json:"sample_decoded,omitempty"`
}

type deviceTypeWire struct {
	ID              FlexID          `json:"id"`
	Name            string          `json:"name"`
	Category        string          `json:"category"`
	DecoderFunction string          `json:"decoder_function"`
	Description     string          `json:"description"`
	Manufacturer    string          `json:"manufacturer"`
	Model           string          `json:"model"`
	DecoderVersion  string          `json:"decoder_version"`
	SampleDecoded   json.RawMessage `json:"sample_decoded"`
}

// Orphan is a device seen by ingest but not yet twinned. Field aliases used by
// different API versions are folded into one name.
type Orphan struct {
	DeviceID     string          `json:"device_id"`
	FirstSeen    string          `json:"first_seen,omitempty"`
	LastSeen     string          `json:"last_seen,omitempty"`
	MessageCount int             `json:"message_count"`
	LastPayload  json.RawMessage `json:"last_payload,omitempty"`
	Status       string          `json:"status,omitempty"`
}

type orphanWire struct {
	DeviceID      string          `json:"device_id"`
	DevEUI        string          `json:"deveui"`
	FirstSeen     string          `json:"first_seen"`
	LastSeen      string          `json:"last_seen"`
	MessageCount  *int            `json:"message_count"`
	PayloadCount  *int            `json:"payload_count"`
	LastPayload   json.RawMessage `json:"last_payload"`
	LatestPayload json.RawMessage `json:"latest_payload"`
	Status        string          `json:"status"`
	LatestStatus  string          `json:"latest_status"`
}

// TwinRequest associates an orphan with a device type and an optional location.
// Zero location ids are omitted.
type TwinRequest struct {
	DeviceID     string `json:"device_id"`
	DeviceTypeID FlexID `json:"device_type_id"`
	Name         string `json:"name"`
	SiteID       int    `json:"site_id,omitempty"`
	FloorID      int    `json:"floor_id,omitempty"`
	RoomID       int    `json:"room_id,omitempty"`
}

// TwinResult is the remote answer to a twin request.
type TwinResult struct {
	Success bool   `json:"success"`
	Detail  string `json:"detail,omitempty"`
}

// DeviceTypes fetches the device-type catalog.
func (c *Client) DeviceTypes(ctx context.Context) ([]DeviceType, error) {
	body, err := c.do(ctx, "device_types", http.MethodGet, "/device-types", nil)
	if err != nil {
		return nil, err
	}
	var wire []deviceTypeWire
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("decode device types: %w", err)
	}
	out := make([]DeviceType, 0, len(wire))
	for _, w := range wire {
		cat := w.Category
		if cat == "" {
			cat = w.DecoderFunction
		}
		out = append(out, DeviceType{
			ID:             w.ID,
			Name:           w.Name,
			Category:       strings.TrimSpace(cat),
			Description:    w.Description,
			Manufacturer:   w.Manufacturer,
			Model:          w.Model,
			DecoderVersion: w.DecoderVersion,
			SampleDecoded:  w.SampleDecoded,
		})
	}
	return out, nil
}

// Orphans fetches devices that have not been twinned yet.
func (c *Client) Orphans(ctx context.Context) ([]Orphan, error) {
	body, err := c.do(ctx, "orphans", http.MethodGet, "/orphans", nil)
	if err != nil {
		return nil, err
	}
	var wire []orphanWire
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("decode orphans: %w", err)
	}
	out := make([]Orphan, 0, len(wire))
	for _, w := range wire {
		o := Orphan{
			DeviceID:    firstNonEmpty(w.DeviceID, w.DevEUI),
			FirstSeen:   w.FirstSeen,
			LastSeen:    w.LastSeen,
			LastPayload: w.LastPayload,
			Status:      firstNonEmpty(w.Status, w.LatestStatus),
		}
		if len(o.LastPayload) == 0 || string(o.LastPayload) == "null" {
			o.LastPayload = w.LatestPayload
		}
		switch {
		case w.MessageCount != nil:
			o.MessageCount = *w.MessageCount
		case w.PayloadCount != nil:
			o.MessageCount = *w.PayloadCount
		}
		out = append(out, o)
	}
	return out, nil
}

// Twin submits a twin request. A non-2xx answer is a *RemoteError; a 2xx answer
// with success=false wraps ErrTwinRejected. A 2xx answer without a success field
// counts as success.
func (c *Client) Twin(ctx context.Context, req TwinRequest) (TwinResult, error) {
	body, err := c.do(ctx, "twin", http.MethodPost, "/twin-device", req)
	if err != nil {
		return TwinResult{}, err
	}
	var wire struct {
		Success *bool  `json:"success"`
		Detail  string `json:"detail"`
		Message string `json:"message"`
	}
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &wire); err != nil {
			return TwinResult{}, fmt.Errorf("decode twin response: %w", err)
		}
	}
	res := TwinResult{Success: wire.Success == nil || *wire.Success, Detail: firstNonEmpty(wire.Detail, wire.Message)}
	if !res.Success {
		return res, fmt.Errorf("twin %s: %w: %s", req.DeviceID, ErrTwinRejected, res.Detail)
	}
	return res, nil
}

// Categories returns the distinct non-empty categories, sorted. Categories
// differing only in case are one category, spelled as first seen, matching
// FilterByCategory.
func Categories(types []DeviceType) []string {
	seen := map[string]bool{}
	var out []string
	for _, t := range types {
		key := strings.ToLower(t.Category)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, t.Category)
	}
	sort.Slice(out, func(i, j int) bool { return strings.ToLower(out[i]) < strings.ToLower(out[j]) })
	return out
}

// FilterByCategory returns the device types of one category. An empty category matches all.
func FilterByCategory(types []DeviceType, category string) []DeviceType {
	if category == "" {
		return types
	}
	var out []DeviceType
	for _, t := range types {
		if strings.EqualFold(t.Category, category) {
			out = append(out, t)
		}
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
