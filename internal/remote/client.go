// Package remote talks to the device/location REST API.
package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"device-console/internal/location"
	"device-console/internal/metrics"
)

// RequestIDHeader carries a per-request correlation id to the remote API.
const RequestIDHeader = "X-Request-ID"

// Config holds remote API client configuration.
type Config struct {
	BaseURL string
	Shape   Shape
	Timeout time.Duration
	APIKey  string
}

// Snapshot is the result of a hierarchy pull. Err is set when the pull failed;
// Sites is then empty.
type Snapshot struct {
	Sites []location.SiteRecord
	Err   error
}

// Client is the sync adapter between the in-memory location tree and the remote API.
// It is safe for concurrent use.
type Client struct {
	http    *resty.Client
	codec   codec
	shape   Shape
	metrics *metrics.Recorder
	logger  *slog.Logger
}

// New creates a client. Requests are never retried; the transport timeout is the only timeout.
func New(cfg Config, rec *metrics.Recorder, logger *slog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("remote: base url is required")
	}
	shape, err := ParseShape(string(cfg.Shape))
	if err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	hc := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
			if r.Header.Get(RequestIDHeader) == "" {
				r.SetHeader(RequestIDHeader, uuid.NewString())
			}
			return nil
		})
	if cfg.APIKey != "" {
		hc.SetHeader("X-API-Key", cfg.APIKey)
	}

	return &Client{
		http:    hc,
		codec:   codecFor(shape),
		shape:   shape,
		metrics: rec,
		logger:  logger.With("component", "remote"),
	}, nil
}

// Shape returns the record shape the client speaks.
func (c *Client) Shape() Shape { return c.shape }

// Pull fetches the remote hierarchy. It never returns an error directly: on a
// transport, status or parse failure it logs, returns an empty snapshot and sets
// Snapshot.Err to a *location.LoadError.
func (c *Client) Pull(ctx context.Context) Snapshot {
	body, err := c.do(ctx, "pull", http.MethodGet, "/locations", nil)
	if err != nil {
		c.logger.Error("fetch hierarchy failed", "err", err)
		return Snapshot{Err: &location.LoadError{Reason: "fetch remote hierarchy", Err: err}}
	}
	sites, err := c.codec.decodeHierarchy(body)
	if err != nil {
		c.logger.Error("parse hierarchy failed", "err", err)
		return Snapshot{Err: &location.LoadError{Reason: "parse remote hierarchy", Err: err}}
	}
	c.logger.Debug("hierarchy pulled", "sites", len(sites))
	return Snapshot{Sites: sites}
}

// PushCreate creates an entity under parentID (ignored for sites). The returned
// record carries the server-assigned id, or 0 when the response did not include one.
func (c *Client) PushCreate(ctx context.Context, kind location.Kind, parentID int, label location.Label, description string) (location.NodeRecord, error) {
	path, err := createPath(kind, parentID)
	if err != nil {
		return location.NodeRecord{}, err
	}
	body, err := c.do(ctx, "push_create", http.MethodPost, path, c.codec.encodeNode(kind, parentID, label, description))
	if err != nil {
		return location.NodeRecord{}, err
	}
	sent := location.NodeRecord{Kind: kind, ParentID: parentID, Label: label, Description: description}
	return c.codec.decodeNode(body, sent)
}

// PushUpdate replaces the label and description of an existing entity.
func (c *Client) PushUpdate(ctx context.Context, kind location.Kind, id int, label location.Label, description string) (location.NodeRecord, error) {
	path, err := itemPath(kind, id)
	if err != nil {
		return location.NodeRecord{}, err
	}
	body, err := c.do(ctx, "push_update", http.MethodPut, path, c.codec.encodeNode(kind, 0, label, description))
	if err != nil {
		return location.NodeRecord{}, err
	}
	sent := location.NodeRecord{Kind: kind, ID: id, Label: label, Description: description}
	return c.codec.decodeNode(body, sent)
}

// PushDelete deletes an entity. The remote API cascades to children itself.
func (c *Client) PushDelete(ctx context.Context, kind location.Kind, id int) error {
	path, err := itemPath(kind, id)
	if err != nil {
		return err
	}
	_, err = c.do(ctx, "push_delete", http.MethodDelete, path, nil)
	return err
}

// do executes one request and returns the response body. Non-2xx statuses
// become *RemoteError.
func (c *Client) do(ctx context.Context, op, method, path string, body any) ([]byte, error) {
	start := time.Now()
	outcome := metrics.OutcomeError
	defer func() { c.metrics.ObserveRemote(op, outcome, time.Since(start)) }()

	req := c.http.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, fmt.Errorf("%s: %s %s: %w: %w", op, method, path, ErrUnavailable, err)
	}
	if !resp.IsSuccess() {
		rerr := &RemoteError{Op: op, Method: method, Path: path, Status: resp.StatusCode(), Body: string(resp.Body())}
		c.logger.Warn("remote request rejected", "op", op, "status", rerr.Status, "detail", rerr.Detail())
		return nil, rerr
	}
	outcome = metrics.OutcomeSuccess
	c.logger.Debug("remote request", "op", op, "method", method, "path", path, "status", resp.StatusCode(), "took", time.Since(start))
	return resp.Body(), nil
}

func createPath(kind location.Kind, parentID int) (string, error) {
	switch kind {
	case location.KindSite:
		return "/locations", nil
	case location.KindFloor:
		return fmt.Sprintf("/locations/%d/floors", parentID), nil
	case location.KindRoom:
		return fmt.Sprintf("/floors/%d/rooms", parentID), nil
	}
	return "", fmt.Errorf("unknown location kind %q", kind)
}

func itemPath(kind location.Kind, id int) (string, error) {
	switch kind {
	case location.KindSite:
		return fmt.Sprintf("/locations/%d", id), nil
	case location.KindFloor:
		return fmt.Sprintf("/floors/%d", id), nil
	case location.KindRoom:
		return fmt.Sprintf("/rooms/%d", id), nil
	}
	return "", fmt.Errorf("unknown location kind %q", kind)
}
