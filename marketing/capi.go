/*
Package marketing forwards ledger events to the Meta Conversions API.

PURPOSE:
  Server-side conversion tracking for registrations and completed tasks.
  Delivery is best effort: the ledger change has already committed when an
  event reaches this package, and nothing here can undo or delay it.

PAYLOAD:
  POST {graph}/{pixel_id}/events
  {
    "data": [{event_name, event_time, action_source, event_id,
              user_data{external_id, em[], client_user_agent},
              custom_data{value, currency, content_ids, content_name, content_type}}],
    "test_event_code": "...",   // only when configured
    "access_token": "..."
  }

  external_id and em are SHA-256 of the trimmed, lower-cased value.

SEE ALSO:
  - sink.go: Queueing on the worker pool
  - ../reward/notify.go: Event source
*/
package marketing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	DefaultGraphURL = "https://graph.facebook.com/v18.0"
	UserAgent       = "RuangGamer-Backend/1.0"

	actionSource = "system_generated"
	contentType  = "product"
)

type UserData struct {
	ExternalID      string   `json:"external_id,omitempty"`
	Emails          []string `json:"em"`
	ClientUserAgent string   `json:"client_user_agent"`
}

type CustomData struct {
	Value       float64  `json:"value"`
	Currency    string   `json:"currency"`
	ContentIDs  []string `json:"content_ids"`
	ContentName string   `json:"content_name,omitempty"`
	ContentType string   `json:"content_type"`
}

// ServerEvent is one entry of the "data" array.
type ServerEvent struct {
	EventName    string     `json:"event_name"`
	EventTime    int64      `json:"event_time"`
	ActionSource string     `json:"action_source"`
	EventID      string     `json:"event_id,omitempty"`
	UserData     UserData   `json:"user_data"`
	CustomData   CustomData `json:"custom_data"`
}

type eventsRequest struct {
	Data          []ServerEvent `json:"data"`
	TestEventCode string        `json:"test_event_code,omitempty"`
	AccessToken   string        `json:"access_token"`
}

type eventsResponse struct {
	EventsReceived int    `json:"events_received"`
	FBTraceID      string `json:"fbtrace_id"`
}

type ClientOptions struct {
	GraphURL      string
	PixelID       string
	AccessToken   string
	TestEventCode string
	Timeout       time.Duration
}

// Client posts events for a single pixel.
type Client struct {
	http    *resty.Client
	pixelID string
	token   string
	test    string
}

func NewClient(opts ClientOptions) *Client {
	if opts.GraphURL == "" {
		opts.GraphURL = DefaultGraphURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	rc := resty.New().
		SetBaseURL(strings.TrimRight(opts.GraphURL, "/")).
		SetTimeout(opts.Timeout).
		SetHeader("Content-Type", "application/json")
	return &Client{http: rc, pixelID: opts.PixelID, token: opts.AccessToken, test: opts.TestEventCode}
}

// Send posts events in one request and returns how many Meta accepted.
func (c *Client) Send(ctx context.Context, events ...ServerEvent) (int, error) {
	var out eventsResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("pixel", c.pixelID).
		SetBody(eventsRequest{Data: events, TestEventCode: c.test, AccessToken: c.token}).
		SetResult(&out).
		Post("/{pixel}/events")
	if err != nil {
		return 0, fmt.Errorf("send conversion events: %w", err)
	}
	if resp.IsError() {
		return 0, fmt.Errorf("send conversion events: status %d: %s", resp.StatusCode(), resp.String())
	}
	return out.EventsReceived, nil
}

// HashPII normalises and hashes a personal identifier. Empty input stays empty.
func HashPII(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(v))
	return hex.EncodeToString(sum[:])
}
