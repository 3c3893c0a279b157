// Package google talks to the Google Calendar v3 REST API directly,
// authenticated through an oauth2 token source. Calls run behind a
// circuit breaker so a flapping API cannot stall a sync run with
// endless retries.
package google

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/oauth2"

	"github.com/fppkit/calbridge/internal/provider"
)

const (
	defaultBaseURL = "https://www.googleapis.com/calendar/v3"
	defaultTimeout = 15 * time.Second
	providerName   = "google"
	pageSize       = 2500
)

// Client is a Google Calendar provider client.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
	breaker    *gobreaker.CircuitBreaker[*http.Response]
}

// Option adjusts client construction.
type Option func(*Client)

// WithBaseURL points the client at a different API host, mainly for
// tests.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = baseURL
		}
	}
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// NewClient builds a client around an oauth2 token source.
func NewClient(tokenSource oauth2.TokenSource, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		httpClient: &http.Client{
			Timeout: defaultTimeout,
			Transport: &oauthTransport{
				base:   http.DefaultTransport,
				source: tokenSource,
			},
		},
		baseURL: defaultBaseURL,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.breaker = gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:    providerName,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("provider circuit breaker state changed",
				"provider", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	return c
}

// Name identifies the provider.
func (c *Client) Name() string { return providerName }

type oauthTransport struct {
	base   http.RoundTripper
	source oauth2.TokenSource
}

func (t *oauthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.source.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", provider.ErrUnauthorized, err)
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	return t.base.RoundTrip(req)
}

// do runs one request through the breaker. Server-side failures count
// against the breaker; client-side statuses pass through for the
// caller to map.
func (c *Client) do(ctx context.Context, op, method, rawURL string, body []byte, header http.Header) (*http.Response, error) {
	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, method, rawURL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		if len(body) > 0 {
			req.Header.Set("Content-Type", "application/json")
		}
		for k, vals := range header {
			for _, v := range vals {
				req.Header.Set(k, v)
			}
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			msg := readErrorBody(resp)
			resp.Body.Close()
			return nil, provider.NewError(providerName, op, resp.StatusCode, msg)
		}
		return resp, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, provider.WrapError(providerName, op, err)
		}
		var perr *provider.Error
		if errors.As(err, &perr) {
			return nil, perr
		}
		if errors.Is(err, provider.ErrUnauthorized) {
			return nil, &provider.Error{Provider: providerName, Op: op, Err: err}
		}
		return nil, provider.WrapError(providerName, op, err)
	}
	return resp, nil
}

func readErrorBody(resp *http.Response) string {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Error.Message != "" {
		return payload.Error.Message
	}
	return string(raw)
}

// googleEvent is the wire shape of an event row.
type googleEvent struct {
	ID                 string              `json:"id,omitempty"`
	ICalUID            string              `json:"iCalUID,omitempty"`
	Status             string              `json:"status,omitempty"`
	Summary            string              `json:"summary,omitempty"`
	Description        string              `json:"description,omitempty"`
	Location           string              `json:"location,omitempty"`
	Start              *provider.EventTime `json:"start,omitempty"`
	End                *provider.EventTime `json:"end,omitempty"`
	Recurrence         []string            `json:"recurrence,omitempty"`
	RecurringEventID   string              `json:"recurringEventId,omitempty"`
	OriginalStartTime  *provider.EventTime `json:"originalStartTime,omitempty"`
	Updated            string              `json:"updated,omitempty"`
	ETag               string              `json:"etag,omitempty"`
	ExtendedProperties *struct {
		Private map[string]string `json:"private,omitempty"`
	} `json:"extendedProperties,omitempty"`
}

func fromWire(ev googleEvent) provider.RawEvent {
	raw := provider.RawEvent{
		ID:               ev.ID,
		UID:              ev.ICalUID,
		Status:           ev.Status,
		Summary:          ev.Summary,
		Description:      ev.Description,
		Location:         ev.Location,
		Start:            ev.Start,
		End:              ev.End,
		Recurrence:       ev.Recurrence,
		RecurringEventID: ev.RecurringEventID,
		OriginalStart:    ev.OriginalStartTime,
		Updated:          ev.Updated,
		ETag:             ev.ETag,
	}
	if ev.ExtendedProperties != nil {
		raw.Private = ev.ExtendedProperties.Private
	}
	return raw
}

func toWire(ev *provider.RawEvent) googleEvent {
	wire := googleEvent{
		ID:               ev.ID,
		ICalUID:          ev.UID,
		Status:           ev.Status,
		Summary:          ev.Summary,
		Description:      ev.Description,
		Location:         ev.Location,
		Start:            ev.Start,
		End:              ev.End,
		Recurrence:       ev.Recurrence,
		RecurringEventID: ev.RecurringEventID,
	}
	if len(ev.Private) > 0 {
		wire.ExtendedProperties = &struct {
			Private map[string]string `json:"private,omitempty"`
		}{Private: ev.Private}
	}
	return wire
}

func (c *Client) eventsURL(calendarID string) string {
	return fmt.Sprintf("%s/calendars/%s/events", c.baseURL, url.PathEscape(calendarID))
}

// ListEvents fetches every event row of a calendar, following page
// tokens. Recurring series come back as master rows with their
// recurrence lines plus separate override rows; cancelled overrides
// are included so exception carving sees them.
func (c *Client) ListEvents(ctx context.Context, calendarID string, opts provider.ListOptions) ([]provider.RawEvent, error) {
	query := url.Values{}
	query.Set("maxResults", fmt.Sprintf("%d", pageSize))
	query.Set("singleEvents", "false")
	query.Set("showDeleted", "true")
	if !opts.TimeMin.IsZero() {
		query.Set("timeMin", opts.TimeMin.UTC().Format(time.RFC3339))
	}
	if !opts.TimeMax.IsZero() {
		query.Set("timeMax", opts.TimeMax.UTC().Format(time.RFC3339))
	}
	if !opts.UpdatedMin.IsZero() {
		query.Set("updatedMin", opts.UpdatedMin.UTC().Format(time.RFC3339))
	}

	var events []provider.RawEvent
	pageToken := ""
	for {
		if pageToken != "" {
			query.Set("pageToken", pageToken)
		}
		listURL := c.eventsURL(calendarID) + "?" + query.Encode()
		resp, err := c.do(ctx, "list_events", http.MethodGet, listURL, nil, nil)
		if err != nil {
			return nil, err
		}
		var payload struct {
			Items         []googleEvent `json:"items"`
			NextPageToken string        `json:"nextPageToken"`
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			msg := readErrorBody(resp)
			resp.Body.Close()
			return nil, provider.NewError(providerName, "list_events", resp.StatusCode, msg)
		}
		err = json.NewDecoder(resp.Body).Decode(&payload)
		resp.Body.Close()
		if err != nil {
			return nil, provider.WrapError(providerName, "list_events", err)
		}
		for _, item := range payload.Items {
			events = append(events, fromWire(item))
		}
		if payload.NextPageToken == "" {
			break
		}
		pageToken = payload.NextPageToken
	}
	c.logger.Debug("listed calendar events", "calendar_id", calendarID, "count", len(events))
	return events, nil
}

// InsertEvent creates an event and returns the stored row.
func (c *Client) InsertEvent(ctx context.Context, calendarID string, ev *provider.RawEvent) (*provider.RawEvent, error) {
	body, err := json.Marshal(toWire(ev))
	if err != nil {
		return nil, provider.WrapError(providerName, "insert_event", err)
	}
	resp, err := c.do(ctx, "insert_event", http.MethodPost, c.eventsURL(calendarID), body, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, provider.NewError(providerName, "insert_event", resp.StatusCode, readErrorBody(resp))
	}
	var stored googleEvent
	if err := json.NewDecoder(resp.Body).Decode(&stored); err != nil {
		return nil, provider.WrapError(providerName, "insert_event", err)
	}
	raw := fromWire(stored)
	return &raw, nil
}

// UpdateEvent replaces an event. When the input carries an ETag the
// update is conditional; a concurrent remote edit surfaces as
// ErrPreconditionFailed and is never overwritten blindly.
func (c *Client) UpdateEvent(ctx context.Context, calendarID string, ev *provider.RawEvent) (*provider.RawEvent, error) {
	if ev.ID == "" {
		return nil, &provider.Error{Provider: providerName, Op: "update_event", Message: "missing event id"}
	}
	body, err := json.Marshal(toWire(ev))
	if err != nil {
		return nil, provider.WrapError(providerName, "update_event", err)
	}
	header := http.Header{}
	if ev.ETag != "" {
		header.Set("If-Match", ev.ETag)
	}
	updateURL := c.eventsURL(calendarID) + "/" + url.PathEscape(ev.ID)
	resp, err := c.do(ctx, "update_event", http.MethodPut, updateURL, body, header)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, provider.NewError(providerName, "update_event", resp.StatusCode, readErrorBody(resp))
	}
	var stored googleEvent
	if err := json.NewDecoder(resp.Body).Decode(&stored); err != nil {
		return nil, provider.WrapError(providerName, "update_event", err)
	}
	raw := fromWire(stored)
	return &raw, nil
}

// DeleteEvent removes an event. Deleting an event that is already gone
// succeeds, so replayed plans stay idempotent.
func (c *Client) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	deleteURL := c.eventsURL(calendarID) + "/" + url.PathEscape(eventID)
	resp, err := c.do(ctx, "delete_event", http.MethodDelete, deleteURL, nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return nil
	}
	return provider.NewError(providerName, "delete_event", resp.StatusCode, readErrorBody(resp))
}

// Calendars lists the calendars visible to the account.
func (c *Client) Calendars(ctx context.Context) ([]provider.CalendarInfo, error) {
	var calendars []provider.CalendarInfo
	pageToken := ""
	for {
		listURL := c.baseURL + "/users/me/calendarList?maxResults=250"
		if pageToken != "" {
			listURL += "&pageToken=" + url.QueryEscape(pageToken)
		}
		resp, err := c.do(ctx, "list_calendars", http.MethodGet, listURL, nil, nil)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			msg := readErrorBody(resp)
			resp.Body.Close()
			return nil, provider.NewError(providerName, "list_calendars", resp.StatusCode, msg)
		}
		var payload struct {
			Items []struct {
				ID      string `json:"id"`
				Summary string `json:"summary"`
				Primary bool   `json:"primary"`
			} `json:"items"`
			NextPageToken string `json:"nextPageToken"`
		}
		err = json.NewDecoder(resp.Body).Decode(&payload)
		resp.Body.Close()
		if err != nil {
			return nil, provider.WrapError(providerName, "list_calendars", err)
		}
		for _, item := range payload.Items {
			calendars = append(calendars, provider.CalendarInfo{
				ID:      item.ID,
				Summary: item.Summary,
				Primary: item.Primary,
			})
		}
		if payload.NextPageToken == "" {
			break
		}
		pageToken = payload.NextPageToken
	}
	return calendars, nil
}
