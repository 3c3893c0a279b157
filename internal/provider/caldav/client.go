// Package caldav adapts a CalDAV server (Nextcloud, Radicale, Apple,
// Fastmail) to the provider surface. Recurring events come back as one
// master row plus override rows, mirroring the Google wire shape, so
// ingest stays provider-agnostic.
package caldav

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"

	"github.com/fppkit/calbridge/internal/provider"
)

const providerName = "caldav"

// Custom VEVENT properties stamped on bridge-managed events.
const (
	propManaged  = "X-CALBRIDGE-MANAGED"
	propIdentity = "X-CALBRIDGE-IDENTITY"
)

// Client is a CalDAV provider client.
type Client struct {
	baseURL      string
	username     string
	password     string
	calendarPath string
	logger       *slog.Logger
	httpTimeout  time.Duration
}

// NewClient builds a CalDAV client with basic-auth credentials.
func NewClient(baseURL, username, password string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:     baseURL,
		username:    username,
		password:    password,
		logger:      logger,
		httpTimeout: 30 * time.Second,
	}
}

// WithCalendarPath pins the calendar collection instead of discovering
// the default one.
func (c *Client) WithCalendarPath(path string) *Client {
	c.calendarPath = path
	return c
}

// Name identifies the provider.
func (c *Client) Name() string { return providerName }

func (c *Client) davClient() (*caldav.Client, error) {
	httpClient := &http.Client{Timeout: c.httpTimeout}
	client, err := caldav.NewClient(webdav.HTTPClientWithBasicAuth(httpClient, c.username, c.password), c.baseURL)
	if err != nil {
		return nil, provider.WrapError(providerName, "client", err)
	}
	return client, nil
}

// resolvePath picks the calendar collection: an explicit path wins,
// otherwise the server's first calendar is discovered.
func (c *Client) resolvePath(ctx context.Context, client *caldav.Client, calendarID string) (string, error) {
	if strings.HasPrefix(calendarID, "/") {
		return calendarID, nil
	}
	if c.calendarPath != "" {
		return c.calendarPath, nil
	}
	principal, err := client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return "", provider.WrapError(providerName, "find_principal", err)
	}
	homeSet, err := client.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return "", provider.WrapError(providerName, "find_home_set", err)
	}
	cals, err := client.FindCalendars(ctx, homeSet)
	if err != nil {
		return "", provider.WrapError(providerName, "find_calendars", err)
	}
	if len(cals) == 0 {
		return "", &provider.Error{Provider: providerName, Op: "find_calendars", Message: "no calendars found", Err: provider.ErrNotFound}
	}
	return cals[0].Path, nil
}

// ListEvents queries every VEVENT in the collection and flattens each
// object into master and override rows.
func (c *Client) ListEvents(ctx context.Context, calendarID string, opts provider.ListOptions) ([]provider.RawEvent, error) {
	client, err := c.davClient()
	if err != nil {
		return nil, err
	}
	calPath, err := c.resolvePath(ctx, client, calendarID)
	if err != nil {
		return nil, err
	}

	compFilter := caldav.CompFilter{Name: ical.CompEvent}
	if !opts.TimeMin.IsZero() || !opts.TimeMax.IsZero() {
		compFilter.Start = opts.TimeMin
		compFilter.End = opts.TimeMax
	}
	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name:     ical.CompCalendar,
			AllProps: true,
			Comps:    []caldav.CalendarCompRequest{{Name: ical.CompEvent, AllProps: true}},
		},
		CompFilter: caldav.CompFilter{
			Name:  ical.CompCalendar,
			Comps: []caldav.CompFilter{compFilter},
		},
	}

	objects, err := client.QueryCalendar(ctx, calPath, query)
	if err != nil {
		return nil, provider.WrapError(providerName, "query_calendar", err)
	}

	var events []provider.RawEvent
	for i := range objects {
		events = append(events, objectToRawEvents(&objects[i])...)
	}
	c.logger.Debug("listed caldav events", "calendar_path", calPath, "count", len(events))
	return events, nil
}

// objectToRawEvents splits one stored object into rows: the component
// without RECURRENCE-ID is the master, the rest are overrides.
func objectToRawEvents(obj *caldav.CalendarObject) []provider.RawEvent {
	if obj == nil || obj.Data == nil {
		return nil
	}
	var rows []provider.RawEvent
	for _, child := range obj.Data.Children {
		if child.Name != ical.CompEvent {
			continue
		}
		raw := componentToRawEvent(child)
		raw.ETag = obj.ETag
		rows = append(rows, raw)
	}
	return rows
}

func propValue(comp *ical.Component, name string) string {
	if p := comp.Props.Get(name); p != nil {
		return p.Value
	}
	return ""
}

func componentToRawEvent(comp *ical.Component) provider.RawEvent {
	uid := propValue(comp, ical.PropUID)
	raw := provider.RawEvent{
		ID:          uid,
		UID:         uid,
		Summary:     propValue(comp, ical.PropSummary),
		Description: propValue(comp, ical.PropDescription),
		Location:    propValue(comp, ical.PropLocation),
		Status:      strings.ToLower(propValue(comp, ical.PropStatus)),
		Start:       convertTimeProp(comp.Props.Get(ical.PropDateTimeStart)),
		End:         convertTimeProp(comp.Props.Get(ical.PropDateTimeEnd)),
	}

	if p := comp.Props.Get(ical.PropRecurrenceRule); p != nil {
		raw.Recurrence = append(raw.Recurrence, renderContentLine(p))
	}
	for _, p := range comp.Props.Values(ical.PropRecurrenceDates) {
		raw.Recurrence = append(raw.Recurrence, renderContentLine(&p))
	}
	for _, p := range comp.Props.Values(ical.PropExceptionDates) {
		raw.Recurrence = append(raw.Recurrence, renderContentLine(&p))
	}

	if p := comp.Props.Get(ical.PropRecurrenceID); p != nil {
		raw.RecurringEventID = uid
		raw.OriginalStart = convertTimeProp(p)
		raw.ID = uid + "#" + p.Value
	}

	if v := propValue(comp, ical.PropLastModified); v != "" {
		raw.Updated = toRFC3339(v)
	} else if v := propValue(comp, ical.PropDateTimeStamp); v != "" {
		raw.Updated = toRFC3339(v)
	}

	private := map[string]string{}
	if propValue(comp, propManaged) == provider.ManagedMarkerValue {
		private[provider.ManagedMarkerKey] = provider.ManagedMarkerValue
	}
	if v := propValue(comp, propIdentity); v != "" {
		private[provider.IdentityMarkerKey] = v
	}
	if len(private) > 0 {
		raw.Private = private
	}
	return raw
}

// renderContentLine reconstructs "NAME;PARAM=V:VALUE" text for
// recurrence properties so downstream parsing sees the same lines a
// Google row would carry.
func renderContentLine(p *ical.Prop) string {
	var b strings.Builder
	b.WriteString(p.Name)
	for param, values := range p.Params {
		for _, v := range values {
			b.WriteString(";")
			b.WriteString(param)
			b.WriteString("=")
			b.WriteString(v)
		}
	}
	b.WriteString(":")
	b.WriteString(p.Value)
	return b.String()
}

// convertTimeProp maps a DTSTART/DTEND/RECURRENCE-ID property to the
// shared boundary shape.
func convertTimeProp(p *ical.Prop) *provider.EventTime {
	if p == nil {
		return nil
	}
	value := p.Value
	if p.Params.Get("VALUE") == "DATE" || (len(value) == 8 && !strings.Contains(value, "T")) {
		if t, err := time.Parse("20060102", value); err == nil {
			return &provider.EventTime{Date: t.Format("2006-01-02")}
		}
		return nil
	}
	if strings.HasSuffix(value, "Z") {
		if t, err := time.Parse("20060102T150405Z", value); err == nil {
			return &provider.EventTime{DateTime: t.UTC().Format(time.RFC3339), TimeZone: "UTC"}
		}
		return nil
	}
	tzid := p.Params.Get("TZID")
	loc := time.UTC
	if tzid != "" {
		if l, err := time.LoadLocation(tzid); err == nil {
			loc = l
		}
	}
	t, err := time.ParseInLocation("20060102T150405", value, loc)
	if err != nil {
		return nil
	}
	return &provider.EventTime{DateTime: t.Format(time.RFC3339), TimeZone: tzid}
}

// toRFC3339 converts an iCalendar UTC timestamp.
func toRFC3339(value string) string {
	if t, err := time.Parse("20060102T150405Z", value); err == nil {
		return t.UTC().Format(time.RFC3339)
	}
	if t, err := time.Parse("20060102T150405", value); err == nil {
		return t.UTC().Format(time.RFC3339)
	}
	return ""
}

func (c *Client) objectPath(calPath, uid string) string {
	return calPath + url.PathEscape(uid) + ".ics"
}

// toCalendar builds the stored iCalendar object for one event row.
func toCalendar(ev *provider.RawEvent) (*ical.Calendar, error) {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//calbridge//Schedule Sync//EN")

	event := ical.NewEvent()
	uid := ev.UID
	if uid == "" {
		uid = ev.ID
	}
	if uid == "" {
		return nil, &provider.Error{Provider: providerName, Op: "encode", Message: "event needs a uid"}
	}
	event.Props.SetText(ical.PropUID, uid)
	event.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())
	if ev.Summary != "" {
		event.Props.SetText(ical.PropSummary, ev.Summary)
	}
	if ev.Description != "" {
		event.Props.SetText(ical.PropDescription, ev.Description)
	}
	if ev.Location != "" {
		event.Props.SetText(ical.PropLocation, ev.Location)
	}

	if err := setTimeProp(event.Component, ical.PropDateTimeStart, ev.Start); err != nil {
		return nil, err
	}
	if err := setTimeProp(event.Component, ical.PropDateTimeEnd, ev.End); err != nil {
		return nil, err
	}

	for _, line := range ev.Recurrence {
		prop, err := parseContentLine(line)
		if err != nil {
			return nil, err
		}
		event.Props.Add(prop)
	}

	if ev.Private[provider.ManagedMarkerKey] == provider.ManagedMarkerValue {
		managed := ical.NewProp(propManaged)
		managed.Value = provider.ManagedMarkerValue
		event.Props.Set(managed)
	}
	if v := ev.Private[provider.IdentityMarkerKey]; v != "" {
		identity := ical.NewProp(propIdentity)
		identity.Value = v
		event.Props.Set(identity)
	}

	cal.Children = append(cal.Children, event.Component)
	return cal, nil
}

func setTimeProp(comp *ical.Component, name string, et *provider.EventTime) error {
	if et == nil {
		return nil
	}
	if et.Date != "" {
		t, err := time.Parse("2006-01-02", et.Date)
		if err != nil {
			return &provider.Error{Provider: providerName, Op: "encode", Message: fmt.Sprintf("bad date %q", et.Date)}
		}
		prop := ical.NewProp(name)
		prop.Params = ical.Params{"VALUE": []string{"DATE"}}
		prop.Value = t.Format("20060102")
		comp.Props.Set(prop)
		return nil
	}
	t, err := time.Parse(time.RFC3339, et.DateTime)
	if err != nil {
		return &provider.Error{Provider: providerName, Op: "encode", Message: fmt.Sprintf("bad datetime %q", et.DateTime)}
	}
	if et.TimeZone != "" && et.TimeZone != "UTC" {
		if loc, lerr := time.LoadLocation(et.TimeZone); lerr == nil {
			comp.Props.SetDateTime(name, t.In(loc))
			return nil
		}
	}
	comp.Props.SetDateTime(name, t.UTC())
	return nil
}

// parseContentLine splits "NAME;PARAM=V:VALUE" recurrence text back
// into a property. Recurrence lines never carry quoted colons, so a
// plain split is enough.
func parseContentLine(line string) (*ical.Prop, error) {
	idx := strings.Index(line, ":")
	if idx <= 0 {
		return nil, &provider.Error{Provider: providerName, Op: "encode", Message: fmt.Sprintf("bad recurrence line %q", line)}
	}
	left, value := line[:idx], line[idx+1:]
	parts := strings.Split(left, ";")
	prop := ical.NewProp(strings.ToUpper(parts[0]))
	prop.Value = value
	for _, part := range parts[1:] {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return nil, &provider.Error{Provider: providerName, Op: "encode", Message: fmt.Sprintf("bad recurrence param %q", part)}
		}
		prop.Params[strings.ToUpper(kv[0])] = []string{kv[1]}
	}
	return prop, nil
}

// InsertEvent stores a new object named after the event UID.
func (c *Client) InsertEvent(ctx context.Context, calendarID string, ev *provider.RawEvent) (*provider.RawEvent, error) {
	return c.put(ctx, calendarID, ev, "insert_event")
}

// UpdateEvent replaces the stored object. CalDAV offers no etag
// precondition through this client, so remote edits between read and
// write are resolved by the authority rules, not here.
func (c *Client) UpdateEvent(ctx context.Context, calendarID string, ev *provider.RawEvent) (*provider.RawEvent, error) {
	return c.put(ctx, calendarID, ev, "update_event")
}

func (c *Client) put(ctx context.Context, calendarID string, ev *provider.RawEvent, op string) (*provider.RawEvent, error) {
	client, err := c.davClient()
	if err != nil {
		return nil, err
	}
	calPath, err := c.resolvePath(ctx, client, calendarID)
	if err != nil {
		return nil, err
	}
	cal, err := toCalendar(ev)
	if err != nil {
		return nil, err
	}
	uid := ev.UID
	if uid == "" {
		uid = ev.ID
	}
	obj, err := client.PutCalendarObject(ctx, c.objectPath(calPath, uid), cal)
	if err != nil {
		return nil, provider.WrapError(providerName, op, err)
	}
	stored := *ev
	stored.ID = uid
	stored.UID = uid
	if obj != nil {
		stored.ETag = obj.ETag
	}
	stored.Updated = time.Now().UTC().Format(time.RFC3339)
	return &stored, nil
}

// DeleteEvent removes the object; a missing object already satisfies
// the intent.
func (c *Client) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	client, err := c.davClient()
	if err != nil {
		return err
	}
	calPath, err := c.resolvePath(ctx, client, calendarID)
	if err != nil {
		return err
	}
	uid := eventID
	if idx := strings.Index(uid, "#"); idx > 0 {
		uid = uid[:idx]
	}
	if err := client.RemoveAll(ctx, c.objectPath(calPath, uid)); err != nil {
		if isNotFound(err) {
			return nil
		}
		return provider.WrapError(providerName, "delete_event", err)
	}
	return nil
}

// isNotFound sniffs the status out of the webdav client error; the
// library keeps its HTTP error type internal.
func isNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "404")
}

// Calendars lists the account's calendar collections.
func (c *Client) Calendars(ctx context.Context) ([]provider.CalendarInfo, error) {
	client, err := c.davClient()
	if err != nil {
		return nil, err
	}
	principal, err := client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return nil, provider.WrapError(providerName, "find_principal", err)
	}
	homeSet, err := client.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return nil, provider.WrapError(providerName, "find_home_set", err)
	}
	cals, err := client.FindCalendars(ctx, homeSet)
	if err != nil {
		return nil, provider.WrapError(providerName, "find_calendars", err)
	}
	out := make([]provider.CalendarInfo, 0, len(cals))
	for i, cal := range cals {
		out = append(out, provider.CalendarInfo{
			ID:      cal.Path,
			Summary: cal.Name,
			Primary: i == 0,
		})
	}
	return out, nil
}
