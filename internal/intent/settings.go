package intent

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"
)

var (
	ErrNoSettingsBlock = errors.New("no settings block")
	ErrInvalidSettings = errors.New("invalid settings block")
)

// settingsSection is the INI section name recognized inside calendar
// event descriptions.
const settingsSection = "settings"

// Settings is the parsed [settings] block of a calendar event
// description. Nil pointer fields were not specified and fall back to
// normalizer defaults. Unknown keys are preserved verbatim in Extra so
// a description round-trips without loss.
type Settings struct {
	Type     *SubEventType
	Enabled  *bool
	Repeat   *int
	StopType *int
	Start    *TimeValue
	End      *TimeValue
	Date     *HolidayToken
	Extra    map[string]string
}

// ParseStopType maps a stop type spelling to the player's numeric
// value. Numeric input is accepted as-is when in range.
func ParseStopType(s string) (int, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "graceful":
		return StopGraceful, nil
	case "hard", "immediately":
		return StopHard, nil
	case "graceful_loop", "graceful loop":
		return StopGracefulLoop, nil
	}
	if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil && n >= StopGraceful && n <= StopGracefulLoop {
		return n, nil
	}
	return 0, fmt.Errorf("%w: stopType %q", ErrInvalidSettings, s)
}

// FormatStopType renders the numeric stop type in its word form.
func FormatStopType(n int) string {
	switch n {
	case StopHard:
		return "hard"
	case StopGracefulLoop:
		return "graceful_loop"
	default:
		return "graceful"
	}
}

// ParseRepeat maps a repeat spelling to the player's numeric value.
func ParseRepeat(s string) (int, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "immediate", "on":
		return RepeatImmediate, nil
	case "false", "no", "none", "off":
		return RepeatNone, nil
	}
	if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil && n >= 0 {
		return n, nil
	}
	return 0, fmt.Errorf("%w: repeat %q", ErrInvalidSettings, s)
}

// FormatRepeat renders the numeric repeat mode in its word form.
func FormatRepeat(n int) string {
	switch n {
	case RepeatNone:
		return "none"
	case RepeatImmediate:
		return "immediate"
	default:
		return strconv.Itoa(n)
	}
}

// extractSettingsBlock cuts the [settings] section out of free-form
// description text: from the section header line up to the next blank
// line, the next section header, or the end. Prose around the block is
// ignored.
func extractSettingsBlock(description string) (string, bool) {
	lines := strings.Split(description, "\n")
	start := -1
	for i, line := range lines {
		if strings.EqualFold(strings.TrimSpace(line), "["+settingsSection+"]") {
			start = i
			break
		}
	}
	if start == -1 {
		return "", false
	}
	end := len(lines)
	for i := start + 1; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed == "" {
			end = i
			break
		}
		if strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]") {
			end = i
			break
		}
	}
	return strings.Join(lines[start:end], "\n"), true
}

// ParseSettings reads the [settings] block from a description.
// ErrNoSettingsBlock means the description carries none; any other
// error means the block exists but is malformed.
func ParseSettings(description string) (*Settings, error) {
	block, found := extractSettingsBlock(description)
	if !found {
		return nil, ErrNoSettingsBlock
	}
	file, err := ini.LoadSources(ini.LoadOptions{
		Insensitive:             true,
		AllowBooleanKeys:        true,
		SkipUnrecognizableLines: true,
	}, []byte(block))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	section := file.Section(settingsSection)

	s := &Settings{Extra: make(map[string]string)}
	var startOffset, endOffset int
	var startRaw, endRaw string
	for _, key := range section.Keys() {
		name := strings.ToLower(key.Name())
		value := strings.TrimSpace(key.Value())
		switch name {
		case "type":
			t, err := ParseSubEventType(strings.ToLower(value))
			if err != nil {
				return nil, fmt.Errorf("%w: type %q", ErrInvalidSettings, value)
			}
			s.Type = &t
		case "enabled":
			b, err := strconv.ParseBool(strings.ToLower(value))
			if err != nil {
				return nil, fmt.Errorf("%w: enabled %q", ErrInvalidSettings, value)
			}
			s.Enabled = &b
		case "repeat":
			n, err := ParseRepeat(value)
			if err != nil {
				return nil, err
			}
			s.Repeat = &n
		case "stoptype":
			n, err := ParseStopType(value)
			if err != nil {
				return nil, err
			}
			s.StopType = &n
		case "start":
			startRaw = value
		case "end":
			endRaw = value
		case "start_offset":
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("%w: start_offset %q", ErrInvalidSettings, value)
			}
			startOffset = n
		case "end_offset":
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("%w: end_offset %q", ErrInvalidSettings, value)
			}
			endOffset = n
		case "date":
			if value == "" {
				return nil, fmt.Errorf("%w: empty date token", ErrInvalidSettings)
			}
			tok := HolidayToken(value)
			s.Date = &tok
		default:
			s.Extra[name] = value
		}
	}
	if startRaw != "" {
		tv, err := parseSettingsTime(startRaw, startOffset)
		if err != nil {
			return nil, fmt.Errorf("start: %w", err)
		}
		s.Start = tv
	}
	if endRaw != "" {
		tv, err := parseSettingsTime(endRaw, endOffset)
		if err != nil {
			return nil, fmt.Errorf("end: %w", err)
		}
		s.End = tv
	}
	if len(s.Extra) == 0 {
		s.Extra = nil
	}
	return s, nil
}

// parseSettingsTime reads a start/end value: a solar reference keeps
// its offset, a wall-clock time must come without one.
func parseSettingsTime(raw string, offsetMinutes int) (*TimeValue, error) {
	if ref, ok := ParseSymbolicTime(raw); ok {
		return SymbolicTimeValue(ref, offsetMinutes), nil
	}
	if offsetMinutes != 0 {
		return nil, fmt.Errorf("%w: offset on hard time %q", ErrInvalidSettings, raw)
	}
	return HardTime(raw)
}

// Render writes the settings back as a canonical block: known keys in
// a fixed order, extras sorted. Rendering then parsing yields an equal
// Settings value.
func (s *Settings) Render() string {
	var b strings.Builder
	b.WriteString("[" + settingsSection + "]\n")
	if s.Type != nil {
		fmt.Fprintf(&b, "type = %s\n", *s.Type)
	}
	if s.Enabled != nil {
		fmt.Fprintf(&b, "enabled = %t\n", *s.Enabled)
	}
	if s.Repeat != nil {
		fmt.Fprintf(&b, "repeat = %s\n", FormatRepeat(*s.Repeat))
	}
	if s.StopType != nil {
		fmt.Fprintf(&b, "stopType = %s\n", FormatStopType(*s.StopType))
	}
	writeTime := func(key string, tv *TimeValue) {
		if tv == nil {
			return
		}
		if tv.Symbolic != nil {
			fmt.Fprintf(&b, "%s = %s\n", key, *tv.Symbolic)
			if tv.OffsetMinutes != 0 {
				fmt.Fprintf(&b, "%s_offset = %d\n", key, tv.OffsetMinutes)
			}
			return
		}
		if tv.Hard != nil {
			fmt.Fprintf(&b, "%s = %s\n", key, *tv.Hard)
		}
	}
	writeTime("start", s.Start)
	writeTime("end", s.End)
	if s.Date != nil {
		fmt.Fprintf(&b, "date = %s\n", *s.Date)
	}
	extras := make([]string, 0, len(s.Extra))
	for k := range s.Extra {
		extras = append(extras, k)
	}
	sort.Strings(extras)
	for _, k := range extras {
		fmt.Fprintf(&b, "%s = %s\n", k, s.Extra[k])
	}
	return strings.TrimRight(b.String(), "\n")
}
