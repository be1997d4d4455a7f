// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

// The webinar-sync-helper service.
package main

// Webinar property extraction.
//
// Every logical property is looked up in the row first, then in the global
// defaults (WEBEX_INTEGRATION_PARAMS). Falsy values (nil, "", false, 0, empty
// collections) count as unset at both levels, so a row cell containing 0 falls
// back to the default exactly like an empty cell does.

import (
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

const (
	defaultTitle          = "Generic Webinar Title"
	defaultScheduledType  = "webinar"
	defaultTimezone       = "UTC"
	defaultDuration       = 60
	defaultReminderTime   = 30
	propAlwaysInvite      = "alwaysInvitePanelists"
	propNoCohosts         = "noCohosts"
	propRecurrence        = "recurrence"
	propRegistration      = "registration"
	propReminderTime      = "reminderTime"
	propScheduledType     = "scheduledType"
	propTimezone          = "timezone"
	propSiteURL           = "siteUrl"
	propPassword          = "password"
	propPanelistPassword  = "panelistPassword"
	propJoinBeforeHost    = "enabledJoinBeforeHost"
	propJoinBeforeMinutes = "joinBeforeHostMinutes"
)

// defaultRegistration enables registration with every field required.
func defaultRegistration() map[string]any {
	return map[string]any{
		"autoAcceptRequest": true,
		"requireFirstName":  true,
		"requireLastName":   true,
		"requireEmail":      true,
	}
}

// webinarIntent is the desired state of one webinar, derived from a list row.
type webinarIntent struct {
	ID                    string
	Title                 string
	Agenda                *string
	ScheduledType         string
	Start                 time.Time
	Duration              int
	End                   time.Time
	Timezone              string
	SiteURL               string
	Password              string
	PanelistPassword      string
	ReminderTime          int
	Registration          map[string]any
	EnabledJoinBeforeHost *bool
	JoinBeforeHostMinutes *int
	Recurrence            string
	Cohosts               contactMap
	Panelists             contactMap
}

// agenda returns the agenda text, empty when unset.
func (w *webinarIntent) agenda() string {
	if w.Agenda == nil {
		return ""
	}
	return *w.Agenda
}

// propertyResolver looks up webinar properties for one pass.
type propertyResolver struct {
	columns   ColumnMap
	defaults  map[string]any
	nicknames map[string]Nickname
	now       func() time.Time
}

// lookup returns the row value for a logical property when truthy, else the
// global default when truthy, else nil. A nil row consults defaults only.
func (p *propertyResolver) lookup(name string, row Row) any {
	if row != nil {
		if internal, ok := p.columns.Lookup(name); ok {
			if v := row.Get(internal); truthy(v) {
				return v
			}
		}
	}
	if v, ok := p.defaults[name]; ok && truthy(v) {
		return v
	}
	return nil
}

// extractIntent builds the webinar intent for a row. The returned intent
// always carries the title, even when err is a *RowValidationError, so the
// failure can be reported by name.
func (p *propertyResolver) extractIntent(row Row) (*webinarIntent, error) {
	intent := &webinarIntent{
		Title: stringValue(p.lookup(colTitle, row)),
	}
	if intent.Title == "" {
		intent.Title = defaultTitle
	}

	if v := p.lookup(colAgenda, row); v != nil {
		agenda := stringValue(v)
		intent.Agenda = &agenda
	}

	intent.ScheduledType = stringValue(p.lookup(propScheduledType, row))
	if intent.ScheduledType == "" {
		intent.ScheduledType = defaultScheduledType
	}

	start, err := parseDateTime(p.lookup(colStartDateTime, row))
	if err != nil {
		return intent, &RowValidationError{Property: colStartDateTime, Err: err}
	}
	intent.Start = start

	intent.Duration = defaultDuration
	if v := p.lookup(colDuration, row); v != nil {
		if intent.Duration, err = coerceInt(v); err != nil {
			return intent, &RowValidationError{Property: colDuration, Err: err}
		}
	}
	intent.End = intent.Start.Add(time.Duration(intent.Duration) * time.Minute)

	intent.Timezone = stringValue(p.lookup(propTimezone, row))
	if intent.Timezone == "" {
		intent.Timezone = defaultTimezone
	}
	intent.SiteURL = stringValue(p.lookup(propSiteURL, row))
	intent.Password = stringValue(p.lookup(propPassword, row))
	intent.PanelistPassword = stringValue(p.lookup(propPanelistPassword, row))

	intent.ReminderTime = defaultReminderTime
	if v := p.lookup(propReminderTime, row); v != nil {
		if intent.ReminderTime, err = coerceInt(v); err != nil {
			return intent, &RowValidationError{Property: propReminderTime, Err: err}
		}
	}
	// Too late to send a reminder.
	reminderAt := intent.Start.Add(-time.Duration(intent.ReminderTime) * time.Minute)
	if !p.now().Before(reminderAt) {
		intent.ReminderTime = 0
	}

	intent.Registration = defaultRegistration()
	if v := p.lookup(propRegistration, row); v != nil {
		if intent.Registration, err = registrationValue(v); err != nil {
			return intent, &RowValidationError{Property: propRegistration, Err: err}
		}
	}

	if v := p.lookup(propJoinBeforeHost, row); v != nil {
		b, err := coerceBool(v)
		if err != nil {
			return intent, &RowValidationError{Property: propJoinBeforeHost, Err: err}
		}
		intent.EnabledJoinBeforeHost = &b
	}
	if v := p.lookup(propJoinBeforeMinutes, row); v != nil {
		n, err := coerceInt(v)
		if err != nil {
			return intent, &RowValidationError{Property: propJoinBeforeMinutes, Err: err}
		}
		intent.JoinBeforeHostMinutes = &n
	}

	if v := p.lookup(propRecurrence, row); v != nil {
		if intent.Recurrence, err = validateRecurrence(stringValue(v), intent.Start); err != nil {
			return intent, &RowValidationError{Property: propRecurrence, Err: err}
		}
	}

	if intent.Cohosts, err = contactsFromValue(p.lookup(colCohosts, row), p.nicknames); err != nil {
		return intent, &RowValidationError{Property: colCohosts, Err: err}
	}
	if intent.Panelists, err = contactsFromValue(p.lookup(colPanelists, row), p.nicknames); err != nil {
		return intent, &RowValidationError{Property: colPanelists, Err: err}
	}
	alwaysInvite, err := contactsFromValue(p.lookup(propAlwaysInvite, nil), p.nicknames)
	if err != nil {
		return intent, &RowValidationError{Property: propAlwaysInvite, Err: err}
	}
	// Always-invite entries win over the row's own name for the same email.
	maps.Copy(intent.Panelists, alwaysInvite)

	if internal, ok := p.columns.Lookup(colWebinarID); ok && row != nil {
		intent.ID = strings.TrimSpace(stringValue(row.Get(internal)))
	}

	return intent, nil
}

// collapseCohosts reports whether cohosts should be invited as plain
// panelists.
func (p *propertyResolver) collapseCohosts() bool {
	v := p.lookup(propNoCohosts, nil)
	if v == nil {
		return false
	}
	b, err := coerceBool(v)
	return err == nil && b
}

// truthy mirrors "value or default" semantics.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case bool:
		return t
	case float64:
		return t != 0
	case float32:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	case json.Number:
		f, err := t.Float64()
		return err != nil || f != 0
	case map[string]any:
		return len(t) > 0
	case map[string]string:
		return len(t) > 0
	case contactMap:
		return len(t) > 0
	case []any:
		return len(t) > 0
	default:
		return true
	}
}

// stringValue renders a property value as a string; nil is "".
func stringValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

// coerceInt converts numeric-like values through float so "60" and "60.0"
// both yield 60.
func coerceInt(v any) (int, error) {
	var f float64
	switch t := v.(type) {
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case float64:
		f = t
	case float32:
		f = float64(t)
	case json.Number:
		n, err := t.Float64()
		if err != nil {
			return 0, fmt.Errorf("invalid number %q: %w", t, err)
		}
		f = n
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid number %q: %w", t, err)
		}
		f = n
	default:
		return 0, fmt.Errorf("expected a number, got %T", v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("invalid number %v", v)
	}
	return int(f), nil
}

// coerceBool accepts booleans, numbers and strconv boolean strings.
func coerceBool(v any) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case float64:
		return t != 0, nil
	case int:
		return t != 0, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		if err != nil {
			return false, fmt.Errorf("invalid boolean %q: %w", t, err)
		}
		return b, nil
	default:
		return false, fmt.Errorf("expected a boolean, got %T", v)
	}
}

// dateTimeLayouts are the accepted ISO-8601 forms. Layouts without a zone are
// interpreted as UTC.
var dateTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
	"2006-01-02",
}

// parseDateTime parses an ISO-8601 date-time property.
func parseDateTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range dateTimeLayouts {
			if parsed, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
				return parsed, nil
			}
		}
		return time.Time{}, fmt.Errorf("invalid ISO-8601 date-time %q", t)
	case nil:
		return time.Time{}, fmt.Errorf("value is missing")
	default:
		return time.Time{}, fmt.Errorf("expected an ISO-8601 string, got %T", v)
	}
}

// registrationValue accepts a registration object or its JSON text.
func registrationValue(v any) (map[string]any, error) {
	switch t := v.(type) {
	case map[string]any:
		return maps.Clone(t), nil
	case string:
		var reg map[string]any
		if err := json.Unmarshal([]byte(t), &reg); err != nil {
			return nil, fmt.Errorf("invalid registration JSON: %w", err)
		}
		return reg, nil
	default:
		return nil, fmt.Errorf("expected a registration object, got %T", v)
	}
}

// validateRecurrence checks that rule is a valid RRULE that yields at least
// one occurrence from start, and returns it without any "RRULE:" prefix.
func validateRecurrence(rule string, start time.Time) (string, error) {
	rule = strings.TrimPrefix(strings.TrimSpace(rule), "RRULE:")
	r, err := rrule.StrToRRule(rule)
	if err != nil {
		return "", fmt.Errorf("invalid recurrence rule %q: %w", rule, err)
	}
	r.DTStart(start)
	if first := r.After(start, true); first.IsZero() {
		return "", fmt.Errorf("recurrence rule %q yields no occurrences", rule)
	}
	return rule, nil
}
