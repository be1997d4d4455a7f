// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

// The webinar-sync-helper service.
package main

import (
	"fmt"
	"strings"
)

// Webinar is a Webex meeting/webinar as returned by the meetings API.
type Webinar struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Agenda        string `json:"agenda,omitempty"`
	ScheduledType string `json:"scheduledType,omitempty"`
	Start         string `json:"start"`
	End           string `json:"end"`
	Timezone      string `json:"timezone,omitempty"`
	Password      string `json:"password,omitempty"`
	HostKey       string `json:"hostKey,omitempty"`
}

// WebinarSpec is the request body for creating or updating a webinar. Optional
// values are pointers so that absent properties are left to Webex defaults.
type WebinarSpec struct {
	Title                 string         `json:"title"`
	Agenda                *string        `json:"agenda,omitempty"`
	ScheduledType         string         `json:"scheduledType,omitempty"`
	Start                 string         `json:"start"`
	End                   string         `json:"end"`
	Timezone              string         `json:"timezone,omitempty"`
	SiteURL               string         `json:"siteUrl,omitempty"`
	Password              string         `json:"password,omitempty"`
	PanelistPassword      string         `json:"panelistPassword,omitempty"`
	ReminderTime          *int           `json:"reminderTime,omitempty"`
	Registration          map[string]any `json:"registration,omitempty"`
	EnabledJoinBeforeHost *bool          `json:"enabledJoinBeforeHost,omitempty"`
	JoinBeforeHostMinutes *int           `json:"joinBeforeHostMinutes,omitempty"`
	Recurrence            string         `json:"recurrence,omitempty"`
	SendEmail             *bool          `json:"sendEmail,omitempty"`
}

// Invitee is a Webex meeting invitee.
type Invitee struct {
	ID          string `json:"id"`
	MeetingID   string `json:"meetingId,omitempty"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	Panelist    bool   `json:"panelist"`
	CoHost      bool   `json:"coHost"`
}

// InviteeSpec is the request body for creating or updating an invitee.
type InviteeSpec struct {
	MeetingID   string `json:"meetingId,omitempty"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	Panelist    bool   `json:"panelist"`
	CoHost      bool   `json:"coHost"`
	SendEmail   bool   `json:"sendEmail"`
}

// Person is the subset of the Webex people resource used for health checks.
type Person struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Type        string `json:"type"`
}

// Room is the subset of the Webex rooms resource used to check bot access.
type Room struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// APIError is a non-2xx response from the Webex REST API. Details holds the
// descriptions of the structured sub-errors Webex attaches to validation
// failures.
type APIError struct {
	StatusCode int
	Message    string
	Details    []string
	TrackingID string
}

func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "webex API returned status %d", e.StatusCode)
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.TrackingID != "" {
		fmt.Fprintf(&b, " (tracking ID %s)", e.TrackingID)
	}
	return b.String()
}

// apiErrorBody is the JSON error envelope returned by Webex.
type apiErrorBody struct {
	Message string `json:"message"`
	Errors  []struct {
		Description string `json:"description"`
	} `json:"errors"`
	TrackingID string `json:"trackingId"`
}
