// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

// The webinar-sync-helper service.
package main

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// attendeeURLPlaceholder is written to the Attendee URL column after a webinar
// is created; the registration link is not exposed by the create response.
const attendeeURLPlaceholder = "Manually copy the Attendee URL from Webex"

// WebinarAPI is the subset of the Webex meetings API the reconciler uses.
type WebinarAPI interface {
	CreateWebinar(ctx context.Context, spec WebinarSpec) (*Webinar, error)
	GetWebinar(ctx context.Context, id string) (*Webinar, error)
	UpdateWebinar(ctx context.Context, id string, spec WebinarSpec, notify bool) (*Webinar, error)
	ListInvitees(ctx context.Context, webinarID string, panelistsOnly bool) ([]Invitee, error)
	CreateInvitee(ctx context.Context, spec InviteeSpec) (*Invitee, error)
	UpdateInvitee(ctx context.Context, id string, spec InviteeSpec) (*Invitee, error)
	DeleteInvitee(ctx context.Context, id string) error
}

// rowOutcome is what happened to a single row during a pass.
type rowOutcome int

const (
	rowSkipped rowOutcome = iota
	rowInvalid
	rowCreated
	rowUpdated
	rowUnchanged
	rowFailed
)

// webinarSyncer reconciles list rows against Webex for one pass.
type webinarSyncer struct {
	webex   WebinarAPI
	props   *propertyResolver
	columns ColumnMap
	logger  *slog.Logger
	report  *RunReport
}

// processRow runs the full reconciliation for a single row: property
// extraction, webinar create or update, then invitees.
func (s *webinarSyncer) processRow(ctx context.Context, row Row) rowOutcome {
	s.report.RowsSeen++

	createCol, _ := s.columns.Lookup(colCreate)
	if !truthy(row.Get(createCol)) {
		s.report.RowsSkipped++
		return rowSkipped
	}

	intent, err := s.props.extractIntent(row)
	if err != nil {
		s.report.RowsInvalid++
		s.logger.With(errKey, err, "title", intent.Title, "row_id", row.ID()).ErrorContext(ctx, "failed to process webinar: a webinar property is not valid")
		return rowInvalid
	}
	s.logger.With("title", intent.Title, "row_id", row.ID()).InfoContext(ctx, "processing webinar")

	webinar, outcome, err := s.reconcileWebinar(ctx, row, intent)
	if err != nil {
		s.report.WebinarsFailed++
		s.logRemoteError(ctx, intent.Title, err)
		return rowFailed
	}

	s.reconcileInvitees(ctx, webinar.ID, intent, s.props.collapseCohosts())
	return outcome
}

// reconcileWebinar creates the webinar when the row has no webinar ID yet and
// otherwise updates it when it has drifted from the row.
func (s *webinarSyncer) reconcileWebinar(ctx context.Context, row Row, intent *webinarIntent) (*Webinar, rowOutcome, error) {
	if intent.ID == "" {
		webinar, err := s.createWebinar(ctx, row, intent)
		return webinar, rowCreated, err
	}
	return s.updateWebinar(ctx, row, intent)
}

func (s *webinarSyncer) createWebinar(ctx context.Context, row Row, intent *webinarIntent) (*Webinar, error) {
	webinar, err := s.webex.CreateWebinar(ctx, intent.createSpec())
	if err != nil {
		return nil, &RemoteError{Op: "create webinar", Err: err}
	}
	s.report.WebinarsCreated++
	s.logger.With("title", webinar.Title, "webinar_id", webinar.ID).WarnContext(ctx, "created webinar")

	if err := s.writeBackCreated(ctx, row, webinar); err != nil {
		s.logger.With(errKey, err, "title", webinar.Title).ErrorContext(ctx, "failed to save created webinar information to the list")
	} else {
		s.logger.With("title", webinar.Title).InfoContext(ctx, "saved created webinar information to the list")
	}
	return webinar, nil
}

// writeBackCreated stores the new webinar ID, host key and attendee URL
// placeholder on the row.
func (s *webinarSyncer) writeBackCreated(ctx context.Context, row Row, webinar *Webinar) error {
	if col, ok := s.columns.Lookup(colWebinarID); ok {
		row.Set(col, webinar.ID)
	} else {
		s.logger.ErrorContext(ctx, "no column in the list to save the webinar ID")
	}
	if col, ok := s.columns.Lookup(colHostKey); ok {
		row.Set(col, webinar.HostKey)
	} else {
		s.logger.InfoContext(ctx, "no column in the list to save the host key")
	}
	if col, ok := s.columns.Lookup(colAttendeeURL); ok {
		row.Set(col, attendeeURLPlaceholder)
	} else {
		s.logger.InfoContext(ctx, "no column in the list to save the attendee URL")
	}
	if err := row.Commit(ctx); err != nil {
		return &WriteBackError{Err: err}
	}
	return nil
}

func (s *webinarSyncer) updateWebinar(ctx context.Context, row Row, intent *webinarIntent) (*Webinar, rowOutcome, error) {
	remote, err := s.webex.GetWebinar(ctx, intent.ID)
	if err != nil {
		return nil, rowFailed, &RemoteError{Op: "get webinar " + intent.ID, Err: err}
	}

	outcome := rowUnchanged
	needUpdate, needUpdateSendEmail := webinarChanges(intent, remote)
	if needUpdate {
		updated, err := s.webex.UpdateWebinar(ctx, intent.ID, intent.updateSpec(remote.Password), needUpdateSendEmail)
		if err != nil {
			return nil, rowFailed, &RemoteError{Op: "update webinar " + intent.ID, Err: err}
		}
		remote = updated
		outcome = rowUpdated
		s.report.WebinarsUpdated++
		s.logger.With("title", remote.Title, "webinar_id", remote.ID, "notify", needUpdateSendEmail).WarnContext(ctx, "updated webinar")
	} else {
		s.report.WebinarsUnchanged++
	}

	s.refreshRegistrantCount(ctx, row, remote)
	return remote, outcome, nil
}

// webinarChanges compares the intent with the remote webinar. Attendees are
// only re-notified when the title or schedule changes, not for agenda edits.
func webinarChanges(intent *webinarIntent, remote *Webinar) (needUpdate, needUpdateSendEmail bool) {
	needUpdateSendEmail = intent.Title != remote.Title ||
		!sameInstant(intent.Start, remote.Start) ||
		!sameInstant(intent.End, remote.End)
	needUpdate = needUpdateSendEmail || intent.agenda() != remote.Agenda
	return needUpdate, needUpdateSendEmail
}

// sameInstant reports whether a remote ISO-8601 timestamp denotes t. Remote
// times come back in the webinar's own time zone.
func sameInstant(t time.Time, remote string) bool {
	parsed, err := parseDateTime(remote)
	if err != nil {
		return false
	}
	return t.Equal(parsed)
}

// refreshRegistrantCount counts the webinar's invitees, adds them to the run
// total and saves the count on the row.
func (s *webinarSyncer) refreshRegistrantCount(ctx context.Context, row Row, webinar *Webinar) {
	invitees, err := s.webex.ListInvitees(ctx, webinar.ID, false)
	if err != nil {
		s.logger.With(errKey, err, "title", webinar.Title).ErrorContext(ctx, "failed to refresh the registrant count")
		return
	}
	count := len(invitees)
	s.report.TotalRegistrants += count

	col, ok := s.columns.Lookup(colRegistrantCount)
	if !ok {
		s.logger.With("title", webinar.Title).ErrorContext(ctx, "failed to refresh the registrant count: no column in the list to save it")
		return
	}
	row.Set(col, count)
	if err := row.Commit(ctx); err != nil {
		s.logger.With(errKey, &WriteBackError{Err: err}, "title", webinar.Title).ErrorContext(ctx, "failed to save the registrant count to the list")
		return
	}
	s.logger.With("title", webinar.Title, "registrants", count).InfoContext(ctx, "refreshed the registrant count in the list")
}

// logRemoteError logs a failed webinar operation followed by each structured
// sub-error Webex returned.
func (s *webinarSyncer) logRemoteError(ctx context.Context, title string, err error) {
	s.logger.With(errKey, err, "title", title).ErrorContext(ctx, "failed to reconcile webinar")
	var remoteErr *RemoteError
	if errors.As(err, &remoteErr) {
		for _, detail := range remoteErr.Details() {
			s.logger.With("title", title, "detail", detail).ErrorContext(ctx, "webex reported")
		}
	}
}

// createSpec is the request for a new webinar carrying every intent property.
func (w *webinarIntent) createSpec() WebinarSpec {
	reminder := w.ReminderTime
	return WebinarSpec{
		Title:                 w.Title,
		Agenda:                w.Agenda,
		ScheduledType:         w.ScheduledType,
		Start:                 w.Start.Format(time.RFC3339),
		End:                   w.End.Format(time.RFC3339),
		Timezone:              w.Timezone,
		SiteURL:               w.SiteURL,
		Password:              w.Password,
		PanelistPassword:      w.PanelistPassword,
		ReminderTime:          &reminder,
		Registration:          w.Registration,
		EnabledJoinBeforeHost: w.EnabledJoinBeforeHost,
		JoinBeforeHostMinutes: w.JoinBeforeHostMinutes,
		Recurrence:            w.Recurrence,
	}
}

// updateSpec is the request for an existing webinar. Webex requires a
// password on update, so the remote one is kept when the row has none. The
// agenda is always sent so that clearing it in the list clears it remotely.
func (w *webinarIntent) updateSpec(remotePassword string) WebinarSpec {
	agenda := w.agenda()
	password := w.Password
	if password == "" {
		password = remotePassword
	}
	return WebinarSpec{
		Title:                 w.Title,
		Agenda:                &agenda,
		ScheduledType:         w.ScheduledType,
		Start:                 w.Start.Format(time.RFC3339),
		End:                   w.End.Format(time.RFC3339),
		Password:              password,
		PanelistPassword:      w.PanelistPassword,
		EnabledJoinBeforeHost: w.EnabledJoinBeforeHost,
		JoinBeforeHostMinutes: w.JoinBeforeHostMinutes,
	}
}
