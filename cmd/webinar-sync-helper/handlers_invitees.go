// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

// The webinar-sync-helper service.
package main

import (
	"context"
	"maps"
	"slices"
	"strings"
)

// reconcileInvitees brings the webinar's panelists and cohosts in line with
// the intent. Each invitee operation is independent: a failure is logged and
// the remaining operations still run.
func (s *webinarSyncer) reconcileInvitees(ctx context.Context, webinarID string, intent *webinarIntent, collapse bool) {
	current, err := s.webex.ListInvitees(ctx, webinarID, true)
	if err != nil {
		s.logger.With(errKey, &RemoteError{Op: "list invitees", Err: err}, "title", intent.Title).ErrorContext(ctx, "failed to process invitees")
		return
	}

	// Everyone currently invited as panelist or cohost is a candidate for
	// removal until the desired set claims them.
	uninvite := map[string]Invitee{}
	for _, inv := range current {
		if inv.Panelist || inv.CoHost {
			uninvite[strings.ToLower(inv.Email)] = inv
		}
	}

	panelists := maps.Clone(intent.Panelists)
	cohosts := maps.Clone(intent.Cohosts)
	if panelists == nil {
		panelists = contactMap{}
	}
	if cohosts == nil {
		cohosts = contactMap{}
	}
	if collapse {
		maps.Copy(panelists, cohosts)
		cohosts = contactMap{}
	}

	desired := maps.Clone(panelists)
	maps.Copy(desired, cohosts)

	for _, email := range slices.Sorted(maps.Keys(desired)) {
		name := desired[email]
		_, isCohost := cohosts[email]
		spec := InviteeSpec{
			Email:       email,
			DisplayName: name,
			Panelist:    true,
			CoHost:      isCohost,
			SendEmail:   true,
		}

		existing, ok := uninvite[email]
		if !ok {
			spec.MeetingID = webinarID
			s.inviteInvitee(ctx, intent.Title, spec)
			continue
		}
		delete(uninvite, email)
		if existing.DisplayName != name || existing.CoHost != isCohost {
			s.updateInvitee(ctx, intent.Title, existing.ID, spec)
		}
	}

	for _, email := range slices.Sorted(maps.Keys(uninvite)) {
		s.uninviteInvitee(ctx, intent.Title, uninvite[email])
	}
}

func (s *webinarSyncer) inviteInvitee(ctx context.Context, title string, spec InviteeSpec) {
	logger := s.logger.With("title", title, "email", spec.Email, "cohost", spec.CoHost)
	if _, err := s.webex.CreateInvitee(ctx, spec); err != nil {
		s.report.InviteeFailures++
		logger.With(errKey, &RemoteError{Op: "invite " + spec.Email, Err: err}).ErrorContext(ctx, "failed to invite panelist")
		return
	}
	s.report.InviteesInvited++
	logger.InfoContext(ctx, "invited panelist")
}

func (s *webinarSyncer) updateInvitee(ctx context.Context, title, inviteeID string, spec InviteeSpec) {
	logger := s.logger.With("title", title, "email", spec.Email, "cohost", spec.CoHost)
	if _, err := s.webex.UpdateInvitee(ctx, inviteeID, spec); err != nil {
		s.report.InviteeFailures++
		logger.With(errKey, &RemoteError{Op: "update invitee " + spec.Email, Err: err}).ErrorContext(ctx, "failed to update panelist")
		return
	}
	s.report.InviteesUpdated++
	logger.InfoContext(ctx, "updated panelist")
}

func (s *webinarSyncer) uninviteInvitee(ctx context.Context, title string, inv Invitee) {
	logger := s.logger.With("title", title, "email", inv.Email)
	if err := s.webex.DeleteInvitee(ctx, inv.ID); err != nil {
		s.report.InviteeFailures++
		logger.With(errKey, &RemoteError{Op: "uninvite " + inv.Email, Err: err}).ErrorContext(ctx, "failed to uninvite panelist")
		return
	}
	s.report.InviteesUninvited++
	logger.InfoContext(ctx, "uninvited panelist")
}
