// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcileInvitees(t *testing.T) {
	webex := newFakeWebex()
	webex.addInvitee(Invitee{ID: "p1", MeetingID: "w1", Email: "Ann@Example.com", DisplayName: "Ann", Panelist: true})
	webex.addInvitee(Invitee{ID: "p2", MeetingID: "w1", Email: "bob@example.com", DisplayName: "Bob", Panelist: true})
	webex.addInvitee(Invitee{ID: "p3", MeetingID: "w1", Email: "old@example.com", DisplayName: "Old", Panelist: true, CoHost: true})
	webex.addInvitee(Invitee{ID: "a1", MeetingID: "w1", Email: "attendee@example.com", DisplayName: "Attendee"})
	syncer, _ := newTestSyncer(webex, nil)

	intent := &webinarIntent{
		Title:     "Kickoff",
		Panelists: contactMap{"ann@example.com": "Ann", "bob@example.com": "Robert", "new@example.com": "New"},
		Cohosts:   contactMap{"carol@example.com": "Carol"},
	}
	syncer.reconcileInvitees(context.Background(), "w1", intent, false)

	assert.Equal(t, 2, webex.createInviteeCalls)
	assert.Equal(t, 1, webex.updateInviteeCalls, "only the renamed panelist is updated")
	assert.Equal(t, 1, webex.deleteInviteeCalls)

	invitees := webex.inviteesOf("w1")
	assert.Equal(t, []string{"Ann@Example.com", "attendee@example.com", "bob@example.com", "carol@example.com", "new@example.com"}, sortedKeys(invitees))
	assert.Equal(t, "Robert", invitees["bob@example.com"].DisplayName)
	assert.True(t, invitees["carol@example.com"].CoHost)
	assert.True(t, invitees["carol@example.com"].Panelist)
	assert.False(t, invitees["new@example.com"].CoHost)

	assert.Equal(t, 2, syncer.report.InviteesInvited)
	assert.Equal(t, 1, syncer.report.InviteesUpdated)
	assert.Equal(t, 1, syncer.report.InviteesUninvited)
	assert.Zero(t, syncer.report.InviteeFailures)
}

func TestReconcileInviteesCohostWinsOverPanelist(t *testing.T) {
	webex := newFakeWebex()
	webex.addInvitee(Invitee{ID: "p1", MeetingID: "w1", Email: "ann@example.com", DisplayName: "Ann", Panelist: true})
	syncer, _ := newTestSyncer(webex, nil)

	intent := &webinarIntent{
		Panelists: contactMap{"ann@example.com": "Ann"},
		Cohosts:   contactMap{"ann@example.com": "Ann"},
	}
	syncer.reconcileInvitees(context.Background(), "w1", intent, false)

	assert.Equal(t, 1, webex.updateInviteeCalls)
	assert.True(t, webex.inviteesOf("w1")["ann@example.com"].CoHost)
}

func TestReconcileInviteesCollapsedCohosts(t *testing.T) {
	webex := newFakeWebex()
	webex.addInvitee(Invitee{ID: "c1", MeetingID: "w1", Email: "carol@example.com", DisplayName: "Carol", Panelist: true, CoHost: true})
	syncer, _ := newTestSyncer(webex, nil)

	intent := &webinarIntent{
		Panelists: contactMap{"ann@example.com": "Ann"},
		Cohosts:   contactMap{"carol@example.com": "Carol"},
	}
	syncer.reconcileInvitees(context.Background(), "w1", intent, true)

	invitees := webex.inviteesOf("w1")
	require.Len(t, invitees, 2)
	assert.False(t, invitees["carol@example.com"].CoHost, "cohost is demoted to panelist")
	assert.False(t, invitees["ann@example.com"].CoHost)
	assert.Equal(t, 1, webex.updateInviteeCalls)
	assert.Equal(t, 1, webex.createInviteeCalls)
}

func TestReconcileInviteesFailuresAreIndependent(t *testing.T) {
	webex := newFakeWebex()
	webex.addInvitee(Invitee{ID: "p1", MeetingID: "w1", Email: "stuck@example.com", DisplayName: "Stuck", Panelist: true})
	webex.addInvitee(Invitee{ID: "p2", MeetingID: "w1", Email: "gone@example.com", DisplayName: "Gone", Panelist: true})
	webex.createInviteeErr["bad@example.com"] = &APIError{StatusCode: 400, Message: "invalid email"}
	webex.deleteInviteeErr["stuck@example.com"] = errors.New("timeout")
	syncer, logs := newTestSyncer(webex, nil)

	intent := &webinarIntent{
		Title:     "Kickoff",
		Panelists: contactMap{"bad@example.com": "Bad", "good@example.com": "Good"},
	}
	syncer.reconcileInvitees(context.Background(), "w1", intent, false)

	assert.Equal(t, 2, webex.createInviteeCalls)
	assert.Equal(t, 2, webex.deleteInviteeCalls)
	assert.Equal(t, 1, syncer.report.InviteesInvited)
	assert.Equal(t, 1, syncer.report.InviteesUninvited)
	assert.Equal(t, 2, syncer.report.InviteeFailures)
	assert.Contains(t, logs.String(), "failed to invite panelist")
	assert.Contains(t, logs.String(), "failed to uninvite panelist")
}

func TestReconcileInviteesListFailure(t *testing.T) {
	webex := newFakeWebex()
	webex.listInviteesErr = errors.New("unavailable")
	syncer, logs := newTestSyncer(webex, nil)

	syncer.reconcileInvitees(context.Background(), "w1", &webinarIntent{
		Panelists: contactMap{"ann@example.com": "Ann"},
	}, false)

	assert.Zero(t, webex.createInviteeCalls)
	assert.Contains(t, logs.String(), "failed to process invitees")
}

func TestReconcileInviteesConverges(t *testing.T) {
	webex := newFakeWebex()
	syncer, _ := newTestSyncer(webex, nil)
	intent := &webinarIntent{
		Panelists: contactMap{"ann@example.com": "Ann"},
		Cohosts:   contactMap{"bob@example.com": "Bob"},
	}

	syncer.reconcileInvitees(context.Background(), "w1", intent, false)
	before := webex.opCount()
	syncer.reconcileInvitees(context.Background(), "w1", intent, false)
	assert.Equal(t, before, webex.opCount(), "a second run makes no changes")
}

func TestReconcileInviteesMixedCaseContacts(t *testing.T) {
	webex := newFakeWebex()
	webex.addInvitee(Invitee{ID: "p1", MeetingID: "w1", Email: "Jane@Example.com", DisplayName: "Jane", Panelist: true})
	webex.addInvitee(Invitee{ID: "p2", MeetingID: "w1", Email: "Bob@Example.com", DisplayName: "Bob", Panelist: true, CoHost: true})
	syncer, _ := newTestSyncer(webex, nil)

	nicknames := map[string]Nickname{"jane": {Email: "Jane@Example.com", Name: "Jane"}}
	cohosts, err := contactsFromValue(map[string]any{"Bob@Example.com": "Bob"}, nicknames)
	require.NoError(t, err)
	intent := &webinarIntent{
		Title:     "Kickoff",
		Panelists: parseContacts("jane", nicknames),
		Cohosts:   cohosts,
	}

	syncer.reconcileInvitees(context.Background(), "w1", intent, false)
	assert.Zero(t, webex.createInviteeCalls)
	assert.Zero(t, webex.updateInviteeCalls)
	assert.Zero(t, webex.deleteInviteeCalls)
}
