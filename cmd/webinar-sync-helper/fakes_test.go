// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// testNow is the fixed clock used across tests.
var testNow = time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return testNow }

// discardLogger drops all output.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testListColumns mirrors a list created with the default display names;
// internal names differ from display names as they do in SharePoint.
func testListColumns() map[string]string {
	return map[string]string{
		"Create":              "Create",
		"Start Date and Time": "StartDateTime",
		"Duration":            "Duration",
		"Title":               "Title",
		"Agenda":              "Agenda",
		"Cohosts":             "Cohosts",
		"Panelists":           "Panelists",
		"Webinar ID":          "WebinarID",
		"Attendee URL":        "AttendeeURL",
		"Host Key":            "HostKey",
		"Registrant Count":    "RegistrantCount",
	}
}

func testColumnMap() ColumnMap {
	columns, err := resolveColumnMap(columnDisplayNames(nil), testListColumns())
	if err != nil {
		panic(err)
	}
	return columns
}

// patchRecorder records Commit deltas of listRows.
type patchRecorder struct {
	patches []map[string]any
	err     error
}

func (p *patchRecorder) patch(_ context.Context, _ string, changes map[string]any) error {
	if p.err != nil {
		return p.err
	}
	p.patches = append(p.patches, maps.Clone(changes))
	return nil
}

// fakeSource is an in-memory list. Rows are re-read from the stored fields on
// every ListRows call, and commits are applied to the stored fields, the way
// the Graph list behaves between passes.
type fakeSource struct {
	columns    map[string]string
	order      []string
	items      map[string]map[string]any
	patchCalls int
	patchErr   error
}

func newFakeSource(rows ...map[string]any) *fakeSource {
	s := &fakeSource{columns: testListColumns(), items: map[string]map[string]any{}}
	for i, fields := range rows {
		id := fmt.Sprintf("%d", i+1)
		s.order = append(s.order, id)
		s.items[id] = maps.Clone(fields)
	}
	return s
}

func (s *fakeSource) ListColumns(context.Context) (map[string]string, error) {
	return maps.Clone(s.columns), nil
}

func (s *fakeSource) ListRows(context.Context) ([]Row, error) {
	rows := make([]Row, 0, len(s.order))
	for _, id := range s.order {
		rows = append(rows, newListRow(id, maps.Clone(s.items[id]), s.patch))
	}
	return rows, nil
}

func (s *fakeSource) patch(_ context.Context, rowID string, changes map[string]any) error {
	s.patchCalls++
	if s.patchErr != nil {
		return s.patchErr
	}
	maps.Copy(s.items[rowID], changes)
	return nil
}

// fakeWebex is an in-memory WebinarAPI with call counters and injectable
// failures.
type fakeWebex struct {
	webinars map[string]*Webinar
	invitees map[string]*Invitee
	nextID   int

	createWebinarCalls int
	getWebinarCalls    int
	updateWebinarCalls int
	listInviteesCalls  int
	createInviteeCalls int
	updateInviteeCalls int
	deleteInviteeCalls int

	lastCreateSpec WebinarSpec
	lastUpdateSpec WebinarSpec
	updateNotify   []bool

	createWebinarErr error
	getWebinarErr    error
	updateWebinarErr error
	listInviteesErr  error
	createInviteeErr map[string]error
	updateInviteeErr map[string]error
	deleteInviteeErr map[string]error
}

func newFakeWebex() *fakeWebex {
	return &fakeWebex{
		webinars:         map[string]*Webinar{},
		invitees:         map[string]*Invitee{},
		createInviteeErr: map[string]error{},
		updateInviteeErr: map[string]error{},
		deleteInviteeErr: map[string]error{},
	}
}

func (f *fakeWebex) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

func (f *fakeWebex) opCount() int {
	return f.createWebinarCalls + f.updateWebinarCalls + f.createInviteeCalls + f.updateInviteeCalls + f.deleteInviteeCalls
}

func (f *fakeWebex) CreateWebinar(_ context.Context, spec WebinarSpec) (*Webinar, error) {
	f.createWebinarCalls++
	f.lastCreateSpec = spec
	if f.createWebinarErr != nil {
		return nil, f.createWebinarErr
	}
	w := &Webinar{
		ID:            f.id("webinar"),
		Title:         spec.Title,
		ScheduledType: spec.ScheduledType,
		Start:         spec.Start,
		End:           spec.End,
		Timezone:      spec.Timezone,
		Password:      spec.Password,
		HostKey:       "123456",
	}
	if spec.Agenda != nil {
		w.Agenda = *spec.Agenda
	}
	if w.Password == "" {
		w.Password = "generated"
	}
	f.webinars[w.ID] = w
	out := *w
	return &out, nil
}

// addWebinar seeds a remote webinar.
func (f *fakeWebex) addWebinar(w Webinar) {
	f.webinars[w.ID] = &w
}

func (f *fakeWebex) GetWebinar(_ context.Context, id string) (*Webinar, error) {
	f.getWebinarCalls++
	if f.getWebinarErr != nil {
		return nil, f.getWebinarErr
	}
	w, ok := f.webinars[id]
	if !ok {
		return nil, &APIError{StatusCode: http.StatusNotFound, Message: "The requested resource could not be found."}
	}
	out := *w
	return &out, nil
}

func (f *fakeWebex) UpdateWebinar(_ context.Context, id string, spec WebinarSpec, notify bool) (*Webinar, error) {
	f.updateWebinarCalls++
	f.lastUpdateSpec = spec
	f.updateNotify = append(f.updateNotify, notify)
	if f.updateWebinarErr != nil {
		return nil, f.updateWebinarErr
	}
	w, ok := f.webinars[id]
	if !ok {
		return nil, &APIError{StatusCode: http.StatusNotFound}
	}
	w.Title = spec.Title
	w.Start = spec.Start
	w.End = spec.End
	w.Password = spec.Password
	if spec.Agenda != nil {
		w.Agenda = *spec.Agenda
	}
	out := *w
	return &out, nil
}

func (f *fakeWebex) ListInvitees(_ context.Context, webinarID string, panelistsOnly bool) ([]Invitee, error) {
	f.listInviteesCalls++
	if f.listInviteesErr != nil {
		return nil, f.listInviteesErr
	}
	var out []Invitee
	for _, inv := range f.invitees {
		if inv.MeetingID != webinarID {
			continue
		}
		if panelistsOnly && !inv.Panelist && !inv.CoHost {
			continue
		}
		out = append(out, *inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// addInvitee seeds a remote invitee.
func (f *fakeWebex) addInvitee(inv Invitee) {
	f.invitees[inv.ID] = &inv
}

// inviteesOf returns the webinar's invitees keyed by email.
func (f *fakeWebex) inviteesOf(webinarID string) map[string]Invitee {
	out := map[string]Invitee{}
	for _, inv := range f.invitees {
		if inv.MeetingID == webinarID {
			out[inv.Email] = *inv
		}
	}
	return out
}

func (f *fakeWebex) CreateInvitee(_ context.Context, spec InviteeSpec) (*Invitee, error) {
	f.createInviteeCalls++
	if err := f.createInviteeErr[spec.Email]; err != nil {
		return nil, err
	}
	inv := &Invitee{
		ID:          f.id("invitee"),
		MeetingID:   spec.MeetingID,
		Email:       spec.Email,
		DisplayName: spec.DisplayName,
		Panelist:    spec.Panelist,
		CoHost:      spec.CoHost,
	}
	f.invitees[inv.ID] = inv
	out := *inv
	return &out, nil
}

func (f *fakeWebex) UpdateInvitee(_ context.Context, id string, spec InviteeSpec) (*Invitee, error) {
	f.updateInviteeCalls++
	if err := f.updateInviteeErr[spec.Email]; err != nil {
		return nil, err
	}
	inv, ok := f.invitees[id]
	if !ok {
		return nil, &APIError{StatusCode: http.StatusNotFound}
	}
	inv.DisplayName = spec.DisplayName
	inv.Panelist = spec.Panelist
	inv.CoHost = spec.CoHost
	out := *inv
	return &out, nil
}

func (f *fakeWebex) DeleteInvitee(_ context.Context, id string) error {
	f.deleteInviteeCalls++
	inv, ok := f.invitees[id]
	if !ok {
		return &APIError{StatusCode: http.StatusNotFound}
	}
	if err := f.deleteInviteeErr[inv.Email]; err != nil {
		return err
	}
	delete(f.invitees, id)
	return nil
}

// fakeNotifier records published reports.
type fakeNotifier struct {
	reports []*RunReport
	err     error
}

func (n *fakeNotifier) Publish(_ context.Context, report *RunReport) error {
	n.reports = append(n.reports, report)
	return n.err
}

type sourceOpenerFunc func(ctx context.Context) (SourceList, error)

func (f sourceOpenerFunc) OpenSource(ctx context.Context) (SourceList, error) { return f(ctx) }

type webinarAPIOpenerFunc func(ctx context.Context) (WebinarAPI, error)

func (f webinarAPIOpenerFunc) OpenWebinarAPI(ctx context.Context) (WebinarAPI, error) { return f(ctx) }

// memParamStore is an in-memory ParamStore.
type memParamStore struct {
	values   map[string]string
	secure   map[string]bool
	getCalls int
	putCalls int
}

func newMemParamStore(values map[string]string) *memParamStore {
	if values == nil {
		values = map[string]string{}
	}
	return &memParamStore{values: values, secure: map[string]bool{}}
}

func (m *memParamStore) GetParam(_ context.Context, name string) (string, error) {
	m.getCalls++
	v, ok := m.values[name]
	if !ok {
		return "", fmt.Errorf("%s: %w", name, ErrParamNotFound)
	}
	return v, nil
}

func (m *memParamStore) PutParam(_ context.Context, name, value string, secure bool) error {
	m.putCalls++
	m.values[name] = value
	m.secure[name] = secure
	return nil
}

// sortedKeys returns the keys of m in order.
func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}

// logLines splits captured log text into non-empty lines.
func logLines(text string) []string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// fakeKVEntry is a jetstream.KeyValueEntry holding a value and revision.
type fakeKVEntry struct {
	jetstream.KeyValueEntry
	key       string
	value     []byte
	revision  uint64
	operation jetstream.KeyValueOp
}

func (e *fakeKVEntry) Key() string                     { return e.key }
func (e *fakeKVEntry) Value() []byte                   { return e.value }
func (e *fakeKVEntry) Revision() uint64                { return e.revision }
func (e *fakeKVEntry) Operation() jetstream.KeyValueOp { return e.operation }

// fakeKV implements the jetstream.KeyValue operations used by the parameter
// store and the pass lock; any other method panics.
type fakeKV struct {
	jetstream.KeyValue
	mu          sync.Mutex
	entries     map[string]*fakeKVEntry
	revision    uint64
	createCalls int
	updateCalls int
	deleteCalls int
}

func newFakeKV() *fakeKV {
	return &fakeKV{entries: map[string]*fakeKVEntry{}}
}

func (kv *fakeKV) set(key string, value []byte) uint64 {
	kv.revision++
	kv.entries[key] = &fakeKVEntry{key: key, value: value, revision: kv.revision}
	return kv.revision
}

func (kv *fakeKV) Get(_ context.Context, key string) (jetstream.KeyValueEntry, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	entry, ok := kv.entries[key]
	if !ok {
		return nil, jetstream.ErrKeyNotFound
	}
	return entry, nil
}

func (kv *fakeKV) Put(_ context.Context, key string, value []byte) (uint64, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	return kv.set(key, value), nil
}

func (kv *fakeKV) Create(_ context.Context, key string, value []byte, _ ...jetstream.KVCreateOpt) (uint64, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	kv.createCalls++
	if _, ok := kv.entries[key]; ok {
		return 0, jetstream.ErrKeyExists
	}
	return kv.set(key, value), nil
}

func (kv *fakeKV) Update(_ context.Context, key string, value []byte, revision uint64) (uint64, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	kv.updateCalls++
	entry, ok := kv.entries[key]
	if !ok || entry.revision != revision {
		return 0, fmt.Errorf("wrong last sequence for %s", key)
	}
	return kv.set(key, value), nil
}

func (kv *fakeKV) Delete(_ context.Context, key string, _ ...jetstream.KVDeleteOpt) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	kv.deleteCalls++
	delete(kv.entries, key)
	return nil
}
