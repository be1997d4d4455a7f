// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

// The webinar-sync-helper service.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// RunConfig is the operator configuration consumed by a pass.
type RunConfig struct {
	// Columns overrides logical -> display name entries of the default table.
	Columns map[string]string
	// Nicknames maps lowercase nicknames to contacts.
	Nicknames map[string]Nickname
	// Defaults holds global default webinar properties.
	Defaults map[string]any
}

// RunReport summarizes one pass.
type RunReport struct {
	RunID             string    `json:"run_id" msgpack:"run_id"`
	StartedAt         time.Time `json:"started_at" msgpack:"started_at"`
	FinishedAt        time.Time `json:"finished_at" msgpack:"finished_at"`
	RowsSeen          int       `json:"rows_seen" msgpack:"rows_seen"`
	RowsSkipped       int       `json:"rows_skipped" msgpack:"rows_skipped"`
	RowsInvalid       int       `json:"rows_invalid" msgpack:"rows_invalid"`
	WebinarsCreated   int       `json:"webinars_created" msgpack:"webinars_created"`
	WebinarsUpdated   int       `json:"webinars_updated" msgpack:"webinars_updated"`
	WebinarsUnchanged int       `json:"webinars_unchanged" msgpack:"webinars_unchanged"`
	WebinarsFailed    int       `json:"webinars_failed" msgpack:"webinars_failed"`
	InviteesInvited   int       `json:"invitees_invited" msgpack:"invitees_invited"`
	InviteesUpdated   int       `json:"invitees_updated" msgpack:"invitees_updated"`
	InviteesUninvited int       `json:"invitees_uninvited" msgpack:"invitees_uninvited"`
	InviteeFailures   int       `json:"invitee_failures" msgpack:"invitee_failures"`
	TotalRegistrants  int       `json:"total_registrants" msgpack:"total_registrants"`
	Error             string    `json:"error,omitempty" msgpack:"error,omitempty"`
	BriefLog          string    `json:"brief_log" msgpack:"brief_log"`
	FullLog           []byte    `json:"-" msgpack:"-"`
}

// SourceOpener connects to the list of record for a pass.
type SourceOpener interface {
	OpenSource(ctx context.Context) (SourceList, error)
}

// WebinarAPIOpener connects to Webex for a pass, refreshing credentials as
// needed.
type WebinarAPIOpener interface {
	OpenWebinarAPI(ctx context.Context) (WebinarAPI, error)
}

// Notifier delivers the logs and report of a finished pass.
type Notifier interface {
	Publish(ctx context.Context, report *RunReport) error
}

// passRunner runs reconciliation passes.
type passRunner struct {
	config   RunConfig
	sources  SourceOpener
	webinars WebinarAPIOpener
	notifier Notifier
	console  slog.Handler
	now      func() time.Time
}

// Run executes one pass over every row of the list. Initialization failures
// abort the pass and are returned; per-row failures are logged and counted.
// The report is returned and published in both cases.
func (p *passRunner) Run(ctx context.Context) (*RunReport, error) {
	now := p.now
	if now == nil {
		now = time.Now
	}

	report := &RunReport{
		RunID:     uuid.NewString(),
		StartedAt: now(),
	}
	runLog, log := newRunLog(p.console)
	log = log.With("run_id", report.RunID)

	err := p.reconcile(ctx, log, report, now)
	if err != nil {
		report.Error = err.Error()
		log.With(errKey, err).ErrorContext(ctx, "pass aborted")
	}

	report.FinishedAt = now()
	log.WarnContext(ctx, fmt.Sprintf("Done in %s. Total registrants: %d.",
		report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond), report.TotalRegistrants))

	report.BriefLog = runLog.Brief()
	report.FullLog = runLog.Full()

	if p.notifier != nil {
		if notifyErr := p.notifier.Publish(ctx, report); notifyErr != nil {
			log.With(errKey, notifyErr).ErrorContext(ctx, "failed to publish run report")
		}
	}
	return report, err
}

func (p *passRunner) reconcile(ctx context.Context, log *slog.Logger, report *RunReport, now func() time.Time) error {
	source, err := p.sources.OpenSource(ctx)
	if err != nil {
		return initError("sharepoint", err)
	}
	listColumns, err := source.ListColumns(ctx)
	if err != nil {
		return initError("sharepoint", err)
	}
	columns, err := resolveColumnMap(columnDisplayNames(p.config.Columns), listColumns)
	if err != nil {
		return initError("column mapping", err)
	}

	webex, err := p.webinars.OpenWebinarAPI(ctx)
	if err != nil {
		return initError("webex", err)
	}

	rows, err := source.ListRows(ctx)
	if err != nil {
		return initError("sharepoint", err)
	}
	log.With("rows", len(rows)).InfoContext(ctx, "processing list rows")

	syncer := &webinarSyncer{
		webex:   webex,
		columns: columns,
		logger:  log,
		report:  report,
		props: &propertyResolver{
			columns:   columns,
			defaults:  p.config.Defaults,
			nicknames: p.config.Nicknames,
			now:       now,
		},
	}
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("pass interrupted: %w", err)
		}
		syncer.processRow(ctx, row)
	}
	return nil
}

// initError wraps err as an InitError unless it already is one.
func initError(stage string, err error) error {
	var existing *InitError
	if errors.As(err, &existing) {
		return err
	}
	return &InitError{Stage: stage, Err: err}
}
