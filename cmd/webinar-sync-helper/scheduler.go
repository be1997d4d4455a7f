// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

// The webinar-sync-helper service.
package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// passRunnerFunc runs a single pass.
type passRunnerFunc func(ctx context.Context) (*RunReport, error)

// passScheduler runs passes under the pass lock, either once or on a cron
// schedule.
type passScheduler struct {
	run    passRunnerFunc
	locker passLocker
	logger *slog.Logger
	cron   *cron.Cron
}

func newPassScheduler(run passRunnerFunc, locker passLocker, logger *slog.Logger) *passScheduler {
	if locker == nil {
		locker = &localPassLocker{}
	}
	return &passScheduler{
		run:    run,
		locker: locker,
		logger: logger,
	}
}

// runGuarded runs one pass if the pass lock can be taken. ran is false when
// another pass holds the lock.
func (s *passScheduler) runGuarded(ctx context.Context) (report *RunReport, ran bool, err error) {
	acquired, waited := s.locker.acquire(ctx)
	if !acquired {
		s.logger.With("waited", waited).WarnContext(ctx, "another pass is in progress, skipping")
		return nil, false, nil
	}
	defer func() {
		if releaseErr := s.locker.release(context.WithoutCancel(ctx)); releaseErr != nil {
			s.logger.With(errKey, releaseErr).ErrorContext(ctx, "failed to release pass lock")
		}
	}()

	report, err = s.run(ctx)
	if report != nil {
		s.logger.With(
			"run_id", report.RunID,
			"created", report.WebinarsCreated,
			"updated", report.WebinarsUpdated,
			"failed", report.WebinarsFailed,
			"registrants", report.TotalRegistrants,
		).InfoContext(ctx, "pass finished")
	}
	return report, true, err
}

// Start schedules passes with a standard five-field cron expression (or a
// descriptor such as "@hourly"). A tick is skipped while the previous pass is
// still running.
func (s *passScheduler) Start(ctx context.Context, schedule string) error {
	cronLogger := &slogCronLogger{logger: s.logger}
	s.cron = cron.New(
		cron.WithParser(cron.NewParser(cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor)),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		cron.WithLogger(cronLogger),
	)
	if _, err := s.cron.AddFunc(schedule, func() {
		if _, _, err := s.runGuarded(ctx); err != nil {
			s.logger.With(errKey, err).ErrorContext(ctx, "scheduled pass failed")
		}
	}); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}
	s.cron.Start()
	s.logger.With("schedule", schedule).Info("pass scheduler started")
	return nil
}

// Stop stops scheduling and waits for a running pass to finish.
func (s *passScheduler) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.logger.Info("pass scheduler stopped")
}

// slogCronLogger adapts slog to cron.Logger.
type slogCronLogger struct {
	logger *slog.Logger
}

func (l *slogCronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l *slogCronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.With(errKey, err).Error("cron: "+msg, keysAndValues...)
}
