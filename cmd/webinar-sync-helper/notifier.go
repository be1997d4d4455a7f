// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

// The webinar-sync-helper service.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	nats "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	botMessageHeader   = "Done creating and updating webinars. Full log attached. Brief log follows.\n\n"
	logFileTimeLayout  = "20060102-150405"
	defaultReportTopic = "sharepoint_webex.run_report"
)

// roomPoster posts a message with an attachment to a Webex room.
type roomPoster interface {
	PostMessage(ctx context.Context, roomID, text, fileName string, file []byte) error
}

// botNotifier posts the brief log to the operators' Webex room and attaches
// the full log.
type botNotifier struct {
	bot    roomPoster
	roomID string
}

// logFileName names the full log attachment after the pass start time.
func logFileName(report *RunReport) string {
	return report.StartedAt.UTC().Format(logFileTimeLayout) + " log.txt"
}

// Publish implements Notifier.
func (n *botNotifier) Publish(ctx context.Context, report *RunReport) error {
	if err := n.bot.PostMessage(ctx, n.roomID, botMessageHeader+report.BriefLog, logFileName(report), report.FullLog); err != nil {
		return fmt.Errorf("failed to post log into Webex bot room: %w", err)
	}
	return nil
}

// jsPublisher is the subset of jetstream.JetStream used for publishing.
type jsPublisher interface {
	PublishMsg(ctx context.Context, msg *nats.Msg, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// natsReportNotifier publishes run reports to a JetStream subject for
// downstream consumers. The run ID is the deduplication ID.
type natsReportNotifier struct {
	js         jsPublisher
	subject    string
	useMsgpack bool
}

// Publish implements Notifier.
func (n *natsReportNotifier) Publish(ctx context.Context, report *RunReport) error {
	var (
		data []byte
		err  error
	)
	contentType := "application/json"
	if n.useMsgpack {
		contentType = "application/msgpack"
		data, err = msgpack.Marshal(report)
	} else {
		data, err = json.Marshal(report)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal run report: %w", err)
	}

	msg := &nats.Msg{
		Subject: n.subject,
		Data:    data,
		Header:  nats.Header{},
	}
	msg.Header.Set("Nats-Msg-Id", report.RunID)
	msg.Header.Set("Content-Type", contentType)

	if _, err := n.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish to NATS subject %s: %w", n.subject, err)
	}
	return nil
}

// multiNotifier publishes to every notifier, even when one fails.
type multiNotifier []Notifier

// Publish implements Notifier.
func (m multiNotifier) Publish(ctx context.Context, report *RunReport) error {
	var errs []error
	for _, n := range m {
		if err := n.Publish(ctx, report); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
