// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

// The webinar-sync-helper service.
package main

import (
	"context"
	"maps"
	"reflect"
)

// SourceList is the tabular list of record the webinars are defined in.
type SourceList interface {
	// ListColumns returns the list's columns as display name -> internal name.
	ListColumns(ctx context.Context) (map[string]string, error)
	// ListRows returns the rows of the working folder in list order.
	ListRows(ctx context.Context) ([]Row, error)
}

// Row is one list item. Set only stages a change; Commit sends the fields
// that differ from the values loaded with the row.
type Row interface {
	ID() string
	Get(column string) any
	Set(column string, value any)
	Commit(ctx context.Context) error
}

// fieldPatcher saves a delta of changed fields for a row.
type fieldPatcher func(ctx context.Context, rowID string, changes map[string]any) error

// listRow is a Row backed by a field map with a load-time snapshot.
type listRow struct {
	id       string
	fields   map[string]any
	snapshot map[string]any
	patch    fieldPatcher
}

func newListRow(id string, fields map[string]any, patch fieldPatcher) *listRow {
	if fields == nil {
		fields = map[string]any{}
	}
	return &listRow{
		id:       id,
		fields:   fields,
		snapshot: maps.Clone(fields),
		patch:    patch,
	}
}

func (r *listRow) ID() string { return r.id }

func (r *listRow) Get(column string) any { return r.fields[column] }

func (r *listRow) Set(column string, value any) {
	r.fields[column] = normalizeFieldValue(value)
}

// changes computes the delta between current values and the snapshot.
func (r *listRow) changes() map[string]any {
	delta := map[string]any{}
	for k, v := range r.fields {
		old, ok := r.snapshot[k]
		if !ok || !reflect.DeepEqual(old, v) {
			delta[k] = v
		}
	}
	return delta
}

func (r *listRow) Commit(ctx context.Context) error {
	delta := r.changes()
	if len(delta) == 0 {
		return nil
	}
	if err := r.patch(ctx, r.id, delta); err != nil {
		return err
	}
	maps.Copy(r.snapshot, delta)
	return nil
}

// normalizeFieldValue stores integers as float64, the type JSON decoding
// yields, so unchanged numbers do not show up in the delta.
func normalizeFieldValue(v any) any {
	switch t := v.(type) {
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case int32:
		return float64(t)
	default:
		return v
	}
}
