// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

// The webinar-sync-helper service.
package main

import (
	"maps"
	"slices"
)

// Logical column names used by the engine.
const (
	colCreate          = "create"
	colStartDateTime   = "startdatetime"
	colDuration        = "duration"
	colTitle           = "title"
	colAgenda          = "agenda"
	colCohosts         = "cohosts"
	colPanelists       = "panelists"
	colWebinarID       = "webinarId"
	colAttendeeURL     = "attendeeUrl"
	colHostKey         = "hostKey"
	colRegistrantCount = "registrantCount"
)

// defaultColumns maps logical column names to the list display names expected
// when the operator does not override them.
var defaultColumns = map[string]string{
	colCreate:          "Create",
	colStartDateTime:   "Start Date and Time",
	colDuration:        "Duration",
	colTitle:           "Title",
	colAgenda:          "Agenda",
	colCohosts:         "Cohosts",
	colPanelists:       "Panelists",
	colWebinarID:       "Webinar ID",
	colAttendeeURL:     "Attendee URL",
	colHostKey:         "Host Key",
	colRegistrantCount: "Registrant Count",
}

// requiredColumns must resolve for a pass to start.
var requiredColumns = []string{colCreate, colStartDateTime, colTitle, colWebinarID}

// ColumnMap maps logical column names to list column internal names for the
// current pass.
type ColumnMap map[string]string

// Lookup returns the internal column name for a logical name.
func (m ColumnMap) Lookup(logical string) (string, bool) {
	internal, ok := m[logical]
	return internal, ok
}

// columnDisplayNames merges operator overrides over the default table. Each
// override replaces the default for its key; overrides may add new keys.
func columnDisplayNames(overrides map[string]string) map[string]string {
	names := maps.Clone(defaultColumns)
	maps.Copy(names, overrides)
	return names
}

// resolveColumnMap resolves display names against the list's columns
// (display name -> internal name). Unknown display names are dropped; a
// missing required column is a ColumnMappingError.
func resolveColumnMap(displayNames map[string]string, listColumns map[string]string) (ColumnMap, error) {
	columnMap := ColumnMap{}
	for logical, display := range displayNames {
		if internal, ok := listColumns[display]; ok {
			columnMap[logical] = internal
		}
	}

	var missing []string
	for _, logical := range requiredColumns {
		if _, ok := columnMap[logical]; !ok {
			missing = append(missing, logical)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return nil, &ColumnMappingError{Missing: missing}
	}

	return columnMap, nil
}
