// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package main

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveColumnMapDefaults(t *testing.T) {
	columns, err := resolveColumnMap(columnDisplayNames(nil), testListColumns())
	require.NoError(t, err)

	internal, ok := columns.Lookup(colStartDateTime)
	assert.True(t, ok)
	assert.Equal(t, "StartDateTime", internal)

	internal, ok = columns.Lookup(colWebinarID)
	assert.True(t, ok)
	assert.Equal(t, "WebinarID", internal)

	assert.Len(t, columns, len(defaultColumns))
}

func TestResolveColumnMapOverrides(t *testing.T) {
	listColumns := testListColumns()
	listColumns["Kick-off"] = "field_7"
	listColumns["Event Site"] = "field_9"

	names := columnDisplayNames(map[string]string{
		colStartDateTime: "Kick-off",
		"siteUrl":        "Event Site",
	})
	columns, err := resolveColumnMap(names, listColumns)
	require.NoError(t, err)

	internal, _ := columns.Lookup(colStartDateTime)
	assert.Equal(t, "field_7", internal, "override replaces the default display name")

	internal, ok := columns.Lookup("siteUrl")
	assert.True(t, ok, "overrides may add logical names")
	assert.Equal(t, "field_9", internal)
}

func TestResolveColumnMapDropsUnknownDisplayNames(t *testing.T) {
	listColumns := testListColumns()
	delete(listColumns, "Host Key")
	delete(listColumns, "Agenda")

	columns, err := resolveColumnMap(columnDisplayNames(nil), listColumns)
	require.NoError(t, err)

	_, ok := columns.Lookup(colHostKey)
	assert.False(t, ok)
	_, ok = columns.Lookup(colAgenda)
	assert.False(t, ok)
}

func TestResolveColumnMapMissingRequired(t *testing.T) {
	listColumns := testListColumns()
	delete(listColumns, "Webinar ID")
	delete(listColumns, "Create")

	columns, err := resolveColumnMap(columnDisplayNames(nil), listColumns)
	assert.Nil(t, columns)

	var mappingErr *ColumnMappingError
	require.True(t, errors.As(err, &mappingErr))
	assert.Equal(t, []string{colCreate, colWebinarID}, mappingErr.Missing)
	assert.Equal(t, "some required column(s) are missing in the list: create, webinarId", err.Error())
}

func TestColumnDisplayNamesDoesNotMutateDefaults(t *testing.T) {
	_ = columnDisplayNames(map[string]string{colTitle: "Name"})
	assert.Equal(t, "Title", defaultColumns[colTitle])
}
