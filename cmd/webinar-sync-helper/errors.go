// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

// The webinar-sync-helper service.
package main

import (
	"errors"
	"fmt"
	"strings"
)

// InitError aborts a pass before any row is processed: parameters could not
// be read, or the list or Webex could not be reached.
type InitError struct {
	Stage string
	Err   error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("%s initialization failed: %v", e.Stage, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

// ColumnMappingError reports mandatory logical columns that have no
// counterpart in the list.
type ColumnMappingError struct {
	Missing []string
}

func (e *ColumnMappingError) Error() string {
	return "some required column(s) are missing in the list: " + strings.Join(e.Missing, ", ")
}

// RowValidationError means a webinar property of a row could not be parsed.
// The row is skipped for this pass.
type RowValidationError struct {
	Property string
	Err      error
}

func (e *RowValidationError) Error() string {
	return fmt.Sprintf("property %q: %v", e.Property, e.Err)
}

func (e *RowValidationError) Unwrap() error { return e.Err }

// RemoteError is a failed Webex operation on a webinar or invitee.
type RemoteError struct {
	Op  string
	Err error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("failed to %s: %v", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// Details returns the structured sub-error descriptions attached by Webex, if
// any.
func (e *RemoteError) Details() []string {
	var apiErr *APIError
	if errors.As(e.Err, &apiErr) {
		return apiErr.Details
	}
	return nil
}

// WriteBackError means results could not be saved to the list row. The remote
// change is kept; the next pass recomputes desired state.
type WriteBackError struct {
	Err error
}

func (e *WriteBackError) Error() string {
	return fmt.Sprintf("failed to write back to list: %v", e.Err)
}

func (e *WriteBackError) Unwrap() error { return e.Err }
