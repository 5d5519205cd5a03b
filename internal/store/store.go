// Package store holds errors and helpers shared by the persistence
// implementations under store/postgres and store/memory. The store
// interfaces themselves live next to the models they persist.
package store

import "errors"

// ErrNotFound is returned when a referenced event, alert, incident or
// escalation step does not exist. Callers surface it without retrying.
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is returned when inserting a row whose id is already
// present. Event intake treats it as a re-ingest, not a failure: the
// insert is skipped and evaluation still runs.
var ErrAlreadyExists = errors.New("already exists")
