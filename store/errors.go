package store

import "errors"

var (
	// ErrNotFound means the entity no longer exists on the server.
	ErrNotFound = errors.New("not found")
	// ErrTransient covers network failures, timeouts and server errors. The user may retry.
	ErrTransient = errors.New("transient gateway failure")
	// ErrRejected means the server refused the request (4xx other than not found).
	ErrRejected = errors.New("request rejected")
	// ErrMalformed means the server payload could not be understood; nothing was applied.
	ErrMalformed = errors.New("malformed server payload")
	// ErrStale marks a response superseded by a newer request for the same resource.
	ErrStale = errors.New("stale response")
	// ErrBusy is returned when a page load is already in flight for the active list.
	ErrBusy = errors.New("page load already in flight")
	// ErrAborted is returned by a mutation whose base state was rolled back before it reached the server.
	ErrAborted = errors.New("mutation aborted: earlier mutation on the same post was rolled back")
)
