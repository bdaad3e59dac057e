package engine

import "errors"

var (
	// ErrClosed is returned by any mutating or transport-facing call made
	// after Close.
	ErrClosed = errors.New("engine: closed")
	// ErrNotSynced is returned by calls that require transport sync
	// (server_time, post) before it has happened.
	ErrNotSynced = errors.New("engine: transport not synced yet")
)
