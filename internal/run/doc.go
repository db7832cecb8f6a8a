// Package run hosts autonomous agent runs inside the daemon. Each run owns an
// in-memory task store and message feed, is driven by its own goroutine and
// can be inspected, stopped, paused and resumed while it executes.
package run
