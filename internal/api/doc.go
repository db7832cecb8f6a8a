// Package api exposes the REST control surface of the daemon: creating runs,
// reading their task and message snapshots, stopping, pausing and resuming
// them, plus health and Prometheus endpoints.
package api
