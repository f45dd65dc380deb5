// Package api handles incoming HTTP requests for the monitoring surface:
// task status lookups, cancellation, health, and aggregate scheduler
// statistics. It acts as an adapter between external clients and the
// in-process scheduling components, translating HTTP concerns to
// scheduler operations.
package api
