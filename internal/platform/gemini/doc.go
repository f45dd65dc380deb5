// Package gemini provides the rotating Gemini API client: one underlying
// client per configured credential, selected per call through the
// credential rotator, with call pacing and outcome reporting. Transient
// upstream failures come back wrapped for the worker pool's retry
// classification; safety blocks and malformed responses are permanent.
package gemini
