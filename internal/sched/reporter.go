package sched

import "github.com/google/uuid"

// Reporter is the progress-reporting handle passed to every work
// function. Updates flow through the manager so progress stays monotonic
// and snapshots stay consistent; there is no shared mutable map for work
// functions to poke at.
type Reporter struct {
	m  *Manager
	id uuid.UUID
}

// TaskID returns the ID of the task this reporter belongs to.
func (r *Reporter) TaskID() uuid.UUID {
	return r.id
}

// Report publishes a progress value (0-100) and a free-text step label.
// Values below the current progress are ignored; the label is
// last-write-wins.
func (r *Reporter) Report(progress int, step string) {
	r.m.reportProgress(r.id, progress, step)
}

// Cancelled reports whether cooperative cancellation has been requested.
// Work functions should check this at safe points and return promptly
// when it is set; in-flight external calls are never forcibly
// interrupted.
func (r *Reporter) Cancelled() bool {
	return r.m.cancelRequested(r.id)
}
