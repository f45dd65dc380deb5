// Package sched implements the priority task queue and worker pool at the
// heart of the scheduler: task submission with balancer-assigned queue and
// priority, strict priority-then-FIFO dequeue within a queue, weighted
// round-robin fairness across queues, cooperative cancellation, and
// transient-failure retry with exponential backoff.
package sched
