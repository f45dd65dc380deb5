// Package balance decides where submitted tasks go. It maps each task
// category to a destination queue and priority, adjusted by the current
// resource load and queue depth, advises throttling under sustained
// pressure, and recommends submission batch sizes that shrink as load
// grows. All decisions are advisory reads of shared state and tolerate
// slightly stale samples.
package balance
