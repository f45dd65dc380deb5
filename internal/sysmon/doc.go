// Package sysmon samples host CPU and memory utilization and exposes the
// latest smoothed snapshot to scheduling components. Sampling failures
// degrade to a stale last-known-good snapshot rather than propagating
// errors into submission paths.
package sysmon
