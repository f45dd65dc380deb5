// Package main implements the entry point for the document scheduler
// server: an in-process priority task scheduler with an adaptive load
// balancer, credential rotation for the LLM backend, and an HTTP
// monitoring surface.
package main

import (
	"context"
	"log"
)

// main wires configuration, logging, the resource monitor, the credential
// rotator, the balancer, the queue manager, and the worker pool, then
// serves the monitoring API until interrupted.
func main() {
	ctx := context.Background()

	app, err := newApplication(ctx)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	if err := app.run(ctx); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
