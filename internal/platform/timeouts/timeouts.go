// Package timeouts defines shared timeout constants used across rollcall
// binaries.
package timeouts

import "time"

// TrustedEvaluation is the optimistic budget for in-process evaluation.
const TrustedEvaluation = 1 * time.Second

// IsolatedEvaluation caps a worker-process evaluation, including process
// start-up.
const IsolatedEvaluation = 2 * time.Second

// Annotation caps the statistics behind advisory reply reactions.
const Annotation = 250 * time.Millisecond

// StoreOperation caps a single user-state read or write.
const StoreOperation = 2 * time.Second

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long servers and telemetry wait during graceful
// shutdown.
const Shutdown = 5 * time.Second

// WorkerKillGrace bounds how long a killed worker may keep its pipes open.
const WorkerKillGrace = 500 * time.Millisecond
