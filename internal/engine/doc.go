// Package engine provides the asynchronous calculation execution engine.
// It orchestrates calculation lifecycle by admitting jobs through the
// registry, streaming solver events through the hub, enforcing timeouts via
// context deadlines and finalizing each job exactly once.
package engine
