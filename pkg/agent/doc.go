// Package agent owns the agent definition lifecycle: applying deployable
// definitions idempotently (keyed by config hash) and pushing changed
// definitions to attached relayers through the work queue.
package agent
