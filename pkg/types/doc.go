/*
Package types defines the core data structures shared across the
control plane: organizations, API keys, clusters, agents, executions,
the priority queue envelope, the in-process connection record, and the
telemetry row types (log entries, metric points, trace spans) written
by the inbound dispatcher.

These are plain structs with const-enum status fields; no behavior
lives here beyond the terminal-state check on ExecutionStatus and the
validity check on APIKey.
*/
package types
