/*
Package storage defines the Store interface and its PostgreSQL-backed
implementation for organization, API key, cluster, agent and execution
persistence, plus the telemetry tables (logs, metrics, traces) written
by the inbound dispatcher.

Store methods take a context.Context and operate against a single
*pgxpool.Pool; callers share one pool across goroutines rather than
opening a connection per request. Row scanning follows a
scan-helper-per-entity convention: each file defines its own column
list and scan function so a schema change only touches one place.
*/
package storage
