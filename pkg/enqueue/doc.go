/*
Package enqueue exposes the HTTP-facing side of the control plane core:
POST /v1/organizations/{organizationID}/executions authenticates the
caller's organization API key, resolves the named agent, and hands off to
pkg/execution.Submitter; PUT /v1/organizations/{organizationID}/agents
applies agent definitions through pkg/agent.Registrar.

This is the only HTTP surface in the control plane that isn't /metrics or
/healthz; everything else (cluster registration, work dispatch, telemetry
ingest) happens over the gRPC stream in pkg/session.
*/
package enqueue
