/*
Package dispatch implements the inbound frame demultiplexer: the single
entry point a relayer session calls with every wire.ClientFrame it
receives.

Handle switches on the frame kind and routes to the execution state
machine, the agent registry, or a telemetry batch insert. Telemetry
batches are bound-checked against types.MaxLogBatchSize/MaxMetricBatchSize/
MaxTraceBatchSize before any row is written, and every row is
organization-scoped against the cluster the frame arrived on: a relayer
cannot smuggle telemetry or execution updates for another organization's
data even if it forges the payload, because the organization_id persisted
is always the authenticated cluster's, never a client-supplied value.
*/
package dispatch
