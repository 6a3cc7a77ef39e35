/*
Package execution implements the execution lifecycle state machine and
the cluster-selection policy used when an execution is submitted.

The state machine only moves forward: PENDING -> QUEUED -> RUNNING ->
COMPLETED|FAILED. COMPLETED and FAILED are terminal; a transition
request against an execution already in a terminal status is accepted
as a no-op rather than an error, so a relayer that re-sends a status
frame after a network retry can never flip a result that already
landed. Every accepted transition publishes a lifecycle event and
updates the corresponding Prometheus counters.
*/
package execution
