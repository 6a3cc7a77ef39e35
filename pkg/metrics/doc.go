/*
Package metrics defines and registers the Prometheus metrics exposed by
the control plane: session/connection gauges, per-cluster queue depth,
dispatch latency, execution lifecycle counts, telemetry batch outcomes
and API request metrics. Metrics are registered at package init and
exposed for scraping via Handler.

Collector pulls gauge values that aren't naturally event-driven
(execution counts by status, agent counts by status, attached session
count) from storage and the connection registry on a fixed interval,
following the same periodic-pull shape used elsewhere in this codebase
for reconciliation loops.
*/
package metrics
