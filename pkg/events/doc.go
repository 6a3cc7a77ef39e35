/*
Package events provides the in-process fan-out of lifecycle events
(execution transitions, agent registration changes, cluster attach and
detach) to a durable workflow consumer.

Publish happens synchronously on the producing goroutine and never
blocks: each subscriber owns a buffered channel sized for the burst an
attached session produces when draining a backlogged cluster, and a
subscriber that falls further behind loses events, counted per type in
the process metrics. Consumers that need durability reconcile against
storage; the broker is at-least-once best effort, not the system of
record.
*/
package events
