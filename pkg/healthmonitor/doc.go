/*
Package healthmonitor runs the periodic sweep that force-detaches relayer
sessions whose heartbeat has gone stale, and reconciles any cluster left
marked ACTIVE in storage with no matching connection registry entry (the
control plane having restarted out from under an attached session, for
instance).

The sweep interval and staleness threshold follow the same ticker-driven
loop shape used for other periodic reconciliation in this codebase: a
single goroutine, a time.Ticker, and a stop channel closed on Stop.
*/
package healthmonitor
