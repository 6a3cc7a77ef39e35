/*
Package log provides structured logging for the control plane using
zerolog.

A single root logger is configured once at process startup via Init.
Two derivation helpers cover the module's call sites: WithComponent
tags a subsystem's messages, and WithCluster attaches the
organization/cluster pair that scopes everything a relayer session
logs. Per-message identifiers (execution, agent) stay at the call site.
*/
package log
