/*
Package session implements the relayer-facing side of the control plane's
gRPC service: cluster registration and the StreamWork bidirectional stream
that carries dispatched work out and execution/telemetry frames back.

A session's lifetime has two phases. Registration (RegisterCluster) is a
single unary call authenticated by an organization API key; for a new
cluster name it creates a Cluster row and returns a newly generated
cluster secret, shown to the caller exactly once, and for a name the
organization already registered it returns the existing cluster's ID
with no secret. Stream attach (StreamWork) authenticates with that
secret via cluster-id/x-cluster-secret metadata, registers the attach in
the connection registry, and then runs two independent loops for the
stream's lifetime: a send loop pulling dispatchable work off the cluster's
priority queue, and a receive loop routing inbound frames to the
dispatcher. Either loop exiting tears down both and unregisters the
connection.
*/
package session
