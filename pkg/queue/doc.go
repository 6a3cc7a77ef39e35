/*
Package queue implements the per-cluster priority work queue that sits
between execution submission and relayer dispatch.

Each cluster gets three Redis lists, one per types.Priority lane. A
single blocking BLPOP against all three keys, high first, pops from
whichever lane has work while preferring higher priority: Redis scans
the key list left to right and returns the first non-empty one, so
priority-then-FIFO ordering falls out of key order rather than any
client-side merge logic.

Backend is the interface the execution, agent and session packages
depend on; RedisBackend is the durable implementation and MemoryBackend is an
in-process fallback for tests and for a single-node deployment without
Redis, explicitly non-durable across restarts.
*/
package queue
