// Package types defines the core data model shared across the control
// plane: organizations, credentials, clusters, agents and executions.
package types

import "time"

// Organization is the top-level tenant boundary. Every cluster, agent
// and execution belongs to exactly one organization.
type Organization struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// APIKey authenticates a relayer or operator acting on behalf of an
// Organization. The raw key is only ever known to the caller; the
// control plane stores KeyHash and uses KeyPrefix to narrow lookups.
type APIKey struct {
	ID             string
	OrganizationID string
	KeyPrefix      string // first 8 characters of the raw key, indexed
	KeyHash        string // bcrypt hash of the full raw key
	Description    string
	RateLimit      int // requests per minute; enforced by the external HTTP layer
	CreatedAt      time.Time
	ExpiresAt      time.Time // zero means never
	LastUsedAt     time.Time
	RevokedAt      time.Time // zero means not revoked
}

// Valid reports whether the key may authenticate at now: not revoked and
// not expired.
func (k *APIKey) Valid(now time.Time) bool {
	if !k.RevokedAt.IsZero() {
		return false
	}
	if !k.ExpiresAt.IsZero() && !k.ExpiresAt.After(now) {
		return false
	}
	return true
}

// Cluster is the control plane's record of one relayer registration.
// Each cluster has its own secret used to authenticate the stream-attach
// phase; the secret's plaintext exists only in the registration response.
type Cluster struct {
	ID             string
	OrganizationID string
	Name           string
	SecretHash     string // bcrypt hash of the cluster secret
	Status         ClusterStatus
	RelayerVersion string
	LastHeartbeat  time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ClusterStatus represents the lifecycle state of a Cluster. PENDING is the
// state between registration and first stream attach; ACTIVE and INACTIVE
// track attachment; FAILED records a cluster the operator gave up on.
type ClusterStatus string

const (
	ClusterStatusPending  ClusterStatus = "pending"
	ClusterStatusActive   ClusterStatus = "active"
	ClusterStatusInactive ClusterStatus = "inactive"
	ClusterStatusFailed   ClusterStatus = "failed"
)

// Agent is a named, versioned execution recipe: a container image plus
// resource requests and a retry policy, unique per (OrganizationID, Name).
// ClusterID records the cluster that most recently reported the agent's
// registration status; it is not part of the identity. ConfigHash is a
// digest of the deployable definition, used to detect no-op re-registrations.
type Agent struct {
	ID                   string
	OrganizationID       string
	ClusterID            string
	Name                 string
	Image                string
	Resources            []byte // JSON resource requests, opaque to the control plane
	RetryPolicy          []byte // JSON retry policy, interpreted by the relayer
	EnvironmentVariables []byte // JSON map of env vars injected at execution time
	ConfigHash           string
	Status               AgentStatus
	LastSeenAt           time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// AgentStatus represents an Agent's deployment standing. PENDING covers
// the window between creation and the first relayer-side registration
// report; ACTIVE agents are the only ones executions can be submitted
// against.
type AgentStatus string

const (
	AgentStatusPending   AgentStatus = "pending"
	AgentStatusDeploying AgentStatus = "deploying"
	AgentStatusActive    AgentStatus = "active"
	AgentStatusFailed    AgentStatus = "failed"
	AgentStatusOffline   AgentStatus = "offline"
)

// Execution is a unit of work submitted against an Organization and
// dispatched to a Cluster for processing by an Agent.
type Execution struct {
	ID             string
	OrganizationID string
	AgentID        string
	AgentName      string
	ClusterID      string // empty until a cluster is selected
	Priority       Priority
	Status         ExecutionStatus
	Payload        []byte
	Result         []byte
	Error          string
	DurationMS     int64
	Attempt        int
	CreatedAt      time.Time
	QueuedAt       time.Time
	StartedAt      time.Time
	CompletedAt    time.Time
}

// Priority controls which of the three per-cluster queue lanes an
// Execution is placed into.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// ExecutionStatus is the state machine position of an Execution.
// COMPLETED and FAILED are terminal: once reached, no further
// transition is accepted.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusQueued    ExecutionStatus = "queued"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

// Terminal reports whether s accepts no further transitions.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed
}

// QueueMessageKind discriminates the two outbound message variants a
// cluster queue can carry.
type QueueMessageKind string

const (
	QueueMessageWork         QueueMessageKind = "work"
	QueueMessageRegistration QueueMessageKind = "registration"
)

// QueueMessage is the envelope placed on a cluster's priority queue lanes.
// A WORK message carries only what the session needs to hand an execution
// to the relayer; the full Execution lives in storage. A REGISTRATION
// message carries the agent definition being pushed to the relayer.
type QueueMessage struct {
	Kind           QueueMessageKind
	OrganizationID string
	ClusterID      string
	Priority       Priority
	EnqueuedAt     time.Time

	// WORK fields
	ExecutionID string
	AgentName   string
	Payload     []byte

	// REGISTRATION fields
	Registration *AgentRegistration
}

// AgentRegistration is the agent definition pushed to a relayer when an
// agent is created or its configuration changes.
type AgentRegistration struct {
	AgentID              string
	Name                 string
	Image                string
	Resources            []byte
	RetryPolicy          []byte
	EnvironmentVariables []byte
	ConfigHash           string
}

// ClusterConnection describes a single attached relayer session as
// tracked by the in-process connection registry. Handle is a unique
// per-attach token used to resolve unregister races between a slow
// teardown and a fresher attach for the same cluster. Detach asks the
// owning session to shut down; the registry never closes a stream itself.
type ClusterConnection struct {
	ClusterID      string
	OrganizationID string
	Handle         string
	ConnectedAt    time.Time
	LastHeartbeat  time.Time
	Detach         func()
}

// TelemetryKind distinguishes the three batch frame kinds a relayer
// session may forward from an agent.
type TelemetryKind string

const (
	TelemetryKindLog    TelemetryKind = "log"
	TelemetryKindMetric TelemetryKind = "metric"
	TelemetryKindTrace  TelemetryKind = "trace"
)

// LogEntry is a single log line relayed from an agent.
type LogEntry struct {
	ID             string
	OrganizationID string
	ClusterID      string
	AgentID        string
	ExecutionID    string
	Timestamp      time.Time
	Level          string
	Message        string
}

// MetricPoint is a single metric sample relayed from an agent.
type MetricPoint struct {
	ID             string
	OrganizationID string
	ClusterID      string
	AgentID        string
	Timestamp      time.Time
	Name           string
	Value          float64
	Labels         map[string]string
}

// TraceSpan is a single trace span relayed from an agent.
type TraceSpan struct {
	ID             string
	OrganizationID string
	ClusterID      string
	AgentID        string
	ExecutionID    string
	TraceID        string
	SpanID         string
	ParentSpanID   string
	Name           string
	StartedAt      time.Time
	EndedAt        time.Time
}

// Batch size limits enforced by the inbound dispatcher before any
// telemetry batch is persisted.
const (
	MaxLogBatchSize    = 10000
	MaxMetricBatchSize = 5000
	MaxTraceBatchSize  = 1000
)
