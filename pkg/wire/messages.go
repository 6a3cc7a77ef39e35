package wire

import "github.com/relayforge/controlplane/pkg/types"

// RegisterClusterRequest is the unary registration call a relayer makes
// once before ever attaching a stream. The API key is normally carried in
// x-api-key metadata; the payload field is a fallback for clients that
// cannot set per-call metadata.
type RegisterClusterRequest struct {
	APIKey         string   `json:"api_key,omitempty"`
	ClusterName    string   `json:"cluster_name"`
	RelayerVersion string   `json:"relayer_version,omitempty"`
	Capabilities   []string `json:"capabilities,omitempty"`
}

// RelayerConfig is the configuration block returned to a relayer at
// registration. ClusterSecret is populated only when the cluster was
// created by this call; it is never recoverable afterwards, and losing it
// means the cluster must be re-created.
type RelayerConfig struct {
	HeartbeatIntervalMS int    `json:"heartbeat_interval_ms"`
	LogLevel            string `json:"log_level"`
	ClusterSecret       string `json:"cluster_secret,omitempty"`
}

// RegisterClusterResponse identifies the registered cluster and carries its
// relayer-side configuration.
type RegisterClusterResponse struct {
	Success   bool          `json:"success"`
	ClusterID string        `json:"cluster_id"`
	Message   string        `json:"message,omitempty"`
	Config    RelayerConfig `json:"config"`
}

// ClientFrameKind discriminates the payload carried by a ClientFrame.
type ClientFrameKind string

const (
	ClientFrameHeartbeat         ClientFrameKind = "heartbeat"
	ClientFrameExecutionStatus   ClientFrameKind = "execution_status"
	ClientFrameLogBatch          ClientFrameKind = "log_batch"
	ClientFrameMetricBatch       ClientFrameKind = "metric_batch"
	ClientFrameTraceBatch        ClientFrameKind = "trace_batch"
	ClientFrameAgentRegistration ClientFrameKind = "agent_registration_status"
)

// ClientFrame is a single message sent from an attached relayer to the
// control plane over the StreamWork bidi stream. Exactly one of the
// payload fields is populated, selected by Kind.
type ClientFrame struct {
	Kind ClientFrameKind `json:"kind"`

	ExecutionStatus   *ExecutionStatusFrame         `json:"execution_status,omitempty"`
	LogBatch          *LogBatchFrame                `json:"log_batch,omitempty"`
	MetricBatch       *MetricBatchFrame             `json:"metric_batch,omitempty"`
	TraceBatch        *TraceBatchFrame              `json:"trace_batch,omitempty"`
	AgentRegistration *AgentRegistrationStatusFrame `json:"agent_registration_status,omitempty"`
}

// ExecutionStatusFrame reports a state transition for an execution claimed
// by an agent behind this relayer. DurationMS is meaningful only on
// terminal statuses.
type ExecutionStatusFrame struct {
	ExecutionID string                `json:"execution_id"`
	AgentID     string                `json:"agent_id,omitempty"`
	Status      types.ExecutionStatus `json:"status"`
	Result      []byte                `json:"result,omitempty"`
	Error       string                `json:"error,omitempty"`
	DurationMS  int64                 `json:"duration_ms,omitempty"`
}

// LogBatchFrame carries up to types.MaxLogBatchSize relayed log lines.
type LogBatchFrame struct {
	Entries []*types.LogEntry `json:"entries"`
}

// MetricBatchFrame carries up to types.MaxMetricBatchSize relayed metric samples.
type MetricBatchFrame struct {
	Points []*types.MetricPoint `json:"points"`
}

// TraceBatchFrame carries up to types.MaxTraceBatchSize relayed trace spans.
type TraceBatchFrame struct {
	Spans []*types.TraceSpan `json:"spans"`
}

// AgentRegistrationStatusFrame reports the relayer-side outcome of an
// agent_registration push, or an agent's standing status change.
type AgentRegistrationStatusFrame struct {
	AgentName string            `json:"agent_name"`
	Status    types.AgentStatus `json:"status"`
	Message   string            `json:"message,omitempty"`
}

// ServerFrameKind discriminates the payload carried by a ServerFrame.
type ServerFrameKind string

const (
	ServerFrameWork              ServerFrameKind = "work_item"
	ServerFrameAgentRegistration ServerFrameKind = "agent_registration"
)

// ServerFrame is a single message sent from the control plane to an
// attached relayer. Exactly one of the payload fields is populated,
// selected by Kind.
type ServerFrame struct {
	Kind ServerFrameKind `json:"kind"`

	Work              *WorkFrame              `json:"work_item,omitempty"`
	AgentRegistration *AgentRegistrationFrame `json:"agent_registration,omitempty"`
}

// Wire-level priority values. Lower is more urgent.
const (
	PriorityWireHigh   = 1
	PriorityWireNormal = 2
	PriorityWireLow    = 3
)

// PriorityToWire maps a queue priority onto its numeric wire value.
// Unrecognized values map to normal.
func PriorityToWire(p types.Priority) int {
	switch p {
	case types.PriorityHigh:
		return PriorityWireHigh
	case types.PriorityLow:
		return PriorityWireLow
	default:
		return PriorityWireNormal
	}
}

// PriorityFromWire is the inverse of PriorityToWire.
func PriorityFromWire(v int) types.Priority {
	switch v {
	case PriorityWireHigh:
		return types.PriorityHigh
	case PriorityWireLow:
		return types.PriorityLow
	default:
		return types.PriorityNormal
	}
}

// WorkFrame dispatches a single queued execution to the relayer.
type WorkFrame struct {
	ExecutionID string `json:"execution_id"`
	AgentName   string `json:"agent_name"`
	InputJSON   []byte `json:"input_json"`
	Priority    int    `json:"priority"`
}

// AgentRegistrationFrame pushes an agent definition to the relayer so it
// can deploy or update the agent locally.
type AgentRegistrationFrame struct {
	ID                       string `json:"id"`
	Name                     string `json:"name"`
	Image                    string `json:"image"`
	Resources                []byte `json:"resources,omitempty"`
	RetryPolicy              []byte `json:"retry_policy,omitempty"`
	EnvironmentVariablesJSON []byte `json:"environment_variables_json,omitempty"`
	ConfigHash               string `json:"config_hash"`
}
