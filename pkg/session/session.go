package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/relayforge/controlplane/pkg/credential"
	"github.com/relayforge/controlplane/pkg/dispatch"
	"github.com/relayforge/controlplane/pkg/events"
	"github.com/relayforge/controlplane/pkg/log"
	"github.com/relayforge/controlplane/pkg/metrics"
	"github.com/relayforge/controlplane/pkg/queue"
	"github.com/relayforge/controlplane/pkg/registry"
	"github.com/relayforge/controlplane/pkg/storage"
	"github.com/relayforge/controlplane/pkg/types"
	"github.com/relayforge/controlplane/pkg/wire"
)

const (
	dequeueWait = 5 * time.Second
	sendTimeout = 10 * time.Second
)

// errSuperseded signals that a newer attach owns this cluster's registry
// slot and the current session must unwind.
var errSuperseded = errors.New("session: superseded")

// Config carries the relayer-facing configuration handed out at
// registration.
type Config struct {
	HeartbeatIntervalMS int
	LogLevel            string
}

// Server implements wire.RelayerServer, the control plane's half of the
// relayer gRPC protocol.
type Server struct {
	store    storage.Store
	registry *registry.Registry
	queue    queue.Backend
	dispatch *dispatch.Dispatcher
	events   *events.Broker
	config   Config
	logger   zerolog.Logger
}

// NewServer wires a session Server over the given dependencies.
func NewServer(store storage.Store, reg *registry.Registry, q queue.Backend, d *dispatch.Dispatcher, broker *events.Broker, cfg Config) *Server {
	if cfg.HeartbeatIntervalMS <= 0 {
		cfg.HeartbeatIntervalMS = 30000
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	return &Server{
		store:    store,
		registry: reg,
		queue:    q,
		dispatch: d,
		events:   broker,
		config:   cfg,
		logger:   log.WithComponent("session"),
	}
}

// RegisterCluster authenticates req via the organization API key (carried
// in x-api-key metadata, with a payload fallback) and finds or creates the
// cluster named req.ClusterName under that organization. The cluster
// secret is generated and returned only when the cluster is created by
// this call; re-registering an existing cluster never rotates its secret,
// since the relayer's persisted credential would silently stop working.
func (s *Server) RegisterCluster(ctx context.Context, req *wire.RegisterClusterRequest) (*wire.RegisterClusterResponse, error) {
	apiKey, err := authenticateAPIKey(ctx, s.store, req.APIKey)
	if err != nil {
		return nil, err
	}

	config := wire.RelayerConfig{
		HeartbeatIntervalMS: s.config.HeartbeatIntervalMS,
		LogLevel:            s.config.LogLevel,
	}

	existing, err := s.store.GetClusterByName(ctx, apiKey.OrganizationID, req.ClusterName)
	if err == nil {
		return &wire.RegisterClusterResponse{
			Success:   true,
			ClusterID: existing.ID,
			Message:   "cluster already registered",
			Config:    config,
		}, nil
	}
	if err != storage.ErrNotFound {
		return nil, status.Errorf(codes.Internal, "looking up cluster: %v", err)
	}

	rawSecret, _, secretHash, err := credential.Generate()
	if err != nil {
		return nil, status.Errorf(codes.Internal, "generating cluster secret: %v", err)
	}

	cluster := &types.Cluster{
		ID:             uuid.New().String(),
		OrganizationID: apiKey.OrganizationID,
		Name:           req.ClusterName,
		SecretHash:     secretHash,
		Status:         types.ClusterStatusPending,
		RelayerVersion: req.RelayerVersion,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}

	if err := s.store.CreateCluster(ctx, cluster); err != nil {
		return nil, status.Errorf(codes.Internal, "creating cluster: %v", err)
	}

	s.logger.Info().
		Str("cluster_id", cluster.ID).
		Str("organization_id", cluster.OrganizationID).
		Str("relayer_version", req.RelayerVersion).
		Msg("cluster registered")

	config.ClusterSecret = rawSecret
	return &wire.RegisterClusterResponse{
		Success:   true,
		ClusterID: cluster.ID,
		Message:   "cluster created",
		Config:    config,
	}, nil
}

// StreamWork authenticates the attach via cluster-id/x-cluster-secret
// metadata, registers the connection (displacing any predecessor), marks
// the cluster ACTIVE, and runs the send and receive loops until either
// fails, the relayer disconnects, or the session is detached.
func (s *Server) StreamWork(stream wire.ServerStreamingServer) error {
	cluster, err := authenticateClusterSecret(stream.Context(), s.store)
	if err != nil {
		metrics.SessionAttachesTotal.WithLabelValues("rejected").Inc()
		return err
	}

	logger := log.WithCluster(cluster.OrganizationID, cluster.ID)

	ctx, cancel := context.WithCancel(stream.Context())
	defer cancel()

	conn, prev := s.registry.Register(cluster.ID, cluster.OrganizationID, cancel)
	if prev != nil && prev.Detach != nil {
		logger.Warn().
			Str("superseded_handle", prev.Handle).
			Msg("attach displaces an existing session")
		prev.Detach()
	}

	metrics.SessionAttachesTotal.WithLabelValues("accepted").Inc()
	if err := s.store.UpdateClusterAttach(ctx, cluster.ID, "", time.Now()); err != nil {
		logger.Error().Err(err).Msg("failed to mark cluster active")
	}
	s.events.Publish(&events.Event{
		Type: events.EventClusterAttached,
		Metadata: map[string]string{
			"cluster_id":      cluster.ID,
			"organization_id": cluster.OrganizationID,
		},
	})

	errCh := make(chan error, 2)
	go s.sendLoop(ctx, cluster, conn.Handle, stream, errCh, logger)
	go s.receiveLoop(ctx, cluster, conn.Handle, stream, errCh)

	loopErr := <-errCh
	cancel()

	return s.detach(cluster, conn.Handle, loopErr, logger)
}

// detach runs the drain protocol for a finished session: release the
// registry slot (a no-op if a successor displaced us), mark the cluster
// INACTIVE only when the slot is actually empty, and translate the loop
// failure into the session's close code.
func (s *Server) detach(cluster *types.Cluster, handle string, loopErr error, logger zerolog.Logger) error {
	removed := s.registry.Unregister(cluster.ID, handle)
	if removed {
		ctx, cancelStatus := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelStatus()
		if err := s.store.UpdateClusterStatus(ctx, cluster.ID, types.ClusterStatusInactive); err != nil {
			logger.Error().Err(err).Msg("failed to mark cluster inactive")
		}
	}

	s.events.Publish(&events.Event{
		Type: events.EventClusterDetached,
		Metadata: map[string]string{
			"cluster_id":      cluster.ID,
			"organization_id": cluster.OrganizationID,
		},
	})

	switch {
	case errors.Is(loopErr, errSuperseded) || (errors.Is(loopErr, context.Canceled) && !removed && s.registryHasSuccessor(cluster.ID)):
		return status.Error(codes.Aborted, "replaced: a newer session attached for this cluster")
	case errors.Is(loopErr, context.Canceled) && !removed:
		// Detached by the health monitor, which empties the slot first.
		return status.Error(codes.DeadlineExceeded, "idle timeout: no heartbeat within threshold")
	case loopErr == nil:
		return nil
	default:
		logger.Info().Err(loopErr).Msg("session closed")
		return status.Errorf(codes.Unavailable, "stream closed: %v", loopErr)
	}
}

func (s *Server) registryHasSuccessor(clusterID string) bool {
	_, ok := s.registry.Lookup(clusterID)
	return ok
}

// sendLoop repeatedly dequeues outbound messages for the cluster and
// writes them to the stream. A message that has been dequeued but not
// successfully written is re-enqueued at the head of its priority class,
// never dropped. A nil dequeue result is an idle keepalive cycle, not an
// error; it also serves as the loop's cancellation observation point.
func (s *Server) sendLoop(ctx context.Context, cluster *types.Cluster, handle string, stream wire.ServerStreamingServer, errCh chan<- error, logger zerolog.Logger) {
	for {
		if !s.registry.IsCurrent(cluster.ID, handle) {
			errCh <- errSuperseded
			return
		}

		msg, err := s.queue.Dequeue(ctx, cluster.OrganizationID, cluster.ID, dequeueWait)
		if err != nil {
			if ctx.Err() != nil {
				errCh <- ctx.Err()
				return
			}
			logger.Error().Err(err).Msg("dequeue failed")
			continue
		}
		if msg == nil {
			if ctx.Err() != nil {
				errCh <- ctx.Err()
				return
			}
			continue
		}
		// A message in hand is written (or re-enqueued by the write error
		// path) even if cancellation raced the dequeue; dropping it here
		// would lose it.

		timer := metrics.NewTimer()
		if err := sendWithTimeout(stream, frameFor(msg), sendTimeout); err != nil {
			if requeueErr := s.queue.Requeue(ctx, msg); requeueErr != nil {
				logger.Error().Err(requeueErr).
					Str("execution_id", msg.ExecutionID).
					Msg("failed to requeue after send failure")
			}
			errCh <- err
			return
		}

		timer.ObserveDuration(metrics.DispatchLatency)
		metrics.QueueDequeuedTotal.WithLabelValues(string(msg.Priority)).Inc()
	}
}

// frameFor translates a queue message into its wire frame variant.
func frameFor(msg *types.QueueMessage) *wire.ServerFrame {
	if msg.Kind == types.QueueMessageRegistration && msg.Registration != nil {
		return &wire.ServerFrame{
			Kind: wire.ServerFrameAgentRegistration,
			AgentRegistration: &wire.AgentRegistrationFrame{
				ID:                       msg.Registration.AgentID,
				Name:                     msg.Registration.Name,
				Image:                    msg.Registration.Image,
				Resources:                msg.Registration.Resources,
				RetryPolicy:              msg.Registration.RetryPolicy,
				EnvironmentVariablesJSON: msg.Registration.EnvironmentVariables,
				ConfigHash:               msg.Registration.ConfigHash,
			},
		}
	}

	return &wire.ServerFrame{
		Kind: wire.ServerFrameWork,
		Work: &wire.WorkFrame{
			ExecutionID: msg.ExecutionID,
			AgentName:   msg.AgentName,
			InputJSON:   msg.Payload,
			Priority:    wire.PriorityToWire(msg.Priority),
		},
	}
}

// receiveLoop reads inbound frames from stream and hands each to the
// dispatcher. Only heartbeat frames refresh registry liveness: a relayer
// that streams telemetry without ever heartbeating still goes stale and
// is force-detached by the health monitor. The cluster row's heartbeat
// column is advanced by the dispatcher's heartbeat handler.
func (s *Server) receiveLoop(ctx context.Context, cluster *types.Cluster, handle string, stream wire.ServerStreamingServer, errCh chan<- error) {
	for {
		frame, err := stream.Recv()
		if err != nil {
			if ctx.Err() != nil {
				errCh <- ctx.Err()
				return
			}
			errCh <- err
			return
		}

		if frame.Kind == wire.ClientFrameHeartbeat {
			if !s.registry.Touch(cluster.ID, handle) {
				errCh <- errSuperseded
				return
			}
		}

		s.dispatch.Handle(ctx, cluster, frame)
	}
}

// sendWithTimeout sends frame on stream, failing if the underlying Send
// call takes longer than timeout. ServerStreamingServer.Send has no context
// parameter of its own, so the timeout is enforced by racing it against the
// call on its own goroutine; a timed-out send's goroutine is abandoned and
// its eventual result discarded; the caller treats the attempt as failed
// either way.
func sendWithTimeout(stream wire.ServerStreamingServer, frame *wire.ServerFrame, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		done <- stream.Send(frame)
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return status.Errorf(codes.DeadlineExceeded, "send timed out after %s", timeout)
	}
}

func authenticateAPIKey(ctx context.Context, store storage.Store, payloadKey string) (*types.APIKey, error) {
	rawKey := payloadKey
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get("x-api-key"); len(values) > 0 && values[0] != "" {
			rawKey = values[0]
		}
	}
	if rawKey == "" {
		return nil, status.Error(codes.Unauthenticated, "missing x-api-key")
	}

	apiKey, err := credential.VerifyAPIKey(ctx, store, rawKey)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "invalid api key")
	}
	return apiKey, nil
}

func authenticateClusterSecret(ctx context.Context, store storage.Store) (*types.Cluster, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing metadata")
	}

	clusterIDs := md.Get("cluster-id")
	secrets := md.Get("x-cluster-secret")
	if len(clusterIDs) == 0 || len(secrets) == 0 || clusterIDs[0] == "" || secrets[0] == "" {
		return nil, status.Error(codes.Unauthenticated, "missing cluster-id or x-cluster-secret")
	}

	cluster, err := store.GetCluster(ctx, clusterIDs[0])
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "unknown cluster")
	}

	if err := credential.VerifyClusterSecret(cluster, secrets[0]); err != nil {
		return nil, status.Error(codes.Unauthenticated, "invalid cluster secret")
	}

	return cluster, nil
}
