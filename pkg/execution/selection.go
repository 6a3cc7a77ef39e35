package execution

import (
	"context"
	"fmt"

	"github.com/relayforge/controlplane/pkg/storage"
	"github.com/relayforge/controlplane/pkg/types"
)

// SelectCluster picks which of organizationID's clusters a new execution
// should target. The policy is deliberately simple and stable: the first
// ACTIVE cluster in storage's listing order (creation order), so repeated
// selections for one execution always land on the same cluster while it
// stays ACTIVE. Returns (nil, nil) when the organization has no ACTIVE
// cluster; the caller leaves the execution PENDING.
func SelectCluster(ctx context.Context, store storage.Store, organizationID string) (*types.Cluster, error) {
	clusters, err := store.ListClustersByOrganization(ctx, organizationID)
	if err != nil {
		return nil, fmt.Errorf("listing clusters: %w", err)
	}

	for _, c := range clusters {
		if c.Status == types.ClusterStatusActive {
			return c, nil
		}
	}

	return nil, nil
}
