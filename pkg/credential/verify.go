package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/relayforge/controlplane/pkg/types"
)

// ErrInvalid is returned for any rejected credential: unknown prefix, no
// candidate's hash matches, or the candidate is revoked. Verify never
// distinguishes these cases to a caller, to avoid leaking which part of a
// presented credential was wrong.
var ErrInvalid = errors.New("credential: invalid or revoked")

// Store is the subset of storage.Store needed to resolve API keys.
type Store interface {
	GetAPIKeysByPrefix(ctx context.Context, prefix string) ([]*types.APIKey, error)
	TouchAPIKeyLastUsed(ctx context.Context, id string) error
}

// VerifyAPIKey resolves rawKey against every non-revoked key sharing its
// prefix and returns the matching key. On success it asynchronously records
// the key's last-used time; a failure to record never fails the request.
func VerifyAPIKey(ctx context.Context, store Store, rawKey string) (*types.APIKey, error) {
	candidates, err := store.GetAPIKeysByPrefix(ctx, Prefix(rawKey))
	if err != nil {
		return nil, fmt.Errorf("looking up api key: %w", err)
	}

	now := time.Now()
	for _, candidate := range candidates {
		if !candidate.Valid(now) {
			continue
		}
		if Verify(rawKey, candidate.KeyHash) {
			go func(id string) {
				touchCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = store.TouchAPIKeyLastUsed(touchCtx, id)
			}(candidate.ID)
			return candidate, nil
		}
	}

	return nil, ErrInvalid
}

// VerifyClusterSecret reports whether rawSecret matches cluster's stored
// secret hash.
func VerifyClusterSecret(cluster *types.Cluster, rawSecret string) error {
	if !Verify(rawSecret, cluster.SecretHash) {
		return ErrInvalid
	}
	return nil
}
