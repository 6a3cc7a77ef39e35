package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterLookup(t *testing.T) {
	r := New()

	conn, prev := r.Register("cluster-1", "org-1", nil)
	require.NotEmpty(t, conn.Handle)
	assert.Nil(t, prev)

	got, ok := r.Lookup("cluster-1")
	require.True(t, ok)
	assert.Equal(t, conn.Handle, got.Handle)
	assert.Equal(t, "org-1", got.OrganizationID)
}

func TestRegistry_RegisterReturnsDisplacedConnection(t *testing.T) {
	r := New()

	detached := false
	first, _ := r.Register("cluster-1", "org-1", func() { detached = true })
	second, prev := r.Register("cluster-1", "org-1", nil)

	require.NotNil(t, prev)
	assert.Equal(t, first.Handle, prev.Handle)
	assert.NotEqual(t, first.Handle, second.Handle)

	prev.Detach()
	assert.True(t, detached)
}

func TestRegistry_UnregisterStaleHandleIsNoOp(t *testing.T) {
	r := New()

	first, _ := r.Register("cluster-1", "org-1", nil)
	second, _ := r.Register("cluster-1", "org-1", nil) // supersedes first

	// A slow teardown for the first attach must not evict the second.
	removed := r.Unregister("cluster-1", first.Handle)
	assert.False(t, removed)

	got, ok := r.Lookup("cluster-1")
	require.True(t, ok)
	assert.Equal(t, second.Handle, got.Handle)

	removed = r.Unregister("cluster-1", second.Handle)
	assert.True(t, removed)

	_, ok = r.Lookup("cluster-1")
	assert.False(t, ok)
}

func TestRegistry_TouchRequiresCurrentHandle(t *testing.T) {
	r := New()

	first, _ := r.Register("cluster-1", "org-1", nil)
	_, _ = r.Register("cluster-1", "org-1", nil)

	assert.False(t, r.Touch("cluster-1", first.Handle))
}

func TestRegistry_IsCurrent(t *testing.T) {
	r := New()

	first, _ := r.Register("cluster-1", "org-1", nil)
	assert.True(t, r.IsCurrent("cluster-1", first.Handle))

	second, _ := r.Register("cluster-1", "org-1", nil)
	assert.False(t, r.IsCurrent("cluster-1", first.Handle))
	assert.True(t, r.IsCurrent("cluster-1", second.Handle))

	r.Unregister("cluster-1", second.Handle)
	assert.False(t, r.IsCurrent("cluster-1", second.Handle))
}

func TestRegistry_SnapshotAndLen(t *testing.T) {
	r := New()
	r.Register("cluster-1", "org-1", nil)
	r.Register("cluster-2", "org-1", nil)

	assert.Equal(t, 2, r.Len())
	assert.Len(t, r.Snapshot(), 2)
}
