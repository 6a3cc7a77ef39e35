/*
Package registry provides the process-local connection registry tracking
which cluster has an attached relayer session.

Each attach is given a unique Handle. Unregister takes the handle it
registered with and only removes the entry if it still holds that exact
handle, so a slow teardown for a superseded session can never evict the
connection record for a session that has since re-attached.
*/
package registry
