/*
Package credential issues and verifies the two credential kinds the
control plane accepts: organization API keys (registration, submitting
executions) and per-cluster secrets (attaching a relayer stream).

Both are generated the same way: 32 random bytes from crypto/rand,
hex-encoded, hashed at rest with bcrypt and returned to the caller in
plaintext exactly once. Verification is prefix-indexed: the first 8
hex characters of a raw key are stored unhashed so a lookup can narrow
to a handful of candidate rows before paying for a bcrypt compare on
each.
*/
package credential
