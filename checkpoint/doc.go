// Package checkpoint provides CheckpointStore implementations. The
// in-memory store backs tests and ephemeral demo setups; the redis
// subpackage offers a durable store for production deployments. Both
// enforce the same contract: atomic puts, compare-and-swap on the
// per-thread latest pointer, and immutability of stored checkpoints.
package checkpoint
