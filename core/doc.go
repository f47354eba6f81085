// Package core contains the foundational types and contracts of threadmesh:
// threads, immutable checkpoints, the channel schema with merge policies,
// the worker contract, the checkpoint store interface and the shared error
// taxonomy. Higher level packages (engine, router, subgraph, checkpoint)
// depend on core and never the other way around.
package core
