// Package engine orchestrates thread execution: it merges external input,
// records routing decisions, invokes workers, and persists every step as an
// immutable checkpoint through the store's compare-and-swap. It also hosts
// the resume and time-travel controllers and the approval workflow for
// suspended steps.
//
// Threads execute strictly sequentially; distinct threads are fully
// independent. The engine never holds a lock across a worker invocation;
// the per-thread CAS on the latest checkpoint is the only coordination.
package engine
