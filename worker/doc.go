// Package worker provides building blocks for implementing the core.Worker
// contract: an embeddable BaseWorker carrying the channel registration, a
// FuncWorker adapter for plain functions, and the Registry that validates
// every worker's declared contract against the channel schema before any
// invocation can happen.
package worker
