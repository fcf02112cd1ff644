// Package run defines the PipelineRun model and its SQLite-backed
// store. A run is created when a qualifying repository event arrives
// and is discarded once it reaches a terminal status; the registry
// artifact it produced outlives it.
package run
