// Package inmemorystore provides an ephemeral, thread-safe, in-memory
// implementation of the jobstore.Store interface.
//
// # Concurrency Model
//
// The store uses sync.Map: the key space (all job IDs) is known up front
// and values change frequently while the health endpoint reads them
// concurrently.
//
// For distributed execution or runs requiring state persistence across
// restarts, a different implementation would be needed.
package inmemorystore
