// Package observers contains the observer kinds a plugin manifest can
// instantiate.
//
//   - log writes every event to the service log.
//   - journal appends every event to a SQLite database.
//   - recent keeps a bounded set of recently touched paths in memory.
//
// Each kind implements observer.Observer. Kinds holding resources also
// implement io.Closer, which the registry calls once the observer is drained.
package observers
