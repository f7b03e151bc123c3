// Package logging sets up the service's structured log: JSON records written
// to a size-rotated file under ~/.anythingd/logs/, optionally mirrored to
// stderr, plus a small viewer used by `anythingd logs`.
package logging
