// Package sink delivers emitted token snapshots to downstream systems. Sink
// failures are logged and reported but never change the outcome of the tick
// that produced the snapshot.
package sink
