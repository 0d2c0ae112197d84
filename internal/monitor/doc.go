// Package monitor composes ChainReader calls into token snapshots. A poll
// cycle (tick) walks Idle → Connecting → Reading → Reporting and ends in
// Idle or Failed; CheckOnce runs one tick, Watch produces an unbounded
// sequence of independent ticks separated by a fixed interval.
package monitor
