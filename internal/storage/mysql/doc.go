// Package mysql persists emitted token snapshots. SQLSnapshotRepository
// writes to MySQL and applies the embedded schema migrations on start;
// MemorySnapshotRepository appends JSON lines to a local file for
// development runs.
package mysql
