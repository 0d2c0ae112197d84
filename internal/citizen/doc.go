// Package citizen provides a reference agent.Participant backed by a large
// language model.
package citizen
