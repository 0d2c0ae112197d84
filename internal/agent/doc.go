// Package agent defines the capability contract every citizen agent
// satisfies to take part in community governance, the value objects passed
// across that boundary, and the caller-side Guard that rejects (or trims)
// output violating the contract.
package agent
