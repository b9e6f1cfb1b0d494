// Package l3scaling owns Layer 3 (Scaling): mapping raw float samples onto
// 8-bit display intensities with percentile clip bounds.
//
// The hot path (Apply) is a single O(n) pass over a block. Percentiles are
// computed on a slower cadence from a bounded window of recent blocks and
// published as an immutable das.ScalingParameters behind an atomic pointer.
//
// Dependency rule: L3 may depend on L1 and L2, never on L4+.
package l3scaling
