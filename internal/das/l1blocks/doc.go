// Package l1blocks owns Layer 1 (Blocks) of the DAS data model.
//
// Responsibilities: turning a raw buffer handed over by the acquisition
// driver into an owned RawBlock with a session-scoped sequence number, the
// protowire block frame used on the network, serial and capture paths, and
// per-interval decode statistics.
//
// Dependency rule: L1 depends only on package das.
package l1blocks
