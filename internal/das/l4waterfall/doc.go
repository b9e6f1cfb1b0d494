// Package l4waterfall owns Layer 4 (Waterfall): the fixed-capacity scrolling
// buffer of scaled rows the presentation layer draws from.
//
// Rows are stored in one preallocated ring. The render scheduler is the only
// writer; readers take copies through Snapshot.
//
// Dependency rule: L4 may depend on L1-L3, never on the pipeline or session.
package l4waterfall
