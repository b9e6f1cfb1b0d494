// Package das holds the data model shared by every layer of the acquisition
// to waterfall pipeline.
//
// Layers, leaves first:
//
//	l1blocks     decode foreign buffers into RawBlocks; block frame codec
//	l2queue      bounded producer/consumer hand-off with drop policy
//	l3scaling    percentile-based intensity scaling
//	l4waterfall  fixed-capacity scrolling row buffer
//	pipeline     fixed-rate render scheduler and new-data notification
//	session      start/stop orchestration against a driver
//
// Dependency rule: a layer may import lower layers and this package, never a
// higher layer.
package das
