// Package pipeline drives the consumer side of acquisition: a fixed-rate
// render scheduler that drains the queue, scales blocks, appends them to the
// waterfall, and notifies presentation subscribers at most once per tick.
package pipeline
