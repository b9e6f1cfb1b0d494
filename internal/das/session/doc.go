// Package session owns the acquisition lifecycle: it opens and configures
// the driver, wires the driver callback to the decoder and the acquisition
// queue, and tears everything down in the order that keeps a late callback
// from reaching the consumer.
//
// A Session is the pipeline.Source the render scheduler drains. The queue
// behind it is rebuilt on every start so its capacity follows the
// configured callback rate.
package session
