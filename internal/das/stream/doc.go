// Package stream serves waterfall snapshots over gRPC as a server stream.
//
// There is no .proto compilation step: the two messages are encoded with
// protowire by the "daswire" codec, and the service descriptor is written
// out by hand. Clients select the codec with grpc.CallContentSubtype.
package stream
