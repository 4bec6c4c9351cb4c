// Package grpcnet carries node messages between processes over gRPC.
//
// The wire service has a single unary method, Deliver, whose request is a
// frame holding the sender address and the opaque message bytes. Frames use
// a small protobuf codec registered with grpc-go, so no generated code is
// needed. Sends are queued and performed by a background goroutine; a full
// queue drops the message, which matches the best-effort contract the rest
// of the node expects.
package grpcnet
