// Package message defines the messages exchanged by ringkv nodes and their
// wire encoding.
//
// Messages form a closed sum type: every concrete type implements Message and
// reports its Kind, and Kind.Channel tells the receiving node whether the
// message belongs to the membership protocol or to the key-value protocol.
// On the wire each message is a single protobuf-encoded record whose first
// field is the kind tag; fields a kind does not use are simply absent.
package message
