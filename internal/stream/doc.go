// Package stream serves cached frame sequences to display clients over TCP.
//
// A client opens a connection and sends one handshake line:
//
//	STREAM:<width>:<height>:<from>[-<to>][:<name>]
//
// The server answers INFO with the negotiated window, ERROR when the request
// cannot be served, or NOTREADY while a conversion for the named content is
// still pending. Frames follow as big-endian length-prefixed messages
// carrying the frame duration and the raw RGB24 payload.
//
// Each session runs in its own goroutine with a bounded outbound buffer;
// a client that cannot keep up loses frames, never the whole server.
package stream
