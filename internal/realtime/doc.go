// Package realtime implements the connection registry, room membership and event fan-out.
//
// The Hub owns every map on a single goroutine fed by a command channel (no mutexes), so each
// public operation runs to completion before the next one starts. Per-connection writer
// goroutines decouple slow clients from the hub: a frame that does not fit a connection's
// buffer is dropped for that connection only.
package realtime
