// Package app provides the application service layer.
//
// PostService owns the write paths for posts, likes and comments and is the
// only producer of real-time events: each committed write is followed by
// exactly one notification. ProfileService resolves authenticated callers.
// Both depend on domain interfaces, not concrete implementations.
package app
