// Package domain defines the core domain types and interfaces.
//
// Concept-oriented files (event.go, room.go, post.go, errors.go) hold shared types and the
// repository and notifier contracts. No implementation code, just contracts consumed by
// the app, realtime and adapter packages.
package domain
