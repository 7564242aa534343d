// Package session manages the pool of per-user agent sessions. It owns the
// session lifecycle: lazy initialization with bounded retries, serialized
// dispatch per session, staleness-driven reinitialization and idle eviction.
package session
