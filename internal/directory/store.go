package directory

// Store publishes the proxyId -> clientPort map. The relay loop is the sole
// writer; Snapshot may be called concurrently from the HTTP publisher and
// must return an independent copy.
type Store interface {
	Publish(id string, port int)
	// Remove reports whether the id was present; callers treat a missing
	// entry as an invariant violation.
	Remove(id string) bool
	Snapshot() map[string]int
	Close() error
}
