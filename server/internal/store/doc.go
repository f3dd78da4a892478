// Package store is the server's entry store: a cache.Cache of JSON values
// keyed by string, evicted by the configured rules and reconfigurable at
// runtime from a config reload or the REST API.
package store
