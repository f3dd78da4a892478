// Package api implements the HTTP REST API for deltacache-server.
//
// New(store, opts...) returns an http.Handler that serves:
//
//	GET    /api/v1/health       cache name, entry count, intervals, pending changes, hints
//	GET    /api/v1/items        every entry ([]ItemResponse, sorted by key)
//	POST   /api/v1/items        merge {"items": {...}} in one atomic write
//	DELETE /api/v1/items        remove every entry, or only ?keys=a,b
//	GET    /api/v1/items/{key}  one entry; read-through with WithUpstream; 404 if absent
//	PUT    /api/v1/items/{key}  set the request body (any JSON value)
//	DELETE /api/v1/items/{key}  remove one entry
//	POST   /api/v1/purge        run eviction now, optional {"condition": "age > 10m"}
//	GET    /api/v1/config       current eviction and notification intervals
//	PUT    /api/v1/config       change either interval at runtime
//	POST   /api/v1/notify       publish pending changes now
//	GET    /api/v1/snapshot     every entry plus generated_at
//	GET    /api/v1/deliveries   recent webhook deliveries, newest first
//
// All endpoints respond with Content-Type: application/json (204 responses
// have no body) and return 405 for unsupported methods. A closed cache maps
// to 503. JSON types are defined in types.go. No external HTTP framework is
// used.
package api
