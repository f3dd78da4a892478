// Package ws implements the WebSocket change stream.
//
// Hub is a cache.Publisher. It sends the full cache contents to a client on
// connect, then forwards every coalesced change as it is published.
//
// Message format sent to clients:
//
//	{"event": "snapshot", "id": "<uuid>",
//	 "data": {"cache": "...", "generated_at": "...", "items": [...]}}
//
//	{"event": "cache.did_change", "id": "<uuid>",
//	 "data": {"cache": "...", "seq": 7, "at": "...",
//	          "updated": {"key": {...}}, "removed": ["key"]}}
//
// The upgrader accepts all origins. Apply CORS restrictions at the reverse
// proxy level. The endpoint is mounted at /ws/stream by the server.
package ws
