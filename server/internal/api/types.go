package api

import "encoding/json"

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	Cache                string           `json:"cache"`
	State                string           `json:"state"`
	Count                int              `json:"count"`
	Rules                int              `json:"rules"`
	EvictionInterval     string           `json:"eviction_interval"`
	NotificationInterval string           `json:"notification_interval"`
	PendingUpdated       int              `json:"pending_updated"`
	PendingRemoved       int              `json:"pending_removed"`
	Diagnostics          []DiagnosticHint `json:"diagnostics"`
}

// ItemResponse is one entry in GET /api/v1/items or GET /api/v1/items/{key}.
type ItemResponse struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	Source    string          `json:"source"`
	UpdatedAt string          `json:"updated_at"` // RFC3339Nano
}

// MergeRequest is the body of POST /api/v1/items.
type MergeRequest struct {
	Items map[string]json.RawMessage `json:"items"`
}

// MergeResponse is the payload for POST /api/v1/items.
type MergeResponse struct {
	Written int `json:"written"`
}

// PurgeRequest is the optional body of POST /api/v1/purge.
type PurgeRequest struct {
	Condition string `json:"condition,omitempty"`
}

// PurgeResponse is the payload for POST /api/v1/purge.
type PurgeResponse struct {
	Evicted int `json:"evicted"`
}

// ConfigResponse is the payload for GET and PUT /api/v1/config.
// Durations use Go syntax ("90s", "10m0s"); "0s" means off.
type ConfigResponse struct {
	EvictionInterval     string `json:"eviction_interval"`
	NotificationInterval string `json:"notification_interval"`
	Rules                int    `json:"rules"`
}

// ConfigRequest is the body of PUT /api/v1/config. Omitted fields are left
// unchanged.
type ConfigRequest struct {
	EvictionInterval     *string `json:"eviction_interval,omitempty"`
	NotificationInterval *string `json:"notification_interval,omitempty"`
}

// NotifyResponse is the payload for POST /api/v1/notify.
type NotifyResponse struct {
	Sent bool `json:"sent"`
}

// SnapshotResponse is the payload for GET /api/v1/snapshot.
type SnapshotResponse struct {
	Cache       string         `json:"cache"`
	Items       []ItemResponse `json:"items"`
	GeneratedAt string         `json:"generated_at"` // RFC3339
}

type errorResponse struct {
	Error string `json:"error"`
}
