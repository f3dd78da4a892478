// Package config loads the server configuration from config.yaml.
//
// Config sections:
//   - server   ports and client authentication (API key header)
//   - cache    name, eviction/notification intervals, eviction rules
//   - upstream optional read-through origin (URL, timeout, miss TTL, auth, TLS)
//   - notify   webhook targets and their delivery rate limit
//
// Load(path) applies defaults before unmarshalling, then validates.
// Watch(ctx, path, onChange) reloads the file whenever it is written.
package config
