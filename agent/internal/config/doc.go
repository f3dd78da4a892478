// Package config loads and watches the agent configuration file (config.yaml).
//
// Top-level types:
//   - Config{Agent}: full config tree parsed from YAML
//   - AgentConfig: server_endpoint, sync_interval, buffer_size, sources [],
//     server_auth
//   - Source: id, path (a JSON object file), prefix, prune
//   - AuthConfig: mode (mtls|apikey|none), cert/key/ca files, header,
//     key_env; Key() resolves from the environment
//
// Load(path) reads the YAML file, applies defaults (30s sync, 1000 buffer),
// then validates required fields and enums.
//
// Watch(ctx, path, onChange) uses fsnotify to detect file changes and calls
// onChange with the newly parsed Config. It re-adds the watch after each
// event so atomic-save editors (vim, VS Code) keep being followed.
package config
