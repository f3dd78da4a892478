// Package filewatch follows files with fsnotify.
//
// Files reports raw change events for a fixed set of paths; Watch layers a
// typed reload on top for config files. Both treat Create like Write and
// re-add the watch after every event, so files replaced by an atomic rename
// keep being followed.
package filewatch
