// Package settings loads the application configuration.
//
// Precedence, lowest first: built-in defaults, the optional YAML file, then
// TILEMAP_* environment variables. Command-line flags in main override the
// result. Holder watches the file with fsnotify and notifies listeners on
// every successful reload.
package settings
