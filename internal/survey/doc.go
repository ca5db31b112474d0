// Package survey is the application layer between the fix stream and the
// feature store: it holds the active feature, gates measurements on fix
// quality, and tracks fix rate and RTK state for display.
package survey
