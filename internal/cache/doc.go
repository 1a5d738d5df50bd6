// Package cache provides the bounded, time-expiring store of terminal
// transcription outcomes. It de-duplicates repeated result queries so a
// finished job never triggers another remote call.
package cache
