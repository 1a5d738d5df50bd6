// Package signature computes time-bound request signatures for the remote
// transcription API. Both historical signing schemes are supported and the
// active scheme is selected by the configured API version.
package signature
