// Package transport implements the HTTP client for the remote transcription
// API. It sends signed form-encoded requests, optionally with a file part,
// and normalizes network, status and decode failures into typed errors. It
// never retries; retry policy belongs to the poller and front ends.
package transport
