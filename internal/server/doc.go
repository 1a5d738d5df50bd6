// Package server implements the HTTP API front end: media submission
// endpoints, result retrieval with cache control, and the usual
// monitoring/management surface.
package server
