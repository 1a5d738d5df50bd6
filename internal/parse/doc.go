// Package parse decodes the remote service's historical result payload
// shapes into one ordered transcript and renders it grouped by speaker.
// Malformed sub-entries are logged and skipped; a payload that yields no
// text at all degrades to a sentinel marker instead of an error.
package parse
