// Package poll queries the remote service for job status, maps its status
// and error codes onto a small local taxonomy, and caches terminal outcomes
// so repeated queries for a finished job cost no remote call.
package poll
