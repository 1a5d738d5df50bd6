// Package sliceid generates the monotonically increasing slice identifiers
// that tag each piece of a chunked upload. Identifiers advance like a
// fixed-width base-26 odometer, least-significant character first.
package sliceid
