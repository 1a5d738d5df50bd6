// Package upload submits media to the remote transcription service and
// returns the job identifier issued for it. It implements the legacy
// chunked prepare/upload/merge flow, the single-stream flow, and URL-link
// submission, with guaranteed cleanup of locally extracted audio.
package upload
