// Package media extracts the audio track from video files by shelling out
// to ffmpeg. Extracted files are temporary artifacts owned by the caller,
// which must remove them before returning.
package media
