package media

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// videoExtensions lists the container formats that need audio extraction
// before upload.
var videoExtensions = map[string]bool{
	".mp4": true, ".avi": true, ".mov": true, ".flv": true,
	".mkv": true, ".wmv": true, ".webm": true, ".m4v": true,
}

// IsVideo reports whether path looks like a video file by extension.
func IsVideo(path string) bool {
	return videoExtensions[strings.ToLower(filepath.Ext(path))]
}

// FFmpeg extracts audio tracks using the ffmpeg binary.
type FFmpeg struct {
	Binary string // defaults to "ffmpeg"
	TmpDir string // defaults to os.TempDir()
	Logger *slog.Logger
}

// ExtractAudio produces an mp3 audio stream from videoPath in a fresh temp
// file and returns its path. The caller owns the file and must remove it.
func (f *FFmpeg) ExtractAudio(ctx context.Context, videoPath string) (string, error) {
	binary := f.Binary
	if binary == "" {
		binary = "ffmpeg"
	}
	tmpDir := f.TmpDir
	if tmpDir == "" {
		tmpDir = os.TempDir()
	}

	base := strings.TrimSuffix(filepath.Base(videoPath), filepath.Ext(videoPath))
	out := filepath.Join(tmpDir, fmt.Sprintf("%s_%s_audio.mp3", uuid.NewString()[:8], base))

	cmd := exec.CommandContext(ctx, binary,
		"-y", "-i", videoPath,
		"-vn",
		"-acodec", "libmp3lame",
		out,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	f.Logger.Info("Extracting audio track",
		slog.String("video", videoPath),
		slog.String("output", out),
	)

	if err := cmd.Run(); err != nil {
		// ffmpeg may leave a partial output behind on failure.
		if removeErr := os.Remove(out); removeErr != nil && !os.IsNotExist(removeErr) {
			f.Logger.Warn("Failed to remove partial extraction output",
				slog.String("path", out),
				slog.String("error", removeErr.Error()),
			)
		}
		return "", fmt.Errorf("ffmpeg extraction failed: %w (%s)", err, truncate(stderr.String(), 256))
	}

	return out, nil
}

func truncate(s string, limit int) string {
	s = strings.TrimSpace(s)
	if len(s) <= limit {
		return s
	}
	return s[len(s)-limit:]
}
